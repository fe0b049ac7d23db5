package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clawdash/clawdash/internal/sessions"
	"github.com/clawdash/clawdash/pkg/protocol"
)

// DeliveryState tracks a chat message through its lifecycle.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryStreaming DeliveryState = "streaming"
	DeliveryComplete  DeliveryState = "complete"
	DeliveryError     DeliveryState = "error"
)

// ChatMessage is one entry in an agent's chat history. For an assistant
// message RunID ties it to its run: at most one assistant message exists
// per run, its text only grows while streaming and freezes on a terminal
// state.
type ChatMessage struct {
	ID        string
	RunID     string
	Role      string // "user" or "assistant"
	Text      string
	CreatedAt time.Time
	Delivery  DeliveryState
}

func (d *Dashboard) onChat(ev protocol.EventFrame) {
	var payload protocol.ChatEventPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slog.Debug("state: bad chat payload", "error", err)
		return
	}
	d.applyChat(payload)
}

func (d *Dashboard) applyChat(ev protocol.ChatEventPayload) {
	agentID, _ := sessions.ParseSessionKey(ev.SessionKey)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.agents[agentID]; !ok {
		// Session keys outside the roster still belong to someone's
		// conversation; the primary agent is the fallback pane.
		primary := d.cfg.PrimaryAgent()
		if primary == nil {
			slog.Debug("state: chat event with no routable agent", "sessionKey", ev.SessionKey)
			return
		}
		agentID = primary.ID
	}

	switch ev.State {
	case protocol.ChatStateDelta:
		d.applyDeltaLocked(agentID, ev)
	case protocol.ChatStateFinal:
		d.applyFinalLocked(agentID, ev)
	case protocol.ChatStateError, protocol.ChatStateAborted:
		d.applyErrorLocked(agentID, ev)
	default:
		slog.Debug("state: unknown chat state", "state", ev.State)
	}
}

// applyDeltaLocked appends delta text to the run's assistant message,
// creating it on the first delta. The agent is streaming afterward.
// complete and error are terminal: a delta arriving after the run settled
// must not reopen the message or re-raise the streaming flag.
func (d *Dashboard) applyDeltaLocked(agentID string, ev protocol.ChatEventPayload) {
	text := ExtractRaw(ev.Message)
	if msg := d.runMessageLocked(ev.RunID); msg != nil {
		if msg.Delivery != DeliveryStreaming {
			slog.Debug("state: dropped delta for settled run", "runId", ev.RunID)
			return
		}
		msg.Text += text
	} else {
		d.appendMessageLocked(agentID, ChatMessage{
			ID:        uuid.NewString(),
			RunID:     ev.RunID,
			Role:      "assistant",
			Text:      text,
			CreatedAt: nowMillis(),
			Delivery:  DeliveryStreaming,
		})
	}
	d.lastRun[agentID] = ev.RunID
	d.streaming[agentID] = true
}

// applyFinalLocked completes the run. A final frame carrying a full body
// replaces the accumulated text; an empty final just seals what streamed.
func (d *Dashboard) applyFinalLocked(agentID string, ev protocol.ChatEventPayload) {
	text := ExtractRaw(ev.Message)
	msg := d.runMessageLocked(ev.RunID)
	switch {
	case msg != nil:
		if msg.Delivery != DeliveryStreaming {
			slog.Debug("state: dropped final for settled run", "runId", ev.RunID)
			return
		}
		if text != "" {
			msg.Text = text
		}
		msg.Delivery = DeliveryComplete
	case text != "":
		// Final for a run we never saw a delta for: record it whole.
		d.appendMessageLocked(agentID, ChatMessage{
			ID:        uuid.NewString(),
			RunID:     ev.RunID,
			Role:      "assistant",
			Text:      text,
			CreatedAt: nowMillis(),
			Delivery:  DeliveryComplete,
		})
		d.lastRun[agentID] = ev.RunID
	default:
		return
	}
	if d.lastRun[agentID] == ev.RunID {
		d.streaming[agentID] = false
	}
	if final := d.runMessageLocked(ev.RunID); final != nil {
		d.noteFinalTurnLocked(agentID, ev.SessionKey, final.Text)
	}
}

func (d *Dashboard) applyErrorLocked(agentID string, ev protocol.ChatEventPayload) {
	detail := ev.ErrorMessage
	if detail == "" && ev.State == protocol.ChatStateAborted {
		detail = "aborted"
	}
	if msg := d.runMessageLocked(ev.RunID); msg != nil {
		if msg.Delivery != DeliveryStreaming {
			slog.Debug("state: dropped error for settled run", "runId", ev.RunID)
			return
		}
		if detail != "" {
			if msg.Text != "" {
				msg.Text += "\n"
			}
			msg.Text += detail
		}
		msg.Delivery = DeliveryError
	} else {
		d.appendMessageLocked(agentID, ChatMessage{
			ID:        uuid.NewString(),
			RunID:     ev.RunID,
			Role:      "assistant",
			Text:      detail,
			CreatedAt: nowMillis(),
			Delivery:  DeliveryError,
		})
		d.lastRun[agentID] = ev.RunID
	}
	if d.lastRun[agentID] == ev.RunID {
		d.streaming[agentID] = false
	}
}

// runMessageLocked returns the assistant message for a run, or nil.
func (d *Dashboard) runMessageLocked(runID string) *ChatMessage {
	ref, ok := d.runs[runID]
	if !ok {
		return nil
	}
	return &d.messages[ref.agentID][ref.index]
}

func (d *Dashboard) appendMessageLocked(agentID string, msg ChatMessage) {
	d.messages[agentID] = append(d.messages[agentID], msg)
	if msg.Role == "assistant" && msg.RunID != "" {
		d.runs[msg.RunID] = runRef{agentID: agentID, index: len(d.messages[agentID]) - 1}
	}
}

// SendChat appends the user's message optimistically, marks the agent
// streaming and issues chat.send with a fresh idempotency key. A transport
// or RPC failure is recorded as a synthetic error message in the history —
// the view never shows a user message hanging with no outcome — and is
// also returned so the caller can log it.
func (d *Dashboard) SendChat(ctx context.Context, agentID, text string) error {
	d.mu.Lock()
	if _, ok := d.agents[agentID]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("send chat: unknown agent %q", agentID)
	}
	d.appendMessageLocked(agentID, ChatMessage{
		ID:        uuid.NewString(),
		Role:      "user",
		Text:      text,
		CreatedAt: nowMillis(),
		Delivery:  DeliveryComplete,
	})
	d.streaming[agentID] = true
	d.mu.Unlock()

	params := protocol.ChatSendParams{
		SessionKey:     sessions.BuildMainSessionKey(agentID),
		Message:        text,
		IdempotencyKey: uuid.NewString(),
	}
	payload, err := d.client.Request(ctx, protocol.MethodChatSend, params)
	if err != nil {
		d.mu.Lock()
		d.appendMessageLocked(agentID, ChatMessage{
			ID:        uuid.NewString(),
			Role:      "assistant",
			Text:      "send failed: " + err.Error(),
			CreatedAt: nowMillis(),
			Delivery:  DeliveryError,
		})
		d.streaming[agentID] = false
		d.mu.Unlock()
		return fmt.Errorf("send chat: %w", err)
	}

	var result protocol.ChatSendResult
	if err := json.Unmarshal(payload, &result); err == nil && result.RunID != "" {
		d.mu.Lock()
		// Deltas for this run may have raced ahead of the response; only
		// move the marker forward if no newer run started.
		if d.streaming[agentID] {
			d.lastRun[agentID] = result.RunID
		}
		d.mu.Unlock()
	}
	return nil
}

// ClearStreaming is the escape hatch for a turn whose terminal frame was
// lost. When the agent is streaming it seals the stuck message, appends one
// synthetic timeout message and clears the flag; otherwise it is a no-op.
func (d *Dashboard) ClearStreaming(agentID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.streaming[agentID] {
		return false
	}
	if runID := d.lastRun[agentID]; runID != "" {
		if msg := d.runMessageLocked(runID); msg != nil && msg.Delivery == DeliveryStreaming {
			msg.Delivery = DeliveryError
		}
	}
	d.appendMessageLocked(agentID, ChatMessage{
		ID:        uuid.NewString(),
		Role:      "assistant",
		Text:      "timed out waiting for a reply",
		CreatedAt: nowMillis(),
		Delivery:  DeliveryError,
	})
	d.streaming[agentID] = false
	return true
}
