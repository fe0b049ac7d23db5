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

// LoadHistory replaces an agent's chat pane with the persisted history of
// its main session, oldest first. Skipped while a turn is streaming so a
// live run is never clobbered by a stale fetch.
func (d *Dashboard) LoadHistory(ctx context.Context, agentID string, limit int) error {
	d.mu.Lock()
	if _, ok := d.agents[agentID]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("load history: unknown agent %q", agentID)
	}
	if d.streaming[agentID] {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	params := protocol.ChatHistoryParams{
		SessionKey: sessions.BuildMainSessionKey(agentID),
		Limit:      limit,
	}
	payload, err := d.client.Request(ctx, protocol.MethodChatHistory, params)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	var result protocol.ChatHistoryResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("load history: parse: %w", err)
	}

	msgs := historyMessages(result.Messages)
	d.mu.Lock()
	if d.streaming[agentID] {
		// A run started while the fetch was in flight; keep the live pane.
		d.mu.Unlock()
		return nil
	}
	d.replaceMessagesLocked(agentID, msgs)
	d.mu.Unlock()
	return nil
}

// historyMessages converts persisted history into pane messages. History
// entries are settled by definition, so every message lands terminal.
func historyMessages(history []protocol.HistoryMessage) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(history))
	for _, h := range history {
		role := h.Role
		if role != "user" {
			role = "assistant"
		}
		msg := ChatMessage{
			ID:       uuid.NewString(),
			RunID:    h.RunID,
			Role:     role,
			Text:     ExtractRaw(h.Content),
			Delivery: DeliveryComplete,
		}
		if h.Timestamp > 0 {
			msg.CreatedAt = time.UnixMilli(h.Timestamp)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// replaceMessagesLocked swaps an agent's pane wholesale and reindexes the
// run table for it.
func (d *Dashboard) replaceMessagesLocked(agentID string, msgs []ChatMessage) {
	for runID, ref := range d.runs {
		if ref.agentID == agentID {
			delete(d.runs, runID)
		}
	}
	d.messages[agentID] = msgs
	for i, m := range msgs {
		if m.Role == "assistant" && m.RunID != "" {
			d.runs[m.RunID] = runRef{agentID: agentID, index: i}
		}
	}
}

// AbortChat asks the gateway to cancel the agent's in-flight run. The turn
// settles when the resulting aborted event arrives; nothing is mutated
// locally here.
func (d *Dashboard) AbortChat(ctx context.Context, agentID string) error {
	d.mu.Lock()
	runID := d.lastRun[agentID]
	streaming := d.streaming[agentID]
	d.mu.Unlock()
	if !streaming {
		return nil
	}

	params := protocol.ChatAbortParams{
		SessionKey: sessions.BuildMainSessionKey(agentID),
		RunID:      runID,
	}
	if _, err := d.client.Request(ctx, protocol.MethodChatAbort, params); err != nil {
		return fmt.Errorf("abort chat: %w", err)
	}
	return nil
}

// RefreshPresence re-fetches presence on demand, covering events missed
// between the snapshot and a resync.
func (d *Dashboard) RefreshPresence(ctx context.Context) error {
	payload, err := d.client.Request(ctx, protocol.MethodSystemPresence, nil)
	if err != nil {
		return fmt.Errorf("refresh presence: %w", err)
	}
	var result protocol.PresencePayload
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("refresh presence: parse: %w", err)
	}
	d.mu.Lock()
	d.rebuildAgentsLocked(result.Entries)
	d.mu.Unlock()
	return nil
}

// RefreshHealth re-fetches the health blob on demand.
func (d *Dashboard) RefreshHealth(ctx context.Context) error {
	payload, err := d.client.Request(ctx, protocol.MethodSystemHealth, nil)
	if err != nil {
		return fmt.Errorf("refresh health: %w", err)
	}
	d.mu.Lock()
	d.health = append(json.RawMessage(nil), payload...)
	d.mu.Unlock()
	return nil
}

// ActiveSessions lists sessions the gateway saw activity on recently.
func (d *Dashboard) ActiveSessions(ctx context.Context, activeMinutes int) ([]protocol.SessionInfo, error) {
	params := protocol.SessionsListParams{ActiveMinutes: activeMinutes}
	payload, err := d.client.Request(ctx, protocol.MethodSessionsList, params)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var result protocol.SessionsListResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("list sessions: parse: %w", err)
	}
	return result.Sessions, nil
}

// refreshIdentities fills display names the config left blank from the
// gateway's agent.identity records. Best effort after each handshake.
func (d *Dashboard) refreshIdentities() {
	if d.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, spec := range d.cfg.Agents {
		if spec.DisplayName != "" {
			continue
		}
		payload, err := d.client.Request(ctx, protocol.MethodAgentIdentity, protocol.AgentIdentityParams{AgentID: spec.ID})
		if err != nil {
			slog.Debug("state: agent.identity failed", "agent", spec.ID, "error", err)
			continue
		}
		var result protocol.AgentIdentityResult
		if err := json.Unmarshal(payload, &result); err != nil || result.DisplayName == "" {
			continue
		}
		d.mu.Lock()
		d.names[spec.ID] = result.DisplayName
		d.mu.Unlock()
	}
}
