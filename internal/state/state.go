// Package state reconciles gateway snapshots and events into a consistent
// in-memory view: agent presence, streaming chat turns, the cron board and
// the notification feed. All reads return copies; all mutation goes through
// event application or the explicit SendChat/ClearStreaming actions.
package state

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/clawdash/clawdash/internal/config"
	"github.com/clawdash/clawdash/internal/gateway"
	"github.com/clawdash/clawdash/pkg/protocol"
)

// Dashboard holds the reconciled view. One mutex guards everything: event
// handlers, actions and reads all serialize through it, so a reader can
// never observe a half-applied event.
type Dashboard struct {
	client *gateway.Client
	cfg    *config.Config

	mu       sync.Mutex
	agents   map[string]*Agent
	order    []string // roster order, fixed at construction
	messages map[string][]ChatMessage
	health   json.RawMessage
	feed     []FeedEntry
	crons    []CronEntry

	runs      map[string]runRef // runID -> location of its assistant message
	lastRun   map[string]string // agentID -> most recent runID
	streaming map[string]bool   // agentID -> streaming flag
	names     map[string]string // agentID -> display name learned from agent.identity

	unsubs []func()
}

// runRef locates the single assistant message of a run.
type runRef struct {
	agentID string
	index   int
}

// New builds a dashboard over the configured roster. Every agent starts
// offline until presence data arrives.
func New(client *gateway.Client, cfg *config.Config) *Dashboard {
	d := &Dashboard{
		client:    client,
		cfg:       cfg,
		agents:    make(map[string]*Agent),
		messages:  make(map[string][]ChatMessage),
		runs:      make(map[string]runRef),
		lastRun:   make(map[string]string),
		streaming: make(map[string]bool),
		names:     make(map[string]string),
	}
	for _, spec := range cfg.Agents {
		d.order = append(d.order, spec.ID)
		d.agents[spec.ID] = offlineAgent(spec)
	}
	return d
}

// Attach subscribes the dashboard to the client's event stream. Call once;
// the returned function detaches all handlers.
func (d *Dashboard) Attach() func() {
	d.unsubs = append(d.unsubs,
		d.client.On(protocol.EventConnected, d.onConnected),
		d.client.On(protocol.EventPresence, d.onPresence),
		d.client.On(protocol.EventHealth, d.onHealth),
		d.client.On(protocol.EventChat, d.onChat),
		d.client.On(protocol.EventCronFired, d.onCronFired),
	)
	return func() {
		for _, off := range d.unsubs {
			off()
		}
		d.unsubs = nil
	}
}

func (d *Dashboard) onConnected(ev protocol.EventFrame) {
	var snap protocol.SnapshotData
	if err := json.Unmarshal(ev.Payload, &snap); err != nil {
		slog.Debug("state: bad snapshot payload", "error", err)
		return
	}
	d.mu.Lock()
	d.rebuildAgentsLocked(snap.Presence)
	if len(snap.Health) > 0 {
		d.health = append(json.RawMessage(nil), snap.Health...)
	}
	d.mu.Unlock()

	// The cron board and identity records are request/response, not pushed;
	// refresh them off the event path so a slow gateway cannot stall dispatch.
	go d.refreshCrons()
	go d.refreshIdentities()
}

func (d *Dashboard) onPresence(ev protocol.EventFrame) {
	var payload protocol.PresencePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slog.Debug("state: bad presence payload", "error", err)
		return
	}
	d.mu.Lock()
	d.rebuildAgentsLocked(payload.Entries)
	d.mu.Unlock()
}

func (d *Dashboard) onHealth(ev protocol.EventFrame) {
	d.mu.Lock()
	d.health = append(json.RawMessage(nil), ev.Payload...)
	d.mu.Unlock()
}

// Health returns the latest health blob from the snapshot or a health
// event, or nil if none has arrived.
func (d *Dashboard) Health() json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.health == nil {
		return nil
	}
	return append(json.RawMessage(nil), d.health...)
}

// Agents returns the current agent list in roster order.
func (d *Dashboard) Agents() []Agent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Agent, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.agentCopyLocked(id))
	}
	return out
}

// Agent returns one agent by id.
func (d *Dashboard) Agent(id string) (Agent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.agents[id]; !ok {
		return Agent{}, false
	}
	return d.agentCopyLocked(id), true
}

func (d *Dashboard) agentCopyLocked(id string) Agent {
	a := *d.agents[id]
	a.Streaming = d.streaming[id]
	if name := d.names[id]; name != "" && a.DisplayName == a.ID {
		a.DisplayName = name
	}
	return a
}

// Messages returns a copy of the agent's chat history.
func (d *Dashboard) Messages(agentID string) []ChatMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ChatMessage(nil), d.messages[agentID]...)
}

func nowMillis() time.Time {
	return time.Now().Truncate(time.Millisecond)
}
