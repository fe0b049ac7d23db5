package state

import (
	"strings"
	"time"

	"github.com/clawdash/clawdash/internal/config"
	"github.com/clawdash/clawdash/pkg/protocol"
)

// AgentStatus is the derived presence status of a roster agent.
type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"
	StatusRunning AgentStatus = "running"
	StatusIdle    AgentStatus = "idle"
	StatusOffline AgentStatus = "offline"
)

// Agent is the derived presence entity for one roster member. Rebuilt
// wholesale on every presence update, never patched in place.
type Agent struct {
	ID           string
	DisplayName  string
	Color        string
	Status       AgentStatus
	CurrentTask  string
	LastActivity time.Time
	Streaming    bool
}

func offlineAgent(spec config.AgentSpec) *Agent {
	name := spec.DisplayName
	if name == "" {
		name = spec.ID
	}
	return &Agent{
		ID:          spec.ID,
		DisplayName: name,
		Color:       spec.Color,
		Status:      StatusOffline,
	}
}

// rebuildAgentsLocked recomputes the whole agent list from the roster and a
// presence entry set. Total: every roster agent gets an entry; unmatched
// agents degrade to offline. The previous list is fully replaced so a
// transient presence gap cannot leave a stale "running" agent behind.
func (d *Dashboard) rebuildAgentsLocked(entries []protocol.PresenceEntry) {
	matched := make(map[string]protocol.PresenceEntry, len(entries))
	for _, entry := range entries {
		id, ok := d.matchPresence(entry)
		if !ok {
			continue
		}
		// First match wins per agent; later duplicates are ignored.
		if _, dup := matched[id]; !dup {
			matched[id] = entry
		}
	}

	next := make(map[string]*Agent, len(d.order))
	for _, spec := range d.cfg.Agents {
		a := offlineAgent(spec)
		if entry, ok := matched[spec.ID]; ok {
			applyPresenceEntry(a, entry)
		}
		next[spec.ID] = a
	}
	d.agents = next
}

// matchPresence narrows a presence entry to a roster agent id: first by tag,
// then role, then a free-text scan of the entry body. Returns ok=false when
// no roster agent matches.
func (d *Dashboard) matchPresence(entry protocol.PresenceEntry) (string, bool) {
	tag := strings.ToLower(strings.TrimSpace(entry.Tag))
	if tag != "" {
		for _, spec := range d.cfg.Agents {
			if tag == strings.ToLower(spec.ID) {
				return spec.ID, true
			}
			for _, t := range spec.Tags {
				if tag == strings.ToLower(t) {
					return spec.ID, true
				}
			}
		}
	}

	role := strings.ToLower(strings.TrimSpace(entry.Role))
	if role != "" {
		for _, spec := range d.cfg.Agents {
			if role == strings.ToLower(spec.ID) {
				return spec.ID, true
			}
		}
	}

	text := strings.ToLower(entry.Text)
	if text != "" {
		for _, spec := range d.cfg.Agents {
			if strings.Contains(text, strings.ToLower(spec.ID)) {
				return spec.ID, true
			}
			if spec.DisplayName != "" && strings.Contains(text, strings.ToLower(spec.DisplayName)) {
				return spec.ID, true
			}
		}
	}

	return "", false
}

func applyPresenceEntry(a *Agent, entry protocol.PresenceEntry) {
	task := taskLabel(entry.Text)
	switch strings.ToLower(entry.Status) {
	case "online", "active", "connected":
		if task != "" {
			a.Status = StatusRunning
		} else {
			a.Status = StatusOnline
		}
	case "running", "busy":
		a.Status = StatusRunning
	case "idle":
		a.Status = StatusIdle
	default:
		a.Status = StatusOffline
	}
	a.CurrentTask = task
	if entry.LastActivity > 0 {
		a.LastActivity = time.UnixMilli(entry.LastActivity)
	}
}

// taskLabel extracts a current-task label from a presence text like
// "working: index rebuild". Plain status words yield no label.
func taskLabel(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, prefix := range []string{"working:", "working on", "running:", "task:"} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(text[len(prefix):])
		}
	}
	if lower == "idle" || lower == "online" || lower == "ok" {
		return ""
	}
	return text
}
