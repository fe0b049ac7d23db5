package state

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clawdash/clawdash/internal/sessions"
	"github.com/clawdash/clawdash/pkg/protocol"
)

// FeedEntry is one notification: a completed chat turn worth surfacing, or
// a fired cron job.
type FeedEntry struct {
	Time    time.Time
	Kind    string // "chat" or "cron"
	AgentID string
	Title   string
	Text    string
}

// Feed returns the notification feed, newest first.
func (d *Dashboard) Feed() []FeedEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]FeedEntry, len(d.feed))
	for i, e := range d.feed {
		out[len(d.feed)-1-i] = e
	}
	return out
}

// noteFinalTurnLocked records a feed entry for a completed turn when it
// clears the filtering policy: non-empty, longer than a control token, and
// not from a machine-originated session.
func (d *Dashboard) noteFinalTurnLocked(agentID, sessionKey, text string) {
	if sessions.IsBackgroundSession(sessionKey) {
		return
	}
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < d.cfg.Feed.MinRunes() {
		return
	}
	d.pushFeedLocked(FeedEntry{
		Time:    nowMillis(),
		Kind:    "chat",
		AgentID: agentID,
		Title:   d.agents[agentID].DisplayName + " replied",
		Text:    trimmed,
	})
}

func (d *Dashboard) onCronFired(ev protocol.EventFrame) {
	var payload protocol.CronFiredPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slog.Debug("state: bad cron.fired payload", "error", err)
		return
	}
	d.mu.Lock()
	d.pushFeedLocked(FeedEntry{
		Time:  nowMillis(),
		Kind:  "cron",
		Title: "cron: " + payload.Name,
		Text:  payload.Text,
	})
	d.mu.Unlock()
}

func (d *Dashboard) pushFeedLocked(entry FeedEntry) {
	d.feed = append(d.feed, entry)
	if max := d.cfg.Feed.Max(); len(d.feed) > max {
		d.feed = d.feed[len(d.feed)-max:]
	}
}
