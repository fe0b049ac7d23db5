package state

import (
	"testing"

	"github.com/clawdash/clawdash/pkg/protocol"
)

func TestFeedFiltersFinals(t *testing.T) {
	d := testDashboard()

	// Real reply from an interactive session: goes to the feed.
	d.applyChat(chatEvent("r1", "agent:kiln:main", protocol.ChatStateFinal, "Deployment finished, all checks green."))
	// Control token: too short.
	d.applyChat(chatEvent("r2", "agent:kiln:main", protocol.ChatStateFinal, "ok"))
	// Cron-run session: machine-originated, filtered.
	d.applyChat(chatEvent("r3", "agent:razor:cron:reminder:run:a1", protocol.ChatStateFinal, "reminder fired as scheduled"))
	// Subagent session: filtered.
	d.applyChat(chatEvent("r4", "agent:razor:subagent:indexer", protocol.ChatStateFinal, "index pass complete"))

	feed := d.Feed()
	if len(feed) != 1 {
		t.Fatalf("feed entries = %d, want 1: %+v", len(feed), feed)
	}
	if feed[0].Kind != "chat" || feed[0].AgentID != "kiln" {
		t.Errorf("entry = %+v", feed[0])
	}
}

func TestFeedNewestFirstAndCapped(t *testing.T) {
	d := testDashboard()
	d.cfg.Feed.MaxEntries = 3

	for _, text := range []string{"first reply", "second reply", "third reply", "fourth reply"} {
		d.mu.Lock()
		d.pushFeedLocked(FeedEntry{Kind: "chat", AgentID: "kiln", Text: text})
		d.mu.Unlock()
	}

	feed := d.Feed()
	if len(feed) != 3 {
		t.Fatalf("feed entries = %d, want capped at 3", len(feed))
	}
	if feed[0].Text != "fourth reply" {
		t.Errorf("feed[0] = %q, want newest first", feed[0].Text)
	}
	if feed[2].Text != "second reply" {
		t.Errorf("oldest surviving entry = %q, want %q", feed[2].Text, "second reply")
	}
}

func TestCronFiredFeedsEntry(t *testing.T) {
	d := testDashboard()

	d.onCronFired(*protocol.NewEvent(protocol.EventCronFired, protocol.CronFiredPayload{
		Name: "reminder",
		Text: "standup in 10 minutes",
	}))

	feed := d.Feed()
	if len(feed) != 1 {
		t.Fatalf("feed entries = %d, want 1", len(feed))
	}
	if feed[0].Kind != "cron" || feed[0].Title != "cron: reminder" {
		t.Errorf("entry = %+v", feed[0])
	}
}
