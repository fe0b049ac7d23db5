package state

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/clawdash/clawdash/internal/config"
	"github.com/clawdash/clawdash/internal/gateway"
	"github.com/clawdash/clawdash/pkg/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		Agents: []config.AgentSpec{
			{ID: "kiln", DisplayName: "Kiln", Tags: []string{"builder"}},
			{ID: "razor", DisplayName: "Razor"},
			{ID: "hex"},
		},
	}
}

func testDashboard() *Dashboard {
	return New(nil, testConfig())
}

func chatEvent(runID, sessionKey, state, text string) protocol.ChatEventPayload {
	ev := protocol.ChatEventPayload{
		RunID:      runID,
		SessionKey: sessionKey,
		State:      state,
	}
	if text != "" {
		body, _ := json.Marshal(text)
		ev.Message = body
	}
	return ev
}

func assistantMessages(t *testing.T, d *Dashboard, agentID string) []ChatMessage {
	t.Helper()
	var out []ChatMessage
	for _, m := range d.Messages(agentID) {
		if m.Role == "assistant" {
			out = append(out, m)
		}
	}
	return out
}

func TestChatDeltaStream(t *testing.T) {
	d := testDashboard()
	key := "agent:kiln:main"

	d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, "Hel"))
	d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, "lo"))
	d.applyChat(chatEvent("r1", key, protocol.ChatStateFinal, ""))

	msgs := assistantMessages(t, d, "kiln")
	if len(msgs) != 1 {
		t.Fatalf("assistant messages = %d, want 1", len(msgs))
	}
	if msgs[0].Text != "Hello" {
		t.Errorf("text = %q, want %q", msgs[0].Text, "Hello")
	}
	if msgs[0].Delivery != DeliveryComplete {
		t.Errorf("delivery = %q, want complete", msgs[0].Delivery)
	}
	if a, _ := d.Agent("kiln"); a.Streaming {
		t.Error("streaming flag still set after final")
	}
}

func TestChatAppendMonotonic(t *testing.T) {
	d := testDashboard()
	key := "agent:kiln:main"

	prev := ""
	for _, frag := range []string{"a", "bc", "def", "n"} {
		d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, frag))
		got := assistantMessages(t, d, "kiln")[0].Text
		if len(got) <= len(prev) {
			t.Fatalf("text shrank: %q -> %q", prev, got)
		}
		prev = got
	}
	if prev != "abcdefn" {
		t.Errorf("accumulated = %q", prev)
	}
}

func TestChatFinalReplacesBody(t *testing.T) {
	d := testDashboard()
	key := "agent:kiln:main"

	d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, "partial dr"))
	d.applyChat(chatEvent("r1", key, protocol.ChatStateFinal, "The full canonical reply."))

	msgs := assistantMessages(t, d, "kiln")
	if len(msgs) != 1 {
		t.Fatalf("assistant messages = %d, want 1", len(msgs))
	}
	if msgs[0].Text != "The full canonical reply." {
		t.Errorf("final body not replaced: %q", msgs[0].Text)
	}
}

func TestChatFinalWithoutDeltas(t *testing.T) {
	d := testDashboard()
	key := "agent:razor:main"

	d.applyChat(chatEvent("r9", key, protocol.ChatStateFinal, "done already"))

	msgs := assistantMessages(t, d, "razor")
	if len(msgs) != 1 || msgs[0].Text != "done already" || msgs[0].Delivery != DeliveryComplete {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestChatErrorAndAborted(t *testing.T) {
	for _, state := range []string{protocol.ChatStateError, protocol.ChatStateAborted} {
		t.Run(state, func(t *testing.T) {
			d := testDashboard()
			key := "agent:kiln:main"

			d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, "working on it"))
			ev := chatEvent("r1", key, state, "")
			if state == protocol.ChatStateError {
				ev.ErrorMessage = "model unavailable"
			}
			d.applyChat(ev)

			msgs := assistantMessages(t, d, "kiln")
			if len(msgs) != 1 {
				t.Fatalf("assistant messages = %d, want 1", len(msgs))
			}
			if msgs[0].Delivery != DeliveryError {
				t.Errorf("delivery = %q, want error", msgs[0].Delivery)
			}
			if len(msgs[0].Text) < len("working on it") {
				t.Errorf("error application truncated text: %q", msgs[0].Text)
			}
			if a, _ := d.Agent("kiln"); a.Streaming {
				t.Error("streaming flag still set after terminal state")
			}
		})
	}
}

func TestStreamingFlagTracksMostRecentRun(t *testing.T) {
	d := testDashboard()
	key := "agent:kiln:main"

	d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, "first"))
	d.applyChat(chatEvent("r2", key, protocol.ChatStateDelta, "second"))

	// Terminal for the older run must not clear the flag.
	d.applyChat(chatEvent("r1", key, protocol.ChatStateFinal, ""))
	if a, _ := d.Agent("kiln"); !a.Streaming {
		t.Fatal("streaming flag cleared by terminal event for a superseded run")
	}

	d.applyChat(chatEvent("r2", key, protocol.ChatStateFinal, ""))
	if a, _ := d.Agent("kiln"); a.Streaming {
		t.Fatal("streaming flag still set after most recent run finished")
	}
}

func TestChatUnmatchedSessionRoutesToPrimary(t *testing.T) {
	t.Run("first roster agent by default", func(t *testing.T) {
		d := testDashboard()
		d.applyChat(chatEvent("r1", "agent:stranger:main", protocol.ChatStateDelta, "hi"))

		msgs := assistantMessages(t, d, "kiln")
		if len(msgs) != 1 || msgs[0].Text != "hi" {
			t.Fatalf("primary pane = %+v, want the routed delta", msgs)
		}
		if a, _ := d.Agent("kiln"); !a.Streaming {
			t.Error("streaming flag not set on the primary agent")
		}
		for _, id := range []string{"razor", "hex"} {
			if got := d.Messages(id); len(got) != 0 {
				t.Errorf("agent %s gained messages: %+v", id, got)
			}
		}
	})

	t.Run("flagged primary wins", func(t *testing.T) {
		cfg := testConfig()
		cfg.Agents[1].Primary = true // razor
		d := New(nil, cfg)

		d.applyChat(chatEvent("r1", "agent:stranger:main", protocol.ChatStateDelta, "hi"))
		if msgs := assistantMessages(t, d, "razor"); len(msgs) != 1 {
			t.Fatalf("razor pane = %+v, want the routed delta", msgs)
		}
		if msgs := d.Messages("kiln"); len(msgs) != 0 {
			t.Errorf("kiln gained messages: %+v", msgs)
		}
	})
}

func TestLateFramesAfterTerminalIgnored(t *testing.T) {
	key := "agent:kiln:main"

	t.Run("delta after final", func(t *testing.T) {
		d := testDashboard()
		d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, "Hel"))
		d.applyChat(chatEvent("r1", key, protocol.ChatStateFinal, "Hello"))
		d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, "!!dup"))

		msgs := assistantMessages(t, d, "kiln")
		if len(msgs) != 1 {
			t.Fatalf("assistant messages = %d, want 1", len(msgs))
		}
		if msgs[0].Text != "Hello" || msgs[0].Delivery != DeliveryComplete {
			t.Errorf("settled message reopened: %+v", msgs[0])
		}
		if a, _ := d.Agent("kiln"); a.Streaming {
			t.Error("streaming flag re-set by a delta after final")
		}
	})

	t.Run("final after clear streaming", func(t *testing.T) {
		d := testDashboard()
		d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, "thinking"))
		if !d.ClearStreaming("kiln") {
			t.Fatal("ClearStreaming returned false while streaming")
		}
		d.applyChat(chatEvent("r1", key, protocol.ChatStateFinal, "late full reply"))

		msgs := assistantMessages(t, d, "kiln")
		if msgs[0].Delivery != DeliveryError || msgs[0].Text != "thinking" {
			t.Errorf("errored run rewritten by a late final: %+v", msgs[0])
		}
		if a, _ := d.Agent("kiln"); a.Streaming {
			t.Error("streaming flag re-set by a late final")
		}
		if feed := d.Feed(); len(feed) != 0 {
			t.Errorf("late final reached the feed: %+v", feed)
		}
	})

	t.Run("error after final", func(t *testing.T) {
		d := testDashboard()
		d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, "almost"))
		d.applyChat(chatEvent("r1", key, protocol.ChatStateFinal, "done"))
		ev := chatEvent("r1", key, protocol.ChatStateError, "")
		ev.ErrorMessage = "too late"
		d.applyChat(ev)

		msgs := assistantMessages(t, d, "kiln")
		if msgs[0].Delivery != DeliveryComplete || msgs[0].Text != "done" {
			t.Errorf("completed run rewritten by a late error: %+v", msgs[0])
		}
	})
}

func TestSendChatDisconnected(t *testing.T) {
	client := gateway.New(gateway.Options{URL: "ws://unused"})
	defer client.Close()
	d := New(client, testConfig())

	err := d.SendChat(context.Background(), "razor", "status?")
	if !errors.Is(err, gateway.ErrNotConnected) {
		t.Fatalf("error = %v, want ErrNotConnected", err)
	}

	msgs := d.Messages("razor")
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want optimistic user + synthetic error", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Delivery != DeliveryComplete {
		t.Errorf("optimistic message = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Delivery != DeliveryError {
		t.Errorf("synthetic error message = %+v", msgs[1])
	}
	if a, _ := d.Agent("razor"); a.Streaming {
		t.Error("streaming flag left set after send failure")
	}
}

func TestSendChatUnknownAgent(t *testing.T) {
	d := testDashboard()
	if err := d.SendChat(context.Background(), "ghost", "hi"); err == nil {
		t.Fatal("SendChat accepted unknown agent")
	}
}

func TestClearStreaming(t *testing.T) {
	d := testDashboard()
	key := "agent:hex:main"

	d.applyChat(chatEvent("r1", key, protocol.ChatStateDelta, "thinking"))
	if !d.ClearStreaming("hex") {
		t.Fatal("ClearStreaming returned false while streaming")
	}

	msgs := assistantMessages(t, d, "hex")
	if len(msgs) != 2 {
		t.Fatalf("assistant messages = %d, want stuck + synthetic", len(msgs))
	}
	if msgs[0].Delivery != DeliveryError {
		t.Errorf("stuck message delivery = %q, want error", msgs[0].Delivery)
	}
	if msgs[1].Delivery != DeliveryError || msgs[1].Text == "" {
		t.Errorf("synthetic timeout message = %+v", msgs[1])
	}
	if a, _ := d.Agent("hex"); a.Streaming {
		t.Error("streaming flag still set")
	}

	// Second call: flag already clear, nothing appended.
	if d.ClearStreaming("hex") {
		t.Fatal("ClearStreaming repeated while not streaming")
	}
	if got := len(assistantMessages(t, d, "hex")); got != 2 {
		t.Errorf("no-op call appended a message: %d", got)
	}
}
