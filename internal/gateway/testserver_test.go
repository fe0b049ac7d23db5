package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdash/clawdash/pkg/protocol"
)

// fakeGateway is an in-process gateway speaking the challenge/hello-ok
// handshake, for exercising the client against real WebSocket traffic.
type fakeGateway struct {
	t   *testing.T
	srv *httptest.Server
	upg websocket.Upgrader

	// refuseHello makes connect requests fail; dropOnAccept closes the
	// socket before the challenge is sent.
	refuseHello  atomic.Bool
	dropOnAccept atomic.Bool

	tickMS   int
	presence []protocol.PresenceEntry

	mu      sync.Mutex
	handler func(c *gwConn, req protocol.RequestFrame) *protocol.ResponseFrame

	conns   chan *gwConn
	accepts chan time.Time
	ticks   chan string
}

// gwConn wraps a server-side socket with a write lock.
type gwConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *gwConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *gwConn) close() {
	c.ws.Close()
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{
		t:      t,
		tickMS: 60000,
		presence: []protocol.PresenceEntry{
			{Tag: "kiln", Status: "online", Text: "idle"},
			{Tag: "razor", Status: "online", Text: "working: index rebuild"},
		},
		conns:   make(chan *gwConn, 8),
		accepts: make(chan time.Time, 64),
		ticks:   make(chan string, 16),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handleWS))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) onRequest(fn func(c *gwConn, req protocol.RequestFrame) *protocol.ResponseFrame) {
	g.mu.Lock()
	g.handler = fn
	g.mu.Unlock()
}

// waitConn returns the next accepted server-side connection.
func (g *fakeGateway) waitConn(t *testing.T) *gwConn {
	t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no gateway connection within 3s")
		return nil
	}
}

func (g *fakeGateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upg.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case g.accepts <- time.Now():
	default:
	}
	if g.dropOnAccept.Load() {
		ws.Close()
		return
	}

	conn := &gwConn{ws: ws}
	conn.writeJSON(protocol.NewEvent(protocol.EventConnectChallenge, nil))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		switch req.Method {
		case protocol.MethodConnect:
			if g.refuseHello.Load() {
				conn.writeJSON(protocol.ResponseFrame{
					Type: protocol.FrameTypeResponse, ID: req.ID, OK: false,
					Error: &protocol.ErrorShape{Code: "UNAUTHORIZED", Message: "bad token"},
				})
				continue
			}
			hello := protocol.HelloPayload{
				Type: protocol.HelloOK,
				Snapshot: protocol.SnapshotData{
					Presence:     g.presence,
					Health:       json.RawMessage(`{"ok":true}`),
					StateVersion: protocol.StateVersion{Presence: 1, Health: 1},
					UptimeMS:     123456,
				},
				Policy: protocol.HelloPolicy{TickIntervalMS: g.tickMS},
			}
			conn.writeJSON(protocol.ResponseFrame{
				Type: protocol.FrameTypeResponse, ID: req.ID, OK: true,
				Payload: mustRaw(g.t, hello),
			})
			// Hand the connection to the test only once it is usable.
			select {
			case g.conns <- conn:
			default:
			}

		case protocol.MethodTick:
			select {
			case g.ticks <- req.ID:
			default:
			}
			conn.writeJSON(protocol.ResponseFrame{
				Type: protocol.FrameTypeResponse, ID: req.ID, OK: true,
			})

		default:
			g.mu.Lock()
			h := g.handler
			g.mu.Unlock()
			if h != nil {
				if resp := h(conn, req); resp != nil {
					conn.writeJSON(resp)
				}
			}
		}
	}
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
