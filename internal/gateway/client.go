// Package gateway implements the dashboard's live connection to the agent
// gateway: one WebSocket carrying request/response RPC, server-pushed events
// and streaming chat turns, with automatic reconnect after drops.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/clawdash/clawdash/pkg/protocol"
)

// ConnState is the connection lifecycle state. Exactly one value at a time.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// Options configures a Client. Zero values get defaults from New.
type Options struct {
	URL            string
	Token          string
	ClientID       string        // default: random
	ClientVersion  string        // default: "dev"
	AutoReconnect  bool
	Backoff        time.Duration // base reconnect delay, default 1s
	MaxBackoff     time.Duration // reconnect delay cap, default 30s
	DialTimeout    time.Duration // dial + handshake budget, default 10s
	RequestTimeout time.Duration // default per-request timeout, default 30s
}

// Snapshot is the one-time state bundle delivered at handshake completion.
// Owned by the Client until consumed by the reconciler at connect time; not
// mutated afterward (subsequent updates arrive as events).
type Snapshot struct {
	Data         protocol.SnapshotData
	TickInterval time.Duration
	Uptime       time.Duration
}

// Client owns one WebSocket to the gateway. Only one socket is ever open at
// a time; Connect tears down any prior socket first.
type Client struct {
	opts Options

	idPrefix string
	seqMu    sync.Mutex
	seq      uint64

	mu              sync.Mutex
	state           ConnState
	conn            *websocket.Conn
	wmu             sync.Mutex // serializes socket writes
	gen             int        // socket generation; guards stale callbacks
	attempt         int        // consecutive reconnect attempts since last success
	closed          bool
	challenge       chan struct{}
	readCancel      context.CancelFunc
	keepaliveCancel context.CancelFunc
	reconnectTimer  *time.Timer
	lastSeq         map[string]int64 // per-event-name seq high-water mark
	snapshot        *Snapshot

	pending map[string]*pending

	handlers      map[string]map[uint64]EventHandler
	stateHandlers map[uint64]StateHandler
	nextHandlerID uint64
	stateNotify   chan ConnState
}

// New creates a client. The connection is not opened until Connect.
func New(opts Options) *Client {
	if opts.ClientID == "" {
		opts.ClientID = "clawdash-" + uuid.NewString()[:8]
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "dev"
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	c := &Client{
		opts:          opts,
		idPrefix:      uuid.NewString()[:8],
		state:         StateDisconnected,
		pending:       make(map[string]*pending),
		handlers:      make(map[string]map[uint64]EventHandler),
		stateHandlers: make(map[uint64]StateHandler),
		stateNotify:   make(chan ConnState, 16),
	}
	go c.notifyLoop()
	return c
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastSnapshot returns the snapshot from the most recent successful
// handshake, or nil before the first one.
func (c *Client) LastSnapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Connect opens the transport and performs the handshake: the server issues
// a connect.challenge event, the client answers with a connect request, and
// the server replies hello-ok with the Snapshot and keepalive policy.
// Any existing socket is torn down first. On failure the state returns to
// disconnected and, when auto-reconnect is enabled, a retry is scheduled.
func (c *Client) Connect(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.teardownLocked()
	c.gen++
	gen := c.gen
	if c.state != StateReconnecting {
		c.setStateLocked(StateConnecting)
	}
	c.mu.Unlock()

	snap, err := c.handshake(ctx, gen)
	if err != nil {
		c.mu.Lock()
		if gen == c.gen && !c.closed {
			c.teardownLocked()
			c.setStateLocked(StateDisconnected)
			if c.opts.AutoReconnect {
				c.scheduleReconnectLocked()
			}
		}
		c.mu.Unlock()
		return nil, err
	}
	return snap, nil
}

// Close disables auto-reconnect, cancels pending reconnect and keepalive
// timers, rejects all pending requests, closes the transport and sets the
// state to disconnected. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.teardownLocked()
	c.setStateLocked(StateDisconnected)
	close(c.stateNotify) // nothing sends after closed is set; lets notifyLoop exit
	return nil
}

func (c *Client) handshake(ctx context.Context, gen int) (*Snapshot, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	challenge := make(chan struct{}, 1)
	readCtx, readCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		readCancel()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil, ErrConnectionClosed
	}
	c.conn = conn
	c.challenge = challenge
	c.readCancel = readCancel
	c.lastSeq = make(map[string]int64)
	c.mu.Unlock()

	go c.readLoop(readCtx, conn, gen)

	select {
	case <-challenge:
	case <-dialCtx.Done():
		return nil, fmt.Errorf("gateway handshake: no challenge: %w", dialCtx.Err())
	}

	params := protocol.ConnectParams{
		MinProtocol: protocol.MinProtocolVersion,
		MaxProtocol: protocol.ProtocolVersion,
		Client: protocol.ClientInfo{
			ID:       c.opts.ClientID,
			Version:  c.opts.ClientVersion,
			Platform: runtime.GOOS,
			Mode:     "dashboard",
		},
		Role:   "operator",
		Scopes: []string{"presence", "chat", "cron", "logs"},
	}
	if c.opts.Token != "" {
		params.Auth = &protocol.AuthInfo{Token: c.opts.Token}
	}

	payload, err := c.do(ctx, conn, protocol.MethodConnect, params, c.opts.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("gateway connect: %w", err)
	}

	var hello protocol.HelloPayload
	if err := json.Unmarshal(payload, &hello); err != nil {
		return nil, fmt.Errorf("gateway connect: parse hello: %w", err)
	}
	if hello.Type != protocol.HelloOK {
		return nil, fmt.Errorf("gateway connect: unexpected hello type %q", hello.Type)
	}

	tick := time.Duration(hello.Policy.TickIntervalMS) * time.Millisecond
	if tick <= 0 {
		tick = 30 * time.Second
	}
	snap := &Snapshot{
		Data:         hello.Snapshot,
		TickInterval: tick,
		Uptime:       time.Duration(hello.Snapshot.UptimeMS) * time.Millisecond,
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.attempt = 0
	c.snapshot = snap
	c.setStateLocked(StateConnected)
	kctx, kcancel := context.WithCancel(context.Background())
	c.keepaliveCancel = kcancel
	c.mu.Unlock()

	go c.keepalive(kctx, conn, tick)

	slog.Info("gateway connected", "url", c.opts.URL, "agents", len(snap.Data.Presence), "tick", tick)
	c.dispatch(*protocol.NewEvent(protocol.EventConnected, snap.Data))
	return snap, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(gen, err)
			return
		}
		c.handleFrame(gen, data)
	}
}

func (c *Client) handleFrame(gen int, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		slog.Debug("gateway: bad frame", "error", err)
		return
	}

	switch frameType {
	case protocol.FrameTypeResponse:
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		c.resolve(resp)

	case protocol.FrameTypeEvent:
		var ev protocol.EventFrame
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Event == protocol.EventConnectChallenge {
			c.mu.Lock()
			ch := c.challenge
			c.mu.Unlock()
			if ch != nil {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
			return
		}
		if c.staleSeq(gen, ev) {
			slog.Debug("gateway: dropped stale event", "event", ev.Event, "seq", ev.Seq)
			return
		}
		c.dispatch(ev)
	}
}

// staleSeq drops an event whose seq is at or below the last seen seq for the
// same event name on this socket. Frames without a seq are never dropped.
func (c *Client) staleSeq(gen int, ev protocol.EventFrame) bool {
	if ev.Seq <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.lastSeq == nil {
		return true
	}
	if last, ok := c.lastSeq[ev.Event]; ok && ev.Seq <= last {
		return true
	}
	c.lastSeq[ev.Event] = ev.Seq
	return false
}

// handleDisconnect reacts to the read loop ending. A drop mid-handshake only
// rejects the in-flight connect request; the Connect error path owns retry
// scheduling. A drop after connected tears down and schedules a reconnect.
func (c *Client) handleDisconnect(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}
	if c.state != StateConnected {
		c.rejectPendingLocked(ErrConnectionClosed)
		return
	}
	slog.Warn("gateway disconnected", "error", err)
	c.teardownLocked()
	if c.opts.AutoReconnect {
		c.scheduleReconnectLocked()
	} else {
		c.setStateLocked(StateDisconnected)
	}
}

// scheduleReconnectLocked arms the retry timer with exponential backoff:
// min(Backoff * 2^attempt, MaxBackoff). The attempt counter resets only
// after a fully successful handshake.
func (c *Client) scheduleReconnectLocked() {
	if c.reconnectTimer != nil {
		return
	}
	delay := c.backoffDelay(c.attempt)
	c.attempt++
	c.setStateLocked(StateReconnecting)
	slog.Info("gateway reconnect scheduled", "attempt", c.attempt, "delay", delay)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if _, err := c.Connect(context.Background()); err != nil {
			slog.Debug("gateway reconnect failed", "error", err)
		}
	})
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	if attempt > 20 {
		return c.opts.MaxBackoff
	}
	d := c.opts.Backoff << uint(attempt)
	if d > c.opts.MaxBackoff || d <= 0 {
		return c.opts.MaxBackoff
	}
	return d
}

// keepalive sends a fire-and-forget tick request at the server-specified
// interval while the socket is open. Failures are not surfaced; a dead
// socket is detected by the read loop.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := protocol.NewRequest(c.nextID(), protocol.MethodTick, nil)
			if err := c.writeFrame(ctx, conn, frame); err != nil {
				slog.Debug("gateway: tick failed", "error", err)
			}
		}
	}
}

// teardownLocked closes the current socket, stops its timers and rejects
// every pending request. Safe to call with no socket open.
func (c *Client) teardownLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "")
		c.conn = nil
	}
	c.challenge = nil
	c.lastSeq = nil
	c.rejectPendingLocked(ErrConnectionClosed)
}

func (c *Client) writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}
