package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/clawdash/clawdash/pkg/protocol"
)

type outcome struct {
	payload json.RawMessage
	err     error
}

// pending is one outstanding request in the correlation table. The buffered
// channel receives exactly one outcome: whichever of response, timeout or
// disconnect wins removes the entry from the table first, and only the
// remover delivers — at-most-once resolution by construction.
type pending struct {
	method string
	ch     chan outcome
}

// Request sends an RPC and waits for the correlated response. It fails
// immediately with ErrNotConnected when the socket is down (no implicit
// queueing), with the server's error on an ok:false response, with a
// timeout after the configured request timeout, or with ErrConnectionClosed
// if the socket drops while the request is pending.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, ErrNotConnected)
	}
	conn := c.conn
	c.mu.Unlock()

	return c.do(ctx, conn, method, params, c.opts.RequestTimeout)
}

// do sends a request on the given socket without checking connection state.
// The handshake's connect request uses it before the state is connected.
func (c *Client) do(ctx context.Context, conn *websocket.Conn, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := c.nextID()
	p := &pending{method: method, ch: make(chan outcome, 1)}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	frame := protocol.NewRequest(id, method, params)
	if err := c.writeFrame(ctx, conn, frame); err != nil {
		c.takePending(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.ch:
		return out.payload, out.err
	case <-timer.C:
		if c.takePending(id) != nil {
			return nil, fmt.Errorf("%s: %w", method, ErrTimeout)
		}
		// The response won the race; its outcome is already in flight.
		out := <-p.ch
		return out.payload, out.err
	case <-ctx.Done():
		if c.takePending(id) != nil {
			return nil, ctx.Err()
		}
		out := <-p.ch
		return out.payload, out.err
	}
}

// resolve matches a response frame to its pending request. Unmatched or
// duplicate responses are silently ignored (already resolved or evicted).
func (c *Client) resolve(resp protocol.ResponseFrame) {
	p := c.takePending(resp.ID)
	if p == nil {
		return
	}
	if resp.OK {
		p.ch <- outcome{payload: resp.Payload}
	} else {
		p.ch <- outcome{err: rpcError(resp.Error)}
	}
}

// takePending removes and returns the pending entry, or nil when another
// resolver already claimed it.
func (c *Client) takePending(id string) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

// rejectPendingLocked fails every outstanding request. Caller holds c.mu.
func (c *Client) rejectPendingLocked(err error) {
	for id, p := range c.pending {
		delete(c.pending, id)
		p.ch <- outcome{err: fmt.Errorf("%s: %w", p.method, err)}
	}
}

// nextID allocates a correlation id unique for the lifetime of this client
// instance: a random per-instance prefix plus a monotonic counter.
func (c *Client) nextID() string {
	c.seqMu.Lock()
	c.seq++
	n := c.seq
	c.seqMu.Unlock()
	return fmt.Sprintf("%s-%d", c.idPrefix, n)
}
