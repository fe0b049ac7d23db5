package gateway

import (
	"github.com/clawdash/clawdash/pkg/protocol"
)

// EventHandler receives pushed event frames.
type EventHandler func(protocol.EventFrame)

// StateHandler observes connection state transitions.
type StateHandler func(ConnState)

// On registers a handler for a named event and returns its unsubscribe
// function. Multiple handlers per name are supported; protocol.EventAny
// receives every event in addition to the name-specific handlers.
// The returned function is idempotent.
func (c *Client) On(event string, h EventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandlerID++
	id := c.nextHandlerID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]EventHandler)
	}
	c.handlers[event][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if m, ok := c.handlers[event]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(c.handlers, event)
			}
		}
	}
}

// OnState registers a connection-state listener and returns its unsubscribe
// function. Listeners observe transitions in order, one at a time.
func (c *Client) OnState(h StateHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.stateHandlers[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateHandlers, id)
	}
}

// dispatch delivers an event to its named handlers and to wildcard
// handlers. Handlers run outside the client lock so they may call back
// into the client.
func (c *Client) dispatch(ev protocol.EventFrame) {
	c.mu.Lock()
	hs := make([]EventHandler, 0, len(c.handlers[ev.Event])+len(c.handlers[protocol.EventAny]))
	for _, h := range c.handlers[ev.Event] {
		hs = append(hs, h)
	}
	for _, h := range c.handlers[protocol.EventAny] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// setStateLocked records a state transition and queues listener
// notification. Caller holds c.mu; listeners run on the notify goroutine.
func (c *Client) setStateLocked(s ConnState) {
	if c.state == s {
		return
	}
	c.state = s
	select {
	case c.stateNotify <- s:
	default:
		// Queue full: evict the oldest transition so the latest always
		// reaches listeners. Intermediate states may be skipped under a
		// burst, the current one never.
		select {
		case <-c.stateNotify:
		default:
		}
		select {
		case c.stateNotify <- s:
		default:
		}
	}
}

func (c *Client) notifyLoop() {
	for s := range c.stateNotify {
		c.mu.Lock()
		hs := make([]StateHandler, 0, len(c.stateHandlers))
		for _, h := range c.stateHandlers {
			hs = append(hs, h)
		}
		c.mu.Unlock()
		for _, h := range hs {
			h(s)
		}
	}
}
