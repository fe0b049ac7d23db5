package protocol

// WebSocket event names pushed from server to client.
const (
	EventAgent            = "agent"
	EventChat             = "chat"
	EventHealth           = "health"
	EventPresence         = "presence"
	EventTick             = "tick"
	EventCronFired        = "cron.fired"
	EventConnectChallenge = "connect.challenge"

	// EventConnected is synthesized locally by the client after a successful
	// handshake so that subscribers attached before Connect still observe the
	// snapshot. It never appears on the wire.
	EventConnected = "_connected"

	// EventAny is the wildcard subscription name; handlers registered under
	// it receive every event in addition to name-specific handlers.
	EventAny = "*"
)

// Chat event states (in payload.state)
const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateAborted = "aborted"
	ChatStateError   = "error"
)

// Hello payload type returned by the connect method.
const HelloOK = "hello-ok"
