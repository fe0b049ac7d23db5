// Package protocol defines the wire format for the gateway WebSocket protocol.
// One JSON object per WebSocket message; three frame kinds distinguished by
// the "type" field. This package is importable by other clients.
package protocol

import "encoding/json"

// Protocol version bounds negotiated during the connect handshake.
const (
	ProtocolVersion    = 3
	MinProtocolVersion = 1
)

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is sent by clients to invoke an RPC method.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "req"
	ID     string          `json:"id"`     // unique request ID (client-generated)
	Method string          `json:"method"` // RPC method name
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is sent by the server in response to a request.
type ResponseFrame struct {
	Type    string          `json:"type"`              // always "res"
	ID      string          `json:"id"`                // matches request ID
	OK      bool            `json:"ok"`                // true if success
	Payload json.RawMessage `json:"payload,omitempty"` // response data (when ok=true)
	Error   *ErrorShape     `json:"error,omitempty"`   // error info (when ok=false)
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// EventFrame is pushed from server to client without a preceding request.
type EventFrame struct {
	Type         string          `json:"type"`                   // always "event"
	Event        string          `json:"event"`                  // event name
	Payload      json.RawMessage `json:"payload,omitempty"`      // event data
	Seq          int64           `json:"seq,omitempty"`          // ordering sequence number
	StateVersion *StateVersion   `json:"stateVersion,omitempty"` // version counters for state sync
}

// StateVersion tracks monotonic version counters for state sync.
type StateVersion struct {
	Presence int64 `json:"presence"`
	Health   int64 `json:"health"`
}

// NewRequest creates a request frame. Params are marshaled; a marshal
// failure leaves Params nil, which the server treats as no params.
func NewRequest(id, method string, params any) *RequestFrame {
	f := &RequestFrame{Type: FrameTypeRequest, ID: id, Method: method}
	if params != nil {
		if data, err := json.Marshal(params); err == nil {
			f.Params = data
		}
	}
	return f
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any) *EventFrame {
	f := &EventFrame{Type: FrameTypeEvent, Event: event}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			f.Payload = data
		}
	}
	return f
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
