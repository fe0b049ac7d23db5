package gateway

import (
	"errors"
	"fmt"

	"github.com/clawdash/clawdash/pkg/protocol"
)

var (
	// ErrNotConnected is returned by Request when the socket is not open.
	// There is no implicit queueing; callers retry after reconnect.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrConnectionClosed rejects pending requests when the socket drops
	// or Close is called.
	ErrConnectionClosed = errors.New("gateway: connection closed")

	// ErrTimeout rejects a request whose response never arrived. The
	// wrapping error carries the method name.
	ErrTimeout = errors.New("gateway: request timed out")
)

// RPCError is a protocol-level error from a Response{ok:false} frame.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway: rpc error %s: %s", e.Code, e.Message)
}

func rpcError(shape *protocol.ErrorShape) error {
	if shape == nil {
		return &RPCError{Code: "UNKNOWN", Message: "request failed"}
	}
	return &RPCError{Code: shape.Code, Message: shape.Message}
}
