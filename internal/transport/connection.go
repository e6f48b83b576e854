package transport

import (
	"context"
	"errors"
)

// State is the push-transport connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// StateChange is emitted on every connection state transition. Cause is
// set when the transition was forced by a transport error.
type StateChange struct {
	State State
	Cause error
}

// Handler receives raw push payloads for one subscribed topic, in arrival
// order.
type Handler func(payload []byte)

// Handle identifies one live topic subscription.
type Handle struct {
	ID    string
	Topic string
}

var (
	// ErrNotConnected is returned when subscribe or publish is attempted
	// outside the connected state. The caller retries after reconnection.
	ErrNotConnected = errors.New("transport not connected")
)

// Connection owns one push-transport session. Connect is idempotent;
// reconnection policy belongs to the session owner, not the connection.
type Connection interface {
	Connect(ctx context.Context, credential string) error
	Subscribe(topic string, h Handler) (Handle, error)
	Unsubscribe(h Handle)
	Publish(ctx context.Context, destination string, payload []byte) error
	Disconnect() error
	State() State
	Notify() <-chan StateChange
}
