// Package peripheral provides the connection lifecycle shared by every kind of
// hardware peripheral (BLE and serial): device request, connect, disconnect
// detection and the events raised to the owning runtime.
package peripheral

import (
	"context"
	"fmt"
)

// State is the connection state of a Session.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is one physical connection to a peripheral.
type Transport interface {
	// Open establishes the connection.
	Open(ctx context.Context) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
	// IsConnected reports whether the connection is open.
	IsConnected() bool
	// SetDisconnectHandler installs the callback invoked when the transport
	// detects loss of connection. Installing a new handler replaces the old one.
	SetDisconnectHandler(handler func(cause error))
}

// Device is a peripheral picked by a Chooser. Its transport is not open yet.
type Device struct {
	ID        string
	Name      string
	Transport Transport
}

// Chooser selects one device matching its filters.
type Chooser interface {
	Choose(ctx context.Context) (*Device, error)
}

// ChooserFunc adapts a function to the Chooser interface.
type ChooserFunc func(ctx context.Context) (*Device, error)

// Choose calls f(ctx).
func (f ChooserFunc) Choose(ctx context.Context) (*Device, error) {
	return f(ctx)
}

// Handlers are the extension callbacks passed to a Session at construction.
type Handlers struct {
	// OnConnect is called once the transport is open.
	OnConnect func(t Transport)
	// OnReset is called after an unexpected disconnect, before the
	// connection-lost event is emitted, so the extension can clear its state.
	OnReset func()
}
