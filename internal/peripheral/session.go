package peripheral

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger used by the session.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session wraps one Transport with the request → connect → use → disconnect
// lifecycle. It is owned by the extension that created it.
//
// Session is safe for concurrent use. Disconnect and HandleDisconnectError
// may be called from any goroutine, including transport callbacks.
type Session struct {
	extensionID string
	chooser     Chooser
	runtime     Runtime
	handlers    Handlers
	logger      *slog.Logger

	mu        sync.Mutex
	state     State
	device    *Device
	transport Transport
}

// NewSession creates an idle session for the given extension.
// Panics if chooser or runtime is nil (programmer error).
func NewSession(extensionID string, chooser Chooser, runtime Runtime, handlers Handlers, opts ...SessionOption) *Session {
	if chooser == nil {
		panic("peripheral: NewSession called with nil chooser")
	}
	if runtime == nil {
		panic("peripheral: NewSession called with nil runtime")
	}
	s := &Session{
		extensionID: extensionID,
		chooser:     chooser,
		runtime:     runtime,
		handlers:    handlers,
		logger:      slog.Default(),
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExtensionID returns the identifier of the owning extension.
func (s *Session) ExtensionID() string { return s.extensionID }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session holds an open transport.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Transport returns the connected transport, or nil when not connected.
func (s *Session) Transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// RequestPeripheral asks the chooser for a matching device. On success the
// device is stored and the runtime is told it is available. On failure a
// request error is emitted and the state is left unchanged.
func (s *Session) RequestPeripheral(ctx context.Context) error {
	if s.IsConnected() {
		return s.requestFailed(ErrAlreadyConnected)
	}

	dev, err := s.chooser.Choose(ctx)
	if err != nil {
		return s.requestFailed(fmt.Errorf("choose device: %w", err))
	}
	if dev == nil || dev.Transport == nil {
		return s.requestFailed(ErrNoDevice)
	}

	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return s.requestFailed(ErrAlreadyConnected)
	}
	if s.state == StateDisconnected {
		s.state = StateIdle
	}
	s.device = dev
	s.state = StateRequesting
	s.mu.Unlock()

	s.logger.Debug("[SESSION] device chosen", "extension", s.extensionID, "device", dev.ID, "name", dev.Name)
	s.runtime.PeripheralAvailable(s.extensionID, dev.ID)
	return nil
}

// ConnectPeripheral opens the transport of the previously chosen device.
// Calling it while connected is a no-op.
func (s *Session) ConnectPeripheral(ctx context.Context) error {
	s.mu.Lock()
	dev := s.device
	state := s.state
	s.mu.Unlock()

	if state == StateConnected {
		return nil
	}
	if dev == nil || state != StateRequesting {
		return s.requestFailed(ErrNoDevice)
	}

	t := dev.Transport
	t.SetDisconnectHandler(s.HandleDisconnectError)
	if err := t.Open(ctx); err != nil {
		return s.requestFailed(fmt.Errorf("open %s: %w", dev.ID, err))
	}

	s.mu.Lock()
	if s.device != dev || s.state != StateRequesting {
		// Disconnect raced with the open; the transport is no longer ours.
		s.mu.Unlock()
		_ = t.Close()
		return s.requestFailed(ErrNoDevice)
	}
	s.transport = t
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.Info("[SESSION] connected", "extension", s.extensionID, "device", dev.ID)
	if s.handlers.OnConnect != nil {
		s.handlers.OnConnect(t)
	}
	s.runtime.Emit(Event{
		Type:        EventPeripheralConnected,
		ExtensionID: s.extensionID,
		DeviceID:    dev.ID,
	})
	return nil
}

// Disconnect closes the transport and moves to StateDisconnected. It is
// idempotent: only the first call after a connection cycle emits the
// disconnected event.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	t, id := s.detachLocked()
	s.mu.Unlock()

	s.finishDisconnect(t, id)
}

// HandleDisconnectError is invoked by the transport when it loses its
// connection. It does nothing unless the session is connected, so duplicate
// signals from the transport and the GATT layer collapse into one event.
func (s *Session) HandleDisconnectError(cause error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		s.logger.Debug("[SESSION] ignoring disconnect signal", "extension", s.extensionID, "error", cause)
		return
	}
	t, id := s.detachLocked()
	s.mu.Unlock()

	s.logger.Warn("[SESSION] connection lost", "extension", s.extensionID, "device", id, "error", cause)
	s.finishDisconnect(t, id)

	if s.handlers.OnReset != nil {
		s.handlers.OnReset()
	}

	lost := &ConnectionLostError{ExtensionID: s.extensionID, Err: cause}
	s.runtime.Emit(Event{
		Type:        EventPeripheralConnectionLostError,
		ExtensionID: s.extensionID,
		DeviceID:    id,
		Message:     lost.Error(),
		Err:         lost,
	})
}

// detachLocked moves to StateDisconnected and hands back the transport to
// close (caller must hold mu).
func (s *Session) detachLocked() (Transport, string) {
	t := s.transport
	var id string
	if s.device != nil {
		id = s.device.ID
	}
	s.transport = nil
	s.device = nil
	s.state = StateDisconnected
	return t, id
}

func (s *Session) finishDisconnect(t Transport, deviceID string) {
	if t != nil {
		if err := t.Close(); err != nil {
			s.logger.Warn("[SESSION] close transport", "extension", s.extensionID, "error", err)
		}
	}
	s.runtime.Emit(Event{
		Type:        EventPeripheralDisconnected,
		ExtensionID: s.extensionID,
		DeviceID:    deviceID,
	})
}

func (s *Session) requestFailed(err error) error {
	reqErr := &RequestError{ExtensionID: s.extensionID, Err: err}
	s.logger.Warn("[SESSION] request failed", "extension", s.extensionID, "error", err)
	s.runtime.Emit(Event{
		Type:        EventPeripheralRequestError,
		ExtensionID: s.extensionID,
		Message:     reqErr.Error(),
		Err:         reqErr,
	})
	return reqErr
}
