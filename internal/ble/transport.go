package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/periphlink/internal/peripheral"
)

var (
	// ErrNotFound is returned when a service or characteristic does not exist
	// on the connected peripheral.
	ErrNotFound = errors.New("ble: not found")
	// ErrLinkLost is the disconnect cause when the peripheral drops the link.
	ErrLinkLost = errors.New("ble: link lost")
	// ErrInvalidUUID is returned for a service or characteristic ID that is
	// not a UUID.
	ErrInvalidUUID = errors.New("ble: invalid UUID")
)

type charKey struct {
	service, char string
}

// Transport is a GATT connection to one peripheral. Each characteristic has
// a single notification slot; starting notifications again replaces the
// previous callback.
type Transport struct {
	adapter Adapter
	address string
	logger  *slog.Logger

	mu           sync.Mutex
	conn         Connection
	chars        map[charKey]Characteristic
	notify       map[charKey]func([]byte)
	onDisconnect func(error)
}

// NewTransport creates a transport for the peripheral at address. Nothing is
// connected until Open.
func NewTransport(adapter Adapter, address string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		adapter: adapter,
		address: address,
		logger:  logger,
	}
}

// Address returns the peripheral address.
func (t *Transport) Address() string { return t.address }

// Open connects to the peripheral. Opening a connected transport is a no-op.
func (t *Transport) Open(ctx context.Context) error {
	if t.IsConnected() {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	conn, err := t.adapter.Connect(ctx, t.address)
	if err != nil {
		return err
	}

	// A drop before conn is published finds t.conn != conn in fail, so it is
	// recorded here and checked under t.mu.
	var dropped atomic.Bool
	conn.OnDisconnect(func() {
		dropped.Store(true)
		t.fail(conn, ErrLinkLost)
	})

	t.mu.Lock()
	if t.conn != nil {
		// Lost a race with another Open.
		t.mu.Unlock()
		_ = conn.Disconnect()
		return nil
	}
	if dropped.Load() {
		t.mu.Unlock()
		return fmt.Errorf("ble: connect %s: %w", t.address, ErrLinkLost)
	}
	t.conn = conn
	t.chars = make(map[charKey]Characteristic)
	t.notify = make(map[charKey]func([]byte))
	t.mu.Unlock()

	t.logger.Info("[BLE] connected", "address", t.address)
	return nil
}

// Close disconnects from the peripheral. Safe to call more than once. The
// disconnect handler is not called.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.detachLocked()
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	t.logger.Info("[BLE] disconnected", "address", t.address)
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", t.address, err)
	}
	return nil
}

// IsConnected reports whether the link is up.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// SetDisconnectHandler installs the callback invoked when the link drops or
// a GATT operation fails.
func (t *Transport) SetDisconnectHandler(handler func(cause error)) {
	t.mu.Lock()
	t.onDisconnect = handler
	t.mu.Unlock()
}

// StartNotifications calls onChange with a copy of every value notified on
// the characteristic, replacing any callback already installed for it.
func (t *Transport) StartNotifications(serviceID, charID string, onChange func([]byte)) error {
	key := charKey{serviceID, charID}
	conn, char, err := t.resolve(key)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return peripheral.ErrNotConnected
	}
	_, enabled := t.notify[key]
	t.notify[key] = onChange
	t.mu.Unlock()

	if enabled {
		return nil
	}
	if err := char.Subscribe(func(buf []byte) { t.dispatch(conn, key, buf) }); err != nil {
		t.mu.Lock()
		if t.conn == conn {
			delete(t.notify, key)
		}
		t.mu.Unlock()
		return fmt.Errorf("ble: enable notifications on %s: %w", charID, err)
	}
	return nil
}

// StopNotifications removes the notification callback and disables
// notifications on the characteristic.
func (t *Transport) StopNotifications(serviceID, charID string) error {
	key := charKey{serviceID, charID}

	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return peripheral.ErrNotConnected
	}
	_, enabled := t.notify[key]
	delete(t.notify, key)
	char := t.chars[key]
	t.mu.Unlock()

	if !enabled || char == nil {
		return nil
	}
	if err := char.Subscribe(nil); err != nil {
		return fmt.Errorf("ble: disable notifications on %s: %w", charID, err)
	}
	return nil
}

// Read returns the current value of the characteristic. When alsoSubscribe
// is set, onChange is installed as its notification callback first. A failed
// GATT read is reported to the disconnect handler as well as returned.
func (t *Transport) Read(serviceID, charID string, alsoSubscribe bool, onChange func([]byte)) ([]byte, error) {
	if alsoSubscribe {
		if err := t.StartNotifications(serviceID, charID, onChange); err != nil {
			return nil, err
		}
	}

	conn, char, err := t.resolve(charKey{serviceID, charID})
	if err != nil {
		return nil, err
	}
	value, err := char.Read()
	if err != nil {
		err = fmt.Errorf("ble: read %s: %w", charID, err)
		t.fail(conn, err)
		return nil, err
	}
	return value, nil
}

// Write decodes message with enc and writes it to the characteristic. With
// withResponse set it waits for the peripheral to confirm, falling back to
// an unconfirmed write where confirmation is unsupported. A failed GATT
// write is reported to the disconnect handler as well as returned.
func (t *Transport) Write(serviceID, charID string, message []byte, enc peripheral.Encoding, withResponse bool) error {
	data, err := enc.Decode(message)
	if err != nil {
		return err
	}

	conn, char, err := t.resolve(charKey{serviceID, charID})
	if err != nil {
		return err
	}

	if withResponse {
		err = char.WriteWithResponse(data)
		if errors.Is(err, ErrWriteWithResponseUnsupported) {
			t.logger.Debug("[BLE] write with response unsupported, falling back", "char", charID)
			err = char.Write(data)
		}
	} else {
		err = char.Write(data)
	}
	if err != nil {
		err = fmt.Errorf("ble: write %s: %w", charID, err)
		t.fail(conn, err)
		return err
	}
	return nil
}

// resolve returns the current connection and the characteristic for key,
// discovering it on first use. A failed discovery is a GATT error and drops
// the link, unless the characteristic is missing or its ID malformed.
func (t *Transport) resolve(key charKey) (Connection, Characteristic, error) {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil, nil, peripheral.ErrNotConnected
	}
	if char, ok := t.chars[key]; ok {
		t.mu.Unlock()
		return conn, char, nil
	}
	t.mu.Unlock()

	char, err := conn.DiscoverCharacteristic(key.service, key.char)
	if err != nil {
		err = fmt.Errorf("ble: resolve %s/%s: %w", key.service, key.char, err)
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidUUID) {
			t.fail(conn, err)
		}
		return nil, nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != conn {
		return nil, nil, peripheral.ErrNotConnected
	}
	if cached, ok := t.chars[key]; ok {
		return conn, cached, nil
	}
	t.chars[key] = char
	return conn, char, nil
}

// dispatch delivers a notification to the callback currently installed for
// key. The platform may reuse buf, so the callback gets a copy.
func (t *Transport) dispatch(conn Connection, key charKey, buf []byte) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	onChange := t.notify[key]
	t.mu.Unlock()

	if onChange == nil {
		return
	}
	data := make([]byte, len(buf))
	copy(data, buf)
	onChange(data)
}

// fail drops conn and reports cause to the disconnect handler. Signals for a
// connection that is no longer current are ignored.
func (t *Transport) fail(conn Connection, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.detachLocked()
	handler := t.onDisconnect
	t.mu.Unlock()

	t.logger.Warn("[BLE] connection lost", "address", t.address, "error", cause)
	if !errors.Is(cause, ErrLinkLost) {
		if err := conn.Disconnect(); err != nil {
			t.logger.Debug("[BLE] disconnect after failure", "error", err)
		}
	}
	if handler != nil {
		handler(cause)
	}
}

// detachLocked forgets the connection and its caches. t.mu must be held.
func (t *Transport) detachLocked() Connection {
	conn := t.conn
	t.conn = nil
	t.chars = nil
	t.notify = nil
	return conn
}

var _ peripheral.Transport = (*Transport)(nil)
