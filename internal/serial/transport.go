package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/chaz8081/periphlink/internal/peripheral"
)

// ErrClosed is returned by writes on a transport that is not open.
var ErrClosed = errors.New("serial: port not open")

// closedDone is returned by Done while no port is open.
var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type subscriber struct {
	id     uint64
	onData func([]byte)
}

// Transport is a serial connection. One read loop runs while the port is
// open and delivers every chunk it reads, in order, to all subscribers.
// Writes are serialized and split into chunks of Options.ChunkSize.
type Transport struct {
	path   string
	opts   Options
	opener Opener
	logger *slog.Logger

	// writer admits one write sequence at a time, in arrival order.
	writer *semaphore.Weighted

	mu           sync.Mutex
	port         Port
	done         chan struct{}
	onDisconnect func(error)
	subs         []subscriber
	nextSub      uint64
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithOpener replaces the function used to open the port.
func WithOpener(o Opener) TransportOption {
	return func(t *Transport) { t.opener = o }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) { t.logger = l }
}

// NewTransport creates a transport for the port at path. Nothing is opened
// until Open.
func NewTransport(path string, opts Options, options ...TransportOption) *Transport {
	t := &Transport{
		path:   path,
		opts:   opts.withDefaults(),
		opener: OpenPort,
		logger: slog.Default(),
		writer: semaphore.NewWeighted(1),
	}
	for _, o := range options {
		o(t)
	}
	return t
}

// Path returns the port path.
func (t *Transport) Path() string { return t.path }

// Open opens the port and starts the read loop. Opening an open transport is
// a no-op.
func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}

	port, err := t.opener(t.path, t.opts)
	if err != nil {
		return err
	}
	t.port = port
	t.done = make(chan struct{})

	t.logger.Info("[SERIAL] port opened", "path", t.path, "baud", t.opts.BaudRate)
	go t.readLoop(port)
	return nil
}

// Close closes the port, which ends the read loop. Safe to call more than
// once. The disconnect handler is not called.
func (t *Transport) Close() error {
	t.mu.Lock()
	port := t.detachLocked()
	t.mu.Unlock()

	if port == nil {
		return nil
	}
	t.logger.Info("[SERIAL] port closed", "path", t.path)
	if err := port.Close(); err != nil {
		return fmt.Errorf("serial: close %s: %w", t.path, err)
	}
	return nil
}

// IsConnected reports whether the port is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// SetDisconnectHandler installs the callback invoked when a read or write
// fails on an open port.
func (t *Transport) SetDisconnectHandler(handler func(cause error)) {
	t.mu.Lock()
	t.onDisconnect = handler
	t.mu.Unlock()
}

// Done is closed when the port closes or fails. It is already closed while
// the transport is not open.
func (t *Transport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return closedDone
	}
	return t.done
}

// Subscribe registers onData for every chunk read from the port. The slice
// passed to onData is owned by the callee. The returned function removes the
// subscription.
func (t *Transport) Subscribe(onData func([]byte)) (unsubscribe func()) {
	t.mu.Lock()
	t.nextSub++
	id := t.nextSub
	t.subs = append(t.subs, subscriber{id: id, onData: onData})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Write decodes message with enc and writes the result. A malformed message
// is rejected before anything reaches the port.
func (t *Transport) Write(ctx context.Context, message []byte, enc peripheral.Encoding) error {
	data, err := enc.Decode(message)
	if err != nil {
		return err
	}
	return t.WriteBytes(ctx, data)
}

// WriteBytes writes p in chunks of at most Options.ChunkSize bytes, waiting
// for each chunk to drain before the next. Concurrent callers queue; their
// bytes never interleave.
func (t *Transport) WriteBytes(ctx context.Context, p []byte) error {
	if err := t.writer.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.writer.Release(1)

	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return ErrClosed
	}

	for _, chunk := range chunkBytes(p, t.opts.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeChunk(port, chunk); err != nil {
			err = fmt.Errorf("serial: write %s: %w", t.path, err)
			t.fail(port, err)
			return err
		}
	}
	return nil
}

func writeChunk(port Port, chunk []byte) error {
	for len(chunk) > 0 {
		n, err := port.Write(chunk)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		chunk = chunk[n:]
	}
	if d, ok := port.(drainer); ok {
		return d.Drain()
	}
	return nil
}

func (t *Transport) readLoop(port Port) {
	buf := make([]byte, t.opts.ReadBufferSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.deliver(port, chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			t.fail(port, fmt.Errorf("serial: read %s: %w", t.path, err))
			return
		}
	}
}

// deliver hands chunk to every subscriber, unless port has been closed.
func (t *Transport) deliver(port Port, chunk []byte) {
	t.mu.Lock()
	if t.port != port {
		t.mu.Unlock()
		return
	}
	subs := make([]subscriber, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for i, s := range subs {
		data := chunk
		if i > 0 {
			data = append([]byte(nil), chunk...)
		}
		s.onData(data)
	}
}

// fail tears down port after an I/O error and reports the disconnect. Errors
// on a port that was already closed are dropped.
func (t *Transport) fail(port Port, cause error) {
	t.mu.Lock()
	if t.port != port {
		t.mu.Unlock()
		return
	}
	t.detachLocked()
	handler := t.onDisconnect
	t.mu.Unlock()

	t.logger.Warn("[SERIAL] connection lost", "path", t.path, "error", cause)
	if err := port.Close(); err != nil {
		t.logger.Debug("[SERIAL] close after failure", "error", err)
	}
	if handler != nil {
		handler(cause)
	}
}

// detachLocked forgets the current port and signals Done. It returns the
// port, or nil if none was open. t.mu must be held.
func (t *Transport) detachLocked() Port {
	port := t.port
	if port == nil {
		return nil
	}
	t.port = nil
	close(t.done)
	return port
}

var _ peripheral.Transport = (*Transport)(nil)
