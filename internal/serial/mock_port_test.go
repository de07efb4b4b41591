package serial

import (
	"errors"
	"io"
	"sync"
	"time"
)

// mockPort is an in-memory Port. Reads block until data or an error is
// simulated, or the port is closed.
type mockPort struct {
	mu        sync.Mutex
	writes    [][]byte
	drained   int
	undrained int // writes that started before the previous chunk drained
	writeErr  error
	writeGap  time.Duration
	closes    int

	reads     chan []byte
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockPort() *mockPort {
	return &mockPort{
		reads:   make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (p *mockPort) Read(b []byte) (int, error) {
	select {
	case data := <-p.reads:
		return copy(b, data), nil
	case err := <-p.readErr:
		return 0, err
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *mockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.writes) > p.drained {
		p.undrained++
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	gap := p.writeGap
	p.mu.Unlock()

	if gap > 0 {
		time.Sleep(gap)
	}
	return len(b), nil
}

func (p *mockPort) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drained = len(p.writes)
	return nil
}

func (p *mockPort) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// SimulateData makes the next Read return data.
func (p *mockPort) SimulateData(data []byte) { p.reads <- data }

// SimulateReadError makes the next Read fail with err.
func (p *mockPort) SimulateReadError(err error) { p.readErr <- err }

func (p *mockPort) failWrites(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

func (p *mockPort) recorded() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *mockPort) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

var errUnplugged = errors.New("device unplugged")

// openerFor returns an Opener that always hands out port.
func openerFor(port Port) Opener {
	return func(string, Options) (Port, error) { return port, nil }
}

// waitClosed fails unless ch closes within a second.
func waitClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(time.Second):
		return false
	}
}
