package peripheral

import (
	"context"
	"errors"
	"sync"
)

// mockTransport records lifecycle calls and lets tests drop the connection.
type mockTransport struct {
	mu        sync.Mutex
	openErr   error
	opened    int
	closed    int
	connected bool
	handler   func(error)
}

func (t *mockTransport) Open(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return t.openErr
	}
	t.opened++
	t.connected = true
	return nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	t.connected = false
	return nil
}

func (t *mockTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *mockTransport) SetDisconnectHandler(h func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// SimulateDisconnect fires the installed disconnect handler.
func (t *mockTransport) SimulateDisconnect(cause error) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(cause)
	}
}

func (t *mockTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// recordingRuntime captures every event in order.
type recordingRuntime struct {
	mu        sync.Mutex
	available []string
	events    []Event
	// order records runtime calls and reset callbacks interleaved.
	order []string
}

func (r *recordingRuntime) PeripheralAvailable(_, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = append(r.available, deviceID)
	r.order = append(r.order, "available")
}

func (r *recordingRuntime) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.order = append(r.order, ev.Type.String())
}

func (r *recordingRuntime) note(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
}

func (r *recordingRuntime) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recordingRuntime) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

func fixedChooser(t Transport) Chooser {
	return ChooserFunc(func(context.Context) (*Device, error) {
		return &Device{ID: "dev-1", Name: "Test Device", Transport: t}, nil
	})
}

var errChooserCancelled = errors.New("user cancelled chooser")

func failingChooser() Chooser {
	return ChooserFunc(func(context.Context) (*Device, error) {
		return nil, errChooserCancelled
	})
}
