package peripheral

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHostConnect(t *testing.T) {
	rt := &recordingRuntime{}
	host := NewHost(rt, nil)
	tr := &mockTransport{}

	s, err := host.Connect(context.Background(), "ext", fixedChooser(tr), Handlers{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !s.IsConnected() {
		t.Error("session should be connected")
	}
	if s.ExtensionID() != "ext" {
		t.Errorf("ExtensionID() = %q, want %q", s.ExtensionID(), "ext")
	}
}

func TestHostConnectRequestError(t *testing.T) {
	host := NewHost(&recordingRuntime{}, nil)

	_, err := host.Connect(context.Background(), "ext", failingChooser(), Handlers{})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Connect() error = %v, want *RequestError", err)
	}
}

func TestHostSerializesSequences(t *testing.T) {
	host := NewHost(&recordingRuntime{}, nil)

	var mu sync.Mutex
	active, maxActive := 0, 0
	chooser := ChooserFunc(func(context.Context) (*Device, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return &Device{ID: "dev", Transport: &mockTransport{}}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := host.Connect(context.Background(), "ext", chooser, Handlers{}); err != nil {
				t.Errorf("Connect() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent sequences = %d, want 1", maxActive)
	}
}

func TestAdmissionQueueRespectsContext(t *testing.T) {
	q := NewAdmissionQueue()
	if !q.TryAcquire() {
		t.Fatal("TryAcquire() on empty queue = false")
	}
	defer q.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want DeadlineExceeded", err)
	}
}
