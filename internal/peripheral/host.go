package peripheral

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// Admission serializes extension-initiated request/connect sequences.
type Admission interface {
	Acquire(ctx context.Context) error
	Release()
}

// AdmissionQueue admits one sequence at a time, in arrival order.
type AdmissionQueue struct {
	sem *semaphore.Weighted
}

// NewAdmissionQueue creates an empty queue.
func NewAdmissionQueue() *AdmissionQueue {
	return &AdmissionQueue{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the caller is admitted or ctx is done.
func (q *AdmissionQueue) Acquire(ctx context.Context) error {
	return q.sem.Acquire(ctx, 1)
}

// TryAcquire admits the caller only if nobody holds the queue.
func (q *AdmissionQueue) TryAcquire() bool {
	return q.sem.TryAcquire(1)
}

// Release lets the next waiter in.
func (q *AdmissionQueue) Release() {
	q.sem.Release(1)
}

// Host builds sessions for extensions and runs their request → connect
// sequence under a shared admission queue.
type Host struct {
	Runtime   Runtime
	Admission Admission
	Logger    *slog.Logger
}

// NewHost returns a Host with its own admission queue.
func NewHost(runtime Runtime, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		Runtime:   runtime,
		Admission: NewAdmissionQueue(),
		Logger:    logger,
	}
}

// Connect creates a session for extensionID, requests a device from chooser
// and connects to it. Only one Connect proceeds at a time per Host.
func (h *Host) Connect(ctx context.Context, extensionID string, chooser Chooser, handlers Handlers) (*Session, error) {
	if h.Admission != nil {
		if err := h.Admission.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("peripheral: wait for admission: %w", err)
		}
		defer h.Admission.Release()
	}

	s := NewSession(extensionID, chooser, h.Runtime, handlers, WithLogger(h.Logger))
	if err := s.RequestPeripheral(ctx); err != nil {
		return nil, err
	}
	if err := s.ConnectPeripheral(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
