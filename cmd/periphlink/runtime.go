package main

import (
	"log/slog"
	"sync"

	"github.com/chaz8081/periphlink/internal/peripheral"
)

// cliRuntime logs session events and closes lost when a connection drops
// unexpectedly, so long-running commands can stop or reconnect.
type cliRuntime struct {
	peripheral.LogRuntime

	mu   sync.Mutex
	lost chan struct{}
}

func newCLIRuntime(logger *slog.Logger) *cliRuntime {
	return &cliRuntime{
		LogRuntime: peripheral.LogRuntime{Logger: logger},
		lost:       make(chan struct{}),
	}
}

func (r *cliRuntime) Emit(ev peripheral.Event) {
	r.LogRuntime.Emit(ev)
	if ev.Type != peripheral.EventPeripheralConnectionLostError {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.lost:
	default:
		close(r.lost)
	}
}

// Lost is closed after the current connection is lost.
func (r *cliRuntime) Lost() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

// rearm prepares Lost for the next connection.
func (r *cliRuntime) rearm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = make(chan struct{})
}

// handlers returns session callbacks that log resets.
func handlers(logger *slog.Logger) peripheral.Handlers {
	return peripheral.Handlers{
		OnReset: func() { logger.Debug("[SESSION] reset after connection loss") },
	}
}
