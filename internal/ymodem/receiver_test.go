package ymodem

import (
	"bytes"
	"context"
	"sync"
)

// simulatedReceiver plays the remote side of a transfer. Every write from the
// engine is recorded and answered synchronously with whatever reply returns.
type simulatedReceiver struct {
	mu       sync.Mutex
	sub      func([]byte)
	writes   [][]byte
	greeting []byte
	reply    func(r *simulatedReceiver, w []byte) []byte

	done     chan struct{}
	doneOnce sync.Once
}

func newReceiver(reply func(r *simulatedReceiver, w []byte) []byte) *simulatedReceiver {
	return &simulatedReceiver{
		greeting: []byte{CRCRequest},
		reply:    reply,
		done:     make(chan struct{}),
	}
}

func (r *simulatedReceiver) Subscribe(onData func([]byte)) func() {
	r.mu.Lock()
	r.sub = onData
	greeting := r.greeting
	r.mu.Unlock()
	if len(greeting) > 0 {
		onData(greeting)
	}
	return func() {
		r.mu.Lock()
		r.sub = nil
		r.mu.Unlock()
	}
}

func (r *simulatedReceiver) subscribed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub != nil
}

func (r *simulatedReceiver) WriteBytes(_ context.Context, p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)

	r.mu.Lock()
	r.writes = append(r.writes, cp)
	sub := r.sub
	r.mu.Unlock()

	if r.reply == nil {
		return nil
	}
	if answer := r.reply(r, cp); len(answer) > 0 && sub != nil {
		sub(answer)
	}
	return nil
}

func (r *simulatedReceiver) Done() <-chan struct{} { return r.done }

// SimulateDisconnect closes the port.
func (r *simulatedReceiver) SimulateDisconnect() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *simulatedReceiver) recorded() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.writes))
	copy(out, r.writes)
	return out
}

// frames returns only the framed packets among the recorded writes.
func (r *simulatedReceiver) frames() [][]byte {
	var out [][]byte
	for _, w := range r.recorded() {
		if isFrame(w) {
			out = append(out, w)
		}
	}
	return out
}

func isFrame(w []byte) bool {
	return len(w) == FrameSize && w[0] == STX
}

func isEndOfSession(w []byte) bool {
	return isFrame(w) && w[1] == 0 && bytes.Equal(w[3:3+PacketSize], make([]byte, PacketSize))
}

// ackEverything answers ACK to every packet and EOT, plus the 'C' a real
// receiver sends after accepting the header.
func ackEverything(_ *simulatedReceiver, w []byte) []byte {
	switch {
	case isEndOfSession(w):
		return nil
	case isFrame(w) && w[1] == 0:
		return []byte{ACK, CRCRequest}
	default:
		return []byte{ACK}
	}
}
