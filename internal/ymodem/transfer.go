package ymodem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrTransferActive is returned when a port already has a transfer running.
var ErrTransferActive = errors.New("ymodem: transfer already active on port")

// Port is the byte stream a transfer runs over. The serial transport
// satisfies it.
type Port interface {
	// Subscribe registers onData for every chunk read from the port and
	// returns a function that removes it.
	Subscribe(onData func([]byte)) (unsubscribe func())
	// WriteBytes writes p completely.
	WriteBytes(ctx context.Context, p []byte) error
	// Done is closed when the port closes or loses its connection.
	Done() <-chan struct{}
}

// Outcome says how a transfer ended.
type Outcome int

const (
	// OutcomeCompleted means every packet and the session end were acknowledged.
	OutcomeCompleted Outcome = iota
	// OutcomeCancelled means the receiver sent CA.
	OutcomeCancelled
	// OutcomeDisconnected means the port closed mid-transfer.
	OutcomeDisconnected
	// OutcomeRetryLimit means the receiver NAKed one packet more times than allowed.
	OutcomeRetryLimit
	// OutcomeAborted means the caller's context ended the transfer.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeDisconnected:
		return "disconnected"
	case OutcomeRetryLimit:
		return "retry limit"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what a transfer resolves with. WrittenBytes equals TotalBytes
// only when Outcome is OutcomeCompleted.
type Result struct {
	FilePath     string
	TotalBytes   int
	WrittenBytes int
	Outcome      Outcome
}

// Engine runs transfers. One Engine may serve many ports. A port carries at
// most one transfer at a time, whichever Engine started it.
type Engine struct {
	logger     *slog.Logger
	progress   ProgressCallback
	maxRetries int
}

// activePorts holds every port with a transfer running, across all Engines.
var activePorts = struct {
	mu    sync.Mutex
	ports map[Port]struct{}
}{ports: make(map[Port]struct{})}

// NewEngine creates an Engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer sends data to the receiver on port as filename. It returns once
// the session end is sent, the receiver cancels, the port closes or ctx is
// done. Receiver cancellation and port loss are not errors: the result
// carries the bytes acknowledged so far. A done ctx returns ctx.Err().
func (e *Engine) Transfer(ctx context.Context, port Port, filename string, data []byte) (Result, error) {
	res := Result{FilePath: filename, TotalBytes: len(data)}

	header, err := HeaderPayload(filename, len(data))
	if err != nil {
		return res, err
	}
	if !claimPort(port) {
		return res, ErrTransferActive
	}
	defer releasePort(port)

	s := &session{
		engine:   e,
		port:     port,
		filePath: filename,
		total:    len(data),
		payloads: append([][]byte{header}, splitPayloads(data)...),
		state:    stateAwaitingCRC,
	}

	in := newInbox()
	unsubscribe := port.Subscribe(in.push)
	defer unsubscribe()

	e.logger.Info("[YMODEM] waiting for receiver", "file", filename, "bytes", len(data), "packets", len(s.payloads)-1)

	for {
		select {
		case <-ctx.Done():
			s.cancelRemote(ctx)
			return s.finish(OutcomeAborted), ctx.Err()
		case <-port.Done():
			return s.finish(OutcomeDisconnected), nil
		case <-in.ready:
			for _, chunk := range in.drain() {
				for c := range ScanControls(chunk) {
					done, err := s.handle(ctx, c)
					if err != nil {
						if ctx.Err() != nil {
							return s.finish(OutcomeAborted), ctx.Err()
						}
						e.logger.Warn("[YMODEM] write failed", "file", filename, "error", err)
						return s.finish(OutcomeDisconnected), nil
					}
					if done {
						return s.finish(s.outcome), nil
					}
				}
			}
		}
	}
}

func claimPort(port Port) bool {
	activePorts.mu.Lock()
	defer activePorts.mu.Unlock()
	if _, busy := activePorts.ports[port]; busy {
		return false
	}
	activePorts.ports[port] = struct{}{}
	return true
}

func releasePort(port Port) {
	activePorts.mu.Lock()
	defer activePorts.mu.Unlock()
	delete(activePorts.ports, port)
}

type sessionState int

const (
	stateAwaitingCRC sessionState = iota
	stateSendingHeader
	stateSendingData
	stateAwaitingFinalAck
	stateClosed
)

// session is the state of one Transfer call.
type session struct {
	engine   *Engine
	port     Port
	filePath string

	payloads [][]byte // header first, then data
	index    int      // payload currently awaiting acknowledgement
	seq      byte
	current  []byte // bytes to resend on NAK
	retries  int

	total   int
	written int

	state   sessionState
	outcome Outcome
}

// handle advances the state machine by one control byte. It reports done
// once the session is over.
func (s *session) handle(ctx context.Context, c Control) (bool, error) {
	log := s.engine.logger
	switch c {
	case CA:
		log.Warn("[YMODEM] receiver cancelled", "file", s.filePath, "written", s.written, "total", s.total)
		s.outcome = OutcomeCancelled
		return true, nil

	case CRCRequest:
		if s.state != stateAwaitingCRC {
			return false, nil
		}
		s.state = stateSendingHeader
		s.seq = 0
		return false, s.send(ctx, FramePacket(s.seq, s.payloads[0]))

	case NAK:
		if s.state == stateAwaitingCRC {
			return false, nil
		}
		s.retries++
		if limit := s.engine.maxRetries; limit > 0 && s.retries > limit {
			log.Error("[YMODEM] retry limit reached", "file", s.filePath, "packet", s.index, "retries", limit)
			s.cancelRemote(ctx)
			s.outcome = OutcomeRetryLimit
			return true, nil
		}
		log.Debug("[YMODEM] NAK, resending", "packet", s.index, "seq", s.seq, "attempt", s.retries)
		return false, s.send(ctx, s.current)

	case ACK:
		return s.ack(ctx)
	}
	return false, nil
}

func (s *session) ack(ctx context.Context) (bool, error) {
	switch s.state {
	case stateSendingHeader, stateSendingData:
		if s.state == stateSendingData {
			s.written += min(PacketSize, s.total-(s.index-1)*PacketSize)
			s.reportProgress()
		}
		s.retries = 0
		s.index++
		if s.index < len(s.payloads) {
			s.state = stateSendingData
			s.seq++
			return false, s.send(ctx, FramePacket(s.seq, s.payloads[s.index]))
		}
		s.state = stateAwaitingFinalAck
		return false, s.send(ctx, []byte{EOT})

	case stateAwaitingFinalAck:
		s.state = stateClosed
		s.outcome = OutcomeCompleted
		// An all-zero header packet ends the batch session. Every file byte is
		// already acknowledged, so a failed write here does not undo completion.
		if err := s.send(ctx, FramePacket(0, nil)); err != nil {
			s.engine.logger.Warn("[YMODEM] send session end", "file", s.filePath, "error", err)
		}
		return true, nil
	}
	return false, nil
}

func (s *session) send(ctx context.Context, p []byte) error {
	s.current = p
	return s.port.WriteBytes(ctx, p)
}

// cancelRemote tells the receiver to abort. Best effort.
func (s *session) cancelRemote(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.port.WriteBytes(ctx, []byte{CA, CA}); err != nil {
		s.engine.logger.Debug("[YMODEM] send cancel", "error", err)
	}
}

func (s *session) reportProgress() {
	if s.engine.progress == nil {
		return
	}
	s.engine.progress(Progress{
		FilePath:     s.filePath,
		Packet:       s.index,
		TotalPackets: len(s.payloads) - 1,
		WrittenBytes: s.written,
		TotalBytes:   s.total,
	})
}

func (s *session) finish(outcome Outcome) Result {
	s.state = stateClosed
	s.engine.logger.Info("[YMODEM] transfer finished",
		"file", s.filePath, "outcome", outcome.String(), "written", s.written, "total", s.total)
	return Result{
		FilePath:     s.filePath,
		TotalBytes:   s.total,
		WrittenBytes: s.written,
		Outcome:      outcome,
	}
}

// inbox queues chunks from the port's read loop without ever blocking it.
type inbox struct {
	mu     sync.Mutex
	chunks [][]byte
	ready  chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (b *inbox) push(p []byte) {
	cp := make([]byte, len(p))
	copy(cp, p)
	b.mu.Lock()
	b.chunks = append(b.chunks, cp)
	b.mu.Unlock()
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.chunks
	b.chunks = nil
	return out
}
