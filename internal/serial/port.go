// Package serial provides the serial transport: a byte-stream port with one
// continuous read loop fanning data out to subscribers and serialized,
// chunked writes.
package serial

import (
	"fmt"
	"io"
	"strings"

	bugst "go.bug.st/serial"
)

// Port is an open serial port. go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriteCloser
}

// drainer is implemented by ports that can wait for written bytes to leave
// the output buffer.
type drainer interface {
	Drain() error
}

// Parity of each transmitted character.
type Parity string

const (
	ParityNone  Parity = "none"
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

// Options configures the port and the transport on top of it.
type Options struct {
	BaudRate       int
	DataBits       int
	Parity         Parity
	StopBits       float64 // 1, 1.5 or 2
	ChunkSize      int     // max bytes per underlying write
	ReadBufferSize int
}

// Defaults used for zero Options fields.
const (
	DefaultBaudRate       = 115200
	DefaultDataBits       = 8
	DefaultStopBits       = 1
	DefaultChunkSize      = 255
	DefaultReadBufferSize = 4096
)

// DefaultOptions returns 115200 8N1 with 255-byte write chunks.
func DefaultOptions() Options {
	return Options{
		BaudRate:       DefaultBaudRate,
		DataBits:       DefaultDataBits,
		Parity:         ParityNone,
		StopBits:       DefaultStopBits,
		ChunkSize:      DefaultChunkSize,
		ReadBufferSize: DefaultReadBufferSize,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BaudRate <= 0 {
		o.BaudRate = d.BaudRate
	}
	if o.DataBits <= 0 {
		o.DataBits = d.DataBits
	}
	if o.Parity == "" {
		o.Parity = d.Parity
	}
	if o.StopBits <= 0 {
		o.StopBits = d.StopBits
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
	return o
}

// mode converts Options to a go.bug.st/serial mode.
func (o Options) mode() (*bugst.Mode, error) {
	m := &bugst.Mode{
		BaudRate: o.BaudRate,
		DataBits: o.DataBits,
	}

	switch Parity(strings.ToLower(string(o.Parity))) {
	case ParityNone, "":
		m.Parity = bugst.NoParity
	case ParityOdd:
		m.Parity = bugst.OddParity
	case ParityEven:
		m.Parity = bugst.EvenParity
	case ParityMark:
		m.Parity = bugst.MarkParity
	case ParitySpace:
		m.Parity = bugst.SpaceParity
	default:
		return nil, fmt.Errorf("serial: unknown parity %q", o.Parity)
	}

	switch o.StopBits {
	case 0, 1:
		m.StopBits = bugst.OneStopBit
	case 1.5:
		m.StopBits = bugst.OnePointFiveStopBits
	case 2:
		m.StopBits = bugst.TwoStopBits
	default:
		return nil, fmt.Errorf("serial: unsupported stop bits %v", o.StopBits)
	}
	return m, nil
}

// Opener opens the port at path.
type Opener func(path string, opts Options) (Port, error)

// OpenPort opens a hardware serial port with go.bug.st/serial.
func OpenPort(path string, opts Options) (Port, error) {
	mode, err := opts.withDefaults().mode()
	if err != nil {
		return nil, err
	}
	p, err := bugst.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}
	return p, nil
}

// Compile-time check that OpenPort matches Opener.
var _ Opener = OpenPort
