package ymodem

import "log/slog"

// Progress describes the state of a transfer after a data packet is acknowledged.
type Progress struct {
	FilePath     string
	Packet       int // data packets acknowledged so far
	TotalPackets int
	WrittenBytes int
	TotalBytes   int
}

// Percentage returns the acknowledged share of the file, 0-100.
func (p Progress) Percentage() float64 {
	if p.TotalBytes == 0 {
		return 100
	}
	return float64(p.WrittenBytes) / float64(p.TotalBytes) * 100
}

// ProgressCallback receives transfer progress.
type ProgressCallback func(Progress)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLogger sets the logger for transfer events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithProgressCallback sets a callback run after every acknowledged data packet.
//
// Example:
//
//	eng := ymodem.NewEngine(ymodem.WithProgressCallback(func(p ymodem.Progress) {
//	    fmt.Printf("%.1f%% sent\n", p.Percentage())
//	}))
func WithProgressCallback(callback ProgressCallback) Option {
	return func(e *Engine) {
		e.progress = callback
	}
}

// WithMaxRetries bounds the consecutive NAKs accepted for one packet.
// Zero, the default, keeps resending for as long as the receiver asks.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}
