package peripheral

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevice is returned when no device matched or none was chosen.
	ErrNoDevice = errors.New("peripheral: no device chosen")
	// ErrNotConnected is returned by operations that need an open transport.
	ErrNotConnected = errors.New("peripheral: not connected")
	// ErrAlreadyConnected is returned when requesting a device while connected.
	ErrAlreadyConnected = errors.New("peripheral: already connected")
)

// RequestError indicates that device selection or the initial connect failed.
// It does not imply that a connection ever existed.
type RequestError struct {
	ExtensionID string
	Err         error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("peripheral request failed for %s: %v", e.ExtensionID, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ConnectionLostError indicates that a connected session lost its transport.
type ConnectionLostError struct {
	ExtensionID string
	Err         error
}

func (e *ConnectionLostError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("peripheral connection lost for %s", e.ExtensionID)
	}
	return fmt.Sprintf("peripheral connection lost for %s: %v", e.ExtensionID, e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// EncodingError indicates malformed encoded data supplied to a write call.
type EncodingError struct {
	Encoding Encoding
	Reason   string
	Err      error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("invalid %s data: %s", e.Encoding, e.Reason)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// IsEncodingError reports whether err is or wraps an EncodingError.
func IsEncodingError(err error) bool {
	var encErr *EncodingError
	return errors.As(err, &encErr)
}
