package peripheral

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Encoding selects how a write message is turned into bytes.
type Encoding int

const (
	// EncodingBinary sends the message bytes unchanged.
	EncodingBinary Encoding = iota
	// EncodingText sends the UTF-8 bytes of the message.
	EncodingText
	// EncodingHex decodes a string of hex digit pairs.
	EncodingHex
	// EncodingBase64 decodes standard base64.
	EncodingBase64
)

func (e Encoding) String() string {
	switch e {
	case EncodingBinary:
		return "binary"
	case EncodingText:
		return "text"
	case EncodingHex:
		return "hex"
	case EncodingBase64:
		return "base64"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// ParseEncoding maps a name to an Encoding. The empty string is binary.
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(name) {
	case "", "binary", "raw":
		return EncodingBinary, nil
	case "text", "utf8", "utf-8":
		return EncodingText, nil
	case "hex":
		return EncodingHex, nil
	case "base64":
		return EncodingBase64, nil
	default:
		return 0, fmt.Errorf("peripheral: unknown encoding %q", name)
	}
}

// Decode converts message to the bytes that go on the wire.
// Malformed hex or base64 yields an *EncodingError.
func (e Encoding) Decode(message []byte) ([]byte, error) {
	switch e {
	case EncodingBinary, EncodingText:
		out := make([]byte, len(message))
		copy(out, message)
		return out, nil
	case EncodingHex:
		if len(message)%2 != 0 {
			return nil, &EncodingError{Encoding: e, Reason: fmt.Sprintf("odd length %d", len(message))}
		}
		out := make([]byte, hex.DecodedLen(len(message)))
		if _, err := hex.Decode(out, message); err != nil {
			return nil, &EncodingError{Encoding: e, Reason: "non-hex digit", Err: err}
		}
		return out, nil
	case EncodingBase64:
		out := make([]byte, base64.StdEncoding.DecodedLen(len(message)))
		n, err := base64.StdEncoding.Decode(out, message)
		if err != nil {
			return nil, &EncodingError{Encoding: e, Reason: "malformed base64", Err: err}
		}
		return out[:n], nil
	default:
		return nil, &EncodingError{Encoding: e, Reason: "unsupported encoding"}
	}
}
