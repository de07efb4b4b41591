// Package ymodem implements the sending side of a Ymodem-style file transfer:
// 1024-byte STX packets protected by CRC16/XMODEM, driven by single-byte
// control signals from the receiver.
package ymodem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"strconv"
)

// Protocol bytes.
const (
	STX        = 0x02 // start of a 1024-byte packet
	EOT        = 0x04 // end of file, sent by the engine
	ACK        = 0x06
	NAK        = 0x15
	CA         = 0x18 // cancel
	CRCRequest = 0x43 // 'C', receiver ready in CRC16 mode
)

// PacketSize is the payload size of every packet.
const PacketSize = 1024

// FrameSize is the on-wire size of a framed packet:
// STX(1) + SEQ(1) + ~SEQ(1) + PAYLOAD(1024) + CRC(2).
const FrameSize = 3 + PacketSize + 2

// ErrFilenameTooLong is returned when the name and size do not fit the header.
var ErrFilenameTooLong = errors.New("ymodem: filename too long for header packet")

// Control is a control byte recognized in the receiver's stream.
type Control byte

func (c Control) String() string {
	switch c {
	case CRCRequest:
		return "C"
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case CA:
		return "CA"
	default:
		return fmt.Sprintf("0x%02X", byte(c))
	}
}

// ScanControls yields the control bytes in chunk in order, skipping anything
// else. Control bytes are single bytes, so scanning restarts cleanly at every
// chunk boundary.
func ScanControls(chunk []byte) iter.Seq[Control] {
	return func(yield func(Control) bool) {
		for _, b := range chunk {
			switch b {
			case CRCRequest, ACK, NAK, CA:
				if !yield(Control(b)) {
					return
				}
			}
		}
	}
}

// CRC16 computes CRC16/XMODEM (poly 0x1021, init 0) one bit at a time.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// FramePacket wraps payload as [STX, seq, 0xFF-seq, payload, crc16].
// Payloads shorter than PacketSize are zero-padded.
func FramePacket(seq byte, payload []byte) []byte {
	frame := make([]byte, FrameSize)
	frame[0] = STX
	frame[1] = seq
	frame[2] = 0xFF - seq
	body := frame[3 : 3+PacketSize]
	copy(body, payload)
	binary.BigEndian.PutUint16(frame[3+PacketSize:], CRC16(body))
	return frame
}

// HeaderPayload builds the packet-0 payload: the ASCII filename, a NUL, the
// decimal size and a space, zero-padded to PacketSize.
func HeaderPayload(filename string, size int) ([]byte, error) {
	sizeField := strconv.Itoa(size)
	if len(filename)+1+len(sizeField)+1 > PacketSize {
		return nil, ErrFilenameTooLong
	}
	payload := make([]byte, PacketSize)
	n := copy(payload, filename)
	n++ // NUL separator
	n += copy(payload[n:], sizeField)
	payload[n] = ' '
	return payload, nil
}

// splitPayloads cuts data into PacketSize chunks, zero-padding the last one.
func splitPayloads(data []byte) [][]byte {
	var out [][]byte
	for off := 0; off < len(data); off += PacketSize {
		chunk := make([]byte, PacketSize)
		copy(chunk, data[off:min(off+PacketSize, len(data))])
		out = append(out, chunk)
	}
	return out
}
