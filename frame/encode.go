package frame

import (
	"fmt"
)

// Frame is a decoded, checksum-verified unit received from the wire.
type Frame struct {
	// Payload holds the command or status byte followed by its data. It is nil
	// for control frames.
	Payload []byte
	// Control is the link-control byte of a DLE control sequence, or 0.
	Control byte
	// Raw holds the frame bytes as they appeared on the wire.
	Raw []byte
}

// IsControl reports whether the frame is a link-control sequence.
func (f Frame) IsControl() bool { return f.Control != 0 }

// Encode builds the on-wire frame for payload according to f.
//
// Length-delimited formats produce:
//
//	[Sync..][Address?][Length][Payload..][Checksum]
//
// Byte-stuffed formats produce:
//
//	DLE STX [Payload with DLE doubled] DLE ETX [Checksum]
func Encode(f *Format, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	if len(payload) > f.MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(payload), f.MaxPayload)
	}

	cs, err := f.checksumAlg()
	if err != nil {
		return nil, err
	}

	if f.IsStuffed() {
		return encodeStuffed(f, cs, payload), nil
	}

	size := f.frameSize(len(payload), cs.Size())
	buf := make([]byte, size)

	pos := copy(buf, f.Sync)
	if f.HasAddress {
		buf[pos] = f.Address
		pos++
	}

	length := len(payload)
	if f.LengthMode == LengthTotal {
		length = size
	}

	f.LengthOrder.put(buf[pos:], uint16(length), f.LengthWidth) //nolint:gosec // bounded by Validate
	pos += f.LengthWidth
	pos += copy(buf[pos:], payload)

	start := 0
	if f.ChecksumSkipSync {
		start = len(f.Sync)
	}

	f.ChecksumOrder.put(buf[pos:], cs.Sum(buf[start:pos]), cs.Size())

	return buf, nil
}

func encodeStuffed(f *Format, cs Checksum, payload []byte) []byte {
	s := f.Stuffing
	buf := make([]byte, 0, len(payload)*2+4+cs.Size())
	buf = append(buf, s.DLE, s.STX)

	for _, b := range payload {
		if b == s.DLE {
			buf = append(buf, s.DLE)
		}
		buf = append(buf, b)
	}

	buf = append(buf, s.DLE, s.ETX)

	covered := make([]byte, 0, len(payload)+1)
	covered = append(covered, payload...)
	covered = append(covered, s.ETX)

	sum := make([]byte, cs.Size())
	f.ChecksumOrder.put(sum, cs.Sum(covered), cs.Size())

	return append(buf, sum...)
}

// EncodeControl builds a link-control sequence (DLE followed by ctl) for a
// byte-stuffed format.
func EncodeControl(f *Format, ctl byte) ([]byte, error) {
	if !f.IsStuffed() {
		return nil, ErrControlNotAllowed
	}

	s := f.Stuffing
	if ctl == 0 || ctl == s.DLE || ctl == s.STX || ctl == s.ETX {
		return nil, fmt.Errorf("%w: 0x%02X cannot be a control byte", ErrInvalidFormat, ctl)
	}

	return []byte{s.DLE, ctl}, nil
}

// Decode decodes a single complete frame held in wire.
//
// It is a convenience wrapper around [Decoder] for callers that already hold
// one whole frame; trailing bytes after the first frame are ignored.
func Decode(f *Format, wire []byte) (Frame, error) {
	d := NewDecoder(f)
	d.Feed(wire)

	return d.Next()
}
