package frame

import (
	"fmt"
)

// LengthMode selects what the length field of a frame counts.
type LengthMode uint8

const (
	// LengthNone means the frame carries no length field; it is delimited by
	// DLE ETX instead. Only valid for byte-stuffed formats.
	LengthNone LengthMode = iota
	// LengthTotal means the length field counts every byte of the frame,
	// including sync bytes and checksum.
	LengthTotal
	// LengthPayload means the length field counts the payload bytes only.
	LengthPayload
)

// String returns the configuration name of the mode.
func (m LengthMode) String() string {
	switch m {
	case LengthNone:
		return "none"
	case LengthTotal:
		return "total"
	case LengthPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// Endian selects the byte order of multi-byte header fields.
type Endian uint8

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) put(dst []byte, v uint16, width int) {
	if width == 1 {
		dst[0] = byte(v)
		return
	}

	if e == BigEndian {
		dst[0], dst[1] = byte(v>>8), byte(v)
	} else {
		dst[0], dst[1] = byte(v), byte(v>>8)
	}
}

func (e Endian) get(src []byte, width int) uint16 {
	if width == 1 {
		return uint16(src[0])
	}

	if e == BigEndian {
		return uint16(src[0])<<8 | uint16(src[1])
	}

	return uint16(src[1])<<8 | uint16(src[0])
}

// Stuffing describes the control bytes of a byte-stuffed format.
type Stuffing struct {
	DLE byte // data link escape; doubled inside payloads
	STX byte // start of text, follows DLE to open a frame
	ETX byte // end of text, follows DLE to close a frame
}

// Format is the immutable wire description of one peripheral family.
type Format struct {
	// Sync is the start-of-frame marker. Ignored by byte-stuffed formats, which
	// always open with DLE STX.
	Sync []byte

	// HasAddress indicates that an address byte follows the sync bytes.
	HasAddress bool
	// Address is the expected address byte. Frames carrying a different address
	// are discarded by the decoder.
	Address byte

	LengthMode  LengthMode
	LengthWidth int // 1 or 2; 0 with LengthNone
	LengthOrder Endian

	// Checksum is the registry name of the integrity algorithm.
	Checksum      string
	ChecksumOrder Endian
	// ChecksumSkipSync excludes the sync bytes from the checksummed range.
	ChecksumSkipSync bool

	// Stuffing is non-nil for byte-stuffed formats.
	Stuffing *Stuffing

	// MaxPayload bounds the payload size accepted by the encoder and decoder.
	MaxPayload int
}

// IsStuffed reports whether f uses DLE byte stuffing.
func (f *Format) IsStuffed() bool { return f.Stuffing != nil }

// headerSize returns the number of bytes preceding the payload in a
// length-delimited frame.
func (f *Format) headerSize() int {
	n := len(f.Sync) + f.LengthWidth
	if f.HasAddress {
		n++
	}

	return n
}

// checksumAlg resolves the configured checksum algorithm.
func (f *Format) checksumAlg() (Checksum, error) {
	return LookupChecksum(f.Checksum)
}

// frameSize returns the total wire size of a length-delimited frame with the
// given payload length.
func (f *Format) frameSize(payloadLen, checksumSize int) int {
	return f.headerSize() + payloadLen + checksumSize
}

// maxLengthValue is the largest value the length field can carry.
func (f *Format) maxLengthValue() int {
	if f.LengthWidth == 1 {
		return 0xFF
	}

	return 0xFFFF
}

// Validate checks that the format is internally consistent.
func (f *Format) Validate() error {
	cs, err := f.checksumAlg()
	if err != nil {
		return err
	}

	if f.MaxPayload < 1 {
		return fmt.Errorf("%w: max payload must be >= 1", ErrInvalidFormat)
	}

	if f.IsStuffed() {
		s := f.Stuffing
		if s.DLE == s.STX || s.DLE == s.ETX || s.STX == s.ETX {
			return fmt.Errorf("%w: stuffing control bytes must be distinct", ErrInvalidFormat)
		}

		if f.LengthMode != LengthNone {
			return fmt.Errorf("%w: byte-stuffed formats are delimited, not length-prefixed", ErrInvalidFormat)
		}

		return nil
	}

	if len(f.Sync) == 0 {
		return fmt.Errorf("%w: sync bytes required", ErrInvalidFormat)
	}

	if f.LengthMode == LengthNone {
		return fmt.Errorf("%w: length-delimited format requires a length mode", ErrInvalidFormat)
	}

	if f.LengthWidth != 1 && f.LengthWidth != 2 {
		return fmt.Errorf("%w: length width %d not in [1, 2]", ErrInvalidFormat, f.LengthWidth)
	}

	longest := f.MaxPayload
	if f.LengthMode == LengthTotal {
		longest = f.frameSize(f.MaxPayload, cs.Size())
	}

	if longest > f.maxLengthValue() {
		return fmt.Errorf("%w: max payload %d does not fit a %d-byte length field",
			ErrInvalidFormat, f.MaxPayload, f.LengthWidth)
	}

	return nil
}
