package frame

import (
	"errors"
	"fmt"
)

// Sentinel errors for frame encoding and decoding.
var (
	ErrNeedMoreData      = errors.New("frame: need more data")
	ErrFraming           = errors.New("frame: framing error")
	ErrChecksumMismatch  = errors.New("frame: checksum mismatch")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrEmptyPayload      = errors.New("frame: empty payload")
	ErrUnknownChecksum   = errors.New("frame: unknown checksum algorithm")
	ErrInvalidFormat     = errors.New("frame: invalid format")
	ErrControlNotAllowed = errors.New("frame: format has no link-control sequences")
)

// FramingError reports that the decoder discarded bytes to resynchronize.
type FramingError struct {
	Reason    string
	Discarded int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("frame: framing error: %s (discarded %d bytes)", e.Reason, e.Discarded)
}

func (e *FramingError) Unwrap() error { return ErrFraming }

// ChecksumError reports a complete candidate frame whose integrity field did not match.
type ChecksumError struct {
	Wire     uint16
	Computed uint16
	Raw      []byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("frame: checksum mismatch: wire=0x%04X, computed=0x%04X", e.Wire, e.Computed)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }
