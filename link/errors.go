package link

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout             = errors.New("link: stage timeout")
	ErrTransmissionFailure = errors.New("link: transmission failure, retries exhausted")
	ErrNak                 = errors.New("link: negative acknowledgment")
	ErrBusy                = errors.New("link: busy, a request is already in flight")
	ErrLinkClosed          = errors.New("link: closed")
	ErrNilPort             = errors.New("link: port is nil")
	ErrInvalidHandshake    = errors.New("link: invalid handshake config")
	ErrInvalidSerialConfig = errors.New("link: invalid serial config")
)

// TransmissionError concludes a session whose stage retry budget ran out.
//
// It matches ErrTransmissionFailure with errors.Is and unwraps to the cause of
// the last failed attempt (ErrTimeout, ErrNak or frame.ErrChecksumMismatch).
type TransmissionError struct {
	Stage    Stage
	Attempts int
	Err      error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("link: transmission failed in %s stage after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }

func (e *TransmissionError) Is(target error) bool { return target == ErrTransmissionFailure }
