package engine

import "errors"

var (
	ErrNotConnected     = errors.New("engine: not connected")
	ErrAlreadyConnected = errors.New("engine: already connected")
	ErrClosed           = errors.New("engine: closed")
	ErrNilProfile       = errors.New("engine: nil profile")
	ErrInvalidOption    = errors.New("engine: invalid option")
	ErrWrongRole        = errors.New("engine: operation not supported by this peripheral")
	ErrConnect          = errors.New("engine: connect failed")
	ErrNoDenominations  = errors.New("engine: no denominations configured")
)

// ErrDispenseUnconfirmed means the device took a dispense but its report was
// lost; notes may have been paid out.
var ErrDispenseUnconfirmed = errors.New("engine: dispense outcome unknown")
