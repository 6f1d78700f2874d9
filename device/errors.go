package device

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceFault             = errors.New("device: fault")
	ErrUnsupportedDenomination = errors.New("device: unsupported denomination")
	ErrStuck                   = errors.New("device: stuck in transient state")
	ErrStackUnconfirmed        = errors.New("device: stack not confirmed")
	ErrCommandRejected         = errors.New("device: command rejected")
	ErrNoEscrow                = errors.New("device: no bill in escrow")
	ErrNotReady                = errors.New("device: not ready")
)

// DeviceFault is a fault reported by the peripheral.
type DeviceFault struct {
	State  State
	Signal Signal
	Reason Reason
}

func (e *DeviceFault) Error() string {
	return fmt.Sprintf("device: fault in %s: %s: %s", e.State, e.Signal, e.Reason)
}

func (e *DeviceFault) Unwrap() error { return ErrDeviceFault }
