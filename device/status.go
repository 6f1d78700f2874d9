package device

import "fmt"

// Signal is the dialect-independent meaning of a device status report.
type Signal uint8

const (
	SignalNone Signal = iota
	// SignalAck is a plain command acknowledgement that carries no status.
	SignalAck
	SignalBusy
	SignalPowerUp
	SignalInitializing
	SignalIdle
	SignalDisabled
	SignalAccepting
	SignalEscrow
	SignalHolding
	SignalStacking
	// SignalVendValid asks the host to acknowledge a stacked bill before the
	// device reports it as stacked.
	SignalVendValid
	SignalStacked
	SignalReturning
	SignalReturned
	SignalRejecting
	SignalStackerFull
	SignalStackerOpen
	SignalJam
	SignalCheated
	SignalPaused
	SignalFailure
	// SignalCommandRejected means the device refused the last command.
	SignalCommandRejected
	SignalDispensed
)

var signalNames = [...]string{
	SignalNone:            "none",
	SignalAck:             "ack",
	SignalBusy:            "busy",
	SignalPowerUp:         "power-up",
	SignalInitializing:    "initializing",
	SignalIdle:            "idle",
	SignalDisabled:        "disabled",
	SignalAccepting:       "accepting",
	SignalEscrow:          "escrow",
	SignalHolding:         "holding",
	SignalStacking:        "stacking",
	SignalVendValid:       "vend-valid",
	SignalStacked:         "stacked",
	SignalReturning:       "returning",
	SignalReturned:        "returned",
	SignalRejecting:       "rejecting",
	SignalStackerFull:     "stacker-full",
	SignalStackerOpen:     "stacker-open",
	SignalJam:             "jam",
	SignalCheated:         "cheated",
	SignalPaused:          "paused",
	SignalFailure:         "failure",
	SignalCommandRejected: "command-rejected",
	SignalDispensed:       "dispensed",
}

func (s Signal) String() string {
	if int(s) < len(signalNames) {
		return signalNames[s]
	}

	return "unknown"
}

// Status is one decoded status report.
type Status struct {
	Signal Signal
	// Code is the raw status byte as sent by the device.
	Code byte
	// Bill is the bill code carried by escrow, stacked and returned reports.
	Bill   int
	Reason Reason
	Slots  []SlotResult
}

func (s Status) String() string {
	return fmt.Sprintf("%s(0x%02X)", s.Signal, s.Code)
}

// Reason explains a rejection or a fault.
type Reason struct {
	Code byte
	Text string
}

func (r Reason) String() string {
	return fmt.Sprintf("%s (0x%02X)", r.Text, r.Code)
}

// ReasonUnknown is the text of reasons missing from a dialect's table.
const ReasonUnknown = "unknown"

// ReasonTable maps a dialect's reason codes to their meaning.
type ReasonTable map[byte]string

// Lookup returns the reason for code, or a Reason with text ReasonUnknown.
func (t ReasonTable) Lookup(code byte) Reason {
	if text, ok := t[code]; ok {
		return Reason{Code: code, Text: text}
	}

	return Reason{Code: code, Text: ReasonUnknown}
}

// SlotResult is the outcome of a dispense for one cassette.
type SlotResult struct {
	Slot      int
	Requested int
	Dispensed int
	Rejected  int
}

func (r SlotResult) String() string {
	return fmt.Sprintf("slot %d: %d/%d dispensed, %d rejected", r.Slot, r.Dispensed, r.Requested, r.Rejected)
}
