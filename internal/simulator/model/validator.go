// Package model provides scripted cash peripherals that speak the built-in
// profiles over a simulated serial line.
package model

import (
	"sync"

	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/frame"
	"github.com/arloliu/go-cashio/internal/simulator"
	"github.com/arloliu/go-cashio/profile"
)

// rest is a script entry resolved to idle or disabled when reported.
var rest []byte

// validatorCodes holds the status bytes of one validator family.
type validatorCodes struct {
	powerUp      byte
	initializing byte
	idle         byte
	disabled     byte
	accepting    byte
	escrow       byte
	stacking     byte
	stacked      byte
	returning    byte
	rejecting    byte
	// ccnet reports returned and stacked with the bill type
	returned     byte
	billInStatus bool
	// id003 holds vend valid until the host acknowledges it
	vendValid byte
	reject    byte
}

var ccnetCodes = validatorCodes{
	powerUp:      0x10,
	initializing: 0x13,
	idle:         0x14,
	disabled:     0x19,
	accepting:    0x15,
	escrow:       0x80,
	stacking:     0x17,
	stacked:      0x81,
	returning:    0x18,
	rejecting:    0x1C,
	returned:     0x82,
	billInStatus: true,
	reject:       0x30,
}

var id003Codes = validatorCodes{
	powerUp:      0x40,
	initializing: 0x1B,
	idle:         0x11,
	disabled:     0x1A,
	accepting:    0x12,
	escrow:       0x13,
	stacking:     0x14,
	stacked:      0x16,
	returning:    0x18,
	rejecting:    0x17,
	vendValid:    0x15,
	reject:       0x4B,
}

// Validator is a bill validator speaking the ccnet or id003 profile.
//
// Polls report one scripted status each; the last status is held until the
// script moves on. Commands advance the script the way the device would.
type Validator struct {
	p        *profile.Profile
	codes    validatorCodes
	commands map[string]device.Command

	mu       sync.Mutex
	status   []byte
	script   [][]byte
	enabled  bool
	silent   bool
	table    []byte
	received []device.Command
}

// NewValidator returns a powered-up, disabled validator for p ("ccnet" or
// "id003"). table is the raw payload answered to a denomination request.
func NewValidator(p *profile.Profile, table []byte) *Validator {
	codes := ccnetCodes
	if p.Name == "id003" {
		codes = id003Codes
	}

	v := &Validator{
		p:        p,
		codes:    codes,
		commands: commandIndex(p),
		table:    table,
	}
	v.status = []byte{codes.powerUp}

	return v
}

// Format returns the wire format of the validator.
func (v *Validator) Format() *frame.Format { return &v.p.Format }

// Insert queues a bill with the given code: accepting, then escrow.
func (v *Validator) Insert(code byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.script = append(v.script, []byte{v.codes.accepting}, []byte{v.codes.escrow, code})
}

// Refuse queues a bill that is rejected while accepting it.
func (v *Validator) Refuse(reason byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.script = append(v.script, []byte{v.codes.accepting}, []byte{v.codes.rejecting, reason}, rest)
}

// Report queues raw status payloads.
func (v *Validator) Report(statuses ...[]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.script = append(v.script, statuses...)
}

// SetSilent makes the validator ignore all traffic.
func (v *Validator) SetSilent(silent bool) {
	v.mu.Lock()
	v.silent = silent
	v.mu.Unlock()
}

// Received returns the commands received so far, polls excluded.
func (v *Validator) Received() []device.Command {
	v.mu.Lock()
	defer v.mu.Unlock()

	return append([]device.Command(nil), v.received...)
}

// Handle answers one host frame.
func (v *Validator) Handle(fr frame.Frame) []simulator.Action {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.silent || fr.IsControl() {
		return nil
	}

	cmd, ok := v.commands[string(fr.Payload)]
	if !ok {
		// host ACK or NAK frames
		return nil
	}

	if cmd != device.CommandPoll {
		v.received = append(v.received, cmd)
	}

	reply := v.handle(cmd, fr.Payload)
	if reply == nil {
		return nil
	}

	return []simulator.Action{simulator.Frame(&v.p.Format, reply...)}
}

func (v *Validator) handle(cmd device.Command, payload []byte) []byte {
	c := v.codes

	switch cmd {
	case device.CommandPoll:
		return v.poll()

	case device.CommandReset:
		v.enabled = false
		v.script = [][]byte{{c.initializing}, rest}

		return v.ack(payload)

	case device.CommandEnable, device.CommandDisable:
		v.enabled = cmd == device.CommandEnable
		if s := v.status[0]; s == c.idle || s == c.disabled {
			v.status = v.restStatus()
		}

		return v.ack(payload)

	case device.CommandStack:
		if v.status[0] != c.escrow || len(v.script) > 0 {
			return []byte{c.reject}
		}

		bill := v.status[1]
		if c.vendValid != 0 {
			v.script = [][]byte{{c.stacking}, {c.vendValid}}
		} else {
			v.script = [][]byte{{c.stacking}, {c.stacked, bill}, rest}
		}

		return v.ack(payload)

	case device.CommandReturn:
		if v.status[0] != c.escrow || len(v.script) > 0 {
			return []byte{c.reject}
		}

		bill := v.status[1]
		if c.returned != 0 {
			v.script = [][]byte{{c.returning}, {c.returned, bill}, rest}
		} else {
			v.script = [][]byte{{c.returning}, rest}
		}

		return v.ack(payload)

	case device.CommandAckValid:
		if v.status[0] == c.vendValid {
			v.script = [][]byte{{c.stacked}, rest}
		}

		return nil

	case device.CommandGetDenominations:
		if c.vendValid != 0 {
			return append([]byte{payload[0]}, v.table...)
		}

		return append([]byte(nil), v.table...)

	default:
		return []byte{c.reject}
	}
}

func (v *Validator) poll() []byte {
	if len(v.script) > 0 {
		next := v.script[0]
		v.script = v.script[1:]

		if next == nil {
			next = v.restStatus()
		}
		v.status = next
	}

	return append([]byte(nil), v.status...)
}

func (v *Validator) restStatus() []byte {
	if v.enabled {
		return []byte{v.codes.idle}
	}

	return []byte{v.codes.disabled}
}

// ack returns the command acknowledgement of the family: ccnet answers 0x00,
// id003 echoes settings and answers ACK to operations.
func (v *Validator) ack(payload []byte) []byte {
	if v.codes.vendValid == 0 {
		return []byte{0x00}
	}

	if payload[0] >= 0xC0 {
		return append([]byte(nil), payload...)
	}

	return []byte{0x50}
}

// commandIndex maps every fixed command payload of p to its command.
func commandIndex(p *profile.Profile) map[string]device.Command {
	idx := make(map[string]device.Command)

	for _, cmd := range []device.Command{
		device.CommandReset,
		device.CommandPoll,
		device.CommandEnable,
		device.CommandDisable,
		device.CommandStack,
		device.CommandReturn,
		device.CommandAckValid,
		device.CommandGetDenominations,
	} {
		if req, err := p.Dialect.Build(cmd, nil); err == nil {
			idx[string(req.Payload)] = cmd
		}
	}

	return idx
}
