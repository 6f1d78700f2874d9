package model

import (
	"sync"
	"time"

	"github.com/arloliu/go-cashio/frame"
	"github.com/arloliu/go-cashio/internal/simulator"
	"github.com/arloliu/go-cashio/profile"
)

const (
	dispenserENQ = 0x05
	dispenserACK = 0x06
	dispenserNAK = 0x15
)

// Dispenser is a bill dispenser speaking the f56 profile. It grants the line
// to every enquiry, acknowledges every command frame and answers it after
// NoteDelay per dispensed note.
type Dispenser struct {
	p *profile.Profile

	mu         sync.Mutex
	fault      byte
	lastReply  []byte
	noteDelay  time.Duration
	dispensed  [][]int
	silent      bool
	dropGrants  int
	dropReports int
}

// NewDispenser returns a healthy dispenser for the f56 profile p.
func NewDispenser(p *profile.Profile) *Dispenser {
	return &Dispenser{p: p}
}

// Format returns the wire format of the dispenser.
func (d *Dispenser) Format() *frame.Format { return &d.p.Format }

// SetFault makes subsequent commands report status code; 0 clears the fault.
func (d *Dispenser) SetFault(code byte) {
	d.mu.Lock()
	d.fault = code
	d.mu.Unlock()
}

// SetNoteDelay sets the time spent per dispensed note.
func (d *Dispenser) SetNoteDelay(delay time.Duration) {
	d.mu.Lock()
	d.noteDelay = delay
	d.mu.Unlock()
}

// SetSilent makes the dispenser ignore all traffic.
func (d *Dispenser) SetSilent(silent bool) {
	d.mu.Lock()
	d.silent = silent
	d.mu.Unlock()
}

// DropGrants makes the dispenser ignore the next n enquiries.
func (d *Dispenser) DropGrants(n int) {
	d.mu.Lock()
	d.dropGrants = n
	d.mu.Unlock()
}

// DropReports makes the dispenser take the next n commands, paying out
// dispenses, without ever answering them.
func (d *Dispenser) DropReports(n int) {
	d.mu.Lock()
	d.dropReports = n
	d.mu.Unlock()
}

// Dispensed returns the counts of every completed dispense request.
func (d *Dispenser) Dispensed() [][]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([][]int(nil), d.dispensed...)
}

// Handle answers one host frame.
func (d *Dispenser) Handle(fr frame.Frame) []simulator.Action {
	d.mu.Lock()
	defer d.mu.Unlock()

	f := &d.p.Format

	if d.silent {
		return nil
	}

	if fr.IsControl() {
		switch fr.Control {
		case dispenserENQ:
			if d.dropGrants > 0 {
				d.dropGrants--
				return nil
			}

			return []simulator.Action{simulator.Control(f, dispenserACK)}
		case dispenserNAK:
			if d.lastReply != nil {
				return []simulator.Action{simulator.Frame(f, d.lastReply...)}
			}
		}

		return nil
	}

	reply, delay := d.reply(fr.Payload)
	d.lastReply = reply

	if d.dropReports > 0 {
		d.dropReports--
		return []simulator.Action{simulator.Control(f, dispenserACK)}
	}

	return []simulator.Action{
		simulator.Control(f, dispenserACK),
		simulator.After(delay, simulator.Frame(f, reply...)),
	}
}

func (d *Dispenser) reply(p []byte) ([]byte, time.Duration) {
	cmd := p[0]

	if cmd != 0x40 {
		return []byte{cmd, d.fault}, 0
	}

	n := 0
	if len(p) > 1 {
		n = int(p[1])
	}

	reply := []byte{cmd, d.fault, byte(n)}
	counts := make([]int, 0, n)
	notes := 0

	for i := 0; i < n && 2+i < len(p); i++ {
		want := int(p[2+i])
		counts = append(counts, want)

		if d.fault != 0 {
			reply = append(reply, 0, 0)
			continue
		}

		reply = append(reply, byte(want), 0)
		notes += want
	}

	if d.fault == 0 {
		d.dispensed = append(d.dispensed, counts)
	}

	return reply, time.Duration(notes) * d.noteDelay
}
