package device

import (
	"time"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/logger"
)

// Action is a follow-up command the machine asks the engine to issue.
type Action uint8

const (
	ActionNone Action = iota
	// ActionReject returns the bill in escrow.
	ActionReject
	// ActionAckValid acknowledges a vend-valid report.
	ActionAckValid
	// ActionDisable issues a disable that was deferred while a bill was in flight.
	ActionDisable
)

func (a Action) String() string {
	switch a {
	case ActionReject:
		return "reject"
	case ActionAckValid:
		return "ack-valid"
	case ActionDisable:
		return "disable"
	default:
		return "none"
	}
}

// Transition is the result of applying one status report.
type Transition struct {
	From    State
	To      State
	Events  []Event
	Actions []Action
}

// Changed reports whether the transition moved the machine to another state.
func (t Transition) Changed() bool { return t.From != t.To }

// Machine maps status reports to device states and application events.
//
// Machine is not goroutine-safe; a connection's loop goroutine owns it.
type Machine struct {
	state  State
	table  *denom.Holder
	guard  *Guard
	logger logger.Logger
	now    func() time.Time

	disableLatched bool

	// current bill
	escrow     *denom.Denomination
	autoReject bool
	credited   bool
	returned   bool
}

// NewMachine creates a machine in the Start state. Escrow codes are resolved
// against table; stuckTimeout bounds the time spent in a transient state.
func NewMachine(table *denom.Holder, stuckTimeout time.Duration, l logger.Logger) *Machine {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Machine{
		state:  Start,
		table:  table,
		guard:  NewGuard(stuckTimeout),
		logger: l,
		now:    time.Now,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Escrowed returns the bill held in escrow and awaiting a stack or reject
// decision.
func (m *Machine) Escrowed() (denom.Denomination, bool) {
	if m.state != Escrow || m.escrow == nil || m.autoReject {
		return denom.Denomination{}, false
	}

	return *m.escrow, true
}

// Connecting moves the machine from Start to Connecting.
func (m *Machine) Connecting() {
	m.Reset()
	m.state = Connecting
}

// Reset returns the machine to Start and forgets any bill, latch and guard.
func (m *Machine) Reset() {
	m.guard.Clear()
	m.state = Start
	m.disableLatched = false
	m.clearBill()
}

// Disconnect resets the machine and returns the Disconnected event.
func (m *Machine) Disconnect(cause error) Event {
	m.Reset()

	return m.event(EventDisconnected, func(e *Event) { e.Err = cause })
}

// Error returns an Error event for a failure outside of the state model, such
// as an exhausted command. The state is unchanged.
func (m *Machine) Error(err error) Event {
	return m.event(EventError, func(e *Event) { e.Err = err })
}

// RequestDisable reports whether a disable may be sent now. While a bill is in
// flight the request is latched and returned later as ActionDisable.
func (m *Machine) RequestDisable() bool {
	if m.state.InFlight() {
		m.disableLatched = true
		m.logger.Debug("device: disable deferred", "state", m.state)

		return false
	}

	m.disableLatched = false

	return true
}

// RequestEnable clears a latched disable.
func (m *Machine) RequestEnable() {
	m.disableLatched = false
}

// DisableLatched reports whether a deferred disable is waiting.
func (m *Machine) DisableLatched() bool { return m.disableLatched }

// GuardC fires when a transient state outlived the stuck timeout. Call
// GuardFired after receiving from it.
func (m *Machine) GuardC() <-chan time.Time { return m.guard.C() }

// GuardFired returns the Stuck event for the expired guard. The state is left
// unchanged and the guard stays disarmed until the next transient state.
func (m *Machine) GuardFired() []Event {
	s, ok := m.guard.fired()
	if !ok || s != m.state {
		return nil
	}

	m.logger.Warn("device: stuck", "state", s)

	return []Event{m.event(EventStuck, func(e *Event) { e.Err = ErrStuck })}
}

// Apply updates the machine with one status report.
func (m *Machine) Apply(st Status) Transition {
	tr := Transition{From: m.state, To: m.state}

	switch st.Signal {
	case SignalNone, SignalAck, SignalBusy:
		// no state information

	case SignalCommandRejected:
		m.emit(&tr, EventError, func(e *Event) { e.Err = ErrCommandRejected })

	case SignalPowerUp, SignalInitializing:
		m.clearBill()
		m.enter(&tr, PowerUp)

	case SignalIdle:
		m.settle(&tr)
		m.enter(&tr, Idle)
		if m.disableLatched {
			m.disableLatched = false
			tr.Actions = append(tr.Actions, ActionDisable)
		}

	case SignalDisabled:
		m.settle(&tr)
		m.disableLatched = false
		m.enter(&tr, Disabled)

	case SignalAccepting:
		if m.enter(&tr, Accepting) {
			m.clearBill()
			m.emit(&tr, EventBillAccepted, nil)
		}

	case SignalEscrow, SignalHolding:
		if m.enter(&tr, Escrow) {
			m.escrowBill(&tr, st.Bill)
		}

	case SignalStacking:
		m.enter(&tr, Stacking)

	case SignalVendValid, SignalStacked:
		m.enter(&tr, Stacked)
		if !m.credited && !m.autoReject {
			m.credited = true
			d := m.bill(st.Bill)
			m.emit(&tr, EventBillValid, func(e *Event) { e.Denomination = d })
		}
		if st.Signal == SignalVendValid {
			tr.Actions = append(tr.Actions, ActionAckValid)
		}

	case SignalReturning:
		m.enter(&tr, Returning)

	case SignalReturned:
		m.enter(&tr, Returned)
		m.billReturned(&tr)

	case SignalRejecting:
		if m.enter(&tr, Rejecting) {
			reason := st.Reason
			m.emit(&tr, EventBillRejected, func(e *Event) { e.Reason = &reason })
		}

	case SignalStackerFull:
		if m.enter(&tr, Failure) {
			m.emit(&tr, EventStackerFull, func(e *Event) { e.Err = m.fault(st) })
		}

	case SignalStackerOpen:
		if m.enter(&tr, StackerOpen) {
			m.emit(&tr, EventStackerOpen, nil)
		}

	case SignalJam:
		if m.enter(&tr, Jammed) {
			reason := st.Reason
			m.emit(&tr, EventJam, func(e *Event) {
				e.Reason = &reason
				e.Err = m.fault(st)
			})
		}

	case SignalCheated, SignalFailure:
		if m.enter(&tr, Failure) {
			m.emit(&tr, EventError, func(e *Event) { e.Err = m.fault(st) })
		}

	case SignalPaused:
		m.enter(&tr, Paused)

	case SignalDispensed:
		m.enter(&tr, Idle)
		slots := st.Slots
		m.emit(&tr, EventDispensed, func(e *Event) { e.Slots = slots })

	default:
		m.logger.Warn("device: unhandled status", "status", st, "state", m.state)
	}

	if tr.Changed() {
		m.logger.Debug("device: transition", "from", tr.From, "to", tr.To, "status", st)
	}

	return tr
}

// enter moves to s and reports whether the state changed. Leaving StackerOpen
// emits StackerClosed first.
func (m *Machine) enter(tr *Transition, s State) bool {
	if m.state == s {
		return false
	}

	if m.state == StackerOpen {
		m.state = s
		m.emit(tr, EventStackerClosed, nil)
	}

	m.state = s
	tr.To = s

	if s.Guarded() {
		m.guard.Arm(s)
	} else {
		m.guard.Clear()
	}

	return true
}

// settle closes out the current bill when the device goes back to Idle or
// Disabled.
func (m *Machine) settle(tr *Transition) {
	switch m.state {
	case Returning:
		m.billReturned(tr)
	case Stacking:
		if !m.credited && !m.autoReject {
			d := m.escrow
			m.emit(tr, EventError, func(e *Event) {
				e.Denomination = d
				e.Err = ErrStackUnconfirmed
			})
		}
	default:
	}

	m.clearBill()
}

func (m *Machine) escrowBill(tr *Transition, code int) {
	var (
		d  denom.Denomination
		ok bool
	)
	if t := m.table.Get(); t != nil {
		d, ok = t.Lookup(code)
	}

	if !ok {
		m.autoReject = true
		m.escrow = nil
		tr.Actions = append(tr.Actions, ActionReject)
		m.logger.Warn("device: rejecting bill", "error", ErrUnsupportedDenomination, "code", code)

		return
	}

	m.autoReject = false
	m.escrow = &d
	m.emit(tr, EventBillRead, func(e *Event) { e.Denomination = &d })
}

func (m *Machine) billReturned(tr *Transition) {
	if m.returned || m.autoReject {
		return
	}
	m.returned = true

	d := m.escrow
	m.emit(tr, EventBillReturned, func(e *Event) { e.Denomination = d })
}

// bill returns the escrowed bill, falling back to a table lookup of code.
func (m *Machine) bill(code int) *denom.Denomination {
	if m.escrow != nil {
		return m.escrow
	}

	if t := m.table.Get(); t != nil {
		if d, ok := t.Lookup(code); ok {
			return &d
		}
	}

	return nil
}

func (m *Machine) clearBill() {
	m.escrow = nil
	m.autoReject = false
	m.credited = false
	m.returned = false
}

func (m *Machine) fault(st Status) *DeviceFault {
	return &DeviceFault{State: m.state, Signal: st.Signal, Reason: st.Reason}
}

func (m *Machine) emit(tr *Transition, kind EventKind, fill func(*Event)) {
	tr.Events = append(tr.Events, m.event(kind, fill))
}

func (m *Machine) event(kind EventKind, fill func(*Event)) Event {
	e := Event{Kind: kind, State: m.state, Time: m.now()}
	if fill != nil {
		fill(&e)
	}

	return e
}
