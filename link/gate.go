package link

import (
	"sync"
)

// Occupancy describes what currently holds the link.
type Occupancy uint8

const (
	Free Occupancy = iota
	PollInFlight
	CommandInFlight
)

func (o Occupancy) String() string {
	switch o {
	case Free:
		return "free"
	case PollInFlight:
		return "poll"
	case CommandInFlight:
		return "command"
	default:
		return "unknown"
	}
}

// Gate enforces at most one outstanding request on a link.
//
// Polls are admitted only when the link is free and no command is waiting.
// A command is admitted as the single pending command unless another command
// is already in flight or pending; the owner of the link starts it with Begin
// once the in-flight poll, if any, has concluded.
//
// Gate is safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	inflight Occupancy
	pending  bool
	metrics  *Metrics
}

// NewGate creates a gate reporting rejections to m. m may be nil.
func NewGate(m *Metrics) *Gate {
	if m == nil {
		m = &Metrics{}
	}

	return &Gate{metrics: m}
}

// TryPoll claims the link for a status poll. It returns false, and counts a
// skipped poll, when the link is busy or a command is pending.
func (g *Gate) TryPoll() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inflight != Free || g.pending {
		g.metrics.incPollSkipCount()
		return false
	}

	g.inflight = PollInFlight

	return true
}

// Reserve admits a command as the pending command.
//
// It returns ErrBusy when a command is already in flight or pending.
func (g *Gate) Reserve() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inflight == CommandInFlight || g.pending {
		g.metrics.incBusyCount()
		return ErrBusy
	}

	g.pending = true

	return nil
}

// Begin starts the pending command. It returns ErrBusy while a session is
// still in flight.
func (g *Gate) Begin() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inflight != Free {
		return ErrBusy
	}

	g.pending = false
	g.inflight = CommandInFlight

	return nil
}

// BeginFollowUp claims the free link for a command issued by the link owner
// itself in reaction to a response, ahead of any pending command.
func (g *Gate) BeginFollowUp() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inflight != Free {
		return ErrBusy
	}

	g.inflight = CommandInFlight

	return nil
}

// Cancel drops the pending command reservation.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pending = false
}

// Done releases the link after a session concludes.
func (g *Gate) Done() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inflight = Free
}

// Reset releases the link and drops any reservation.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inflight = Free
	g.pending = false
}

// InFlight returns what currently holds the link.
func (g *Gate) InFlight() Occupancy {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.inflight
}

// Pending reports whether a command is waiting to start.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.pending
}
