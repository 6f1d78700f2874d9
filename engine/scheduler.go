package engine

import (
	"time"

	"github.com/arloliu/go-cashio/internal/pool"
)

// pollScheduler times the status polls of one connection.
//
// A tick that arrives while the link is busy is skipped by the loop, not
// queued; the next tick is armed with Next. A command suspends the scheduler
// and Resume re-arms it after the settle delay. An interval of 0 disables
// polling entirely.
//
// pollScheduler is owned by the connection loop and is not goroutine-safe.
type pollScheduler struct {
	interval time.Duration
	settle   time.Duration
	timer    *time.Timer
}

func newPollScheduler(interval, settle time.Duration) *pollScheduler {
	return &pollScheduler{interval: interval, settle: settle}
}

// Enabled reports whether the scheduler polls at all.
func (s *pollScheduler) Enabled() bool { return s.interval > 0 }

// C returns the channel of the armed tick, or nil when none is armed.
func (s *pollScheduler) C() <-chan time.Time {
	if s.timer == nil {
		return nil
	}

	return s.timer.C
}

// Next arms the next tick one interval from now.
func (s *pollScheduler) Next() { s.arm(s.interval) }

// Suspend disarms the pending tick.
func (s *pollScheduler) Suspend() { s.stop() }

// Resume arms the next tick after the settle delay.
func (s *pollScheduler) Resume() {
	d := s.settle
	if d <= 0 {
		d = s.interval
	}

	s.arm(d)
}

// Stop disarms the scheduler and releases its timer.
func (s *pollScheduler) Stop() { s.stop() }

func (s *pollScheduler) arm(d time.Duration) {
	s.stop()

	if !s.Enabled() {
		return
	}

	s.timer = pool.GetTimer(d)
}

func (s *pollScheduler) stop() {
	if s.timer != nil {
		pool.PutTimer(s.timer)
		s.timer = nil
	}
}
