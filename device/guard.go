package device

import (
	"time"

	"github.com/arloliu/go-cashio/internal/pool"
)

// Guard watches a transient state and fires once if it lasts longer than its
// timeout. It is owned by a single goroutine.
type Guard struct {
	timeout time.Duration
	timer   *time.Timer
	state   State
}

// NewGuard returns a guard with the given timeout. A timeout <= 0 disables it.
func NewGuard(timeout time.Duration) *Guard {
	return &Guard{timeout: timeout}
}

// Arm starts watching s, replacing any armed timer.
func (g *Guard) Arm(s State) {
	g.Clear()

	if g.timeout <= 0 {
		return
	}

	g.timer = pool.GetTimer(g.timeout)
	g.state = s
}

// Clear stops the guard.
func (g *Guard) Clear() {
	if g.timer != nil {
		pool.PutTimer(g.timer)
		g.timer = nil
	}
}

// Armed reports whether the guard is watching a state.
func (g *Guard) Armed() bool { return g.timer != nil }

// C returns the channel that fires when the watched state outlived the
// timeout. It is nil while the guard is not armed.
func (g *Guard) C() <-chan time.Time {
	if g.timer == nil {
		return nil
	}

	return g.timer.C
}

// fired disarms the guard after its channel delivered and returns the state
// it was watching. A second call returns false.
func (g *Guard) fired() (State, bool) {
	if g.timer == nil {
		return 0, false
	}

	pool.PutTimer(g.timer)
	g.timer = nil

	return g.state, true
}
