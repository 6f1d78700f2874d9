package engine

import (
	"context"

	"github.com/arloliu/go-cashio/journal"
)

// dispatch is the task body of the event dispatcher: it journals every event
// queued in the outbox and delivers it on the Events channel, in order.
func (e *Engine) dispatch(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.outbox.Ready():
	}

	for _, out := range e.outbox.drain() {
		e.record(out)

		select {
		case e.events <- out.event:
			e.emitted.Add(1)
		case <-ctx.Done():
			e.dropped.Add(1)
		}
	}

	return true
}

// flush delivers what is left in the outbox without blocking. It runs once
// the dispatcher has stopped.
func (e *Engine) flush() {
	for _, out := range e.outbox.drain() {
		e.record(out)

		select {
		case e.events <- out.event:
			e.emitted.Add(1)
		default:
			e.dropped.Add(1)
		}
	}

	if n := e.dropped.Load(); n > 0 {
		e.logger.Warn("engine: events dropped", "count", n)
	}
}

func (e *Engine) record(out outgoing) {
	if e.cfg.journal == nil {
		return
	}

	rec := journal.FromEvent(out.connID, e.profile.Name, out.event)
	if err := e.cfg.journal.Append(rec); err != nil {
		e.logger.Error("engine: journal append failed", "error", err, "event", out.event.Kind)
	}
}
