package engine

import (
	"sync/atomic"

	"github.com/arloliu/go-cashio/link"
)

// Metrics is a point-in-time view of the engine counters. Commands counts the
// commands sent by name, Events the events delivered on the Events channel and
// Dropped the events discarded at Close.
type Metrics struct {
	ConnectionID string               `json:"connection_id,omitempty"`
	Family       string               `json:"family"`
	State        string               `json:"state"`
	Link         link.MetricsSnapshot `json:"link"`
	Commands     map[string]uint64    `json:"commands"`
	Events       uint64               `json:"events"`
	Dropped      uint64               `json:"dropped"`
}

// Metrics returns the current counters. Link counters are those of the
// current connection and are zero while disconnected.
func (e *Engine) Metrics() Metrics {
	m := Metrics{
		Family:   e.profile.Name,
		State:    e.State().String(),
		Commands: make(map[string]uint64, e.commands.Size()),
		Events:   e.emitted.Load(),
		Dropped:  e.dropped.Load(),
	}

	if c := e.current(); c != nil {
		m.ConnectionID = c.id
		m.Link = c.link.Metrics().Snapshot()
	}

	e.commands.Range(func(name string, n *atomic.Uint64) bool {
		m.Commands[name] = n.Load()
		return true
	})

	return m
}
