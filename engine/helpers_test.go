package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/internal/simulator"
	"github.com/arloliu/go-cashio/internal/simulator/model"
	"github.com/arloliu/go-cashio/link"
	"github.com/arloliu/go-cashio/logger"
	"github.com/arloliu/go-cashio/profile"
)

const (
	testPollInterval = 15 * time.Millisecond
	testWait         = 2 * time.Second
)

// testPolicy keeps failed stages short.
var testPolicy = link.StagePolicy{Retries: 1, Timeout: 40 * time.Millisecond}

// ccnetTable is a ccnet bill table: code 0 is 10 RUB, 1 is 50 RUB, 2 is 100 RUB
// and 3 is 20 RUB. Every other code is absent.
func ccnetTable() []byte {
	raw := make([]byte, 24*5)
	copy(raw[0:], []byte{10, 'R', 'U', 'B', 0})
	copy(raw[5:], []byte{50, 'R', 'U', 'B', 0})
	copy(raw[10:], []byte{1, 'R', 'U', 'B', 2})
	copy(raw[15:], []byte{2, 'R', 'U', 'B', 1})

	return raw
}

// id003Table assigns code 3 to 20 RUB and code 4 to 100 RUB.
func id003Table() []byte {
	return []byte{
		3, 0x0C, 2, 1,
		4, 0x0C, 1, 2,
	}
}

// testCassettes loads 100 RUB notes in cassette 0 and 500 RUB in cassette 1.
func testCassettes() []denom.Denomination {
	return []denom.Denomination{
		{Code: 0, Mantissa: 1, Exponent: 2, Country: "RUB"},
		{Code: 1, Mantissa: 5, Exponent: 2, Country: "RUB"},
	}
}

func baseOptions() []Option {
	return []Option{
		WithLogger(logger.Discard()),
		WithPollInterval(testPollInterval),
		WithSettleDelay(5 * time.Millisecond),
		WithConnectTimeout(testWait),
		WithResponsePolicy(testPolicy),
		WithReadSlice(5 * time.Millisecond),
	}
}

// simulate wires the engine's port opener to a scripted device.
func simulate(t *testing.T, h simulator.Handler, p *profile.Profile) Option {
	t.Helper()

	host, dev := simulator.Pipe()
	d := simulator.NewDevice(dev, &p.Format, h)
	d.Start()
	t.Cleanup(d.Stop)

	return WithPortOpener(func(string, link.SerialConfig) (link.Port, error) {
		return host, nil
	})
}

func lookup(t *testing.T, name string) *profile.Profile {
	t.Helper()

	p, err := profile.Lookup(name)
	require.NoError(t, err)

	return p
}

// newValidator returns a connected engine driving a simulated validator.
func newValidator(t *testing.T, family string, table []byte, opts ...Option) (*Engine, *model.Validator) {
	t.Helper()

	p := lookup(t, family)
	v := model.NewValidator(p, table)

	opts = append(append(baseOptions(), simulate(t, v.Handle, p)), opts...)
	e, err := New(p, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	require.NoError(t, e.Connect(context.Background(), "sim"))

	return e, v
}

// newDispenser returns a connected engine driving a simulated f56 dispenser.
func newDispenser(t *testing.T, opts ...Option) (*Engine, *model.Dispenser) {
	t.Helper()

	p := lookup(t, "f56")
	d := model.NewDispenser(p)

	opts = append(append(baseOptions(),
		simulate(t, d.Handle, p),
		WithCassettes(testCassettes()...),
		WithLineRequestPolicy(testPolicy),
		WithDeliveryAckPolicy(testPolicy),
		WithResponsePolicy(link.StagePolicy{Retries: 1, Timeout: 500 * time.Millisecond}),
	), opts...)
	e, err := New(p, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	require.NoError(t, e.Connect(context.Background(), "sim"))

	return e, d
}

// waitEvent reads events until one of kind arrives and returns it together
// with every event read before it.
func waitEvent(t *testing.T, e *Engine, kind device.EventKind) (device.Event, []device.Event) {
	t.Helper()

	var seen []device.Event
	timer := time.NewTimer(testWait)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-e.Events():
			require.True(t, ok, "events closed waiting for %s", kind)
			if ev.Kind == kind {
				return ev, seen
			}
			seen = append(seen, ev)
		case <-timer.C:
			require.FailNow(t, "timeout waiting for event", "kind %s, seen %v", kind, kinds(seen))
		}
	}
}

// collect reads events for d.
func collect(e *Engine, d time.Duration) []device.Event {
	var out []device.Event
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-e.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timer.C:
			return out
		}
	}
}

func kinds(events []device.Event) []device.EventKind {
	out := make([]device.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}

	return out
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	t.Cleanup(cancel)

	return ctx
}
