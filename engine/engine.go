package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/internal/pool"
	"github.com/arloliu/go-cashio/internal/task"
	"github.com/arloliu/go-cashio/link"
	"github.com/arloliu/go-cashio/logger"
	"github.com/arloliu/go-cashio/profile"
)

// connectPollInterval paces the power-up polls of families that do not poll.
const connectPollInterval = 100 * time.Millisecond

// Engine drives one cash peripheral.
//
// Connect opens the line, resets the device and, for validators, loads its
// denomination table. A loop goroutine then owns the link: it polls the device
// status, runs the commands submitted through the API one at a time, and turns
// status reports into events delivered in order on Events.
//
// All methods are safe for concurrent use. After Close the engine cannot be
// reconnected and Events is closed.
type Engine struct {
	profile *profile.Profile
	cfg     *Config
	logger  logger.Logger

	opState  atomicOpState
	state    atomic.Uint32 // device.State mirror of the live machine
	table    denom.Holder
	outbox   *outbox
	events   chan device.Event
	bg       *task.Manager
	commands *xsync.MapOf[string, *atomic.Uint64]
	emitted  atomic.Uint64
	dropped  atomic.Uint64

	mu       sync.Mutex // protects conn and shutdown
	conn     *conn
	shutdown bool
}

// conn is the state of one physical connection.
type conn struct {
	id      string
	link    *link.Link
	machine *device.Machine
	sched   *pollScheduler
	tasks   *task.Manager
	jobs    chan *job
	done    chan struct{}
	logger  logger.Logger

	pollFailures int
	once         sync.Once
}

// New creates an engine for the peripheral profile p.
func New(p *profile.Profile, opts ...Option) (*Engine, error) {
	if p == nil {
		return nil, ErrNilProfile
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	cfg := newConfig(p)
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	hs := cfg.handshake(p)
	if err := hs.Validate(&p.Format); err != nil {
		return nil, err
	}

	e := &Engine{
		profile:  p,
		cfg:      cfg,
		logger:   cfg.logger.With("family", p.Name),
		outbox:   newOutbox(),
		events:   make(chan device.Event, cfg.eventBuffer),
		commands: xsync.NewMapOf[string, *atomic.Uint64](),
	}
	e.bg = task.NewManager(context.Background(), e.logger)

	if err := e.bg.Start("dispatcher", e.dispatch); err != nil {
		return nil, err
	}

	return e, nil
}

// Profile returns the peripheral profile of the engine.
func (e *Engine) Profile() *profile.Profile { return e.profile }

// Events returns the channel of device events. It is closed by Close.
func (e *Engine) Events() <-chan device.Event { return e.events }

// State returns the current device state.
func (e *Engine) State() device.State { return device.State(e.state.Load()) }

// DenominationsAvailable reports whether the denomination table is loaded.
func (e *Engine) DenominationsAvailable() bool { return e.table.Available() }

// Denominations returns the denomination table, or nil before it is loaded.
func (e *Engine) Denominations() *denom.Table { return e.table.Get() }

// ConnectionID returns the id of the current connection, or "" when not
// connected.
func (e *Engine) ConnectionID() string {
	if c := e.current(); c != nil {
		return c.id
	}

	return ""
}

// Connect opens the peripheral at address and runs its power-up sequence:
// reset, poll until the device reports a settled state, then load the
// denomination table. Dispensers take their table from WithCassettes and fail
// with ErrNoDenominations without one. It fails with ErrAlreadyConnected while
// a connection is open; after a disconnect the engine may connect again.
func (e *Engine) Connect(ctx context.Context, address string) error {
	if e.isShutdown() {
		return ErrClosed
	}

	if e.profile.Role == profile.RoleDispenser && len(e.cfg.cassettes) == 0 {
		return fmt.Errorf("%w: %w", ErrConnect, ErrNoDenominations)
	}

	if !e.opState.ToConnecting() {
		return ErrAlreadyConnected
	}

	c, err := e.open(address)
	if err != nil {
		e.opState.ToClosed()
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	e.table.Reset()
	c.machine.Connecting()
	e.setState(device.Connecting)

	c.logger.Info("engine: connecting", "address", address)

	cctx, cancel := context.WithTimeout(ctx, e.cfg.connectTimeout)
	err = e.powerUp(cctx, c)
	cancel()

	if err == nil {
		err = e.attach(c)
	}

	if err != nil {
		_ = c.link.Close()
		c.machine.Reset()
		e.setState(device.Start)
		e.opState.ToClosed()
		c.logger.Warn("engine: connect failed", "error", err)

		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	c.logger.Info("engine: connected", "state", c.machine.State(), "denominations", e.table.Available())

	return nil
}

// open opens the port and builds the per-connection state.
func (e *Engine) open(address string) (*conn, error) {
	port, err := e.cfg.opener(address, e.cfg.serial)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	l := e.logger.With("conn_id", id)

	linkOpts := []link.Option{link.WithLogger(l)}
	if e.cfg.readSlice > 0 {
		linkOpts = append(linkOpts, link.WithReadSlice(e.cfg.readSlice))
	}

	lk, err := link.New(port, &e.profile.Format, e.cfg.handshake(e.profile), linkOpts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	return &conn{
		id:      id,
		link:    lk,
		machine: device.NewMachine(&e.table, e.cfg.stuckTimeout, l),
		sched:   newPollScheduler(e.cfg.pollInterval, e.cfg.settleDelay),
		tasks:   task.NewManager(context.Background(), l),
		jobs:    make(chan *job, 1),
		done:    make(chan struct{}),
		logger:  l,
	}, nil
}

// powerUp resets the device, polls it until it settles and loads the
// denomination table.
func (e *Engine) powerUp(ctx context.Context, c *conn) error {
	st, err := e.command(ctx, c, device.CommandReset, nil)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	e.apply(ctx, c, st)

	interval := e.cfg.pollInterval
	if interval <= 0 {
		interval = connectPollInterval
	}

	var lastErr error
	for !c.machine.State().Ready() {
		if err := pool.Sleep(ctx, interval); err != nil {
			return errors.Join(err, lastErr)
		}

		st, err := e.command(ctx, c, device.CommandPoll, nil)
		if err != nil {
			if ctx.Err() != nil {
				return errors.Join(ctx.Err(), err)
			}
			lastErr = err

			continue
		}
		e.apply(ctx, c, st)
	}

	return e.loadTable(ctx, c)
}

func (e *Engine) loadTable(ctx context.Context, c *conn) error {
	if e.profile.Role == profile.RoleDispenser {
		t, err := denom.NewTable(e.cfg.cassettes)
		if err != nil {
			return err
		}
		e.table.Set(t)

		return nil
	}

	resp, _, err := e.roundTrip(ctx, c, device.CommandGetDenominations, nil)
	if err != nil {
		return fmt.Errorf("denominations: %w", err)
	}

	t, err := e.profile.Dialect.ParseDenominations(resp)
	if err != nil {
		return fmt.Errorf("denominations: %w", err)
	}

	e.table.Set(t)

	return nil
}

// attach publishes c as the live connection and starts its loop.
func (e *Engine) attach(c *conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown {
		return ErrClosed
	}

	e.conn = c
	e.opState.ToConnected()

	c.sched.Next()
	if err := c.tasks.Start("loop", e.loop(c)); err != nil {
		c.sched.Stop()
		e.conn = nil

		return err
	}

	return nil
}

// Enable allows the validator to accept bills.
func (e *Engine) Enable(ctx context.Context) error {
	if err := e.requireRole(profile.RoleValidator); err != nil {
		return err
	}

	_, err := e.submit(ctx, device.CommandEnable, nil)

	return err
}

// Disable stops the validator from accepting bills. While a bill is in flight
// the disable is deferred until the device is idle again; Disable then
// returns nil without waiting for it.
func (e *Engine) Disable(ctx context.Context) error {
	if err := e.requireRole(profile.RoleValidator); err != nil {
		return err
	}

	_, err := e.submit(ctx, device.CommandDisable, nil)

	return err
}

// Stack moves the bill in escrow into the cashbox. It fails with
// device.ErrNoEscrow when no bill is held and with link.ErrBusy when another
// command is pending.
func (e *Engine) Stack(ctx context.Context) error {
	if err := e.requireRole(profile.RoleValidator); err != nil {
		return err
	}

	_, err := e.submit(ctx, device.CommandStack, nil)

	return err
}

// Reject returns the bill in escrow to the customer.
func (e *Engine) Reject(ctx context.Context) error {
	if err := e.requireRole(profile.RoleValidator); err != nil {
		return err
	}

	_, err := e.submit(ctx, device.CommandReturn, nil)

	return err
}

// Dispense pays out counts[i] notes from cassette i.
//
// The per-cassette results are returned even when the device reports a
// fault, in which case the error is a *device.DeviceFault. A dispense is
// never sent twice: when the device took the command but its report is lost
// the error wraps ErrDispenseUnconfirmed and the notes must be reconciled by
// the caller.
func (e *Engine) Dispense(ctx context.Context, counts []int) ([]device.SlotResult, error) {
	if err := e.requireRole(profile.RoleDispenser); err != nil {
		return nil, err
	}

	// validate before reserving the link
	if _, err := e.profile.Dialect.Build(device.CommandDispense, counts); err != nil {
		return nil, err
	}

	st, err := e.submit(ctx, device.CommandDispense, counts)
	if err != nil {
		var te *link.TransmissionError
		if errors.As(err, &te) && te.Stage == link.StageResponse {
			e.logger.Error("engine: dispense report lost", "counts", counts, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrDispenseUnconfirmed, err)
		}

		return nil, err
	}

	slots := make([]device.SlotResult, len(counts))
	for i, n := range counts {
		slots[i] = device.SlotResult{Slot: i, Requested: n}
	}
	for _, r := range st.Slots {
		if r.Slot >= 0 && r.Slot < len(slots) {
			slots[r.Slot].Dispensed = r.Dispensed
			slots[r.Slot].Rejected = r.Rejected
		}
	}

	if st.Signal != device.SignalDispensed {
		return slots, &device.DeviceFault{State: e.State(), Signal: st.Signal, Reason: st.Reason}
	}

	return slots, nil
}

// Close stops the connection loop, invalidates any in-flight session, resets
// the device state to Start and closes Events. Events still waiting for
// delivery are dropped.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	c := e.conn
	e.mu.Unlock()

	var err error
	if c != nil {
		e.opState.ToClosing()
		err = c.link.Close()
		c.tasks.Stop()
		c.tasks.Wait()
		e.detach(c)
	}

	e.opState.ToClosed()
	e.setState(device.Start)

	e.bg.Stop()
	e.bg.Wait()
	e.flush()
	close(e.events)

	e.logger.Info("engine: closed")

	return err
}

// detach releases the connection state of c. It runs once per connection.
func (e *Engine) detach(c *conn) {
	c.once.Do(func() {
		_ = c.link.Close()
		c.link.Gate().Reset()
		c.sched.Stop()
		c.machine.Reset()
		close(c.done)

		e.mu.Lock()
		if e.conn == c {
			e.conn = nil
		}
		e.mu.Unlock()

		e.setState(device.Start)
		e.table.Reset()
		e.opState.ToClosed()
	})
}

func (e *Engine) current() *conn {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.conn
}

func (e *Engine) isShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.shutdown
}

func (e *Engine) requireRole(role profile.Role) error {
	if e.profile.Role != role {
		return fmt.Errorf("%w: %s is a %s", ErrWrongRole, e.profile.Name, e.profile.Role)
	}

	return nil
}

func (e *Engine) setState(s device.State) { e.state.Store(uint32(s)) }
