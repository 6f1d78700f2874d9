package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/internal/task"
	"github.com/arloliu/go-cashio/link"
)

// job is a command submitted through the API, run by the connection loop.
type job struct {
	ctx    context.Context
	cmd    device.Command
	counts []int
	result chan jobResult
}

type jobResult struct {
	status device.Status
	err    error
}

func (j *job) reply(st device.Status, err error) {
	j.result <- jobResult{status: st, err: err}
}

// submit admits cmd through the link gate and waits for the loop to run it.
//
// The command runs under the loop's context: once started it completes even
// if ctx ends first, and only the wait is abandoned.
func (e *Engine) submit(ctx context.Context, cmd device.Command, counts []int) (device.Status, error) {
	c := e.current()
	if c == nil || !e.opState.IsConnected() {
		return device.Status{}, ErrNotConnected
	}

	gate := c.link.Gate()
	if err := gate.Reserve(); err != nil {
		c.logger.Debug("engine: command refused", "command", cmd, "error", err)
		return device.Status{}, err
	}

	j := &job{ctx: ctx, cmd: cmd, counts: counts, result: make(chan jobResult, 1)}

	select {
	case c.jobs <- j:
	case <-c.done:
		gate.Cancel()
		return device.Status{}, ErrNotConnected
	case <-ctx.Done():
		gate.Cancel()
		return device.Status{}, ctx.Err()
	}

	select {
	case r := <-j.result:
		return r.status, r.err
	case <-c.done:
		return device.Status{}, ErrNotConnected
	case <-ctx.Done():
		return device.Status{}, ctx.Err()
	}
}

// loop returns the task body of the connection loop. Pending jobs take
// precedence over poll ticks.
func (e *Engine) loop(c *conn) task.Func {
	return func(ctx context.Context) bool {
		select {
		case j := <-c.jobs:
			e.runJob(ctx, c, j)
			return ctx.Err() == nil
		default:
		}

		select {
		case <-ctx.Done():
			return false

		case j := <-c.jobs:
			e.runJob(ctx, c, j)

		case <-c.sched.C():
			return e.poll(ctx, c)

		case <-c.machine.GuardC():
			e.publish(c, c.machine.GuardFired()...)
		}

		return ctx.Err() == nil
	}
}

// poll runs one status poll. It returns false once the device is considered
// disconnected or the loop is stopping.
func (e *Engine) poll(ctx context.Context, c *conn) bool {
	gate := c.link.Gate()
	if !gate.TryPoll() {
		c.sched.Next()
		return true
	}

	st, err := e.exchange(ctx, c, device.CommandPoll, nil)
	gate.Done()

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, link.ErrLinkClosed) {
			return false
		}

		if !errors.Is(err, link.ErrTransmissionFailure) {
			// answered, but not understood
			c.logger.Warn("engine: status not understood", "error", err)
			e.publish(c, c.machine.Error(err))
			c.pollFailures = 0
			c.sched.Next()

			return true
		}

		c.pollFailures++
		c.logger.Warn("engine: poll failed", "error", err, "failures", c.pollFailures)

		if c.pollFailures >= e.cfg.maxPollFailures {
			e.disconnect(c, err)
			return false
		}

		c.sched.Next()

		return true
	}

	c.pollFailures = 0
	c.sched.Next()
	e.apply(ctx, c, st)

	return true
}

func (e *Engine) runJob(ctx context.Context, c *conn, j *job) {
	gate := c.link.Gate()

	if err := j.ctx.Err(); err != nil {
		gate.Cancel()
		j.reply(device.Status{}, err)

		return
	}

	switch j.cmd {
	case device.CommandStack, device.CommandReturn:
		if _, ok := c.machine.Escrowed(); !ok {
			gate.Cancel()
			j.reply(device.Status{}, fmt.Errorf("%w: device is %s", device.ErrNoEscrow, c.machine.State()))

			return
		}
	case device.CommandDisable:
		if !c.machine.RequestDisable() {
			gate.Cancel()
			c.logger.Info("engine: disable deferred", "state", c.machine.State())
			j.reply(device.Status{}, nil)

			return
		}
	case device.CommandEnable:
		c.machine.RequestEnable()
	default:
	}

	if err := gate.Begin(); err != nil {
		gate.Cancel()
		j.reply(device.Status{}, err)

		return
	}

	c.sched.Suspend()
	st, err := e.exchange(ctx, c, j.cmd, j.counts)
	gate.Done()

	if err == nil {
		e.apply(ctx, c, st)
		if st.Signal == device.SignalCommandRejected {
			err = fmt.Errorf("%w: %s", device.ErrCommandRejected, j.cmd)
		}
	} else {
		c.logger.Warn("engine: command failed", "command", j.cmd, "error", err)
	}

	c.sched.Resume()
	j.reply(st, err)
}

// apply feeds a status report to the machine, publishes the resulting events
// and runs the follow-up commands it asks for.
func (e *Engine) apply(ctx context.Context, c *conn, st device.Status) {
	tr := c.machine.Apply(st)
	e.setState(tr.To)
	e.publish(c, tr.Events...)

	for _, a := range tr.Actions {
		e.followUp(ctx, c, a)
	}
}

func (e *Engine) followUp(ctx context.Context, c *conn, a device.Action) {
	cmd := a.Command()

	if err := c.link.Gate().BeginFollowUp(); err != nil {
		c.logger.Warn("engine: follow-up skipped", "action", a, "error", err)
		return
	}

	c.sched.Suspend()
	st, err := e.exchange(ctx, c, cmd, nil)
	c.link.Gate().Done()
	c.sched.Resume()

	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("engine: follow-up failed", "action", a, "error", err)
			e.publish(c, c.machine.Error(fmt.Errorf("engine: %s: %w", cmd, err)))
		}

		return
	}

	c.logger.Debug("engine: follow-up", "action", a, "status", st)
	e.apply(ctx, c, st)
}

// command runs cmd outside of the loop, holding the gate for its duration.
func (e *Engine) command(ctx context.Context, c *conn, cmd device.Command, counts []int) (device.Status, error) {
	gate := c.link.Gate()
	if err := gate.BeginFollowUp(); err != nil {
		return device.Status{}, err
	}
	defer gate.Done()

	return e.exchange(ctx, c, cmd, counts)
}

// exchange runs cmd over the link and decodes the status it answers.
func (e *Engine) exchange(ctx context.Context, c *conn, cmd device.Command, counts []int) (device.Status, error) {
	resp, req, err := e.roundTrip(ctx, c, cmd, counts)
	if err != nil {
		return device.Status{}, err
	}

	if req.NoReply {
		return device.Status{Signal: device.SignalAck}, nil
	}

	return e.profile.Dialect.ParseStatus(cmd, resp)
}

func (e *Engine) roundTrip(ctx context.Context, c *conn, cmd device.Command, counts []int) (*link.Response, *link.Request, error) {
	req, err := e.profile.Dialect.Build(cmd, counts)
	if err != nil {
		return nil, nil, err
	}

	e.countCommand(cmd)

	resp, err := c.link.Exchange(ctx, req)
	if err != nil {
		return nil, req, err
	}

	return resp, req, nil
}

// disconnect reports the device lost and releases the connection.
func (e *Engine) disconnect(c *conn, cause error) {
	c.logger.Error("engine: device disconnected", "error", cause, "failures", c.pollFailures)

	e.publish(c, c.machine.Disconnect(cause))
	e.detach(c)
}

func (e *Engine) countCommand(cmd device.Command) {
	n, _ := e.commands.LoadOrCompute(cmd.String(), func() *atomic.Uint64 {
		return &atomic.Uint64{}
	})
	n.Add(1)
}

func (e *Engine) publish(c *conn, events ...device.Event) {
	for _, ev := range events {
		c.logger.Debug("engine: event", "event", ev.Kind, "state", ev.State)
	}

	e.outbox.push(c.id, events...)
}
