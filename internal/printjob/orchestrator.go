// Package printjob drives a printer through one complete print: density,
// model specific setup, page framing, row streaming and the wait for the
// device to report completion.
package printjob

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"niimbot-print/internal/correlate"
	"niimbot-print/internal/observability"
	"niimbot-print/internal/protocol"
)

const (
	DefaultStepTimeout       = 2 * time.Second
	DefaultCompletionTimeout = 10 * time.Second
	DefaultRowDelay          = 10 * time.Millisecond
	DefaultPollInterval      = 100 * time.Millisecond

	// KeyJob is the bus key job transitions are published under
	KeyJob = "job"
)

// Device is the printer surface a job needs
type Device interface {
	Send(ctx context.Context, pkt protocol.Packet) error
	Correlate(ctx context.Context, key string, timeout time.Duration, send correlate.SendFunc) error
	Await(ctx context.Context, key string, timeout time.Duration, send correlate.SendFunc, match correlate.MatchFunc) (any, error)
}

// Publisher receives job transitions
type Publisher interface {
	Publish(key string, payload any)
}

// Event is published under KeyJob on every transition
type Event struct {
	ID    uuid.UUID
	State State
	Err   error
}

// Result summarizes a finished run
type Result struct {
	Job      Job
	State    State
	Err      error
	Started  time.Time
	Finished time.Time
}

// Hooks observe a single run
type Hooks struct {
	// Progress is called with the current state and the fraction done
	Progress func(State, float64)
	// OnFinish is called once per run, successful or not
	OnFinish func(Result)
}

// Orchestrator runs print jobs one at a time
type Orchestrator struct {
	StepTimeout       time.Duration
	CompletionTimeout time.Duration
	RowDelay          time.Duration
	PollInterval      time.Duration

	dev     Device
	bus     Publisher
	log     *zap.Logger
	running atomic.Bool
	// hooks belong to the run holding running
	hooks Hooks
}

func New(dev Device, bus Publisher, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		StepTimeout:       DefaultStepTimeout,
		CompletionTimeout: DefaultCompletionTimeout,
		RowDelay:          DefaultRowDelay,
		PollInterval:      DefaultPollInterval,
		dev:               dev,
		bus:               bus,
		log:               log,
	}
}

// Running reports whether a job is in progress
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run prints job and blocks until it is done or failed. A failed step
// aborts the rest of the sequence and returns a *JobError; nothing is
// rolled back or retried. Cancelling ctx cancels the pending step.
func (o *Orchestrator) Run(ctx context.Context, job Job) error {
	return o.RunWith(ctx, job, Hooks{})
}

// RunWith is Run reporting to hooks. A call rejected with ErrBusy leaves
// the hooks of the running job in place.
func (o *Orchestrator) RunWith(ctx context.Context, job Job, hooks Hooks) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer o.running.Store(false)
	o.hooks = hooks
	defer func() { o.hooks = Hooks{} }()

	res := Result{Started: time.Now()}
	state, err := o.run(ctx, &job)
	res.Job, res.State, res.Err, res.Finished = job, state, err, time.Now()

	result := "ok"
	switch {
	case err == nil:
		o.log.Info("job: done", zap.Stringer("id", job.ID), zap.Duration("elapsed", res.Finished.Sub(res.Started)))
	case errors.Is(err, context.Canceled):
		result = "canceled"
		o.log.Warn("job: canceled", zap.Stringer("id", job.ID), zap.Stringer("state", state))
	default:
		result = "failed"
		o.log.Error("job: failed", zap.Stringer("id", job.ID), zap.Stringer("state", state), zap.Error(err))
	}
	observability.RecordJob(state.String(), result)
	o.publish(job.ID, state, err)
	if o.hooks.OnFinish != nil {
		o.hooks.OnFinish(res)
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, job *Job) (State, error) {
	if err := job.normalize(); err != nil {
		return Idle, &JobError{State: Idle, Err: err}
	}
	profile := ProfileFor(job.Model)
	o.log.Info("job: starting",
		zap.Stringer("id", job.ID),
		zap.String("profile", profile.Name),
		zap.Uint16("width", job.Width),
		zap.Uint16("height", job.Height),
		zap.Uint16("quantity", job.Quantity),
	)

	// rows are packed up front so a bad raster fails before anything prints
	rows, err := packRows(job.Rows)
	if err != nil {
		return StreamRows, &JobError{State: StreamRows, Err: err}
	}

	steps := []State{SetDensity}
	steps = append(steps, profile.PreSteps...)
	steps = append(steps, StartPrint, StartPage, SetDimension)
	if job.Quantity > 1 {
		steps = append(steps, SetQuantity)
	}
	steps = append(steps, SetDensity, StreamRows, EndPage, AwaitCompletion, EndPrint)

	for _, state := range steps {
		o.enter(job.ID, state)
		var err error
		switch state {
		case StreamRows:
			err = o.streamRows(ctx, rows)
		case AwaitCompletion:
			err = o.awaitCompletion(ctx)
		default:
			err = o.command(ctx, commandFor(state, job))
		}
		if err != nil {
			return state, &JobError{State: state, Err: err}
		}
	}
	o.report(Done, 1)
	return Done, nil
}

func (o *Orchestrator) enter(id uuid.UUID, state State) {
	o.log.Debug("job: step", zap.Stringer("id", id), zap.Stringer("state", state))
	o.publish(id, state, nil)
	o.report(state, 0)
}

func (o *Orchestrator) publish(id uuid.UUID, state State, err error) {
	if o.bus != nil {
		o.bus.Publish(KeyJob, Event{ID: id, State: state, Err: err})
	}
}

func (o *Orchestrator) report(state State, fraction float64) {
	if o.hooks.Progress != nil {
		o.hooks.Progress(state, fraction)
	}
}

// commandFor returns the acknowledged command of a correlated step
func commandFor(state State, job *Job) protocol.Packet {
	switch state {
	case SetDensity:
		return protocol.SetLabelDensity(job.Density)
	case SetLabelType:
		return protocol.SetLabelType(job.LabelType)
	case CancelPrint:
		return protocol.CancelPrint()
	case StartPrint:
		return protocol.StartPrint()
	case StartPage:
		return protocol.StartPagePrint()
	case SetDimension:
		return protocol.SetDimension(job.Height, job.Width)
	case SetQuantity:
		return protocol.SetQuantity(job.Quantity)
	case EndPage:
		return protocol.EndPagePrint()
	case EndPrint:
		return protocol.EndPrint()
	}
	panic(fmt.Sprintf("printjob: no command for state %s", state))
}

func (o *Orchestrator) command(ctx context.Context, pkt protocol.Packet) error {
	return o.dev.Correlate(ctx, protocol.AckKey(pkt.Code()), o.StepTimeout, func(ctx context.Context) error {
		return o.dev.Send(ctx, pkt)
	})
}

func packRows(rows []string) ([]protocol.Packet, error) {
	packets := make([]protocol.Packet, len(rows))
	for i, row := range rows {
		pkt, err := protocol.PrintRow(uint16(i), row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		packets[i] = pkt
	}
	return packets, nil
}

// streamRows writes every row packet, pausing RowDelay between rows so the
// device buffer keeps up
func (o *Orchestrator) streamRows(ctx context.Context, rows []protocol.Packet) error {
	total := len(rows)
	for i, pkt := range rows {
		if i > 0 && o.RowDelay > 0 {
			if err := sleep(ctx, o.RowDelay); err != nil {
				return err
			}
		}
		if err := o.dev.Send(ctx, pkt); err != nil {
			return fmt.Errorf("%w: %w", correlate.ErrSendFailed, err)
		}
		fraction := float64(i+1) / float64(total)
		if i == total-1 {
			fraction = 1
		}
		o.report(StreamRows, fraction)
	}
	return nil
}

// awaitCompletion polls the print status until the device reports the
// page fully printed
func (o *Orchestrator) awaitCompletion(ctx context.Context) error {
	poll := func(ctx context.Context) error {
		for {
			if err := o.dev.Send(ctx, protocol.GetPrintStatus()); err != nil {
				return err
			}
			if err := sleep(ctx, o.PollInterval); err != nil {
				return err
			}
		}
	}
	match := func(v any) (bool, error) {
		status, ok := v.(protocol.PrintStatus)
		if !ok {
			return false, nil
		}
		o.report(AwaitCompletion, float64(min(status.Progress2, 100))/100)
		return status.Succeeded(), nil
	}
	_, err := o.dev.Await(ctx, protocol.KeyPrintStatus, o.CompletionTimeout, poll, match)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
