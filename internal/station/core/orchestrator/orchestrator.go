// Package orchestrator drains a queue of unit tasks through the provisioning
// workflow, one unit at a time, and delivers every event to the observers in
// the order it was produced.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/multiprog/internal/station/core"
	"github.com/autopeer-io/multiprog/internal/station/core/model"
	"github.com/autopeer-io/multiprog/pkg/log"
)

var (
	// ErrConfirmationRequired is returned by Abort while a unit is in flight
	// and the caller did not confirm.
	ErrConfirmationRequired = errors.New("a unit is being provisioned, abort must be confirmed")

	// ErrQueueEmpty is returned by Start when there is nothing to do.
	ErrQueueEmpty = errors.New("no tasks queued")

	// ErrNoTasks is returned by EnqueueAll for an empty batch.
	ErrNoTasks = errors.New("batch contains no tasks")

	// ErrStopped is returned once Run has returned.
	ErrStopped = errors.New("orchestrator is stopped")
)

// Runner provisions one unit. It is implemented by workflow.Workflow.
type Runner interface {
	Run(ctx context.Context, task *model.UnitTask, emitter core.Emitter) *model.Outcome
}

// Config tunes the orchestrator.
type Config struct {
	// ShutdownGrace bounds how long Run waits for the in-flight unit after its
	// context is cancelled.
	ShutdownGrace time.Duration

	// EventBuffer is the capacity of the channel between workflow and loop.
	EventBuffer int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{ShutdownGrace: 10 * time.Second, EventBuffer: 64}
}

// Status is a point-in-time view of the queue.
type Status struct {
	Processing bool            `json:"processing"`
	Current    *model.UnitTask `json:"current,omitempty"`
	Queued     []string        `json:"queued"`
	Summary    model.Summary   `json:"summary"`
}

// item travels from the worker to the loop. A worker sends its events and
// finally its outcome on one channel, so Finished of unit N is always
// delivered before anything of unit N+1.
type item struct {
	ev      model.Event
	outcome *model.Outcome
}

type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// Orchestrator owns the task queue. All state is touched only by the Run loop;
// the exported methods hand closures to it.
type Orchestrator struct {
	cfg       Config
	runner    Runner
	observers []core.Observer
	guard     func() error
	clock     clock.Clock

	cmds    chan command
	items   chan item
	stopped chan struct{}

	// loop-owned state
	queue      []*model.UnitTask
	processing bool
	current    *model.UnitTask
	cancelUnit context.CancelFunc
	summary    model.Summary
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObservers adds event observers. They are called from the Run loop in
// event order.
func WithObservers(obs ...core.Observer) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, obs...)
	}
}

// WithEnqueueGuard installs a precondition checked by EnqueueAll, e.g. that
// the control link is open.
func WithEnqueueGuard(guard func() error) Option {
	return func(o *Orchestrator) {
		o.guard = guard
	}
}

// WithClock sets the clock used for event timestamps and the shutdown grace.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// New returns an Orchestrator; nothing happens until Run is called.
func New(cfg Config, runner Runner, opts ...Option) *Orchestrator {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	o := &Orchestrator{
		cfg:     cfg,
		runner:  runner,
		clock:   clock.RealClock{},
		cmds:    make(chan command),
		items:   make(chan item, cfg.EventBuffer),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run is the owner loop. It returns when ctx is cancelled, after the in-flight
// unit finished or the shutdown grace elapsed.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.stopped)
	log.Info("Orchestrator started")

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			log.Info("Orchestrator stopped")
			return nil
		case cmd := <-o.cmds:
			cmd.reply <- cmd.fn(ctx)
		case it := <-o.items:
			o.handle(ctx, it)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, it item) {
	if it.ev != nil {
		o.deliver(it.ev)
		return
	}
	o.record(it.outcome)
	o.current = nil
	if o.cancelUnit != nil {
		o.cancelUnit()
		o.cancelUnit = nil
	}
	o.next(ctx)
}

func (o *Orchestrator) record(out *model.Outcome) {
	if out == nil {
		return
	}
	o.summary.Total++
	if out.OK() {
		o.summary.Succeeded++
	} else {
		o.summary.Failed++
	}
	if out.SerialVerified {
		o.summary.Verified++
	}
}

// next starts the head of the queue, or reports the queue drained.
func (o *Orchestrator) next(ctx context.Context) {
	if len(o.queue) == 0 {
		if o.processing {
			o.processing = false
			o.deliver(model.Drained{At: o.clock.Now(), Summary: o.summary})
		}
		return
	}

	task := o.queue[0]
	o.queue = o.queue[1:]
	o.current = task

	o.deliver(model.RowPending{
		At:           o.clock.Now(),
		Key:          task.Key,
		Row:          task.Row(),
		SerialNumber: task.SerialNumber,
		Queued:       len(o.queue),
	})

	unitCtx, cancel := context.WithCancel(ctx)
	o.cancelUnit = cancel

	emitter := core.EmitterFunc(func(ev model.Event) {
		select {
		case o.items <- item{ev: ev}:
		case <-o.stopped:
		}
	})

	go func() {
		out := o.runner.Run(unitCtx, task, emitter)
		select {
		case o.items <- item{outcome: out}:
		case <-o.stopped:
		}
	}()
}

func (o *Orchestrator) deliver(ev model.Event) {
	for _, obs := range o.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error(fmt.Errorf("%v", r), "Event observer panicked", "kind", ev.Kind())
				}
			}()
			obs.Observe(ev)
		}()
	}
}

// shutdown cancels the in-flight unit and keeps delivering its events until
// it reports its outcome or the grace period ends.
func (o *Orchestrator) shutdown() {
	o.queue = nil
	if o.current == nil {
		return
	}

	log.Warn("Shutting down with a unit in flight", "key", o.current.Key, "grace", o.cfg.ShutdownGrace)
	o.summary.Aborted = true
	if o.cancelUnit != nil {
		o.cancelUnit()
	}

	timeout := o.clock.After(o.cfg.ShutdownGrace)
	for {
		select {
		case it := <-o.items:
			if it.ev != nil {
				o.deliver(it.ev)
				continue
			}
			o.record(it.outcome)
			o.current = nil
			o.processing = false
			o.deliver(model.Drained{At: o.clock.Now(), Summary: o.summary})
			return
		case <-timeout:
			log.Warn("In-flight unit did not stop within the shutdown grace", "key", o.current.Key)
			return
		}
	}
}

// call runs fn on the loop and waits for its result.
func (o *Orchestrator) call(fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case o.cmds <- command{fn: fn, reply: reply}:
	case <-o.stopped:
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-o.stopped:
		return ErrStopped
	}
}

// EnqueueAll validates tasks and appends them to the queue. Nothing is
// enqueued if any task is invalid.
func (o *Orchestrator) EnqueueAll(tasks []*model.UnitTask) error {
	if len(tasks) == 0 {
		return ErrNoTasks
	}
	var errs []error
	for _, t := range tasks {
		if t == nil {
			errs = append(errs, errors.New("nil task"))
			continue
		}
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	copied := make([]*model.UnitTask, len(tasks))
	for i, t := range tasks {
		c := *t
		copied[i] = &c
	}

	return o.call(func(ctx context.Context) error {
		if o.guard != nil {
			if err := o.guard(); err != nil {
				return err
			}
		}
		o.queue = append(o.queue, copied...)
		log.Info("Tasks enqueued", "count", len(copied), "queued", len(o.queue))
		return nil
	})
}

// Start begins draining the queue. It is a no-op while already draining.
func (o *Orchestrator) Start() error {
	return o.call(func(ctx context.Context) error {
		if o.processing {
			return nil
		}
		if len(o.queue) == 0 {
			return ErrQueueEmpty
		}
		o.processing = true
		o.summary = model.Summary{}
		o.next(ctx)
		return nil
	})
}

// Abort drops every queued task and cancels the unit in flight. Cancelling a
// unit needs confirm; the unit still reports Finished before the queue drains.
func (o *Orchestrator) Abort(confirm bool) error {
	return o.call(func(ctx context.Context) error {
		if o.current != nil && !confirm {
			return ErrConfirmationRequired
		}
		dropped := len(o.queue)
		o.queue = nil
		if o.current != nil {
			o.summary.Aborted = true
			log.Warn("Aborting unit in flight", "key", o.current.Key, "dropped", dropped)
			o.cancelUnit()
		} else if dropped > 0 {
			log.Info("Queue cleared", "dropped", dropped)
		}
		return nil
	})
}

// Snapshot returns the current queue state.
func (o *Orchestrator) Snapshot() (Status, error) {
	var st Status
	err := o.call(func(ctx context.Context) error {
		st.Processing = o.processing
		if o.current != nil {
			c := *o.current
			st.Current = &c
		}
		st.Queued = make([]string, 0, len(o.queue))
		for _, t := range o.queue {
			st.Queued = append(st.Queued, t.Key)
		}
		st.Summary = o.summary
		return nil
	})
	return st, err
}

// Busy reports whether a unit is in flight or queued.
func (o *Orchestrator) Busy() bool {
	st, err := o.Snapshot()
	return err == nil && (st.Processing || len(st.Queued) > 0)
}
