// Package workflow provisions a single unit: select its socket, flash the
// bootloader, bring it up in service mode and drive its web UI.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/multiprog/internal/station/core"
	"github.com/autopeer-io/multiprog/internal/station/core/model"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/pkg/log"
)

// MessageSuccess is the Finished message of a unit without a terminal error.
const MessageSuccess = "Successfully processed"

var (
	// ErrBootloaderFailed is the terminal error of a failed flash check.
	ErrBootloaderFailed = errors.New("bootloader upload failed")

	// ErrNotReady means the device web server never accepted a connection.
	ErrNotReady = errors.New("device web server did not become ready")
)

// Config holds the device-facing parameters of a run.
type Config struct {
	DeviceAddr   string
	BaseURL      string
	ReadyTimeout time.Duration
	SelectSettle time.Duration
	ResetSettle  time.Duration
}

// DefaultConfig returns the fixture's stock addressing and timing.
func DefaultConfig() Config {
	return Config{
		DeviceAddr:   "192.168.0.100:80",
		BaseURL:      "http://192.168.0.100",
		ReadyTimeout: 30 * time.Second,
		SelectSettle: time.Second,
		ResetSettle:  2 * time.Second,
	}
}

// Workflow runs units one at a time. It holds no per-unit state and may be
// reused for every task of a batch.
type Workflow struct {
	cfg    Config
	link   core.FrameSender
	flash  core.Flasher
	waiter core.ReadinessWaiter
	web    core.WebProvisioner
	images core.ImageStore
	clock  clock.Clock
}

// New returns a Workflow. images may be nil, in which case image references
// are used as local paths.
func New(cfg Config, l core.FrameSender, f core.Flasher, w core.ReadinessWaiter, web core.WebProvisioner, images core.ImageStore) *Workflow {
	return &Workflow{
		cfg:    cfg,
		link:   l,
		flash:  f,
		waiter: w,
		web:    web,
		images: images,
		clock:  clock.RealClock{},
	}
}

// WithClock replaces the clock used for settle delays and event timestamps.
func (w *Workflow) WithClock(c clock.Clock) *Workflow {
	w.clock = c
	return w
}

// unit tracks what has been reported for the task so that every unit emits
// BootloaderResult, SerialVerifyResult and Finished exactly once, in order.
type unit struct {
	w       *Workflow
	task    *model.UnitTask
	emitter core.Emitter
	outcome *model.Outcome
	logger  log.Logger

	bootReported   bool
	verifyReported bool
}

// Run provisions task and returns its outcome. It never panics and never
// returns an error: every failure ends up in the outcome and in the Finished
// event.
func (w *Workflow) Run(ctx context.Context, task *model.UnitTask, emitter core.Emitter) (outcome *model.Outcome) {
	logger := log.FromContext(ctx).WithValues("key", task.Key, "serial", task.SerialNumber, "cycle", task.CycleNumber)
	ctx = log.IntoContext(ctx, logger)

	u := &unit{
		w:       w,
		task:    task,
		emitter: emitter,
		outcome: &model.Outcome{Key: task.Key, SerialNumber: task.SerialNumber, Row: task.Row()},
		logger:  logger,
	}
	start := w.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("%v", r), "Workflow panicked", "stack", string(debug.Stack()))
			u.outcome.TerminalError = fmt.Errorf("internal error: %v", r)
		}
		u.finish(w.clock.Since(start))
		outcome = u.outcome
	}()

	u.progress(fmt.Sprintf("Starting automation for %s...", task.SerialNumber))
	u.outcome.TerminalError = u.run(ctx)
	return u.outcome
}

func (u *unit) run(ctx context.Context) error {
	w, task := u.w, u.task

	if err := task.Validate(); err != nil {
		return err
	}

	bootPath, releaseBoot, err := u.fetch(ctx, task.BootloaderImage)
	if err != nil {
		return err
	}
	defer releaseBoot()

	fwPath, releaseFw, err := u.fetch(ctx, task.FirmwareImage)
	if err != nil {
		return err
	}
	defer releaseFw()

	// Reset then select the socket in bootloader mode.
	if err := u.send(ctx, link.ResetFrame(), w.cfg.SelectSettle); err != nil {
		return err
	}
	bootFrame, err := link.BootloaderFrame(task.CycleNumber)
	if err != nil {
		return err
	}
	if err := u.send(ctx, bootFrame, w.cfg.SelectSettle); err != nil {
		return err
	}

	u.progress("Flashing bootloader...")
	res, err := w.flash.Flash(ctx, bootPath)
	if err != nil {
		return fmt.Errorf("flash bootloader: %w", err)
	}
	u.reportBootloader(res.Succeeded())
	if !res.Succeeded() {
		log.FromContext(ctx).Warn("Flash check failed", "exitCode", res.ExitCode, "stdout", res.Stdout)
		return ErrBootloaderFailed
	}

	// Power-cycle into service mode.
	if err := u.send(ctx, link.ResetFrame(), w.cfg.ResetSettle); err != nil {
		return err
	}
	svcFrame, err := link.ServiceFrame(task.CycleNumber)
	if err != nil {
		return err
	}
	if err := u.send(ctx, svcFrame, 0); err != nil {
		return err
	}

	u.progress(fmt.Sprintf("Waiting for device at %s...", w.cfg.DeviceAddr))
	if !w.waiter.WaitReady(ctx, w.cfg.DeviceAddr, w.cfg.ReadyTimeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w within %s", ErrNotReady, w.cfg.ReadyTimeout)
	}

	u.progress("Provisioning through the device web UI...")
	webRes, err := w.web.Provision(ctx, w.cfg.BaseURL, task.SerialNumber, fwPath)
	if err != nil {
		return err
	}

	u.outcome.SerialVerified = webRes.Verified
	u.reportVerify(webRes.Verified)
	return nil
}

func (u *unit) fetch(ctx context.Context, ref string) (string, func(), error) {
	if u.w.images == nil {
		return ref, func() {}, nil
	}
	path, release, err := u.w.images.Fetch(ctx, ref)
	if err != nil {
		return "", nil, fmt.Errorf("fetch image %s: %w", ref, err)
	}
	if release == nil {
		release = func() {}
	}
	return path, release, nil
}

func (u *unit) send(ctx context.Context, f link.Frame, settle time.Duration) error {
	if err := u.w.link.Send(f); err != nil {
		return err
	}
	log.FromContext(ctx).Debug("Control frame written", "frame", f.String(), "settle", settle)
	if settle <= 0 {
		return ctx.Err()
	}
	select {
	case <-u.w.clock.After(settle):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *unit) emit(ev model.Event) {
	if u.emitter != nil {
		u.emitter.Emit(ev)
	}
}

func (u *unit) progress(text string) {
	u.emit(model.Progress{At: u.w.clock.Now(), Key: u.task.Key, Text: text})
}

func (u *unit) reportBootloader(ok bool) {
	if u.bootReported {
		return
	}
	u.bootReported = true
	u.outcome.BootloaderOK = ok
	u.emit(model.BootloaderResult{At: u.w.clock.Now(), Key: u.task.Key, Row: u.task.Row(), OK: ok})
}

func (u *unit) reportVerify(ok bool) {
	if u.verifyReported {
		return
	}
	u.verifyReported = true
	u.emit(model.SerialVerifyResult{At: u.w.clock.Now(), Key: u.task.Key, Row: u.task.Row(), OK: ok})
}

// finish fills in any indicator not yet reported and emits Finished.
func (u *unit) finish(elapsed time.Duration) {
	u.reportBootloader(false)
	u.reportVerify(false)

	o := u.outcome
	o.Duration = elapsed
	if o.TerminalError != nil {
		o.Message = o.TerminalError.Error()
	} else {
		o.Message = MessageSuccess
	}

	u.emit(model.Finished{
		At:           u.w.clock.Now(),
		Key:          u.task.Key,
		Row:          u.task.Row(),
		SerialNumber: u.task.SerialNumber,
		OK:           o.OK(),
		Message:      o.Message,
	})

	if o.OK() {
		u.logger.Info("Unit processed", "verified", o.SerialVerified, "duration", elapsed)
	} else {
		u.logger.Warn("Unit failed", "error", o.TerminalError, "duration", elapsed)
	}
}
