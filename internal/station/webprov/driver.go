// Package webprov drives the device's embedded web UI through a browser:
// assign the serial number, exit to the bootloader, upload the firmware, log
// in after the reboot and read back config.json.
package webprov

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	fsmutil "github.com/autopeer-io/multiprog/internal/pkg/util/fsm"
	"github.com/autopeer-io/multiprog/pkg/log"
)

// States of a provisioning session.
const (
	StateIdle            = "idle"
	StateLaunched        = "launched"
	StateConfigOpened    = "factory_config_opened"
	StateConfigLoaded    = "factory_config_loaded"
	StateSerialFieldSeen = "serial_field_ready"
	StateSerialSubmitted = "serial_submitted"
	StateBootloader      = "bootloader_exited"
	StateUploaded        = "firmware_uploaded"
	StateLoginReady      = "login_ready"
	StateLoggedIn        = "logged_in"
	StateConfigFetched   = "config_fetched"
	StateDone            = "done"
	StateFailed          = "failed"

	eventFail = "fail"
)

// Elements of the device web UI.
var (
	SerialField       = CSS(`input[name="serialnumber"]`)
	UpdateButton      = CSS(`input[type="submit"][value="Update"]`)
	BootloaderButton  = XPath(`//button[text()="Exit to bootloader"]`)
	UploadInput       = CSS(`#Upload-FW`)
	UploadButton      = CSS(`div.fws-btn.fws-btn-upload`)
	UsernameField     = CSS(`input[aria-label="Username"]`)
	PasswordField     = CSS(`input[aria-label="Password"]`)
	LoginButton       = XPath(`//span[text()="Login"]`)
	readyPollInterval = 100 * time.Millisecond
)

// Timeouts bound each step of the session. Navigation itself is bounded only
// by the caller's context; PageLoad covers the wait for readyState "complete".
type Timeouts struct {
	PageLoad    time.Duration
	Element     time.Duration
	LoginScreen time.Duration
}

// Settle holds the fixed pauses the device UI needs between actions.
type Settle struct {
	AfterUpdate         time.Duration
	AfterUploadReady    time.Duration
	AfterUploadClick    time.Duration
	BeforeLoginClick    time.Duration
	AfterLogin          time.Duration
	AfterConfigNavigate time.Duration
}

// Config parameterizes a Driver.
type Config struct {
	Username string
	Password string
	Timeouts Timeouts
	Settle   Settle
}

// DefaultConfig returns the timings the device firmware is known to need.
func DefaultConfig() Config {
	return Config{
		Username: "admin",
		Password: "admin",
		Timeouts: Timeouts{
			PageLoad:    5 * time.Second,
			Element:     10 * time.Second,
			LoginScreen: 60 * time.Second,
		},
		Settle: Settle{
			AfterUpdate:         500 * time.Millisecond,
			AfterUploadReady:    500 * time.Millisecond,
			AfterUploadClick:    500 * time.Millisecond,
			BeforeLoginClick:    500 * time.Millisecond,
			AfterLogin:          3 * time.Second,
			AfterConfigNavigate: 500 * time.Millisecond,
		},
	}
}

// Result is the outcome of a session that got past login, or the partial
// state of one that did not.
type Result struct {
	Verified       bool
	ReportedSerial string
	// VerifyErr is set when config.json could not be fetched or parsed.
	VerifyErr error
	// State is the last state reached.
	State string
}

// stage is one transition of the session. Failures of soft stages only clear
// Verified; failures of the others abort the session with an AutomationError.
type stage struct {
	event   string
	dst     string
	timeout time.Duration
	soft    bool
	run     func(ctx context.Context, s *session) error
}

type session struct {
	cfg      Config
	clock    clock.Clock
	browser  Session
	baseURL  string
	serial   string
	firmware string
	body     string
	result   *Result
}

// Driver provisions one device per Provision call.
type Driver struct {
	launcher Launcher
	cfg      Config
	clock    clock.Clock
	stages   []stage
}

// NewDriver returns a Driver that opens sessions with launcher.
func NewDriver(launcher Launcher, cfg Config) *Driver {
	return NewDriverWithClock(launcher, cfg, clock.RealClock{})
}

// NewDriverWithClock is NewDriver with an injectable clock for settle delays.
func NewDriverWithClock(launcher Launcher, cfg Config, clk clock.Clock) *Driver {
	d := &Driver{launcher: launcher, cfg: cfg, clock: clk}
	d.stages = d.buildStages()
	return d
}

func (d *Driver) buildStages() []stage {
	t := d.cfg.Timeouts
	return []stage{
		{event: "launch", dst: StateLaunched, run: d.launch},
		{event: "open_factory_config", dst: StateConfigOpened, run: openFactoryConfig},
		{event: "await_page_load", dst: StateConfigLoaded, timeout: t.PageLoad, run: awaitPageLoad},
		{event: "await_serial_field", dst: StateSerialFieldSeen, timeout: t.Element, run: awaitElement(SerialField)},
		{event: "submit_serial", dst: StateSerialSubmitted, timeout: t.Element, run: submitSerial},
		{event: "exit_bootloader", dst: StateBootloader, timeout: t.Element, run: exitToBootloader},
		{event: "upload_firmware", dst: StateUploaded, timeout: t.Element, run: uploadFirmware},
		{event: "await_login", dst: StateLoginReady, timeout: t.LoginScreen, run: awaitElement(UsernameField)},
		{event: "log_in", dst: StateLoggedIn, timeout: t.Element, run: logIn},
		{event: "fetch_config", dst: StateConfigFetched, timeout: t.Element, soft: true, run: fetchConfig},
		{event: "verify", dst: StateDone, soft: true, run: verify},
	}
}

func (d *Driver) newMachine() *fsm.FSM {
	events := make(fsm.Events, 0, len(d.stages)+1)
	src := StateIdle
	live := []string{StateIdle}
	for _, st := range d.stages {
		events = append(events, fsm.EventDesc{Name: st.event, Src: []string{src}, Dst: st.dst})
		src = st.dst
		if st.dst != StateDone {
			live = append(live, st.dst)
		}
	}
	events = append(events, fsm.EventDesc{Name: eventFail, Src: live, Dst: StateFailed})

	return fsm.NewFSM(StateIdle, events, fsm.Callbacks{
		"enter_state": fsmutil.LogTransitions("webprov"),
		"enter_" + StateFailed: func(ctx context.Context, e *fsm.Event) {
			log.FromContext(ctx).Warn("Web provisioning failed", "from", e.Src, "error", fsmutil.ErrorArg(e))
		},
	})
}

// Provision runs the full session against the device at baseURL. An error is
// returned only for failures up to and including login; verification problems
// are reported through Result. The browser is always closed.
func (d *Driver) Provision(ctx context.Context, baseURL, serial, firmwarePath string) (*Result, error) {
	s := &session{
		cfg:      d.cfg,
		clock:    d.clock,
		baseURL:  strings.TrimRight(baseURL, "/"),
		serial:   serial,
		firmware: firmwarePath,
		result:   &Result{State: StateIdle},
	}
	defer func() {
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				log.FromContext(ctx).Warn("Failed to close browser session", "error", err)
			}
		}
	}()

	machine := d.newMachine()
	// Transitions are bookkeeping; they must still run after ctx is cancelled.
	fsmCtx := context.WithoutCancel(ctx)

	for _, st := range d.stages {
		stageCtx, cancel := ctx, context.CancelFunc(func() {})
		if st.timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, st.timeout)
		}
		err := st.run(stageCtx, s)
		cancel()

		if err != nil {
			if st.soft && ctx.Err() == nil {
				s.result.VerifyErr = err
				s.result.State = machine.Current()
				log.FromContext(ctx).Warn("Serial number could not be verified", "stage", st.event, "error", err)
				return s.result, nil
			}
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				err = fmt.Errorf("%s timed out after %s: %w", st.event, st.timeout, err)
			}
			_ = machine.Event(fsmCtx, eventFail, err)
			s.result.State = machine.Current()
			return s.result, &AutomationError{State: st.dst, Err: err}
		}

		if err := machine.Event(fsmCtx, st.event); err != nil {
			return s.result, &AutomationError{State: st.dst, Err: err}
		}
		s.result.State = machine.Current()
	}

	return s.result, nil
}

func (d *Driver) launch(ctx context.Context, s *session) error {
	b, err := d.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	s.browser = b
	return nil
}

func (s *session) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func openFactoryConfig(ctx context.Context, s *session) error {
	if err := s.browser.Navigate(ctx, s.baseURL+"/factoryconfig"); err != nil {
		return fmt.Errorf("open factory config page: %w", err)
	}
	return nil
}

func awaitPageLoad(ctx context.Context, s *session) error {
	for {
		state, err := s.browser.ReadyState(ctx)
		if err != nil {
			return fmt.Errorf("read document state: %w", err)
		}
		if state == "complete" {
			return nil
		}
		if err := s.pause(ctx, readyPollInterval); err != nil {
			return fmt.Errorf("factory config page stuck in %q: %w", state, err)
		}
	}
}

func awaitElement(sel Selector) func(ctx context.Context, s *session) error {
	return func(ctx context.Context, s *session) error {
		if err := s.browser.AwaitElement(ctx, sel); err != nil {
			return fmt.Errorf("await %s: %w", sel, err)
		}
		return nil
	}
}

func submitSerial(ctx context.Context, s *session) error {
	if err := s.browser.Clear(ctx, SerialField); err != nil {
		return fmt.Errorf("clear serial field: %w", err)
	}
	if err := s.browser.SendKeys(ctx, SerialField, s.serial); err != nil {
		return fmt.Errorf("type serial number: %w", err)
	}
	if err := s.browser.Click(ctx, UpdateButton); err != nil {
		return fmt.Errorf("click update: %w", err)
	}
	return s.pause(ctx, s.cfg.Settle.AfterUpdate)
}

func exitToBootloader(ctx context.Context, s *session) error {
	if err := s.browser.Click(ctx, BootloaderButton); err != nil {
		return fmt.Errorf("click exit to bootloader: %w", err)
	}
	if err := s.browser.AwaitElement(ctx, UploadInput); err != nil {
		return fmt.Errorf("await firmware upload form: %w", err)
	}
	return s.pause(ctx, s.cfg.Settle.AfterUploadReady)
}

func uploadFirmware(ctx context.Context, s *session) error {
	if err := s.browser.SetUploadFile(ctx, UploadInput, s.firmware); err != nil {
		return fmt.Errorf("attach firmware %s: %w", s.firmware, err)
	}
	if err := s.browser.Click(ctx, UploadButton); err != nil {
		return fmt.Errorf("click upload: %w", err)
	}
	return s.pause(ctx, s.cfg.Settle.AfterUploadClick)
}

func logIn(ctx context.Context, s *session) error {
	if err := s.browser.SendKeys(ctx, UsernameField, s.cfg.Username); err != nil {
		return fmt.Errorf("type username: %w", err)
	}
	if err := s.browser.SendKeys(ctx, PasswordField, s.cfg.Password); err != nil {
		return fmt.Errorf("type password: %w", err)
	}
	if err := s.pause(ctx, s.cfg.Settle.BeforeLoginClick); err != nil {
		return err
	}
	if err := s.browser.Click(ctx, LoginButton); err != nil {
		return fmt.Errorf("click login: %w", err)
	}
	return s.pause(ctx, s.cfg.Settle.AfterLogin)
}

func fetchConfig(ctx context.Context, s *session) error {
	if err := s.browser.Navigate(ctx, s.baseURL+"/config.json"); err != nil {
		return fmt.Errorf("open config.json: %w", err)
	}
	if err := s.pause(ctx, s.cfg.Settle.AfterConfigNavigate); err != nil {
		return err
	}
	body, err := s.browser.BodyText(ctx)
	if err != nil {
		return fmt.Errorf("read config.json: %w", err)
	}
	s.body = body
	return nil
}

func verify(ctx context.Context, s *session) error {
	ok, reported, err := VerifySerial(s.body, s.serial)
	if err != nil {
		return err
	}
	s.result.Verified = ok
	s.result.ReportedSerial = reported
	if !ok {
		log.FromContext(ctx).Warn("Serial number mismatch", "expected", s.serial, "reported", reported)
	}
	return nil
}
