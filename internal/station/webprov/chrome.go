package webprov

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/go-logr/logr"
)

// ChromeLauncher starts Chrome (or attaches to a running one) over the
// DevTools protocol.
type ChromeLauncher struct {
	// ExecPath is the browser binary; empty means chromedp's lookup.
	ExecPath string
	// RemoteURL attaches to an existing browser instead of launching one.
	RemoteURL string
	Headless  bool
	Logger    logr.Logger
}

var _ Launcher = (*ChromeLauncher)(nil)

// Launch starts the browser and opens a tab. The first Run allocates the
// browser; it must not carry a deadline or the browser dies with it.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if l.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, l.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", l.Headless),
			chromedp.NoSandbox,
			chromedp.DisableGPU,
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-extensions", true),
		)
		if l.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(l.ExecPath))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}

	logger := l.Logger
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.V(1).Info(fmt.Sprintf(format, args...))
		}),
		chromedp.WithDebugf(func(format string, args ...any) {
			logger.V(2).Info(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Error(fmt.Errorf(format, args...), "Browser error")
		}),
	)

	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, err
	}

	return &chromeSession{ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

type chromeSession struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// run executes actions on the tab, bounded by the caller's deadline and
// cancellation as well as the tab's own lifetime.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		rctx, cancelDeadline = context.WithDeadline(rctx, dl)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func by(sel Selector) chromedp.QueryOption {
	if sel.By == ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromeSession) ReadyState(ctx context.Context) (string, error) {
	var state string
	err := s.run(ctx, chromedp.Evaluate(`document.readyState`, &state))
	return state, err
}

func (s *chromeSession) AwaitElement(ctx context.Context, sel Selector) error {
	return s.run(ctx, chromedp.WaitReady(sel.Expr, by(sel)))
}

func (s *chromeSession) Clear(ctx context.Context, sel Selector) error {
	return s.run(ctx, chromedp.Clear(sel.Expr, by(sel)))
}

func (s *chromeSession) SendKeys(ctx context.Context, sel Selector, text string) error {
	return s.run(ctx, chromedp.SendKeys(sel.Expr, text, by(sel)))
}

func (s *chromeSession) Click(ctx context.Context, sel Selector) error {
	return s.run(ctx, chromedp.Click(sel.Expr, by(sel), chromedp.NodeVisible))
}

func (s *chromeSession) SetUploadFile(ctx context.Context, sel Selector, path string) error {
	return s.run(ctx, chromedp.SetUploadFiles(sel.Expr, []string{path}, by(sel)))
}

func (s *chromeSession) BodyText(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, chromedp.Text("body", &text, chromedp.ByQuery))
	return text, err
}

func (s *chromeSession) Close() error {
	if s.cancelTab == nil {
		return nil
	}
	err := chromedp.Cancel(s.ctx)
	s.cancelTab()
	s.cancelAlloc()
	s.cancelTab = nil
	return err
}
