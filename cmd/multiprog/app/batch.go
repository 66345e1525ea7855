package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gosuri/uitable"
	"github.com/schollz/progressbar/v3"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/multiprog/cmd/multiprog/app/options"
	"github.com/autopeer-io/multiprog/internal/station/batch"
	"github.com/autopeer-io/multiprog/internal/station/core"
	"github.com/autopeer-io/multiprog/internal/station/core/model"
	"github.com/autopeer-io/multiprog/pkg/app"
)

const batchDesc = `Provision every unit of a manifest once and exit. The exit status is
non-zero if any unit failed.`

func newBatchApp() *app.App {
	opts := options.NewBatchOptions()
	return app.NewApp(
		"batch",
		"Provision the units of one manifest",
		app.WithDescription(batchDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(runBatch(opts)),
	)
}

func runBatch(opts *options.BatchOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		m, err := batch.LoadManifest(opts.File)
		if err != nil {
			return err
		}
		tasks, err := m.Tasks()
		if err != nil {
			return err
		}

		rep := newReporter(os.Stderr, len(tasks))

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg.Observers = append(cfg.Observers, rep)

		st, err := cfg.NewStation()
		if err != nil {
			return fmt.Errorf("failed to create station: %w", err)
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- st.Run(runCtx) }()

		if _, err := st.Submit(runCtx, m, true); err != nil {
			cancel()
			<-done
			return err
		}

		select {
		case <-rep.drained:
		case <-ctx.Done():
		}
		cancel()
		runErr := <-done

		summary := rep.finish(os.Stdout)
		if runErr != nil {
			return runErr
		}
		if summary.Aborted {
			return fmt.Errorf("batch aborted after %d of %d units", summary.Total, len(tasks))
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d units failed", summary.Failed, summary.Total)
		}
		return nil
	}
}

type unitReport struct {
	slot       int
	serial     string
	bootloader string
	verified   string
	ok         bool
	message    string
	started    time.Time
	took       time.Duration
}

// reporter renders the batch to the terminal: a progress bar while it runs
// and a summary table at the end.
type reporter struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	order   []string
	units   map[string]*unitReport
	summary model.Summary
	drained chan struct{}
}

var _ core.Observer = (*reporter)(nil)

func newReporter(w io.Writer, total int) *reporter {
	return &reporter{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Waiting"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		),
		units:   map[string]*unitReport{},
		drained: make(chan struct{}),
	}
}

func (r *reporter) Observe(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case model.Progress:
		r.bar.Describe(e.Text)
	case model.RowPending:
		r.order = append(r.order, e.Key)
		r.units[e.Key] = &unitReport{
			slot:       e.Row + 1,
			serial:     e.SerialNumber,
			bootloader: "-",
			verified:   "-",
			started:    e.At,
		}
	case model.BootloaderResult:
		if u := r.units[e.Key]; u != nil {
			u.bootloader = yesNo(e.OK)
		}
	case model.SerialVerifyResult:
		if u := r.units[e.Key]; u != nil {
			u.verified = yesNo(e.OK)
		}
	case model.Finished:
		if u := r.units[e.Key]; u != nil {
			u.ok = e.OK
			u.message = e.Message
			u.took = e.At.Sub(u.started).Round(time.Second)
		}
		_ = r.bar.Add(1)
	case model.Drained:
		r.summary = e.Summary
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
}

// finish prints the summary table and returns the totals.
func (r *reporter) finish(w io.Writer) model.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.bar.Finish()

	table := uitable.New()
	table.MaxColWidth = 60
	table.Wrap = true
	table.AddRow("SLOT", "SERIAL", "BOOTLOADER", "VERIFIED", "RESULT", "TIME", "MESSAGE")
	for _, key := range r.order {
		u := r.units[key]
		result := "FAILED"
		if u.ok {
			result = "OK"
		}
		table.AddRow(u.slot, u.serial, u.bootloader, u.verified, result, u.took, u.message)
	}
	fmt.Fprintln(w, table)
	fmt.Fprintf(w, "\n%d units: %d succeeded, %d failed, %d verified\n",
		r.summary.Total, r.summary.Succeeded, r.summary.Failed, r.summary.Verified)
	return r.summary
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
