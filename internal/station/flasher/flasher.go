// Package flasher runs the external programmer tool that writes a bootloader
// image into the selected socket.
package flasher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/autopeer-io/multiprog/pkg/log"
)

// Markers the programmer prints on a good run. Both must be present.
const (
	MarkerProgrammed = "Programming Complete"
	MarkerVerified   = "Verification...OK"
)

// ErrFlashFailed means the tool ran but its output lacks the success markers.
var ErrFlashFailed = errors.New("bootloader flash failed")

// Result captures one programmer invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Succeeded reports whether stdout carries both success markers. The exit code
// is not consulted; the tool is known to exit non-zero on good runs.
func (r *Result) Succeeded() bool {
	return r != nil &&
		strings.Contains(r.Stdout, MarkerProgrammed) &&
		strings.Contains(r.Stdout, MarkerVerified)
}

// Err returns ErrFlashFailed with the exit code when the run did not succeed.
func (r *Result) Err() error {
	if r.Succeeded() {
		return nil
	}
	return fmt.Errorf("%w (exit code %d)", ErrFlashFailed, r.ExitCode)
}

// Runner invokes the programmer tool as `ToolPath <image>`.
type Runner struct {
	ToolPath string

	// WaitDelay bounds how long output pipes are drained after the context
	// kills the tool.
	WaitDelay time.Duration
}

// NewRunner returns a Runner for the given tool.
func NewRunner(toolPath string) *Runner {
	return &Runner{ToolPath: toolPath, WaitDelay: 5 * time.Second}
}

// Flash runs the tool synchronously. A non-zero exit is recorded in the result,
// not returned as an error; errors are reserved for failing to run the tool at
// all or for cancellation.
func (r *Runner) Flash(ctx context.Context, imagePath string) (*Result, error) {
	if r.ToolPath == "" {
		return nil, errors.New("flasher tool path is empty")
	}

	cmd := exec.CommandContext(ctx, r.ToolPath, imagePath)
	cmd.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := log.FromContext(ctx).WithValues("tool", r.ToolPath, "image", imagePath)
	logger.Info("Starting bootloader flash")

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("flash interrupted: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("failed to run %s: %w", r.ToolPath, err)
	}

	if res.Stderr != "" {
		logger.Warn("Programmer wrote to stderr", "stderr", strings.TrimSpace(res.Stderr))
	}
	logger.Info("Bootloader flash finished", "exitCode", res.ExitCode, "succeeded", res.Succeeded(), "duration", res.Duration)

	return res, nil
}
