package core

import (
	"context"
	"time"

	"github.com/autopeer-io/multiprog/internal/station/flasher"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/internal/station/webprov"
)

// FrameSender writes control frames to the fixture.
// It is implemented by link.Manager.
type FrameSender interface {
	Send(f link.Frame) error
}

// Flasher programs the bootloader of the selected socket.
// It is implemented by flasher.Runner.
type Flasher interface {
	Flash(ctx context.Context, imagePath string) (*flasher.Result, error)
}

// ReadinessWaiter waits for the device web server.
// It is implemented by readiness.Waiter.
type ReadinessWaiter interface {
	WaitReady(ctx context.Context, addr string, timeout time.Duration) bool
}

// WebProvisioner drives the device web UI.
// It is implemented by webprov.Driver.
type WebProvisioner interface {
	Provision(ctx context.Context, baseURL, serialNumber, firmwarePath string) (*webprov.Result, error)
}

// ImageStore resolves an image reference to a local file. release removes any
// temporary copy and must be called once the file is no longer needed.
type ImageStore interface {
	Fetch(ctx context.Context, ref string) (path string, release func(), err error)
}
