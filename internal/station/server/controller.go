// Package server holds the station's outer surfaces: the HTTP control API,
// the MQTT command bridge and the manager that runs them.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/autopeer-io/multiprog/internal/station/batch"
	"github.com/autopeer-io/multiprog/internal/station/core/orchestrator"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/internal/station/notifier"
)

// Controller is what the outer surfaces drive. It is implemented by
// station.Station.
type Controller interface {
	// Submit turns a manifest into tasks and enqueues them; with start the
	// queue begins draining right away.
	Submit(ctx context.Context, m *batch.Manifest, start bool) (*Submission, error)
	Start() error
	Abort(confirm bool) error

	SendFrame(f link.Frame) error
	OpenLink() error
	CloseLink() error

	Status() (*Status, error)
	ClearStatus() error

	// Ready returns nil once the station can take work.
	Ready() error
}

// Submission describes an accepted batch.
type Submission struct {
	BatchID string   `json:"batchId"`
	Keys    []string `json:"keys"`
	Started bool     `json:"started"`
}

// LinkStatus describes the control link.
type LinkStatus struct {
	Open bool   `json:"open"`
	Port string `json:"port,omitempty"`
}

// Status is the full station view served to operators.
type Status struct {
	Link  LinkStatus          `json:"link"`
	Queue orchestrator.Status `json:"queue"`
	Board notifier.BoardState `json:"board"`
}

// Frame kinds accepted by the manual trigger surfaces.
const (
	FrameRaw        = "raw"
	FrameBootloader = "bootloader"
	FrameService    = "service"
	FrameReset      = "reset"
)

// BuildFrame returns the frame for a manual trigger. n is the selector for
// raw frames and the cycle number for bootloader and service frames.
func BuildFrame(kind string, n int) (link.Frame, error) {
	switch kind {
	case FrameRaw:
		if n < 0 || n > 0xFF {
			return link.Frame{}, fmt.Errorf("selector %d out of range [0, 255]", n)
		}
		return link.NewFrame(byte(n)), nil
	case FrameBootloader:
		return link.BootloaderFrame(n)
	case FrameService:
		return link.ServiceFrame(n)
	case FrameReset:
		return link.ResetFrame(), nil
	default:
		return link.Frame{}, fmt.Errorf("unknown frame kind %q", kind)
	}
}

// ErrBusy is returned for operations refused while a unit is in flight.
var ErrBusy = errors.New("station is busy provisioning")
