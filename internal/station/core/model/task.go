package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/multiprog/internal/station/link"
)

// UnitTask is one unit to provision. It is immutable once enqueued.
type UnitTask struct {
	// Key identifies the entry within its batch, e.g. "serial_3".
	Key string `json:"key"`

	// BatchID groups the tasks submitted together.
	BatchID string `json:"batchId,omitempty"`

	SerialNumber string `json:"serialNumber"`

	// CycleNumber addresses the fixture socket, 1..8.
	CycleNumber int `json:"cycleNumber"`

	// BootloaderImage and FirmwareImage are local paths or s3:// references.
	BootloaderImage string `json:"bootloaderImage"`
	FirmwareImage   string `json:"firmwareImage"`
}

// Row is the zero-based presentation slot of the task.
func (t *UnitTask) Row() int {
	return t.CycleNumber - 1
}

// Validate checks the task can be run.
func (t *UnitTask) Validate() error {
	var errs []error
	if t.SerialNumber == "" {
		errs = append(errs, errors.New("serial number is empty"))
	}
	if err := link.ValidateCycle(t.CycleNumber); err != nil {
		errs = append(errs, err)
	}
	if t.BootloaderImage == "" {
		errs = append(errs, errors.New("bootloader image is not set"))
	}
	if t.FirmwareImage == "" {
		errs = append(errs, errors.New("firmware image is not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("task %q: %w", t.Key, errors.Join(errs...))
	}
	return nil
}

// Outcome is produced exactly once per task.
type Outcome struct {
	Key            string        `json:"key"`
	SerialNumber   string        `json:"serialNumber"`
	Row            int           `json:"row"`
	BootloaderOK   bool          `json:"bootloaderOk"`
	SerialVerified bool          `json:"serialVerified"`
	TerminalError  error         `json:"-"`
	Message        string        `json:"message"`
	Duration       time.Duration `json:"duration"`
}

// OK reports whether the unit finished without a terminal error.
func (o *Outcome) OK() bool {
	return o.TerminalError == nil
}
