package notifier

import (
	"github.com/autopeer-io/multiprog/internal/station/core"
	"github.com/autopeer-io/multiprog/internal/station/core/model"
	"github.com/autopeer-io/multiprog/pkg/log"
)

var _ core.EventSink = (*LogSink)(nil)

// LogSink renders station events as structured log lines. It is the sink of
// the headless daemon.
type LogSink struct {
	log log.Logger
}

// NewLogSink returns a LogSink writing to l, or to the global logger when l is nil.
func NewLogSink(l log.Logger) *LogSink {
	if l == nil {
		l = log.Std()
	}
	return &LogSink{log: l.WithName("events")}
}

func (s *LogSink) OnProgress(text string) {
	s.log.Info(text)
}

func (s *LogSink) OnRowPending(row int) {
	s.log.Info("Row pending", "row", row)
}

func (s *LogSink) OnBootloaderResult(row int, ok bool) {
	if ok {
		s.log.Info("Bootloader programmed", "row", row)
		return
	}
	s.log.Warn("Bootloader failed", "row", row)
}

func (s *LogSink) OnSerialVerifyResult(row int, ok bool) {
	if ok {
		s.log.Info("Serial number verified", "row", row)
		return
	}
	s.log.Warn("Serial number not verified", "row", row)
}

func (s *LogSink) OnFinished(serialNumber string, ok bool, message string) {
	if ok {
		s.log.Info("Unit finished", "serial", serialNumber, "message", message)
		return
	}
	s.log.Warn("Unit failed", "serial", serialNumber, "message", message)
}

func (s *LogSink) OnDrained(summary model.Summary) {
	s.log.Info("Queue drained",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"verified", summary.Verified,
		"aborted", summary.Aborted,
	)
}
