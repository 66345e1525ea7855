package notifier

import (
	"errors"
	"testing"
	"time"

	"github.com/autopeer-io/multiprog/internal/station/core/model"
)

func TestBoardTracksRow(t *testing.T) {
	b := NewBoard()
	now := time.Now()

	b.Observe(model.RowPending{At: now, Key: "serial_1", Row: 2, SerialNumber: "SN12345", Queued: 1})
	st := b.Snapshot()
	if st.Current != "serial_1" || st.Queued != 1 {
		t.Fatalf("current=%q queued=%d", st.Current, st.Queued)
	}
	if r := st.Rows[2]; r.Bootloader != IndicatorPending || r.SerialVerify != IndicatorPending || r.SerialNumber != "SN12345" {
		t.Fatalf("row after pending = %+v", r)
	}

	b.Observe(model.BootloaderResult{At: now, Key: "serial_1", Row: 2, OK: true})
	b.Observe(model.SerialVerifyResult{At: now, Key: "serial_1", Row: 2, OK: false})
	b.Observe(model.Finished{At: now, Key: "serial_1", Row: 2, SerialNumber: "SN12345", OK: true, Message: "Successfully processed"})

	st = b.Snapshot()
	r := st.Rows[2]
	if r.Bootloader != IndicatorOK || r.SerialVerify != IndicatorFailed {
		t.Errorf("indicators = %s/%s", r.Bootloader, r.SerialVerify)
	}
	if st.Current != "" || st.LastMessage != "Successfully processed" {
		t.Errorf("board = %+v", st)
	}
	if st.Rows[0].Bootloader != IndicatorOff {
		t.Errorf("untouched row changed: %+v", st.Rows[0])
	}
}

func TestBoardRowPendingResetsIndicators(t *testing.T) {
	b := NewBoard()
	b.Observe(model.RowPending{Key: "serial_1", Row: 0})
	b.Observe(model.BootloaderResult{Key: "serial_1", Row: 0, OK: false})
	b.Observe(model.Finished{Key: "serial_1", Row: 0, Message: "bootloader upload failed"})

	b.Observe(model.RowPending{Key: "serial_1", Row: 0})
	if r := b.Snapshot().Rows[0]; r.Bootloader != IndicatorPending || r.Message != "" {
		t.Errorf("row not reset: %+v", r)
	}
}

func TestBoardIgnoresOutOfRangeRows(t *testing.T) {
	b := NewBoard()
	b.Observe(model.BootloaderResult{Row: 12, OK: true})
	b.Observe(model.SerialVerifyResult{Row: -1, OK: true})
	for i, r := range b.Snapshot().Rows {
		if r.Bootloader != IndicatorOff || r.SerialVerify != IndicatorOff {
			t.Errorf("row %d changed: %+v", i, r)
		}
	}
}

func TestBoardClear(t *testing.T) {
	b := NewBoard()
	b.Observe(model.RowPending{Key: "serial_1", Row: 0})
	if err := b.Clear(); !errors.Is(err, ErrBoardBusy) {
		t.Fatalf("Clear while running = %v", err)
	}

	b.Observe(model.Finished{Key: "serial_1", Row: 0, OK: true})
	b.Observe(model.Drained{Summary: model.Summary{Total: 1, Succeeded: 1}})
	if s := b.Snapshot().Summary; s == nil || s.Total != 1 {
		t.Fatalf("summary = %+v", s)
	}

	if err := b.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	st := b.Snapshot()
	if st.Summary != nil || st.Rows[0].Bootloader != IndicatorOff {
		t.Errorf("board not cleared: %+v", st)
	}
}

func TestBoardSnapshotIsACopy(t *testing.T) {
	b := NewBoard()
	st := b.Snapshot()
	st.Rows[0].Bootloader = IndicatorOK
	if b.Snapshot().Rows[0].Bootloader != IndicatorOff {
		t.Error("snapshot shares rows with the board")
	}
}
