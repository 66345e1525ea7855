package notifier

import (
	"errors"
	"sync"
	"time"

	"github.com/autopeer-io/multiprog/internal/station/core"
	"github.com/autopeer-io/multiprog/internal/station/core/model"
	"github.com/autopeer-io/multiprog/internal/station/link"
)

// Indicator is the state of one row lamp.
type Indicator string

const (
	IndicatorOff     Indicator = "off"
	IndicatorPending Indicator = "pending"
	IndicatorOK      Indicator = "ok"
	IndicatorFailed  Indicator = "failed"
)

// ErrBoardBusy is returned by Clear while a unit is in flight.
var ErrBoardBusy = errors.New("cannot clear the status board while a unit is running")

// Row is the presentation state of one fixture socket.
type Row struct {
	Key          string    `json:"key,omitempty"`
	SerialNumber string    `json:"serialNumber,omitempty"`
	Bootloader   Indicator `json:"bootloader"`
	SerialVerify Indicator `json:"serialVerify"`
	Message      string    `json:"message,omitempty"`
}

// BoardState is a copy of the board.
type BoardState struct {
	Rows        []Row          `json:"rows"`
	Current     string         `json:"current,omitempty"`
	Queued      int            `json:"queued"`
	LastMessage string         `json:"lastMessage,omitempty"`
	Summary     *model.Summary `json:"summary,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

var _ core.Observer = (*Board)(nil)

// Board keeps the per-row indicators the operator looks at.
type Board struct {
	mu    sync.RWMutex
	state BoardState
}

// NewBoard returns a board with every row off.
func NewBoard() *Board {
	b := &Board{}
	b.reset()
	return b
}

func (b *Board) reset() {
	b.state = BoardState{Rows: make([]Row, link.MaxCycle)}
	for i := range b.state.Rows {
		b.state.Rows[i] = Row{Bootloader: IndicatorOff, SerialVerify: IndicatorOff}
	}
}

func (b *Board) row(i int) *Row {
	if i < 0 || i >= len(b.state.Rows) {
		return nil
	}
	return &b.state.Rows[i]
}

// Observe applies ev to the board.
func (b *Board) Observe(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.UpdatedAt = ev.Time()

	switch e := ev.(type) {
	case model.Progress:
		b.state.LastMessage = e.Text
	case model.RowPending:
		b.state.Current = e.Key
		b.state.Queued = e.Queued
		b.state.Summary = nil
		if r := b.row(e.Row); r != nil {
			*r = Row{
				Key:          e.Key,
				SerialNumber: e.SerialNumber,
				Bootloader:   IndicatorPending,
				SerialVerify: IndicatorPending,
			}
		}
	case model.BootloaderResult:
		if r := b.row(e.Row); r != nil {
			r.Bootloader = indicator(e.OK)
		}
	case model.SerialVerifyResult:
		if r := b.row(e.Row); r != nil {
			r.SerialVerify = indicator(e.OK)
		}
	case model.Finished:
		b.state.Current = ""
		b.state.LastMessage = e.Message
		if r := b.row(e.Row); r != nil {
			r.Message = e.Message
		}
	case model.Drained:
		s := e.Summary
		b.state.Summary = &s
		b.state.Current = ""
		b.state.Queued = 0
	}
}

func indicator(ok bool) Indicator {
	if ok {
		return IndicatorOK
	}
	return IndicatorFailed
}

// Snapshot returns a copy of the board.
func (b *Board) Snapshot() BoardState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := b.state
	st.Rows = append([]Row(nil), b.state.Rows...)
	if b.state.Summary != nil {
		s := *b.state.Summary
		st.Summary = &s
	}
	return st
}

// Clear turns every row off. It refuses while a unit is in flight.
func (b *Board) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Current != "" {
		return ErrBoardBusy
	}
	b.reset()
	return nil
}
