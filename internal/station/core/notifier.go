package core

import (
	"github.com/autopeer-io/multiprog/internal/station/core/model"
)

// EventSink is the presentation boundary: whatever renders the station state
// implements it. Calls arrive in order from a single goroutine.
type EventSink interface {
	OnProgress(text string)
	OnRowPending(row int)
	OnBootloaderResult(row int, ok bool)
	OnSerialVerifyResult(row int, ok bool)
	OnFinished(serialNumber string, ok bool, message string)
	OnDrained(summary model.Summary)
}

// Observer receives the full events, timestamps and keys included. Bus
// publishers, metrics and the status board implement it.
type Observer interface {
	Observe(ev model.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev model.Event)

func (f ObserverFunc) Observe(ev model.Event) { f(ev) }

// Emitter is how a workflow hands events to its owner.
type Emitter interface {
	Emit(ev model.Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev model.Event)

func (f EmitterFunc) Emit(ev model.Event) { f(ev) }

// SinkObserver delivers events to an EventSink.
func SinkObserver(sink EventSink) Observer {
	return ObserverFunc(func(ev model.Event) { Dispatch(ev, sink) })
}

// Dispatch calls the sink method matching ev.
func Dispatch(ev model.Event, sink EventSink) {
	switch e := ev.(type) {
	case model.Progress:
		sink.OnProgress(e.Text)
	case model.RowPending:
		sink.OnRowPending(e.Row)
	case model.BootloaderResult:
		sink.OnBootloaderResult(e.Row, e.OK)
	case model.SerialVerifyResult:
		sink.OnSerialVerifyResult(e.Row, e.OK)
	case model.Finished:
		sink.OnFinished(e.SerialNumber, e.OK, e.Message)
	case model.Drained:
		sink.OnDrained(e.Summary)
	}
}
