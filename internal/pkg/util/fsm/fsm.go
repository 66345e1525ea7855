// Package fsm holds small helpers shared by the looplab/fsm based state machines.
package fsm

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/multiprog/pkg/log"
)

// WrapEvent adapts a callback that returns an error to fsm.Callback. The error
// is stored on the event so that FSM.Event returns it.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// LogTransitions returns an "enter_state" callback that logs every transition
// with the logger carried by the context.
func LogTransitions(machine string) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		log.FromContext(ctx).Debug("State transition", "machine", machine, "event", e.Event, "from", e.Src, "to", e.Dst)
	}
}

// ErrorArg returns the first error found in the event arguments.
func ErrorArg(e *fsm.Event) error {
	for _, a := range e.Args {
		if err, ok := a.(error); ok {
			return err
		}
	}
	return nil
}
