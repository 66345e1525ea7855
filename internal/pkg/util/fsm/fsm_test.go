package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
)

func TestWrapEventPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	m := fsm.NewFSM("a",
		fsm.Events{{Name: "go", Src: []string{"a"}, Dst: "b"}},
		fsm.Callbacks{
			"enter_b":     WrapEvent(func(ctx context.Context, e *fsm.Event) error { return boom }),
			"enter_state": LogTransitions("test"),
		},
	)

	if err := m.Event(context.Background(), "go"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if m.Current() != "b" {
		t.Fatalf("state = %q, want b", m.Current())
	}
}

func TestErrorArg(t *testing.T) {
	boom := errors.New("boom")
	e := &fsm.Event{Args: []any{"x", boom}}
	if ErrorArg(e) != boom {
		t.Fatal("expected the error argument")
	}
	if ErrorArg(&fsm.Event{}) != nil {
		t.Fatal("expected nil without arguments")
	}
}
