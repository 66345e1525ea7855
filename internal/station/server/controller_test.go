package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestBuildFrame(t *testing.T) {
	tests := []struct {
		kind     string
		n        int
		selector byte
		wantErr  bool
	}{
		{FrameRaw, 0x2A, 0x2A, false},
		{FrameRaw, 256, 0, true},
		{FrameBootloader, 3, 3, false},
		{FrameBootloader, 0, 0, true},
		{FrameService, 3, 11, false},
		{FrameService, 9, 0, true},
		{FrameReset, 0, 0xFF, false},
		{"blink", 1, 0, true},
	}
	for _, tt := range tests {
		f, err := BuildFrame(tt.kind, tt.n)
		if (err != nil) != tt.wantErr {
			t.Errorf("BuildFrame(%s, %d) err = %v", tt.kind, tt.n, err)
			continue
		}
		if err == nil && f.Selector() != tt.selector {
			t.Errorf("BuildFrame(%s, %d) selector = %#x, want %#x", tt.kind, tt.n, f.Selector(), tt.selector)
		}
	}
}

func TestManagerStopsOnFirstError(t *testing.T) {
	boom := errors.New("bind: address in use")
	var stopped atomic.Bool

	m := NewManager(
		ServerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			stopped.Store(true)
			return nil
		}),
		nil,
		ServerFunc(func(context.Context) error { return boom }),
	)
	if m.Len() != 2 {
		t.Fatalf("Len = %d, nil servers must be skipped", m.Len())
	}

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Errorf("Start = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
	if !stopped.Load() {
		t.Error("sibling server was not stopped")
	}
}
