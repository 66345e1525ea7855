package station

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/autopeer-io/multiprog/internal/station/batch"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/pkg/options"
)

func newTestConfig() *Config {
	serial := options.NewSerialOptions()
	serial.Port = "/dev/multiprog-test-missing"
	serial.OpenOnStart = false

	return &Config{
		SerialOptions:  serial,
		FlasherOptions: options.NewFlasherOptions(),
		BrowserOptions: options.NewBrowserOptions(),
		DeviceOptions:  options.NewDeviceOptions(),
		ShutdownGrace:  100 * time.Millisecond,
	}
}

func runStation(t *testing.T, s *Station) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return")
		}
	})
}

func TestNewStationRequiresCoreOptions(t *testing.T) {
	cfg := newTestConfig()
	cfg.FlasherOptions = nil
	if _, err := cfg.NewStation(); err == nil {
		t.Error("missing flasher options accepted")
	}
}

func TestStationWithClosedLink(t *testing.T) {
	s, err := newTestConfig().NewStation()
	if err != nil {
		t.Fatalf("NewStation: %v", err)
	}
	if s.servers.Len() != 0 {
		t.Fatalf("no surface was configured, got %d servers", s.servers.Len())
	}
	runStation(t, s)

	m := &batch.Manifest{Bootloader: "b.bin", Firmware: "f.acfr", Units: []batch.Unit{{Serial: "SN12345"}}}
	if _, err := s.Submit(context.Background(), m, true); !errors.Is(err, link.ErrClosed) {
		t.Errorf("Submit with closed link = %v", err)
	}
	if _, err := s.Submit(context.Background(), &batch.Manifest{}, false); !errors.Is(err, batch.ErrInvalidManifest) {
		t.Errorf("Submit invalid manifest = %v", err)
	}
	if err := s.SendFrame(link.ResetFrame()); !errors.Is(err, link.ErrClosed) {
		t.Errorf("SendFrame = %v", err)
	}
	if err := s.Ready(); !errors.Is(err, link.ErrClosed) {
		t.Errorf("Ready = %v", err)
	}
	if err := s.OpenLink(); err == nil {
		t.Error("opening a missing port succeeded")
	}

	st, err := s.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Link.Open || st.Queue.Processing || len(st.Queue.Queued) != 0 {
		t.Errorf("status = %+v", st)
	}
	if err := s.ClearStatus(); err != nil {
		t.Errorf("ClearStatus: %v", err)
	}
	if err := s.CloseLink(); err != nil {
		t.Errorf("CloseLink on a closed link: %v", err)
	}
	if err := s.Abort(false); err != nil {
		t.Errorf("Abort with nothing in flight: %v", err)
	}
}

func TestStationBuildsEnabledServers(t *testing.T) {
	cfg := newTestConfig()
	cfg.HttpOptions = options.NewHttpOptions()
	cfg.WatchOptions = &options.WatchOptions{Dir: t.TempDir()}

	s, err := cfg.NewStation()
	if err != nil {
		t.Fatalf("NewStation: %v", err)
	}
	if s.servers.Len() != 2 {
		t.Errorf("servers = %d, want http and watcher", s.servers.Len())
	}
}
