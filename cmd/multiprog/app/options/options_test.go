package options

import (
	"strings"
	"testing"
)

func TestFrameOptionsPicksOneFrame(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *FrameOptions)
		kind    string
		n       int
		wantErr string
	}{
		{"none", func(o *FrameOptions) {}, "", 0, "exactly one"},
		{"raw", func(o *FrameOptions) { o.Selector = 0x2A }, "raw", 0x2A, ""},
		{"bootloader", func(o *FrameOptions) { o.Bootloader = 3 }, "bootloader", 3, ""},
		{"service", func(o *FrameOptions) { o.Service = 8 }, "service", 8, ""},
		{"reset", func(o *FrameOptions) { o.Reset = true }, "reset", 0, ""},
		{"two", func(o *FrameOptions) { o.Reset = true; o.Bootloader = 1 }, "", 0, "exactly one"},
		{"out of range", func(o *FrameOptions) { o.Service = 9 }, "", 0, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewFrameOptions()
			tt.mutate(o)
			kind, n, err := o.Frame()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || kind != tt.kind || n != tt.n {
				t.Errorf("Frame() = %q, %d, %v", kind, n, err)
			}
		})
	}
}

func TestBatchOptionsValidate(t *testing.T) {
	o := NewBatchOptions()
	if err := o.Complete(); err != nil {
		t.Fatal(err)
	}
	err := o.Validate()
	if err == nil || !strings.Contains(err.Error(), "--file") {
		t.Errorf("missing file not reported: %v", err)
	}

	o.File = "line3.yaml"
	o.SerialOptions.Port = "/dev/ttyUSB0"
	if err := o.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestServeOptionsConfig(t *testing.T) {
	o := NewServeOptions()
	o.SerialOptions.Port = "/dev/ttyUSB0"
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg, err := o.Config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HttpOptions != o.HttpOptions || cfg.SerialOptions != o.SerialOptions || cfg.ShutdownGrace != defaultShutdownGrace {
		t.Errorf("config = %+v", cfg)
	}

	fss := o.Flags()
	for _, name := range []string{"serial", "flasher", "browser", "device", "s3", "http", "mqtt", "watch", "station", "log"} {
		if _, ok := fss.FlagSets[name]; !ok {
			t.Errorf("flag set %q missing", name)
		}
	}
}
