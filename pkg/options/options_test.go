package options

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"192.168.0.100:80", false},
		{":8480", false},
		{"localhost:9000", false},
		{"192.168.0.100", true},
		{"host:0", true},
		{"host:http", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	serial := NewSerialOptions()
	serial.Port = "/dev/ttyUSB0"

	all := map[string]IOptions{
		"serial":  serial,
		"flasher": NewFlasherOptions(),
		"browser": NewBrowserOptions(),
		"device":  NewDeviceOptions(),
		"http":    NewHttpOptions(),
		"mqtt":    NewMqttOptions(),
		"s3":      NewS3Options(),
		"watch":   NewWatchOptions(),
	}

	for name, o := range all {
		if errs := o.Validate(); len(errs) != 0 {
			t.Errorf("%s: default options invalid: %v", name, errs)
		}
	}
}

func TestFlagsOverrideDefaults(t *testing.T) {
	o := NewDeviceOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	if err := fs.Parse([]string{"--device.addr=10.0.0.5:8080", "--device.ready-timeout=5s"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if o.Addr != "10.0.0.5:8080" || o.ReadyTimeout.Seconds() != 5 {
		t.Errorf("flags not applied: %+v", o)
	}
	if o.URL() != "http://10.0.0.5:8080" {
		t.Errorf("URL() = %q", o.URL())
	}
}

func TestSerialOptionsRequirePortWhenOpening(t *testing.T) {
	o := NewSerialOptions()
	if errs := o.Validate(); len(errs) != 1 {
		t.Fatalf("expected a missing port error, got %v", errs)
	}
	o.OpenOnStart = false
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestMqttClientConfigCarriesWill(t *testing.T) {
	o := NewMqttOptions()
	o.Broker = "tcp://localhost:1883"

	cfg := o.ToClientConfig()
	if cfg.ClientID != "multiprog-station-1" {
		t.Errorf("ClientID = %q", cfg.ClientID)
	}
	if cfg.WillTopic != "multiprog/v1/station-1/status" || !cfg.WillRetain {
		t.Errorf("unexpected will: %q retain=%v", cfg.WillTopic, cfg.WillRetain)
	}
}
