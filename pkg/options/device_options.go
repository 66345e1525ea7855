package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DeviceOptions)(nil)

// DeviceOptions describes how the unit under provisioning is reached once it
// boots into service mode.
type DeviceOptions struct {
	// Addr is probed with TCP connects until the embedded web server answers.
	Addr string `json:"addr" mapstructure:"addr"`

	// BaseURL is the root of the device web UI. Defaults to http://{Addr}.
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	ReadyTimeout time.Duration `json:"ready-timeout" mapstructure:"ready-timeout"`
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`
	DialTimeout  time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`

	// Settle delays after the control frames; the fixture does not acknowledge.
	SelectSettle time.Duration `json:"select-settle" mapstructure:"select-settle"`
	ResetSettle  time.Duration `json:"reset-settle" mapstructure:"reset-settle"`
}

func NewDeviceOptions() *DeviceOptions {
	return &DeviceOptions{
		Addr:         "192.168.0.100:80",
		ReadyTimeout: 30 * time.Second,
		PollInterval: 500 * time.Millisecond,
		DialTimeout:  time.Second,
		SelectSettle: time.Second,
		ResetSettle:  2 * time.Second,
	}
}

func (o *DeviceOptions) Validate() []error {
	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}
	if o.ReadyTimeout <= 0 {
		errors = append(errors, fmt.Errorf("--device.ready-timeout must be positive"))
	}
	if o.PollInterval <= 0 || o.DialTimeout <= 0 {
		errors = append(errors, fmt.Errorf("--device.poll-interval and --device.dial-timeout must be positive"))
	}

	return errors
}

func (o *DeviceOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "device.addr", o.Addr, "TCP address of the device web server in service mode.")
	fs.StringVar(&o.BaseURL, "device.base-url", o.BaseURL, "Base URL of the device web UI (defaults to http://<device.addr>).")
	fs.DurationVar(&o.ReadyTimeout, "device.ready-timeout", o.ReadyTimeout, "How long to wait for the device web server to accept connections.")
	fs.DurationVar(&o.PollInterval, "device.poll-interval", o.PollInterval, "Interval between readiness probes.")
	fs.DurationVar(&o.DialTimeout, "device.dial-timeout", o.DialTimeout, "Timeout of a single readiness probe.")
	fs.DurationVar(&o.SelectSettle, "device.select-settle", o.SelectSettle, "Delay after a reset or bootloader-select frame.")
	fs.DurationVar(&o.ResetSettle, "device.reset-settle", o.ResetSettle, "Delay after the reset that follows flashing.")
}

// URL returns the configured base URL or one derived from Addr.
func (o *DeviceOptions) URL() string {
	if o.BaseURL != "" {
		return o.BaseURL
	}
	return "http://" + o.Addr
}
