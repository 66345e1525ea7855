package options

import (
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/multiprog/internal/station"
	"github.com/autopeer-io/multiprog/internal/station/server"
	"github.com/autopeer-io/multiprog/pkg/app"
	"github.com/autopeer-io/multiprog/pkg/log"
	"github.com/autopeer-io/multiprog/pkg/options"
)

const defaultShutdownGrace = 10 * time.Second

// StationOptions are shared by every command that provisions units.
type StationOptions struct {
	SerialOptions  *options.SerialOptions  `json:"serial" mapstructure:"serial"`
	FlasherOptions *options.FlasherOptions `json:"flasher" mapstructure:"flasher"`
	BrowserOptions *options.BrowserOptions `json:"browser" mapstructure:"browser"`
	DeviceOptions  *options.DeviceOptions  `json:"device" mapstructure:"device"`
	S3Options      *options.S3Options      `json:"s3" mapstructure:"s3"`
	Log            *log.Options            `json:"log" mapstructure:"log"`

	// ShutdownGrace bounds how long an interrupted unit may take to stop.
	ShutdownGrace time.Duration `json:"shutdown-grace" mapstructure:"shutdown-grace"`
}

func newStationOptions() StationOptions {
	return StationOptions{
		SerialOptions:  options.NewSerialOptions(),
		FlasherOptions: options.NewFlasherOptions(),
		BrowserOptions: options.NewBrowserOptions(),
		DeviceOptions:  options.NewDeviceOptions(),
		S3Options:      options.NewS3Options(),
		Log:            log.NewOptions(),
		ShutdownGrace:  defaultShutdownGrace,
	}
}

func (o *StationOptions) addFlags(fss *cliflag.NamedFlagSets) {
	o.SerialOptions.AddFlags(fss.FlagSet("serial"))
	o.FlasherOptions.AddFlags(fss.FlagSet("flasher"))
	o.BrowserOptions.AddFlags(fss.FlagSet("browser"))
	o.DeviceOptions.AddFlags(fss.FlagSet("device"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	fss.FlagSet("station").DurationVar(&o.ShutdownGrace, "shutdown-grace", o.ShutdownGrace,
		"How long an interrupted unit may take to stop before the link is closed.")
	o.Log.AddFlags(fss.FlagSet("log"))
}

func (o *StationOptions) validate() []error {
	errs := []error{}
	errs = append(errs, o.SerialOptions.Validate()...)
	errs = append(errs, o.FlasherOptions.Validate()...)
	errs = append(errs, o.BrowserOptions.Validate()...)
	errs = append(errs, o.DeviceOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if o.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("--shutdown-grace must not be negative"))
	}
	return errs
}

func (o *StationOptions) config() *station.Config {
	return &station.Config{
		SerialOptions:  o.SerialOptions,
		FlasherOptions: o.FlasherOptions,
		BrowserOptions: o.BrowserOptions,
		DeviceOptions:  o.DeviceOptions,
		S3Options:      o.S3Options,
		ShutdownGrace:  o.ShutdownGrace,
	}
}

func (o *StationOptions) LogOptions() *log.Options {
	return o.Log
}

// ServeOptions configures the station daemon.
type ServeOptions struct {
	StationOptions `mapstructure:",squash"`

	HttpOptions  *options.HttpOptions  `json:"http" mapstructure:"http"`
	MqttOptions  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	WatchOptions *options.WatchOptions `json:"watch" mapstructure:"watch"`
}

var (
	_ app.NamedFlagSetOptions = (*ServeOptions)(nil)
	_ app.LogOptionsProvider  = (*ServeOptions)(nil)
)

func NewServeOptions() *ServeOptions {
	return &ServeOptions{
		StationOptions: newStationOptions(),
		HttpOptions:    options.NewHttpOptions(),
		MqttOptions:    options.NewMqttOptions(),
		WatchOptions:   options.NewWatchOptions(),
	}
}

func (o *ServeOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.addFlags(&fss)
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.WatchOptions.AddFlags(fss.FlagSet("watch"))
	return fss
}

func (o *ServeOptions) Complete() error {
	return nil
}

func (o *ServeOptions) Validate() error {
	errs := o.validate()
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.WatchOptions.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *ServeOptions) Config() (*station.Config, error) {
	cfg := o.config()
	cfg.HttpOptions = o.HttpOptions
	cfg.MqttOptions = o.MqttOptions
	cfg.WatchOptions = o.WatchOptions
	return cfg, nil
}

// BatchOptions configures a one-shot run of a manifest.
type BatchOptions struct {
	StationOptions `mapstructure:",squash"`

	// File is the batch manifest.
	File string `json:"file" mapstructure:"file"`
}

var (
	_ app.NamedFlagSetOptions = (*BatchOptions)(nil)
	_ app.LogOptionsProvider  = (*BatchOptions)(nil)
)

func NewBatchOptions() *BatchOptions {
	o := &BatchOptions{StationOptions: newStationOptions()}
	// Progress goes to the terminal; keep the log out of its way.
	o.Log.Level = "warn"
	return o
}

func (o *BatchOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fss.FlagSet("batch").StringVarP(&o.File, "file", "f", o.File, "Path of the batch manifest (YAML).")
	o.addFlags(&fss)
	return fss
}

func (o *BatchOptions) Complete() error {
	// A one-shot run always needs the link.
	o.SerialOptions.OpenOnStart = true
	return nil
}

func (o *BatchOptions) Validate() error {
	errs := o.validate()
	if o.File == "" {
		errs = append(errs, fmt.Errorf("--file is required"))
	}
	return utilerrors.NewAggregate(errs)
}

func (o *BatchOptions) Config() (*station.Config, error) {
	return o.config(), nil
}

// FrameOptions configures a single manual trigger.
type FrameOptions struct {
	SerialOptions *options.SerialOptions `json:"serial" mapstructure:"serial"`
	Log           *log.Options           `json:"log" mapstructure:"log"`

	Selector   int  `json:"selector" mapstructure:"selector"`
	Bootloader int  `json:"bootloader" mapstructure:"bootloader"`
	Service    int  `json:"service" mapstructure:"service"`
	Reset      bool `json:"reset" mapstructure:"reset"`
}

var (
	_ app.NamedFlagSetOptions = (*FrameOptions)(nil)
	_ app.LogOptionsProvider  = (*FrameOptions)(nil)
)

func NewFrameOptions() *FrameOptions {
	return &FrameOptions{
		SerialOptions: options.NewSerialOptions(),
		Log:           log.NewOptions(),
		Selector:      -1,
	}
}

func (o *FrameOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("frame")
	fs.IntVar(&o.Selector, "selector", o.Selector, "Send a raw frame with this selector byte (0-255).")
	fs.IntVar(&o.Bootloader, "bootloader", o.Bootloader, "Select bootloader mode for this cycle (1-8).")
	fs.IntVar(&o.Service, "service", o.Service, "Select service mode for this cycle (1-8).")
	fs.BoolVar(&o.Reset, "reset", o.Reset, "Send the reset frame.")
	o.SerialOptions.AddFlags(fss.FlagSet("serial"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *FrameOptions) Complete() error {
	o.SerialOptions.OpenOnStart = true
	return nil
}

func (o *FrameOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.SerialOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	if _, _, err := o.Frame(); err != nil {
		errs = append(errs, err)
	}
	return utilerrors.NewAggregate(errs)
}

// Frame returns the requested frame kind and its argument. Exactly one of
// --selector, --bootloader, --service and --reset must be given.
func (o *FrameOptions) Frame() (kind string, n int, err error) {
	count := 0
	if o.Selector >= 0 {
		kind, n = server.FrameRaw, o.Selector
		count++
	}
	if o.Bootloader != 0 {
		kind, n = server.FrameBootloader, o.Bootloader
		count++
	}
	if o.Service != 0 {
		kind, n = server.FrameService, o.Service
		count++
	}
	if o.Reset {
		kind, n = server.FrameReset, 0
		count++
	}
	if count != 1 {
		return "", 0, fmt.Errorf("exactly one of --selector, --bootloader, --service or --reset is required")
	}
	if _, err := server.BuildFrame(kind, n); err != nil {
		return "", 0, err
	}
	return kind, n, nil
}

func (o *FrameOptions) LogOptions() *log.Options {
	return o.Log
}

// PortsOptions configures the port listing.
type PortsOptions struct {
	Log *log.Options `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*PortsOptions)(nil)

func NewPortsOptions() *PortsOptions {
	return &PortsOptions{Log: log.NewOptions()}
}

func (o *PortsOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *PortsOptions) Complete() error {
	return nil
}

func (o *PortsOptions) Validate() error {
	return utilerrors.NewAggregate(o.Log.Validate())
}

func (o *PortsOptions) LogOptions() *log.Options {
	return o.Log
}
