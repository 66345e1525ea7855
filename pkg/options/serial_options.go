package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SerialOptions)(nil)

// SerialOptions describes the control link to the programming fixture.
type SerialOptions struct {
	// Port is the device name, e.g. /dev/ttyUSB0 or COM3.
	Port string `json:"port" mapstructure:"port"`

	BaudRate    int           `json:"baud-rate" mapstructure:"baud-rate"`
	ReadTimeout time.Duration `json:"read-timeout" mapstructure:"read-timeout"`

	// OpenOnStart opens the link when the station starts instead of waiting
	// for an explicit connect request.
	OpenOnStart bool `json:"open-on-start" mapstructure:"open-on-start"`
}

// NewSerialOptions creates a SerialOptions object with the fixture defaults (19200 8N1).
func NewSerialOptions() *SerialOptions {
	return &SerialOptions{
		BaudRate:    19200,
		ReadTimeout: time.Second,
		OpenOnStart: true,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *SerialOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.BaudRate <= 0 {
		errors = append(errors, fmt.Errorf("--serial.baud-rate must be positive, got %d", o.BaudRate))
	}
	if o.ReadTimeout < 0 {
		errors = append(errors, fmt.Errorf("--serial.read-timeout must not be negative"))
	}
	if o.OpenOnStart && o.Port == "" {
		errors = append(errors, fmt.Errorf("--serial.port is required when --serial.open-on-start is set"))
	}

	return errors
}

// AddFlags adds flags for SerialOptions to the specified FlagSet.
func (o *SerialOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Port, "serial.port", o.Port, "Serial port connected to the programming fixture.")
	fs.IntVar(&o.BaudRate, "serial.baud-rate", o.BaudRate, "Baud rate of the control link.")
	fs.DurationVar(&o.ReadTimeout, "serial.read-timeout", o.ReadTimeout, "Read timeout of the control link.")
	fs.BoolVar(&o.OpenOnStart, "serial.open-on-start", o.OpenOnStart, "Open the control link when the station starts.")
}
