package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*FlasherOptions)(nil)

// FlasherOptions points at the external programmer tool.
type FlasherOptions struct {
	// ToolPath is invoked as `ToolPath <image>`.
	ToolPath string `json:"tool-path" mapstructure:"tool-path"`
}

func NewFlasherOptions() *FlasherOptions {
	return &FlasherOptions{
		ToolPath: "./bin/bootloader.bat",
	}
}

func (o *FlasherOptions) Validate() []error {
	errors := []error{}

	if o.ToolPath == "" {
		errors = append(errors, fmt.Errorf("--flasher.tool-path must not be empty"))
	}

	return errors
}

func (o *FlasherOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ToolPath, "flasher.tool-path", o.ToolPath, "Programmer tool invoked with the bootloader image as its only argument.")
}
