package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*WatchOptions)(nil)

// WatchOptions configures the hot folder that batch manifests can be dropped into.
type WatchOptions struct {
	// Dir is watched for *.yaml manifests. Empty disables the watcher.
	Dir string `json:"dir" mapstructure:"dir"`

	// DoneSuffix is appended to a manifest once it has been enqueued.
	DoneSuffix string `json:"done-suffix" mapstructure:"done-suffix"`
}

func NewWatchOptions() *WatchOptions {
	return &WatchOptions{
		DoneSuffix: ".queued",
	}
}

func (o *WatchOptions) Validate() []error {
	return []error{}
}

func (o *WatchOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Dir, "watch.dir", o.Dir, "Directory watched for batch manifests (disabled when empty).")
	fs.StringVar(&o.DoneSuffix, "watch.done-suffix", o.DoneSuffix, "Suffix appended to a manifest after it is queued.")
}
