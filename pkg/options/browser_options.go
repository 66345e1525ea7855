package options

import (
	"fmt"
	"net/url"

	"github.com/spf13/pflag"
)

var _ IOptions = (*BrowserOptions)(nil)

// BrowserOptions configures the headless browser used to drive the device web UI.
type BrowserOptions struct {
	// ExecPath is the Chrome/Chromium binary. Empty means look it up on PATH.
	ExecPath string `json:"exec-path" mapstructure:"exec-path"`

	// RemoteURL attaches to an already running browser's DevTools endpoint
	// (e.g. ws://127.0.0.1:9222) instead of launching one.
	RemoteURL string `json:"remote-url" mapstructure:"remote-url"`

	Headless bool `json:"headless" mapstructure:"headless"`

	// Credentials for the post-reboot login form.
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
}

func NewBrowserOptions() *BrowserOptions {
	return &BrowserOptions{
		Headless: true,
		Username: "admin",
		Password: "admin",
	}
}

func (o *BrowserOptions) Validate() []error {
	errors := []error{}

	if o.RemoteURL != "" {
		if _, err := url.Parse(o.RemoteURL); err != nil {
			errors = append(errors, fmt.Errorf("--browser.remote-url: %w", err))
		}
		if o.ExecPath != "" {
			errors = append(errors, fmt.Errorf("--browser.remote-url and --browser.exec-path are mutually exclusive"))
		}
	}
	if o.Username == "" {
		errors = append(errors, fmt.Errorf("--browser.username must not be empty"))
	}

	return errors
}

func (o *BrowserOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ExecPath, "browser.exec-path", o.ExecPath, "Path to the Chrome/Chromium executable.")
	fs.StringVar(&o.RemoteURL, "browser.remote-url", o.RemoteURL, "DevTools URL of a running browser to attach to instead of launching one.")
	fs.BoolVar(&o.Headless, "browser.headless", o.Headless, "Run the launched browser without a window.")
	fs.StringVar(&o.Username, "browser.username", o.Username, "Username for the device login form.")
	fs.StringVar(&o.Password, "browser.password", o.Password, "Password for the device login form.")
}
