package app

import (
	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/multiprog/pkg/log"
)

// NamedFlagSetOptions is implemented by the option set of every command built
// with this package.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section for help output.
	Flags() cliflag.NamedFlagSets

	// Complete fills in defaults that depend on other options.
	Complete() error

	// Validate checks the options after flags, config file and environment
	// have been merged.
	Validate() error
}

// LogOptionsProvider is optionally implemented by options that carry logging
// configuration. The app initializes the global logger from it before running.
type LogOptionsProvider interface {
	LogOptions() *log.Options
}

// Option configures an App.
type Option func(*App)

// WithOptions sets the option set of the command.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc sets the function executed after the options are validated.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithDescription sets the long description of the command.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithDefaultValidArgs rejects any positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return errUnexpectedArgs(cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithNoConfig removes the --config flag from the command.
func WithNoConfig() Option {
	return func(a *App) {
		a.noConfig = true
	}
}

// WithEnvPrefix overrides the environment variable prefix (default MULTIPROG).
func WithEnvPrefix(prefix string) Option {
	return func(a *App) {
		a.envPrefix = prefix
	}
}
