package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"

	"github.com/autopeer-io/multiprog/pkg/log"
)

// RunFunc is the entry point of a command once its options are ready.
type RunFunc func() error

// App is a cobra command whose options are merged from flags, an optional
// YAML config file and environment variables.
type App struct {
	name        string
	shortDesc   string
	description string
	envPrefix   string
	noConfig    bool
	configFile  string

	options NamedFlagSetOptions
	runFunc RunFunc
	args    cobra.PositionalArgs

	v   *viper.Viper
	cmd *cobra.Command
}

// NewApp creates a new application instance based on the given name and options.
func NewApp(name string, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		envPrefix: "MULTIPROG",
		v:         viper.New(),
	}

	for _, o := range opts {
		o(a)
	}

	a.buildCommand()

	return a
}

// Command returns the underlying cobra command, e.g. to attach it to a parent.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command with os.Args.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}
	if !a.noConfig {
		namedFlagSets.FlagSet("global").StringVarP(&a.configFile, "config", "c", "",
			"Read configuration from the specified YAML file. Flags and "+a.envPrefix+"_* variables take precedence.")
	}
	namedFlagSets.FlagSet("global").BoolP("help", "h", false, fmt.Sprintf("Help for %s.", a.name))

	fs := cmd.Flags()
	for _, f := range namedFlagSets.FlagSets {
		fs.AddFlagSet(f)
	}

	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, cols)

	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, args []string) error {
	if err := a.loadOptions(cmd); err != nil {
		return err
	}

	if lp, ok := a.options.(LogOptionsProvider); ok {
		log.Init(lp.LogOptions())
		defer func() { _ = log.Sync() }()
	}

	return a.runFunc()
}

// loadOptions merges config file, environment and flags into the options,
// then completes and validates them.
func (a *App) loadOptions(cmd *cobra.Command) error {
	if a.options == nil {
		return nil
	}

	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	a.v.SetEnvPrefix(a.envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)
		a.v.SetConfigType("yaml")
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read configuration file %q: %w", a.configFile, err)
		}
	}

	if err := a.v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to decode options: %w", err)
	}

	if err := a.options.Complete(); err != nil {
		return err
	}

	return a.options.Validate()
}

func errUnexpectedArgs(path string, args []string) error {
	return fmt.Errorf("%q does not take any arguments, got %q", path, args)
}
