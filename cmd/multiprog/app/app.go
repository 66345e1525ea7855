package app

import (
	"github.com/spf13/cobra"
)

const rootDesc = `multiprog drives a factory provisioning fixture: it selects each socket
over the serial control link, flashes the bootloader, boots the unit into
service mode and programs its serial number through the device web UI.`

// NewMultiprogCommand returns the root command with every subcommand attached.
func NewMultiprogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "multiprog",
		Short:         "Provision units on a multi-socket programming fixture",
		Long:          rootDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeApp().Command(),
		newBatchApp().Command(),
		newFrameApp().Command(),
		newPortsApp().Command(),
	)
	return cmd
}
