package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autoglm/autoagent/backend/device"
)

func newAppsCmd(options *globalOptions) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List app names the agent can launch",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := device.NewAppCatalog()
			if refresh {
				bridge := newBridge(options.settings.Device)
				if !bridge.IsAvailable(cmd.Context()) {
					return fmt.Errorf("no device reachable over adb")
				}
				catalog.Refresh(cmd.Context(), bridge)
			}

			out := cmd.OutOrStdout()
			for _, name := range catalog.Known() {
				pkg, _ := catalog.Resolve(name)
				fmt.Fprintf(out, "%-24s %s\n", name, pkg)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "merge the device's installed packages into the list")
	return cmd
}
