package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/autoglm/autoagent/backend/agent"
	"github.com/autoglm/autoagent/backend/settings"
)

func newDoctorCmd(options *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that models and the device are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			cfg := options.settings
			healthy := true

			plannerProvider, err := settings.BuildProvider(ctx, cfg.Planner)
			if err != nil {
				report(out, "planner", false, err.Error())
				healthy = false
			} else {
				orchestrator := agent.NewOrchestrator(plannerProvider, cfg.Planner.Model)
				ok := orchestrator.CheckAvailability(ctx) && cfg.Planner.APIKey != ""
				report(out, "planner", ok, fmt.Sprintf("%s / %s", cfg.Planner.Provider, cfg.Planner.Model))
				healthy = healthy && ok
			}

			if _, err := settings.BuildProvider(ctx, cfg.Worker); err != nil {
				report(out, "worker", false, err.Error())
				healthy = false
			} else {
				ok := cfg.Worker.APIKey != "" && cfg.Worker.Model != ""
				report(out, "worker", ok, fmt.Sprintf("%s / %s", cfg.Worker.Provider, cfg.Worker.Model))
				healthy = healthy && ok
			}

			bridge := newBridge(cfg.Device)
			if bridge.IsAvailable(ctx) {
				app, _ := bridge.ForegroundApp(ctx)
				report(out, "device", true, "foreground app: "+app)
			} else {
				report(out, "device", false, "no device reachable over adb")
				healthy = false
			}

			if !healthy {
				return fmt.Errorf("some checks failed")
			}
			return nil
		},
	}
}

func report(out io.Writer, name string, ok bool, detail string) {
	mark := "✔"
	if !ok {
		mark = "✖"
	}
	fmt.Fprintf(out, "%s %-8s %s\n", mark, name, detail)
}
