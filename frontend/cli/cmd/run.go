package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autoglm/autoagent/backend/agent"
	"github.com/autoglm/autoagent/backend/device"
	"github.com/autoglm/autoagent/backend/event"
	"github.com/autoglm/autoagent/backend/settings"
	"github.com/autoglm/autoagent/backend/worker"
)

func newRunCmd(options *globalOptions) *cobra.Command {
	var (
		yes         bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run a task against the connected device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.Join(args, " ")
			return runTask(cmd.Context(), cmd, options, goal, yes, metricsAddr)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the plan immediately, skipping the countdown")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

func runTask(ctx context.Context, cmd *cobra.Command, options *globalOptions, goal string, yes bool, metricsAddr string) error {
	cfg := options.settings
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration incomplete: %w\nrun 'autoagent config set-key' to store credentials", err)
	}

	plannerProvider, err := settings.BuildProvider(ctx, cfg.Planner)
	if err != nil {
		return fmt.Errorf("planner provider: %w", err)
	}
	workerProvider, err := settings.BuildProvider(ctx, cfg.Worker)
	if err != nil {
		return fmt.Errorf("worker provider: %w", err)
	}

	bridge := newBridge(cfg.Device)
	if !bridge.IsAvailable(ctx) {
		return fmt.Errorf("no device reachable over adb; check the connection with 'autoagent doctor'")
	}

	catalog := device.NewAppCatalog()
	catalog.Refresh(ctx, bridge)

	registry := prometheus.NewRegistry()
	bus := event.NewBus(registry)
	defer bus.Close()

	orchestrator := agent.NewOrchestrator(plannerProvider, cfg.Planner.Model)
	visionWorker := worker.NewVisionWorker(
		workerProvider, cfg.Worker.Model, bridge, bridge,
		worker.WithLauncher(bridge, catalog),
	)
	coordinator := agent.NewCoordinator(
		orchestrator, visionWorker, agent.NewContextStore(),
		agent.WithObserver(bridge),
		agent.WithBus(bus),
		agent.WithMetrics(registry),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		server := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
		group.Go(func() error {
			<-gctx.Done()
			return server.Close()
		})
		group.Go(func() error {
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	out := cmd.OutOrStdout()
	printEvents(bus, out)
	watchConfirmation(bus, coordinator, yes)
	// stdin reader exits with the process
	go readUserInput(ctx, coordinator)

	result := coordinator.StartTask(gctx, goal)

	switch result.Kind {
	case agent.ResultSuccess:
		fmt.Fprintf(out, "\n✔ %s (%d steps)\n", result.Message, result.Steps)
	case agent.ResultCancelled:
		fmt.Fprintf(out, "\n✖ task cancelled after %d steps\n", result.Steps)
	default:
		fmt.Fprintf(out, "\n✖ %s (%d steps)\n", result.Message, result.Steps)
	}

	cancel()
	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	if result.Kind == agent.ResultError {
		return fmt.Errorf("%s", result.Message)
	}
	return nil
}

func newBridge(cfg settings.DeviceConfig) *device.ADBBridge {
	var opts []device.ADBOption
	if cfg.ADBPath != "" {
		opts = append(opts, device.WithADBPath(cfg.ADBPath))
	}
	if cfg.Serial != "" {
		opts = append(opts, device.WithSerial(cfg.Serial))
	}
	return device.NewADBBridge(opts...)
}

// printEvents renders task lifecycle events to the terminal as they happen.
func printEvents(bus *event.Bus, out io.Writer) {
	write := func(format string, args ...any) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	event.Subscribe(bus, func(_ context.Context, e event.PlanProposed) {
		write("plan (%s):", e.SelectedApp)
		for i, step := range e.Steps {
			write("  %d. %s", i+1, step)
		}
		write("press enter to confirm, or type 'cancel' (auto-confirms in 3s)")
	}, nil)
	event.Subscribe(bus, func(_ context.Context, e event.StepExecuted) {
		write("[step %d] %s (%s)", e.Step, e.SubTask, e.Status)
	}, nil)
	event.Subscribe(bus, func(_ context.Context, e event.UserActionRequired) {
		write("! user action required: %s", e.Message)
		write("  type 'resume' once done")
	}, nil)
	event.Subscribe(bus, func(_ context.Context, e event.ReviewResolved) {
		if e.Outcome == "applied" {
			write("  review: %s", e.Decision)
		}
	}, nil)
	event.Subscribe(bus, func(_ context.Context, e event.NoteAdded) {
		write("  note: %s", e.Note)
	}, nil)
	event.Subscribe(bus, func(_ context.Context, e event.QuestionAsked) {
		write("? %s", e.Question)
	}, nil)
}

// watchConfirmation auto-confirms the plan when --yes was given.
func watchConfirmation(bus *event.Bus, coordinator *agent.Coordinator, yes bool) {
	if !yes {
		return
	}
	event.Subscribe(bus, func(_ context.Context, e event.PlanProposed) {
		coordinator.ConfirmPlan()
	}, nil)
}

// readUserInput maps terminal lines onto coordinator signals: empty line
// confirms, "cancel" rejects the plan, "resume" continues after manual
// intervention, "stop" aborts the task.
func readUserInput(ctx context.Context, coordinator *agent.Coordinator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
			coordinator.ConfirmPlan()
		case "cancel":
			coordinator.CancelPlan()
		case "resume":
			coordinator.Resume()
		case "stop", "quit":
			coordinator.Stop()
			return
		}
	}
}
