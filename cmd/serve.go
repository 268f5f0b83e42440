package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"synapse/internal/config"
	"synapse/internal/coroutine"
	"synapse/internal/manifest"
	"synapse/internal/service"
	"synapse/pkg/ids"
	"synapse/pkg/logging"
	"synapse/runtime"
	"synapse/services/consolelog"
	"synapse/services/metrics"
	"synapse/services/timer"
)

var (
	serveQuiet   bool
	serveOrdered bool
)

// serveCmd starts a synapse runtime against a service manifest and blocks
// until the event loop ends (SIGINT or a QuitEvent).
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a synapse event loop from a service manifest",
	Long: `Loads the given manifest, installs every service it declares, and
runs the event loop until interrupted.

Built-in service types available to a manifest entry's "type" field:
  consolelog - structured log/slog-backed ILog provider
  timer      - stdlib time.Timer/Ticker-backed ITimer provider
  metrics    - Prometheus-backed event statistics collector

The manifest is watched for edits: adding, removing or editing entries
reconciles the running service set without restarting the process.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "Suppress the startup spinner")
	serveCmd.Flags().BoolVar(&serveOrdered, "ordered", false, "Use the insertion-ordered queue variant")
}

func runServe(cmd *cobra.Command, args []string) error {
	manifestPath := args[0]

	logger := logging.Default()
	var rt *runtime.Runtime
	if serveOrdered {
		rt = runtime.NewOrdered(logger)
	} else {
		rt = runtime.New(logger)
	}

	registry := manifest.NewRegistry()
	registerBuiltinFactories(registry)

	// synapsectlOrigin attributes manifest-driven events to the CLI itself
	// rather than to any one installed service; it never needs a Record of
	// its own since attribution doesn't require one.
	const synapsectlOrigin ids.ServiceID = 0
	installer := manifest.NewInstaller(rt, registry, synapsectlOrigin, logger)

	install := func() error { return installer.LoadAndInstall(cmd.Context(), manifestPath) }
	if serveQuiet {
		if err := install(); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	} else {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" Loading manifest %s...", manifestPath)
		s.Start()
		err := install()
		s.Stop()
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		printServiceTable(cmd, rt)
	}

	installer.WatchAndReconcile(manifestPath)
	watcher := config.NewWatcher(manifestPath, synapsectlOrigin, rt.PushEvent)
	if err := watcher.Start(); err != nil {
		logger.Warn("cmd", 0, "runServe", "manifest watcher unavailable: %v", err)
	}
	defer watcher.Stop()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return rt.Start(ctx, runtime.RunConfig{CaptureSigint: true})
}

// printServiceTable renders the runtime's currently installed services.
// Called right after manifest load, before the event loop starts draining,
// so states reflect "declared" rather than "settled" — the loop itself
// will move each through injecting/starting/active once it runs.
func printServiceTable(cmd *cobra.Command, rt *runtime.Runtime) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "NAME", "STATE"})
	for _, s := range rt.Services() {
		t.AppendRow(table.Row{s.ID, s.Name, s.State})
	}
	t.Render()
}

// registerBuiltinFactories wires the manifest.Registry's type names to the
// bundled service constructors that don't themselves require CLI-level
// configuration beyond their manifest Properties. A manifest entry still
// declares its own "provides" list so dependents resolve it the normal way;
// the factory's only job is building the right concrete value.
func registerBuiltinFactories(registry *manifest.Registry) {
	registry.Register("consolelog", func(props service.Properties) (service.AdvancedService, error) {
		return lifecycleOf(consolelog.New(logging.LevelInfo)), nil
	})
	registry.Register("timer", func(props service.Properties) (service.AdvancedService, error) {
		return lifecycleOf(timer.New()), nil
	})
	registry.Register("metrics", func(props service.Properties) (service.AdvancedService, error) {
		return lifecycleOf(metrics.NewCollector(prometheus.DefaultRegisterer)), nil
	})
}

// passiveService wraps a constructed bundled value (a logger, a timer pool,
// a metrics collector) that has no start/stop behaviour of its own: the
// DM still needs an AdvancedService to drive through its state machine, so
// Start/Stop here just resolve immediately once construction has already
// happened. Value is kept so the Record's Impl can be type-asserted back
// to the concrete service by interface consumers.
type passiveService struct {
	Value any
}

func lifecycleOf(v any) *passiveService { return &passiveService{Value: v} }

func (p *passiveService) Start(ctx context.Context) *coroutine.Task[struct{}] {
	task := coroutine.NewTask[struct{}]()
	task.Resolve(coroutine.Result[struct{}]{})
	return task
}

func (p *passiveService) Stop(ctx context.Context) *coroutine.Task[struct{}] {
	task := coroutine.NewTask[struct{}]()
	task.Resolve(coroutine.Result[struct{}]{})
	return task
}
