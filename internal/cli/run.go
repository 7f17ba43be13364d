package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/entsync/internal/config"
	"github.com/roach88/entsync/internal/engine"
	"github.com/roach88/entsync/internal/host"
	"github.com/roach88/entsync/internal/hub"
	"github.com/roach88/entsync/internal/metrics"
	"github.com/roach88/entsync/internal/store"
	"github.com/roach88/entsync/internal/variables"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config        string
	Database      string
	Manifests     string
	MetricsListen string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the hub with one engine per connection",
		Long: `Start the synchronization hub.

Loads the connection manifests, opens the SQLite entity store (creating it
if it doesn't exist) and runs one sync engine per connection. Connections
with a command in the config file run as child processes speaking CBOR
frames on stdio; the others use the built-in module.

Flags override the config file.

Example:
  entsync run --db ./entsync.db --manifests ./manifests
  entsync run --config ./entsync.yaml --metrics-listen :2112 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHub(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Manifests, "manifests", "", "directory of CUE connection manifests")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "address for the Prometheus /metrics endpoint")

	return cmd
}

// loadRunConfig reads the config file, if any, and applies flag overrides.
func loadRunConfig(opts *RunOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.LoadFile(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Manifests != "" {
		cfg.Manifests = opts.Manifests
	}
	if opts.MetricsListen != "" {
		cfg.Metrics.Listen = opts.MetricsListen
	}
	if cfg.Manifests == "" {
		return nil, errors.New("manifests: directory is required (--manifests or config)")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runHub(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadRunConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Level(), opts.Verbose)
	slog.SetDefault(logger)

	logger.Info("loading manifests", "dir", cfg.Manifests)
	registry, issues, err := loadManifests(cfg.Manifests)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifests", err)
	}
	if len(issues) > 0 {
		for _, issue := range issues {
			logger.Error("manifest problem", "issue", issue.String())
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("%d manifest problem(s)", len(issues)))
	}
	for id := range cfg.Connections {
		if _, ok := registry.Catalog(id); !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("config connection %q has no manifest", id))
		}
	}
	logger.Info("manifests loaded", "connections", len(registry.Connections()))

	logger.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h := hub.New(st, variables.NewStore(), registry,
		hub.WithLogger(logger),
		hub.WithMetrics(metrics.New(promReg)),
		hub.WithEngineOptions(append(cfg.EngineOptions(), engine.WithTokenGenerator(engine.UUIDv7Generator{}))...),
		hub.WithErrorHandler(func(connectionID string, err error) {
			logger.Error("connection needs attention", "connection", connectionID, "error", err)
		}),
	)

	processes, err := addConnections(ctx, h, registry.Connections(), cfg, logger)
	defer func() {
		for _, p := range processes {
			p.stop()
		}
	}()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start connections", err)
	}

	if cfg.Metrics.Listen != "" {
		stop := serveMetrics(cfg.Metrics.Listen, promReg, logger)
		defer stop()
	}

	h.Start()
	fmt.Fprintf(cmd.OutOrStdout(), "Hub started with %d connection(s). Press Ctrl-C to stop.\n", len(h.Connections()))

	if err := h.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "hub error", err)
	}
	for _, id := range h.Connections() {
		if err := h.RemoveConnection(id); err != nil {
			logger.Warn("remove connection", "connection", id, "error", err)
		}
	}
	logger.Info("hub stopped gracefully")
	return nil
}

// addConnections registers one host adapter per connection: a child
// process when configured, the built-in module otherwise.
func addConnections(ctx context.Context, h *hub.Hub, ids []string, cfg *config.Config, logger *slog.Logger) ([]*moduleProcess, error) {
	var processes []*moduleProcess
	for _, id := range ids {
		var adapter engine.HostAdapter
		if cc, ok := cfg.Connections[id]; ok && len(cc.Command) > 0 {
			p, err := startModule(ctx, id, cc.Command, logger)
			if err != nil {
				return processes, err
			}
			processes = append(processes, p)
			hostOpts := []host.Option{host.WithLogger(logger)}
			if cc.Timeout > 0 {
				hostOpts = append(hostOpts, host.WithTimeout(cc.Timeout.Std()))
			}
			adapter = host.NewRemote(id, p.transport, hostOpts...)
		} else {
			adapter = host.NewInProcess(host.NewBuiltin(nil, nil, host.WithLogger(logger)), host.WithLogger(logger))
		}
		if err := h.AddConnection(id, adapter); err != nil {
			return processes, err
		}
	}
	return processes, nil
}

// serveMetrics exposes the registry on /metrics until the returned stop
// function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
