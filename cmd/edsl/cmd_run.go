package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/expectedparrot/edsl-sub003/pkg/cache"
	"github.com/expectedparrot/edsl-sub003/pkg/config"
	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/jobs"
	"github.com/expectedparrot/edsl-sub003/pkg/logging"
	"github.com/expectedparrot/edsl-sub003/pkg/model"
	"github.com/expectedparrot/edsl-sub003/pkg/results"
	"github.com/expectedparrot/edsl-sub003/pkg/telemetry"
	"github.com/expectedparrot/edsl-sub003/pkg/terminal"
)

type runOpts struct {
	output       string
	concurrency  int
	repetitions  int
	dryRun       bool
	cacheBackend string
	cacheDSN     string
	metricsAddr  string
	natsURL      string
	tracing      bool
	quiet        bool
}

func newRunCmd(global *globalOpts) *cobra.Command {
	opts := &runOpts{}

	cmd := &cobra.Command{
		Use:   "run <job.yaml>",
		Short: "Run a job and write its results",
		Long: `Run a job: administer the survey to every combination of agents,
scenarios, models and repetitions.

Exit codes: 0 when every interview completed or stopped, 2 on configuration
errors, 3 when at least one interview failed, 130 when interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if err := opts.apply(cfg); err != nil {
				return withExitCode(err, exitConfig)
			}
			return runJob(cmd.Context(), cfg, args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write results to a .csv, .jsonl or .xlsx file")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "interviews in flight (default from config)")
	cmd.Flags().IntVarP(&opts.repetitions, "repetitions", "n", 0, "repetitions of each combination (overrides the job file)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "answer every question with the scripted model")
	cmd.Flags().StringVar(&opts.cacheBackend, "cache", "", "cache backend: memory, sqlite, redis, mongo")
	cmd.Flags().StringVar(&opts.cacheDSN, "cache-dsn", "", "sqlite cache path")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /events on this address while running")
	cmd.Flags().StringVar(&opts.natsURL, "nats-url", "", "forward job events to this NATS server")
	cmd.Flags().BoolVar(&opts.tracing, "trace", false, "write OpenTelemetry spans to the log directory")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print per-interview progress")
	return cmd
}

func (o *runOpts) apply(cfg *config.Config) error {
	if o.concurrency > 0 {
		cfg.Jobs.Concurrency = o.concurrency
	}
	if o.cacheBackend != "" {
		cfg.Cache.Backend = o.cacheBackend
	}
	if o.cacheDSN != "" {
		cfg.Cache.DSN = o.cacheDSN
	}
	if o.metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = o.metricsAddr
	}
	if o.natsURL != "" {
		cfg.Telemetry.NATSURL = o.natsURL
	}
	if o.tracing {
		cfg.Telemetry.Tracing = true
	}
	if o.repetitions < 0 {
		return fmt.Errorf("--repetitions must be positive, got %d", o.repetitions)
	}
	return cfg.Validate()
}

func runJob(ctx context.Context, cfg *config.Config, path string, opts *runOpts, stdout, stderr io.Writer) error {
	compiled, product, err := loadInput(path, false)
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	switch {
	case opts.repetitions > 0:
		product.Repetitions = opts.repetitions
	case product.Repetitions == 0:
		product.Repetitions = cfg.Jobs.Repetitions
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := terminal.NewWithOutput(stdout)
	errOut := terminal.NewWithOutput(stderr)
	jobID := ulid.Make().String()
	logDir := config.ResolveLogDir(cfg)

	logger, err := logging.NewLogger(logDir, jobID)
	if err != nil {
		errOut.Warn("job log disabled: %v", err)
	}
	defer logger.Close()
	logger.SetMinLevel(logging.ParseLevel(cfg.Logging.Level))

	hub := telemetry.NewHub()
	shutdown := startTelemetry(ctx, cfg, hub, jobID, logDir, logger, errOut)
	defer shutdown()

	c := cache.OpenOrMemory(ctx, cfg, cache.Options{Logger: logger, Observer: jobs.CacheObserver(hub)})
	defer c.Close()

	caller := newCaller(cfg, opts.dryRun, logger, hub)

	var progress *terminal.Progress
	if !opts.quiet {
		progress = terminal.NewProgress(stderr, product.Len())
	}

	set, err := jobs.Run(ctx, compiled, product, jobs.Options{
		Caller:      caller,
		Cache:       c,
		Concurrency: cfg.Jobs.Concurrency,
		JobID:       jobID,
		Logger:      logger,
		Hub:         hub,
		OnRecord: func(rec results.Record) {
			if progress != nil {
				progress.Record(rec)
			}
		},
	})
	if err != nil {
		if errors.IsConfiguration(err) {
			return withExitCode(err, exitConfig)
		}
		return err
	}

	if opts.output != "" {
		if err := set.Save(opts.output); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	}
	out.Summary(set, opts.output)

	switch {
	case set.Cancelled:
		return withExitCode(errors.New(errors.ErrCodeCancelled, "job cancelled"), exitCancelled)
	case len(set.Failed()) > 0:
		return withExitCode(fmt.Errorf("%d of %d interviews failed", len(set.Failed()), set.Len()), exitInterviewsFail)
	}
	return nil
}

// newCaller builds the retrying, rate-limited caller for cfg. A dry run
// answers from the scripted model regardless of provider.
func newCaller(cfg *config.Config, dryRun bool, logger *logging.Logger, hub *telemetry.Hub) model.Caller {
	var next model.Caller = model.NewRegistryFromConfig(cfg)
	if dryRun {
		next = model.NewScripted(nil)
	}
	return model.NewRetrying(next, model.RetryOptions{
		Retry: model.RetryConfig{
			MaxAttempts:     cfg.RetryPolicy.MaxAttempts,
			InitialInterval: cfg.RetryPolicy.InitialBackoff,
			MaxInterval:     cfg.RetryPolicy.MaxBackoff,
			Multiplier:      cfg.RetryPolicy.Multiplier,
		},
		CallTimeout: cfg.Jobs.CallTimeout,
		Limiter:     model.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		Logger:      logger,
		OnRetry:     jobs.RetryObserver(hub),
	})
}

// startTelemetry starts the configured metrics server, NATS forwarder and
// tracer. The returned func closes the hub and stops them in order.
func startTelemetry(ctx context.Context, cfg *config.Config, hub *telemetry.Hub, jobID, logDir string, logger *logging.Logger, out *terminal.Writer) func() {
	var (
		server      *telemetry.Server
		metricsDone <-chan struct{}
		fwd         *telemetry.NATSForwarder
		fwdDone     <-chan struct{}
		tp          *telemetry.TracerProvider
		traceOut    *os.File
	)

	if addr := strings.TrimSpace(cfg.Telemetry.MetricsAddr); addr != "" {
		metricsDone = telemetry.RecordMetrics(ctx, hub)
		server = telemetry.NewServer(addr, hub)
		bound, err := server.Start()
		if err != nil {
			out.Warn("metrics server disabled: %v", err)
			server = nil
		} else {
			out.Dim("metrics on http://%s/metrics", bound)
		}
	}

	if url := strings.TrimSpace(cfg.Telemetry.NATSURL); url != "" {
		f, err := telemetry.NewNATSForwarder(telemetry.NATSConfig{URL: url, Subject: cfg.Telemetry.NATSSubject}, logger)
		if err != nil {
			out.Warn("NATS forwarding disabled: %v", err)
		} else {
			fwd = f
			fwdDone = fwd.Forward(context.WithoutCancel(ctx), hub)
		}
	}

	if cfg.Telemetry.Tracing {
		dir := filepath.Join(logDir, "traces")
		f, err := openTraceFile(dir, jobID)
		if err == nil {
			tp, err = telemetry.NewTracerProvider("edsl", version, f)
		}
		if err != nil {
			out.Warn("tracing disabled: %v", err)
			if f != nil {
				f.Close()
			}
		} else {
			traceOut = f
		}
	}

	return func() {
		hub.Close()
		if metricsDone != nil {
			<-metricsDone
		}
		if fwd != nil {
			<-fwdDone
			_ = fwd.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if server != nil {
			_ = server.Shutdown(shutdownCtx)
		}
		if tp != nil {
			_ = tp.Shutdown(shutdownCtx)
		}
		if traceOut != nil {
			_ = traceOut.Close()
		}
	}
}

func openTraceFile(dir, jobID string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	return os.OpenFile(filepath.Join(dir, jobID+".jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
