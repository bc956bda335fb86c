package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/studiowebux/wsprobe/internal/config"
	"github.com/studiowebux/wsprobe/internal/filter"
	"github.com/studiowebux/wsprobe/internal/parser"
	"github.com/studiowebux/wsprobe/internal/stresstest"
	"golang.org/x/sync/errgroup"
)

// stopTimeout bounds how long an interrupted run waits for its workers
const stopTimeout = 10 * time.Second

// RunOptions contains options for running a load test plan
type RunOptions struct {
	PlanPath     string
	Profile      string
	OutputFormat string // text, json, yaml
	SavePath     string
	ExtraVars    []string // key=value pairs from -e flag
	EnvFile      string
	Filter       string // JMESPath filter applied to the report
	Query        string // JMESPath query or $(bash command)
	DBPath       string // overrides config.DatabasePath
	MetricsAddr  string // serve Prometheus metrics here while running

	// Load shape overrides, zero keeps the plan value
	Connections int
	Iterations  int
	RampUpSec   int
	DurationSec int
	PauseMs     int

	Logger zerolog.Logger
	Stdout io.Writer
}

func (o *RunOptions) applyOverrides(cfg *stresstest.Config) {
	if o.Connections > 0 {
		cfg.ConcurrentConns = o.Connections
	}
	if o.Iterations > 0 {
		cfg.TotalIterations = o.Iterations
	}
	if o.RampUpSec > 0 {
		cfg.RampUpDurationSec = o.RampUpSec
	}
	if o.DurationSec > 0 {
		cfg.TestDurationSec = o.DurationSec
	}
	if o.PauseMs > 0 {
		cfg.PauseMs = o.PauseMs
	}
}

// Run executes a load test plan and prints its report
func Run(ctx context.Context, opts RunOptions) error {
	logger := opts.Logger
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	planPath, err := config.ResolvePlanPath(opts.PlanPath)
	if err != nil {
		return err
	}
	plan, err := parser.LoadPlan(planPath)
	if err != nil {
		return err
	}

	expr, err := filter.Compile(opts.Filter, opts.Query)
	if err != nil {
		return err
	}

	cliVars := parseExtraVars(opts.ExtraVars)
	envVars, err := loadEnvVars(opts.EnvFile)
	if err != nil {
		return err
	}
	if err := selectVariables(plan, cliVars, envVars); err != nil {
		return err
	}

	cfg := stresstest.ConfigFromPlan(plan, planPath, opts.Profile)
	opts.applyOverrides(cfg)

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = config.DatabasePath
	}
	if dbPath == "" {
		return fmt.Errorf("no database path configured")
	}
	mgr, err := stresstest.NewManager(dbPath)
	if err != nil {
		return err
	}
	defer mgr.Close()

	var (
		metrics  *stresstest.Metrics
		registry *prometheus.Registry
	)
	if opts.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		if metrics, err = stresstest.NewMetrics(registry); err != nil {
			return err
		}
	}

	exec, err := stresstest.NewExecutor(&stresstest.ExecutionConfig{
		Plan:    plan,
		Config:  cfg,
		CLIVars: cliVars,
		EnvVars: envVars,
		Logger:  logger,
		Metrics: metrics,
	}, mgr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	runDone := make(chan struct{})

	if registry != nil {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("address", opts.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-runDone:
			case <-gctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer close(runDone)
		return runExecutor(gctx, exec, logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	report, err := buildReport(mgr, exec, cfg)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	var output string
	if !expr.Empty() {
		filtered, err := expr.ApplyValue(ctx, report)
		if err != nil {
			return fmt.Errorf("filter/query error: %w", err)
		}
		output = filtered + "\n"
	} else {
		output, err = formatReport(report, opts.OutputFormat, opts.SavePath == "" && colorEnabled(stdout))
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
	}

	if err := writeOutput(stdout, output, opts.SavePath); err != nil {
		return err
	}

	if report.failed() {
		return fmt.Errorf("%d of %d %w", report.Completed-report.Outcomes[stresstest.OutcomeSuccess], report.Completed, ErrIterationsFailed)
	}
	return nil
}

// runExecutor starts the executor and waits for it, stopping it when ctx is
// cancelled first
func runExecutor(ctx context.Context, exec *stresstest.Executor, logger zerolog.Logger) error {
	exec.Start()

	done := make(chan struct{})
	go func() {
		_ = exec.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	logger.Warn().Msg("stopping load test")
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := exec.StopWithContext(stopCtx); err != nil {
		logger.Warn().Err(err).Msg("workers did not stop in time")
	}
	return nil
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
