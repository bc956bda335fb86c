package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/studiowebux/wsprobe/internal/cli"
	"github.com/studiowebux/wsprobe/internal/config"
	"github.com/studiowebux/wsprobe/internal/version"
)

var (
	appVersion = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "wsprobe",
	Short: "wsprobe - WebSocket load testing tool",
	Long: `wsprobe drives WebSocket servers with scripted request/response exchanges.

A plan file describes one sampler (where to connect, what to send and which
pattern completes the exchange) plus the load shape. Plans are looked up as
given, then in ~/.wsprobe/plans.

Examples:
  wsprobe sample chat.yaml                    # One iteration with its trace
  wsprobe run chat.yaml -c 50 -n 10000        # 50 connections, 10000 iterations
  wsprobe run chat.ws -e room=lobby -o json   # Provide a variable, JSON report
  wsprobe run chat.yaml --metrics-addr :9090  # Expose Prometheus metrics while running
  wsprobe runs                                # List stored runs
  wsprobe mock mock.yaml                      # Scripted server to test plans against`,
	Version:       appVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(os.Stderr, flagLogFormat, flagVerbose)
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <plan>",
	Short: "Run a load test plan and print its report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cli.WithInterrupt(cmd.Context())
		defer cancel()

		return cli.Run(ctx, cli.RunOptions{
			PlanPath:     args[0],
			Profile:      flagProfile,
			OutputFormat: flagOutput,
			SavePath:     flagSave,
			ExtraVars:    flagExtraVars,
			EnvFile:      flagEnvFile,
			Filter:       flagFilter,
			Query:        flagQuery,
			DBPath:       flagDB,
			MetricsAddr:  flagMetricsAddr,
			Connections:  flagConnections,
			Iterations:   flagIterations,
			RampUpSec:    flagRampUp,
			DurationSec:  flagDuration,
			PauseMs:      flagPause,
			Logger:       logger,
		})
	},
}

var sampleCmd = &cobra.Command{
	Use:   "sample <plan>",
	Short: "Run one iteration of a plan and print the response and trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cli.WithInterrupt(cmd.Context())
		defer cancel()

		return cli.Sample(ctx, cli.SampleOptions{
			PlanPath:     args[0],
			OutputFormat: flagOutput,
			SavePath:     flagSave,
			ExtraVars:    flagExtraVars,
			EnvFile:      flagEnvFile,
			Filter:       flagFilter,
			Query:        flagQuery,
			ShowTrace:    !flagNoTrace,
			Logger:       logger,
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored load test runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ListRuns(cli.ListRunsOptions{
			DBPath:       flagDB,
			Profile:      flagProfile,
			Limit:        flagLimit,
			OutputFormat: flagOutput,
		})
	},
}

var mockCmd = &cobra.Command{
	Use:   "mock <config>",
	Short: "Run the scripted mock WebSocket server until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cli.WithInterrupt(cmd.Context())
		defer cancel()

		return cli.Mock(ctx, cli.MockOptions{
			ConfigPath: args[0],
			Host:       flagMockHost,
			Port:       flagMockPort,
			Logger:     logger,
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and optionally check for a newer release",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("wsprobe %s\n", appVersion)
		if !flagCheck {
			return nil
		}

		update, err := version.CheckForUpdate(cmd.Context(), appVersion)
		if err != nil {
			return err
		}
		if update.Available {
			fmt.Printf("A newer version is available: %s (%s)\n", update.Latest, update.URL)
		} else {
			fmt.Println("You are running the latest version")
		}
		return nil
	},
}

// Global flags
var (
	flagVerbose   bool
	flagLogFormat string
	flagProfile   string
	flagOutput    string
	flagDB        string
)

// Flags for run/sample
var (
	flagSave        string
	flagExtraVars   []string
	flagEnvFile     string
	flagFilter      string
	flagQuery       string
	flagMetricsAddr string
	flagConnections int
	flagIterations  int
	flagRampUp      int
	flagDuration    int
	flagPause       int
	flagNoTrace     bool
)

// Flags for runs/mock/version
var (
	flagLimit    int
	flagMockHost string
	flagMockPort int
	flagCheck    bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "console", "Log format (console/json)")
	rootCmd.PersistentFlags().StringVarP(&flagProfile, "profile", "p", "", "Profile name runs are stored under")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json/yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (default ~/.wsprobe/wsprobe.db)")

	for _, cmd := range []*cobra.Command{runCmd, sampleCmd} {
		cmd.Flags().StringVarP(&flagSave, "save", "s", "", "Save output to file")
		cmd.Flags().StringArrayVarP(&flagExtraVars, "extra-vars", "e", []string{}, "Set variable (key=value), can be repeated")
		cmd.Flags().StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file")
		cmd.Flags().StringVar(&flagFilter, "filter", "", "JMESPath filter")
		cmd.Flags().StringVar(&flagQuery, "query", "", "JMESPath query, @shorthand (@failures, @codes, @summary...) or $(shell command)")
	}

	runCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	runCmd.Flags().IntVarP(&flagConnections, "connections", "c", 0, "Concurrent connections (overrides the plan)")
	runCmd.Flags().IntVarP(&flagIterations, "iterations", "n", 0, "Total iterations (overrides the plan)")
	runCmd.Flags().IntVar(&flagRampUp, "ramp-up", 0, "Ramp-up in seconds (overrides the plan)")
	runCmd.Flags().IntVarP(&flagDuration, "duration", "d", 0, "Test duration in seconds (overrides the plan)")
	runCmd.Flags().IntVar(&flagPause, "pause", 0, "Pause between iterations of one worker in ms (overrides the plan)")

	sampleCmd.Flags().BoolVar(&flagNoTrace, "no-trace", false, "Do not print the execution trace")

	runsCmd.Flags().IntVarP(&flagLimit, "limit", "l", 20, "Maximum number of runs to list")

	mockCmd.Flags().StringVar(&flagMockHost, "host", "", "Listen host (overrides the config)")
	mockCmd.Flags().IntVar(&flagMockPort, "port", 0, "Listen port (overrides the config)")

	versionCmd.Flags().BoolVar(&flagCheck, "check", false, "Check for a newer release")

	rootCmd.AddCommand(runCmd, sampleCmd, runsCmd, mockCmd, versionCmd)
}

// newLogger builds the process logger: human readable on a console or JSON lines
func newLogger(w io.Writer, format string, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	if format == "json" {
		return zerolog.New(w).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}
