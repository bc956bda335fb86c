package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jpillora/sizestr"
	"github.com/rs/zerolog"
	"github.com/studiowebux/wsprobe/internal/config"
	"github.com/studiowebux/wsprobe/internal/filter"
	"github.com/studiowebux/wsprobe/internal/parser"
	"github.com/studiowebux/wsprobe/internal/sampler"
	"github.com/studiowebux/wsprobe/internal/types"
)

// ErrSampleFailed is returned after the result is printed when the sample
// did not succeed
var ErrSampleFailed = errors.New("sample failed")

// SampleOptions contains options for running a single sample
type SampleOptions struct {
	PlanPath     string
	OutputFormat string // text, json, yaml
	SavePath     string
	ExtraVars    []string
	EnvFile      string
	Filter       string // applied to the response message
	Query        string
	ShowTrace    bool

	Logger zerolog.Logger
	Stdout io.Writer
}

// Sample runs one iteration of a plan's sampler and prints the result
func Sample(ctx context.Context, opts SampleOptions) error {
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

	resolver := parser.NewVariableResolver(plan.Variables, cliVars, envVars)
	resolver.SetIteration(0, 0)

	conns := sampler.NewConnections()
	defer conns.CloseAll()

	s := sampler.New(conns, sampler.WithResolver(resolver), sampler.WithLogger(opts.Logger))
	res := s.Sample(ctx, &plan.Sampler)

	if unresolved := resolver.GetUnresolvedVariables(); len(unresolved) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: unresolved variables: %s\n", strings.Join(unresolved, ", "))
	}
	for _, shellErr := range resolver.GetShellErrors() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", shellErr)
	}

	if !expr.Empty() {
		filtered, err := expr.Apply(ctx, res.ResponseMessage)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: filter/query error: %v\n", err)
		} else {
			res.ResponseMessage = filtered
		}
	}

	var output string
	if opts.OutputFormat == "" || opts.OutputFormat == "text" {
		output = formatSample(res, opts.ShowTrace, opts.SavePath == "" && colorEnabled(stdout))
	} else if output, err = marshalOutput(res, opts.OutputFormat); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if err := writeOutput(stdout, output, opts.SavePath); err != nil {
		return err
	}

	if !res.Success {
		return ErrSampleFailed
	}
	return nil
}

func formatSample(res *types.SampleResult, showTrace, color bool) string {
	var sb strings.Builder

	if res.Success {
		sb.WriteString(colorize(color, colorGreen, "OK"))
	} else {
		sb.WriteString(colorize(color, colorRed, "FAILED: "+res.FailureMessage))
	}
	sb.WriteString(" " + res.URL + "\n")

	reused := ""
	if res.Reused {
		reused = " (reused)"
	}
	fmt.Fprintf(&sb, "Connect: %s%s | Response: %s | Total: %s\n",
		ms(res.ConnectMs), reused, ms(res.ResponseMs), ms(res.DurationMs))
	fmt.Fprintf(&sb, "Sent: %s | Received: %s\n",
		sizestr.ToString(int64(res.SentSize)), sizestr.ToString(int64(res.ReceivedSize)))
	if res.CloseCode != 0 {
		sb.WriteString(colorize(color, colorYellow, fmt.Sprintf("Closed with code %d", res.CloseCode)) + "\n")
	}

	if res.ResponseMessage != "" {
		sb.WriteString("\n")
		sb.WriteString(res.ResponseMessage)
		sb.WriteString("\n")
	}

	if showTrace && res.Log != "" {
		sb.WriteString("\nTrace:\n")
		for _, line := range strings.Split(strings.TrimRight(res.Log, "\n"), "\n") {
			sb.WriteString("  " + line + "\n")
		}
	}

	return sb.String()
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}
