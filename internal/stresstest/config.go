package stresstest

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/studiowebux/wsprobe/internal/types"
)

// Config represents a load test configuration
type Config struct {
	ID                int64
	Name              string
	PlanFile          string
	ProfileName       string
	ConcurrentConns   int // one worker per connection slot
	TotalIterations   int
	RampUpDurationSec int
	TestDurationSec   int
	PauseMs           int // pause between two iterations of the same worker
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Run statuses
const (
	StatusRunning          = "running"
	StatusCompleted        = "completed"
	StatusCancelled        = "cancelled"
	StatusCancelledTimeout = "cancelled (timeout)"
)

// Run represents a load test run record
type Run struct {
	ID                       int64
	ConfigID                 *int64
	ConfigName               string
	PlanFile                 string
	ProfileName              string
	TargetURL                string
	StartedAt                time.Time
	CompletedAt              *time.Time
	Status                   string
	TotalIterationsSent      int
	TotalIterationsCompleted int
	TotalConnectFailures     int
	TotalAbnormalCloses      int
	TotalTimeouts            int
	AvgDurationMs            float64
	MinDurationMs            int64
	MaxDurationMs            int64
	P50DurationMs            int64
	P95DurationMs            int64
	P99DurationMs            int64
}

// Iteration outcomes
const (
	OutcomeSuccess        = "success"
	OutcomeConnectFailure = "connect_failure"
	OutcomeAbnormalClose  = "abnormal_close"
	OutcomeTimeout        = "timeout"
	OutcomeError          = "error"
)

// Metric represents a single sampler iteration in a load test
type Metric struct {
	ID           int64
	RunID        int64
	Worker       int
	Iteration    int
	Timestamp    time.Time
	ElapsedMs    int64
	Outcome      string
	CloseCode    int
	Reused       bool
	Matched      bool
	ConnectMs    int64
	ResponseMs   int64
	DurationMs   int64
	SentSize     int64
	ReceivedSize int64
	ErrorMessage string
}

// ExecutionConfig contains the runtime configuration for executing a load test
type ExecutionConfig struct {
	Plan    *types.Plan
	Config  *Config
	CLIVars map[string]string
	EnvVars map[string]string
	Logger  zerolog.Logger
	Metrics *Metrics // optional
}

// ConfigFromPlan builds a config from a plan's load profile
func ConfigFromPlan(plan *types.Plan, planFile, profile string) *Config {
	return &Config{
		Name:              plan.Name,
		PlanFile:          planFile,
		ProfileName:       profile,
		ConcurrentConns:   plan.Load.Connections,
		TotalIterations:   plan.Load.Iterations,
		RampUpDurationSec: plan.Load.RampUpSec,
		TestDurationSec:   plan.Load.DurationSec,
		PauseMs:           plan.Load.PauseMs,
	}
}

// Validate validates the load test configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if c.PlanFile == "" {
		return fmt.Errorf("plan file is required")
	}
	if c.ConcurrentConns <= 0 {
		return fmt.Errorf("concurrent connections must be greater than 0")
	}
	if c.ConcurrentConns > 1000 {
		return fmt.Errorf("concurrent connections cannot exceed 1000")
	}
	if c.TotalIterations <= 0 {
		return fmt.Errorf("total iterations must be greater than 0")
	}
	if c.TotalIterations > 1000000 {
		return fmt.Errorf("total iterations cannot exceed 1,000,000")
	}
	if c.RampUpDurationSec < 0 {
		return fmt.Errorf("ramp-up duration cannot be negative")
	}
	if c.TestDurationSec < 0 {
		return fmt.Errorf("test duration cannot be negative")
	}
	if c.PauseMs < 0 {
		return fmt.Errorf("pause cannot be negative")
	}
	return nil
}

// GetRampUpDuration returns the ramp-up duration as time.Duration
func (c *Config) GetRampUpDuration() time.Duration {
	return time.Duration(c.RampUpDurationSec) * time.Second
}

// GetTestDuration returns the test duration as time.Duration, 0 meaning unlimited
func (c *Config) GetTestDuration() time.Duration {
	if c.TestDurationSec == 0 {
		return 0
	}
	return time.Duration(c.TestDurationSec) * time.Second
}

// GetPause returns the per-worker pause between iterations
func (c *Config) GetPause() time.Duration {
	return time.Duration(c.PauseMs) * time.Millisecond
}

// IsRunning returns true if the run is currently in progress
func (r *Run) IsRunning() bool {
	return r.Status == StatusRunning
}

// IsCompleted returns true if the run has finished
func (r *Run) IsCompleted() bool {
	return !r.IsRunning()
}
