package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/sizestr"
	"github.com/studiowebux/wsprobe/internal/stresstest"
)

// Report summarizes a finished load test run
type Report struct {
	RunID          int64          `json:"runId" yaml:"runId"`
	Name           string         `json:"name" yaml:"name"`
	Target         string         `json:"target" yaml:"target"`
	Status         string         `json:"status" yaml:"status"`
	StartedAt      time.Time      `json:"startedAt" yaml:"startedAt"`
	ElapsedMs      int64          `json:"elapsedMs" yaml:"elapsedMs"`
	Connections    int            `json:"connections" yaml:"connections"`
	Sent           int            `json:"sent" yaml:"sent"`
	Completed      int            `json:"completed" yaml:"completed"`
	SuccessRate    float64        `json:"successRate" yaml:"successRate"`
	Outcomes       map[string]int `json:"outcomes" yaml:"outcomes"`
	CloseCodes     map[string]int `json:"closeCodes,omitempty" yaml:"closeCodes,omitempty"`
	Latency        Latency        `json:"latency" yaml:"latency"`
	SentBytes      int64          `json:"sentBytes" yaml:"sentBytes"`
	ReceivedBytes  int64          `json:"receivedBytes" yaml:"receivedBytes"`
	ReusedSessions int            `json:"reusedSessions" yaml:"reusedSessions"`
	Failures       []Failure      `json:"failures" yaml:"failures"`
}

// Failure is one failed iteration, kept for filtering the report
type Failure struct {
	Worker     int    `json:"worker" yaml:"worker"`
	Iteration  int    `json:"iteration" yaml:"iteration"`
	Outcome    string `json:"outcome" yaml:"outcome"`
	CloseCode  int    `json:"closeCode" yaml:"closeCode"`
	DurationMs int64  `json:"durationMs" yaml:"durationMs"`
	Error      string `json:"error" yaml:"error"`
}

// maxReportFailures bounds the failures listed in a report
const maxReportFailures = 100

// Latency holds iteration durations in milliseconds
type Latency struct {
	Avg float64 `json:"avg" yaml:"avg"`
	Min int64   `json:"min" yaml:"min"`
	Max int64   `json:"max" yaml:"max"`
	P50 int64   `json:"p50" yaml:"p50"`
	P95 int64   `json:"p95" yaml:"p95"`
	P99 int64   `json:"p99" yaml:"p99"`
}

// buildReport assembles the report from the finalized run and its stored metrics
func buildReport(mgr *stresstest.Manager, exec *stresstest.Executor, cfg *stresstest.Config) (*Report, error) {
	run := exec.GetRun()
	stats := exec.GetStats()

	report := &Report{
		RunID:       run.ID,
		Name:        run.ConfigName,
		Target:      run.TargetURL,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		Connections: cfg.ConcurrentConns,
		Sent:        run.TotalIterationsSent,
		Completed:   run.TotalIterationsCompleted,
		SuccessRate: stats.SuccessRate(),
		Outcomes: map[string]int{
			stresstest.OutcomeSuccess:        stats.SuccessCount,
			stresstest.OutcomeConnectFailure: stats.ConnectFailureCount,
			stresstest.OutcomeAbnormalClose:  stats.AbnormalCloseCount,
			stresstest.OutcomeTimeout:        stats.TimeoutCount,
			stresstest.OutcomeError:          stats.ErrorCount,
		},
		Failures: []Failure{},
		Latency: Latency{
			Avg: run.AvgDurationMs,
			Min: run.MinDurationMs,
			Max: run.MaxDurationMs,
			P50: run.P50DurationMs,
			P95: run.P95DurationMs,
			P99: run.P99DurationMs,
		},
	}
	if run.CompletedAt != nil {
		report.ElapsedMs = run.CompletedAt.Sub(run.StartedAt).Milliseconds()
	}

	codes, err := mgr.CloseCodeCounts(run.ID)
	if err != nil {
		return nil, err
	}
	if len(codes) > 0 {
		report.CloseCodes = make(map[string]int, len(codes))
		for code, n := range codes {
			report.CloseCodes[strconv.Itoa(code)] = n
		}
	}

	metrics, err := mgr.GetMetrics(run.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range metrics {
		report.SentBytes += m.SentSize
		report.ReceivedBytes += m.ReceivedSize
		if m.Reused {
			report.ReusedSessions++
		}
		if m.Outcome != stresstest.OutcomeSuccess && len(report.Failures) < maxReportFailures {
			report.Failures = append(report.Failures, Failure{
				Worker:     m.Worker,
				Iteration:  m.Iteration,
				Outcome:    m.Outcome,
				CloseCode:  m.CloseCode,
				DurationMs: m.DurationMs,
				Error:      m.ErrorMessage,
			})
		}
	}

	return report, nil
}

func (r *Report) failed() bool {
	return r.Completed == 0 || r.Outcomes[stresstest.OutcomeSuccess] < r.Completed
}

// formatReport renders the report as text, json or yaml
func formatReport(r *Report, format string, color bool) (string, error) {
	if format != "" && format != "text" {
		return marshalOutput(r, format)
	}

	var sb strings.Builder

	statusColor := colorGreen
	switch {
	case r.Status != stresstest.StatusCompleted:
		statusColor = colorYellow
	case r.failed():
		statusColor = colorRed
	}
	sb.WriteString(colorize(color, statusColor, fmt.Sprintf("%s: %s", r.Name, r.Status)))
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "Target: %s | Run: #%d | Connections: %d | Elapsed: %s\n",
		r.Target, r.RunID, r.Connections, time.Duration(r.ElapsedMs)*time.Millisecond)
	fmt.Fprintf(&sb, "Iterations: %d completed of %d sent | Success: %.1f%%\n",
		r.Completed, r.Sent, r.SuccessRate)

	sb.WriteString("\nOutcomes:\n")
	for _, outcome := range sortedKeys(r.Outcomes) {
		n := r.Outcomes[outcome]
		line := fmt.Sprintf("  %-16s %d", outcome, n)
		if outcome != stresstest.OutcomeSuccess && n > 0 {
			line = colorize(color, colorRed, line)
		}
		sb.WriteString(line + "\n")
	}

	if len(r.CloseCodes) > 0 {
		sb.WriteString("\nClose codes:\n")
		for _, code := range sortedKeys(r.CloseCodes) {
			fmt.Fprintf(&sb, "  %-16s %d\n", code, r.CloseCodes[code])
		}
	}

	fmt.Fprintf(&sb, "\nLatency (ms): avg %.1f | min %d | p50 %d | p95 %d | p99 %d | max %d\n",
		r.Latency.Avg, r.Latency.Min, r.Latency.P50, r.Latency.P95, r.Latency.P99, r.Latency.Max)
	fmt.Fprintf(&sb, "Traffic: sent %s | received %s | reused sessions %d\n",
		sizestr.ToString(r.SentBytes), sizestr.ToString(r.ReceivedBytes), r.ReusedSessions)

	return sb.String(), nil
}
