package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/studiowebux/wsprobe/internal/config"
	"github.com/studiowebux/wsprobe/internal/stresstest"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// ListRunsOptions contains options for listing stored runs
type ListRunsOptions struct {
	DBPath       string
	Profile      string
	Limit        int
	OutputFormat string // text, json, yaml
	Stdout       io.Writer
}

// runSummary is the serialized form of a stored run
type runSummary struct {
	ID             int64   `json:"id" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	Target         string  `json:"target" yaml:"target"`
	Status         string  `json:"status" yaml:"status"`
	StartedAt      string  `json:"startedAt" yaml:"startedAt"`
	Completed      int     `json:"completed" yaml:"completed"`
	ConnectFailure int     `json:"connectFailures" yaml:"connectFailures"`
	AbnormalCloses int     `json:"abnormalCloses" yaml:"abnormalCloses"`
	Timeouts       int     `json:"timeouts" yaml:"timeouts"`
	AvgMs          float64 `json:"avgMs" yaml:"avgMs"`
	P95Ms          int64   `json:"p95Ms" yaml:"p95Ms"`
}

// ListRuns prints the most recent load test runs
func ListRuns(opts ListRunsOptions) error {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = config.DatabasePath
	}
	mgr, err := stresstest.NewManager(dbPath)
	if err != nil {
		return err
	}
	defer mgr.Close()

	runs, err := mgr.ListRuns(opts.Profile, opts.Limit)
	if err != nil {
		return err
	}

	summaries := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, runSummary{
			ID:             r.ID,
			Name:           r.ConfigName,
			Target:         r.TargetURL,
			Status:         r.Status,
			StartedAt:      r.StartedAt.Format("2006-01-02 15:04:05"),
			Completed:      r.TotalIterationsCompleted,
			ConnectFailure: r.TotalConnectFailures,
			AbnormalCloses: r.TotalAbnormalCloses,
			Timeouts:       r.TotalTimeouts,
			AvgMs:          r.AvgDurationMs,
			P95Ms:          r.P95DurationMs,
		})
	}

	if opts.OutputFormat != "" && opts.OutputFormat != "text" {
		output, err := marshalOutput(summaries, opts.OutputFormat)
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, output)
		return err
	}

	if len(summaries) == 0 {
		_, err := fmt.Fprintln(stdout, "No runs recorded yet")
		return err
	}

	t := table.New().
		Headers("ID", "NAME", "TARGET", "STATUS", "STARTED", "DONE", "CONN FAIL", "ABNORMAL", "TIMEOUTS", "AVG MS", "P95 MS").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, s := range summaries {
		t.Row(
			strconv.FormatInt(s.ID, 10),
			s.Name,
			s.Target,
			s.Status,
			s.StartedAt,
			strconv.Itoa(s.Completed),
			strconv.Itoa(s.ConnectFailure),
			strconv.Itoa(s.AbnormalCloses),
			strconv.Itoa(s.Timeouts),
			strconv.FormatFloat(s.AvgMs, 'f', 1, 64),
			strconv.FormatInt(s.P95Ms, 10),
		)
	}

	_, err = fmt.Fprintln(stdout, t.Render())
	return err
}
