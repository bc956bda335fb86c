package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/studiowebux/wsprobe/internal/mock"
	"github.com/studiowebux/wsprobe/internal/stresstest"
	"github.com/studiowebux/wsprobe/internal/types"
)

// startTarget serves a scripted mock server and returns its host and port
func startTarget(t *testing.T, rules []mock.Rule) (string, string) {
	t.Helper()
	s, err := mock.NewServer(&mock.Config{Path: "/ws", Rules: rules}, "")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("Failed to parse server URL: %v", err)
	}
	return u.Hostname(), u.Port()
}

func writePlan(t *testing.T, host, port string, iterations int) string {
	t.Helper()
	content := fmt.Sprintf(`name: ping
sampler:
  server: %s
  port: "%s"
  path: /ws
  requestData: "{{word}}"
  responsePattern: pong
  connectTimeout: 2000
  responseTimeout: 2000
load:
  connections: 2
  iterations: %d
`, host, port, iterations)

	path := filepath.Join(t.TempDir(), "ping.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write plan: %v", err)
	}
	return path
}

var pingRules = []mock.Rule{
	{Match: "ping", Replies: []string{"pong"}},
	{Match: "crash", CloseCode: 1011, CloseReason: "boom"},
}

func TestParseExtraVars(t *testing.T) {
	vars := parseExtraVars([]string{"a=1", "b=x=y", "flag", "=skip", ""})

	if vars["a"] != "1" || vars["b"] != "x=y" {
		t.Errorf("Unexpected values %v", vars)
	}
	if v, ok := vars["flag"]; !ok || v != "" {
		t.Errorf("Expected bare key to be set empty, got %q (%v)", v, ok)
	}
	if len(vars) != 3 {
		t.Errorf("Expected 3 variables, got %v", vars)
	}
}

func TestLoadEnvVars_FileOverridesSystem(t *testing.T) {
	t.Setenv("WSPROBE_TEST_TOKEN", "system")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("WSPROBE_TEST_TOKEN=file\nexport ROOM='lobby'\n"), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	vars, err := loadEnvVars(path)
	if err != nil {
		t.Fatalf("loadEnvVars failed: %v", err)
	}
	if vars["WSPROBE_TEST_TOKEN"] != "file" || vars["ROOM"] != "lobby" {
		t.Errorf("Unexpected env vars token=%q room=%q", vars["WSPROBE_TEST_TOKEN"], vars["ROOM"])
	}

	if _, err := loadEnvVars(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("Expected missing env file to fail")
	}
}

func TestSelectVariables_NonInteractive(t *testing.T) {
	plan := &types.Plan{
		Variables: map[string]types.VariableValue{
			"env": {MultiValue: &types.MultiValueVariable{Options: []string{"dev", "prod"}, Active: 1}},
		},
		Sampler: types.SamplerConfig{
			Server:      "{{env.HOST}}",
			Path:        "/{{env}}/{{room}}/{{$worker}}",
			RequestData: "{{user}}",
		},
	}

	cliVars := map[string]string{"room": "lobby"}
	err := selectVariables(plan, cliVars, map[string]string{"HOST": "localhost"})
	if err == nil || !strings.Contains(err.Error(), "user") {
		t.Fatalf("Expected missing variable error naming user, got %v", err)
	}
	if strings.Contains(err.Error(), "env") || strings.Contains(err.Error(), "room") {
		t.Errorf("Only user should be missing, got %v", err)
	}

	cliVars["user"] = "bob"
	if err := selectVariables(plan, cliVars, map[string]string{"HOST": "localhost"}); err != nil {
		t.Errorf("Expected all variables satisfied, got %v", err)
	}
	if _, ok := cliVars["env"]; ok {
		t.Error("Multi-value variable should keep its active option without a terminal")
	}
}

func TestFormatReport(t *testing.T) {
	r := &Report{
		RunID:       7,
		Name:        "ping",
		Target:      "ws://localhost:8080/ws",
		Status:      stresstest.StatusCompleted,
		Connections: 2,
		Sent:        10,
		Completed:   10,
		SuccessRate: 80,
		Outcomes: map[string]int{
			stresstest.OutcomeSuccess:       8,
			stresstest.OutcomeAbnormalClose: 2,
		},
		CloseCodes:    map[string]int{"1011": 2},
		Latency:       Latency{Avg: 12.5, Min: 3, Max: 40, P50: 10, P95: 35, P99: 40},
		SentBytes:     2048,
		ReceivedBytes: 512,
	}

	text, err := formatReport(r, "text", false)
	if err != nil {
		t.Fatalf("formatReport failed: %v", err)
	}
	for _, want := range []string{"ping: completed", "Run: #7", "Success: 80.0%", "abnormal_close", "1011", "p95 35", "Traffic: sent"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected text report to contain %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "\x1b[") {
		t.Error("Expected no ANSI colors when color is disabled")
	}
	if !r.failed() {
		t.Error("Expected report with abnormal closes to count as failed")
	}

	js, err := formatReport(r, "json", false)
	if err != nil {
		t.Fatalf("formatReport json failed: %v", err)
	}
	var decoded Report
	if err := json.Unmarshal([]byte(js), &decoded); err != nil {
		t.Fatalf("Invalid JSON report: %v", err)
	}
	if decoded.CloseCodes["1011"] != 2 || decoded.Latency.P95 != 35 {
		t.Errorf("Unexpected decoded report %+v", decoded)
	}

	yml, err := formatReport(r, "yaml", false)
	if err != nil {
		t.Fatalf("formatReport yaml failed: %v", err)
	}
	if !strings.Contains(yml, "runId: 7") {
		t.Errorf("Unexpected YAML report:\n%s", yml)
	}

	if _, err := formatReport(r, "xml", false); err == nil {
		t.Error("Expected unsupported format to fail")
	}
}

func TestRun_EndToEnd(t *testing.T) {
	host, port := startTarget(t, pingRules)
	planPath := writePlan(t, host, port, 6)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	var out bytes.Buffer
	err := Run(context.Background(), RunOptions{
		PlanPath:     planPath,
		OutputFormat: "json",
		ExtraVars:    []string{"word=ping"},
		DBPath:       dbPath,
		Logger:       zerolog.Nop(),
		Stdout:       &out,
	})
	if err != nil {
		t.Fatalf("Run failed: %v\n%s", err, out.String())
	}

	var report Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("Invalid JSON report: %v\n%s", err, out.String())
	}
	if report.Status != stresstest.StatusCompleted || report.Completed != 6 {
		t.Errorf("Unexpected report %+v", report)
	}
	if report.Outcomes[stresstest.OutcomeSuccess] != 6 || report.SuccessRate != 100 {
		t.Errorf("Expected all iterations to succeed, got %v", report.Outcomes)
	}
	if report.SentBytes != 6*int64(len("4|ping")) {
		t.Errorf("Expected sent bytes to sum framed payloads, got %d", report.SentBytes)
	}

	// The run is stored and listed
	var listed bytes.Buffer
	if err := ListRuns(ListRunsOptions{DBPath: dbPath, OutputFormat: "json", Stdout: &listed}); err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	var runs []runSummary
	if err := json.Unmarshal(listed.Bytes(), &runs); err != nil {
		t.Fatalf("Invalid runs JSON: %v\n%s", err, listed.String())
	}
	if len(runs) != 1 || runs[0].ID != report.RunID || runs[0].Completed != 6 {
		t.Errorf("Unexpected listed runs %+v", runs)
	}

	var table bytes.Buffer
	if err := ListRuns(ListRunsOptions{DBPath: dbPath, Stdout: &table}); err != nil {
		t.Fatalf("ListRuns text failed: %v", err)
	}
	if !strings.Contains(table.String(), "ping") || !strings.Contains(table.String(), "completed") {
		t.Errorf("Unexpected runs table:\n%s", table.String())
	}
}

func TestRun_FailuresAndQuery(t *testing.T) {
	host, port := startTarget(t, pingRules)
	planPath := writePlan(t, host, port, 4)

	var out bytes.Buffer
	err := Run(context.Background(), RunOptions{
		PlanPath:  planPath,
		ExtraVars: []string{"word=crash"},
		Query:     "closeCodes.\"1011\"",
		DBPath:    ":memory:",
		Logger:    zerolog.Nop(),
		Stdout:    &out,
	})
	if !errors.Is(err, ErrIterationsFailed) {
		t.Fatalf("Expected ErrIterationsFailed, got %v", err)
	}
	if strings.TrimSpace(out.String()) != "4" {
		t.Errorf("Expected query to print the 1011 count, got %q", out.String())
	}
}

func TestRun_FailuresShorthand(t *testing.T) {
	host, port := startTarget(t, pingRules)
	planPath := writePlan(t, host, port, 3)

	var out bytes.Buffer
	err := Run(context.Background(), RunOptions{
		PlanPath:  planPath,
		ExtraVars: []string{"word=crash"},
		Filter:    "failures[?closeCode==`1011`]",
		Query:     "length(@)",
		DBPath:    ":memory:",
		Logger:    zerolog.Nop(),
		Stdout:    &out,
	})
	if !errors.Is(err, ErrIterationsFailed) {
		t.Fatalf("Expected ErrIterationsFailed, got %v", err)
	}
	if strings.TrimSpace(out.String()) != "3" {
		t.Errorf("Expected three failures closed with 1011, got %q", out.String())
	}

	out.Reset()
	err = Run(context.Background(), RunOptions{
		PlanPath:  planPath,
		ExtraVars: []string{"word=crash"},
		Query:     "@failures",
		DBPath:    ":memory:",
		Logger:    zerolog.Nop(),
		Stdout:    &out,
	})
	if !errors.Is(err, ErrIterationsFailed) {
		t.Fatalf("Expected ErrIterationsFailed, got %v", err)
	}

	var failures []map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &failures); err != nil {
		t.Fatalf("Failed to decode failures %q: %v", out.String(), err)
	}
	if len(failures) != 3 {
		t.Fatalf("Expected 3 failures, got %d", len(failures))
	}
	if failures[0]["outcome"] != stresstest.OutcomeAbnormalClose {
		t.Errorf("Unexpected failure %v", failures[0])
	}
}

func TestRun_InvalidFilterFailsBeforeRunning(t *testing.T) {
	planPath := writePlan(t, "127.0.0.1", "1", 1)

	err := Run(context.Background(), RunOptions{
		PlanPath:  planPath,
		ExtraVars: []string{"word=ping"},
		Filter:    "failures[?",
		DBPath:    ":memory:",
		Logger:    zerolog.Nop(),
		Stdout:    &bytes.Buffer{},
	})
	if err == nil || !strings.Contains(err.Error(), "invalid filter") {
		t.Errorf("Expected invalid filter error, got %v", err)
	}
}

func TestRun_MissingVariable(t *testing.T) {
	host, port := startTarget(t, pingRules)
	planPath := writePlan(t, host, port, 1)

	err := Run(context.Background(), RunOptions{
		PlanPath: planPath,
		DBPath:   ":memory:",
		Logger:   zerolog.Nop(),
		Stdout:   &bytes.Buffer{},
	})
	if err == nil || !strings.Contains(err.Error(), "word") {
		t.Errorf("Expected missing variable error, got %v", err)
	}
}

func TestRun_SaveAndOverrides(t *testing.T) {
	host, port := startTarget(t, pingRules)
	planPath := writePlan(t, host, port, 100)
	savePath := filepath.Join(t.TempDir(), "report.yaml")

	err := Run(context.Background(), RunOptions{
		PlanPath:     planPath,
		OutputFormat: "yaml",
		SavePath:     savePath,
		ExtraVars:    []string{"word=ping"},
		DBPath:       ":memory:",
		Connections:  1,
		Iterations:   3,
		Logger:       zerolog.Nop(),
		Stdout:       &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(savePath)
	if err != nil {
		t.Fatalf("Expected saved report: %v", err)
	}
	if !strings.Contains(string(data), "completed: 3") || !strings.Contains(string(data), "connections: 1") {
		t.Errorf("Unexpected saved report:\n%s", data)
	}
}

func TestRun_MetricsServerFailureStopsRun(t *testing.T) {
	host, port := startTarget(t, pingRules)
	planPath := writePlan(t, host, port, 1)

	// Occupy the address so the metrics server cannot bind
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	err = Run(context.Background(), RunOptions{
		PlanPath:    planPath,
		ExtraVars:   []string{"word=ping"},
		DBPath:      ":memory:",
		MetricsAddr: ln.Addr().String(),
		Logger:      zerolog.Nop(),
		Stdout:      &bytes.Buffer{},
	})
	if err == nil || !strings.Contains(err.Error(), "metrics server") {
		t.Errorf("Expected metrics server error, got %v", err)
	}
}

func TestSample(t *testing.T) {
	host, port := startTarget(t, pingRules)
	planPath := writePlan(t, host, port, 1)

	var out bytes.Buffer
	err := Sample(context.Background(), SampleOptions{
		PlanPath:  planPath,
		ExtraVars: []string{"word=ping"},
		ShowTrace: true,
		Logger:    zerolog.Nop(),
		Stdout:    &out,
	})
	if err != nil {
		t.Fatalf("Sample failed: %v\n%s", err, out.String())
	}
	for _, want := range []string{"OK ws://", "pong", "Trace:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	err = Sample(context.Background(), SampleOptions{
		PlanPath:     planPath,
		OutputFormat: "json",
		ExtraVars:    []string{"word=crash"},
		Logger:       zerolog.Nop(),
		Stdout:       &out,
	})
	if !errors.Is(err, ErrSampleFailed) {
		t.Fatalf("Expected ErrSampleFailed, got %v", err)
	}
	var res types.SampleResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("Invalid JSON result: %v\n%s", err, out.String())
	}
	if res.Success || res.CloseCode != 1011 {
		t.Errorf("Expected abnormal close 1011, got %+v", res)
	}
}

func TestMock(t *testing.T) {
	// Reserve a free port for the mock server
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfgPath := filepath.Join(t.TempDir(), "mock.yaml")
	if err := os.WriteFile(cfgPath, []byte("path: /ws\nlogging: true\nrules:\n  - match: ping\n    replies: [pong]\n"), 0644); err != nil {
		t.Fatalf("Failed to write mock config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Mock(ctx, MockOptions{ConfigPath: cfgPath, Host: "127.0.0.1", Port: port, Logger: zerolog.Nop()})
	}()

	addr := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
	var conn *websocket.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, _, err = websocket.DefaultDialer.Dial(addr, nil)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte("ping"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, msg, err := conn.ReadMessage(); err != nil || string(msg) != "4|pong" {
		t.Errorf("Expected framed pong, got %q (%v)", msg, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Mock returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Mock did not stop after cancel")
	}
}
