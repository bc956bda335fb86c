package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
)

const (
	// QueryShellTimeout is the maximum time allowed for query shell command execution
	QueryShellTimeout = 30 * time.Second
)

var (
	// Shell command pattern: $(command)
	shellPattern = regexp.MustCompile(`^\$\((.+)\)$`)
)

// Shorthands name queries over the run report. They are used as
// `--query @name`.
var Shorthands = map[string]string{
	"failures": "failures[].{iteration: iteration, outcome: outcome, closeCode: closeCode, error: error}",
	"codes":    "closeCodes",
	"latency":  "latency",
	"outcomes": "outcomes",
	"slowest":  "reverse(sort_by(failures, &durationMs))[:5]",
	"summary":  "{status: status, completed: completed, successRate: successRate, p95: latency.p95}",
}

// Expr is a compiled filter and query pair. The filter narrows the document
// (e.g. failures[?closeCode==`1011`]); the query selects from what is left
// (e.g. [].iteration) or pipes it to $(command).
type Expr struct {
	filter *jmespath.JMESPath
	query  *jmespath.JMESPath
	shell  string
}

// Compile checks both expressions up front so a typo fails before any work
// is done. Empty expressions are allowed.
func Compile(filter, query string) (*Expr, error) {
	e := &Expr{}

	if filter != "" {
		jp, err := compileJMESPath(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		e.filter = jp
	}

	if query == "" {
		return e, nil
	}
	if matches := shellPattern.FindStringSubmatch(query); len(matches) > 1 {
		e.shell = matches[1]
		return e, nil
	}
	if strings.HasPrefix(query, "@") {
		expanded, ok := Shorthands[query[1:]]
		if !ok {
			return nil, fmt.Errorf("unknown query shorthand %s (known: %s)", query, strings.Join(shorthandNames(), ", "))
		}
		query = expanded
	}
	jp, err := compileJMESPath(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	e.query = jp
	return e, nil
}

// Empty reports whether the expression leaves documents unchanged
func (e *Expr) Empty() bool {
	return e == nil || (e.filter == nil && e.query == nil && e.shell == "")
}

// Apply runs the expression over a JSON document such as a response message.
// Without JMESPath parts the body does not need to be JSON.
func (e *Expr) Apply(ctx context.Context, body string) (string, error) {
	if e.Empty() {
		return body, nil
	}

	result := body
	if e.filter != nil || e.query != nil {
		var data interface{}
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			return "", fmt.Errorf("invalid JSON: %w", err)
		}
		out, err := e.search(data)
		if err != nil {
			return "", err
		}
		result = out
	}

	if e.shell != "" {
		out, err := executeShellCommand(ctx, result, e.shell)
		if err != nil {
			return "", fmt.Errorf("failed to execute query shell command: %w", err)
		}
		result = out
	}

	return result, nil
}

// ApplyValue runs the expression over v, typically a run report, using its
// JSON field names. Without expressions the indented JSON is returned.
func (e *Expr) ApplyValue(ctx context.Context, v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	return e.Apply(ctx, string(data))
}

func (e *Expr) search(data interface{}) (string, error) {
	var err error
	if e.filter != nil {
		if data, err = e.filter.Search(data); err != nil {
			return "", fmt.Errorf("failed to apply filter: %w", err)
		}
	}
	if e.query != nil {
		if data, err = e.query.Search(data); err != nil {
			return "", fmt.Errorf("failed to apply query: %w", err)
		}
	}

	if data == nil {
		return "null", nil
	}
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(output), nil
}

// Apply compiles filter and query and applies them to body
func Apply(body string, filter string, query string) (string, error) {
	e, err := Compile(filter, query)
	if err != nil {
		return "", err
	}
	return e.Apply(context.Background(), body)
}

func compileJMESPath(expression string) (*jmespath.JMESPath, error) {
	jp, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid JMESPath expression '%s': %w", expression, err)
	}
	return jp, nil
}

// executeShellCommand executes a shell command with the body piped to stdin
func executeShellCommand(ctx context.Context, body string, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryShellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = strings.NewReader(body)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := err.Error()
		if stderr.Len() > 0 {
			errMsg = strings.TrimSpace(stderr.String())
		}
		return "", fmt.Errorf("command '%s' failed: %s", command, errMsg)
	}

	return strings.TrimSpace(stdout.String()), nil
}

func shorthandNames() []string {
	names := make([]string, 0, len(Shorthands))
	for name := range Shorthands {
		names = append(names, "@"+name)
	}
	sort.Strings(names)
	return names
}
