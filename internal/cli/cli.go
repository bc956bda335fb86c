package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/studiowebux/wsprobe/internal/config"
	"github.com/studiowebux/wsprobe/internal/parser"
	"github.com/studiowebux/wsprobe/internal/types"
	"gopkg.in/yaml.v3"
)

// ErrIterationsFailed is returned after the report is printed when at least
// one iteration did not succeed
var ErrIterationsFailed = errors.New("iterations failed")

// ANSI color codes
const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
)

// WithInterrupt returns a context cancelled on SIGINT or SIGTERM
func WithInterrupt(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// isInteractive checks if stdin is a terminal (not piped)
func isInteractive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// colorEnabled reports whether w is a terminal that should get ANSI colors
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}

func colorize(enabled bool, color, text string) string {
	if !enabled {
		return text
	}
	return color + text + colorReset
}

// promptForVariable prompts the user to enter a value for a variable
func promptForVariable(name string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter value for '%s': ", name)
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// parseExtraVars parses -e key=value pairs. A bare key sets an empty value.
func parseExtraVars(extra []string) map[string]string {
	vars := make(map[string]string, len(extra))
	for _, ev := range extra {
		parts := strings.SplitN(ev, "=", 2)
		switch {
		case len(parts) == 2 && parts[0] != "":
			vars[parts[0]] = parts[1]
		case len(parts) == 1 && parts[0] != "":
			vars[parts[0]] = ""
		}
	}
	return vars
}

// loadEnvVars merges the system environment, the global env file and the
// env file given on the command line, later sources winning
func loadEnvVars(envFile string) (map[string]string, error) {
	envVars := parser.LoadSystemEnv()

	files := make([]string, 0, 2)
	if global, ok := config.GlobalEnvFile(); ok {
		files = append(files, global)
	}
	if envFile != "" {
		path, err := config.ExpandHome(envFile)
		if err != nil {
			return nil, err
		}
		files = append(files, path)
	}

	for _, path := range files {
		fileVars, err := parser.LoadEnvFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
		for k, v := range fileVars {
			envVars[k] = v
		}
	}

	return envVars, nil
}

// selectVariables fills cliVars for the variables a plan needs but nobody
// provided. Multi-value variables get the interactive selector, unknown
// variables are prompted for. Without a terminal multi-value variables keep
// their active option and unknown variables are an error.
func selectVariables(plan *types.Plan, cliVars, envVars map[string]string) error {
	interactive := isInteractive()

	var missing []string
	for _, name := range parser.ExtractSamplerVariables(&plan.Sampler) {
		if _, ok := cliVars[name]; ok {
			continue
		}
		if strings.HasPrefix(name, "$") {
			continue
		}
		if strings.HasPrefix(name, "env.") {
			if _, ok := envVars[name[4:]]; ok {
				continue
			}
		}

		planVar, ok := plan.Variables[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if !planVar.IsMultiValue() || !interactive {
			continue
		}

		value, err := promptForMultiValueVariable(name, planVar.MultiValue)
		if err != nil {
			return fmt.Errorf("failed to select value for '%s': %w", name, err)
		}
		cliVars[name] = value
	}

	if len(missing) == 0 {
		return nil
	}
	if !interactive {
		return fmt.Errorf("missing variables (non-interactive mode): %s. Use -e <name>=<value>", strings.Join(missing, ", "))
	}

	for _, name := range missing {
		value, err := promptForVariable(name)
		if err != nil {
			return fmt.Errorf("failed to read input for '%s': %w", name, err)
		}
		cliVars[name] = value
	}
	return nil
}

// marshalOutput renders v as json or yaml
func marshalOutput(v interface{}, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s (use text, json, or yaml)", format)
	}
}

// writeOutput prints output or saves it when savePath is set
func writeOutput(w io.Writer, output, savePath string) error {
	if savePath == "" {
		_, err := io.WriteString(w, output)
		return err
	}

	path, err := config.ExpandHome(savePath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(output), config.FilePermissions); err != nil {
		return fmt.Errorf("failed to save output: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Output saved to %s\n", path)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
