package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/studiowebux/wsprobe/internal/types"
)

var (
	// Variable placeholder pattern: {{varName}}
	varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

	// Shell command pattern: $(command)
	shellPattern = regexp.MustCompile(`\$\(([^)]+)\)`)
)

// Builtin variables, prefixed with $ so they never collide with plan variables
const (
	BuiltinIteration = "$iteration"
	BuiltinWorker    = "$worker"
	BuiltinUUID      = "$uuid"
	BuiltinTimestamp = "$timestamp"
)

// VariableResolver resolves {{var}} placeholders and $(command) substitutions.
// It is not safe for concurrent use; each worker owns its own resolver.
type VariableResolver struct {
	// Variables are resolved in order: builtins -> cliVars -> iterationVars -> planVars (lowest)
	planVars      map[string]types.VariableValue
	iterationVars map[string]string
	cliVars       map[string]string // CLI vars from -e flag
	envVars       map[string]string // Environment variables (accessed via {{env.VAR_NAME}})
	worker        int
	iteration     int
	now           func() time.Time
	unresolved    []string // Track unresolved variable names
	shellErrors   []string // Track shell command errors
}

// NewVariableResolver creates a new variable resolver
// cliVars and envVars can be nil if not using them
func NewVariableResolver(planVars map[string]types.VariableValue, cliVars map[string]string, envVars map[string]string) *VariableResolver {
	if planVars == nil {
		planVars = make(map[string]types.VariableValue)
	}
	if cliVars == nil {
		cliVars = make(map[string]string)
	}
	if envVars == nil {
		envVars = make(map[string]string)
	}

	return &VariableResolver{
		planVars:      planVars,
		iterationVars: make(map[string]string),
		cliVars:       cliVars,
		envVars:       envVars,
		now:           time.Now,
		unresolved:    []string{},
		shellErrors:   []string{},
	}
}

// SetIteration sets the worker and iteration numbers exposed as builtins
func (vr *VariableResolver) SetIteration(worker, iteration int) {
	vr.worker = worker
	vr.iteration = iteration
}

// SetIterationVariable adds or updates a variable scoped to the current run
func (vr *VariableResolver) SetIterationVariable(name, value string) {
	vr.iterationVars[name] = value
}

// GetUnresolvedVariables returns a list of variable names that couldn't be resolved
func (vr *VariableResolver) GetUnresolvedVariables() []string {
	seen := make(map[string]bool)
	unique := []string{}
	for _, v := range vr.unresolved {
		if !seen[v] {
			seen[v] = true
			unique = append(unique, v)
		}
	}
	return unique
}

// GetShellErrors returns a list of shell command errors that occurred during resolution
func (vr *VariableResolver) GetShellErrors() []string {
	return vr.shellErrors
}

// ExtractVariableNames extracts all unique variable names from a string
// Returns variable names without the {{ }} brackets
func ExtractVariableNames(input string) []string {
	matches := varPattern.FindAllStringSubmatch(input, -1)
	seen := make(map[string]bool)
	var names []string
	for _, match := range matches {
		if len(match) > 1 {
			name := strings.TrimSpace(match[1])
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// ExtractSamplerVariables extracts all unique variable names referenced by a sampler
func ExtractSamplerVariables(cfg *types.SamplerConfig) []string {
	seen := make(map[string]bool)
	var names []string

	addNames := func(vars []string) {
		for _, name := range vars {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	for _, field := range []string{cfg.Server, cfg.Port, cfg.Path, cfg.ConnectionID, cfg.RequestData, cfg.ResponsePattern, cfg.CloseConnectionPattern} {
		addNames(ExtractVariableNames(field))
	}
	for _, v := range cfg.Headers {
		addNames(ExtractVariableNames(v))
	}

	return names
}

// LoadEnvFile loads environment variables from a .env file
func LoadEnvFile(path string) (map[string]string, error) {
	envVars := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue // Skip malformed lines
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		envVars[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading env file: %w", err)
	}

	return envVars, nil
}

// LoadSystemEnv loads all system environment variables
func LoadSystemEnv() map[string]string {
	envVars := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envVars[parts[0]] = parts[1]
		}
	}
	return envVars
}

// ResolveSampler resolves every templated connection field of a sampler and
// returns a new config. Completion patterns are left as written; the
// controller resolves them when it compiles them.
func (vr *VariableResolver) ResolveSampler(cfg *types.SamplerConfig) (*types.SamplerConfig, error) {
	resolved := cfg.Clone()

	fields := []struct {
		name string
		ptr  *string
	}{
		{"server", &resolved.Server},
		{"port", &resolved.Port},
		{"path", &resolved.Path},
		{"connection id", &resolved.ConnectionID},
		{"connect timeout", &resolved.ConnectTimeoutMs},
		{"response timeout", &resolved.ResponseTimeoutMs},
		{"message backlog", &resolved.MessageBacklog},
		{"request data", &resolved.RequestData},
	}
	for _, f := range fields {
		if *f.ptr == "" {
			continue
		}
		value, err := vr.Resolve(*f.ptr)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f.name, err)
		}
		*f.ptr = value
	}

	for key, value := range resolved.Headers {
		resolvedValue, err := vr.Resolve(value)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve header %s: %w", key, err)
		}
		resolved.Headers[key] = resolvedValue
	}

	return resolved, nil
}

// Resolve resolves variables and shell commands in a string
func (vr *VariableResolver) Resolve(input string) (string, error) {
	// First pass: resolve shell commands
	result, err := vr.resolveShellCommands(input)
	if err != nil {
		return "", err
	}

	// Second pass: resolve variables
	result = vr.resolveVariables(result)

	// Third pass: resolve any shell commands that were in variables
	result, err = vr.resolveShellCommands(result)
	if err != nil {
		return "", err
	}

	return result, nil
}

// resolveVariables resolves {{varName}} placeholders
func (vr *VariableResolver) resolveVariables(input string) string {
	return varPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimSpace(match[2 : len(match)-2])

		if strings.HasPrefix(varName, "$") {
			if value, ok := vr.builtin(varName); ok {
				return value
			}
			vr.unresolved = append(vr.unresolved, varName)
			return match
		}

		// Check for env.VAR_NAME syntax
		if strings.HasPrefix(varName, "env.") {
			envKey := varName[4:]
			if value, ok := vr.envVars[envKey]; ok {
				return value
			}
			vr.unresolved = append(vr.unresolved, varName)
			return match
		}

		if value, ok := vr.cliVars[varName]; ok {
			return value
		}

		if value, ok := vr.iterationVars[varName]; ok {
			return value
		}

		if value, ok := vr.planVars[varName]; ok {
			return value.GetValue()
		}

		vr.unresolved = append(vr.unresolved, varName)
		return match
	})
}

func (vr *VariableResolver) builtin(name string) (string, bool) {
	switch name {
	case BuiltinIteration:
		return strconv.Itoa(vr.iteration), true
	case BuiltinWorker:
		return strconv.Itoa(vr.worker), true
	case BuiltinUUID:
		return uuid.NewString(), true
	case BuiltinTimestamp:
		return strconv.FormatInt(vr.now().UnixMilli(), 10), true
	default:
		return "", false
	}
}

// resolveShellCommands executes shell commands in $(command) syntax
func (vr *VariableResolver) resolveShellCommands(input string) (string, error) {
	var lastErr error

	result := shellPattern.ReplaceAllStringFunc(input, func(match string) string {
		command := strings.TrimSpace(match[2 : len(match)-1])

		// Execute with 5-second timeout
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", command)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if err != nil {
			errMsg := fmt.Sprintf("$(%s): %v", command, err)
			if stderr.Len() > 0 {
				errMsg = fmt.Sprintf("$(%s): %s", command, strings.TrimSpace(stderr.String()))
			}
			vr.shellErrors = append(vr.shellErrors, errMsg)
			lastErr = fmt.Errorf("shell command failed: %w\nstderr: %s", err, stderr.String())
			return match
		}

		return strings.TrimSpace(stdout.String())
	})

	return result, lastErr
}
