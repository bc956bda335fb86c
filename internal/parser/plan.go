package parser

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/studiowebux/wsprobe/internal/types"
	"github.com/tidwall/jsonc"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed plan.schema.json
var planSchema []byte

// Default load profile applied when a plan leaves it empty
const (
	DefaultConnections = 1
	DefaultIterations  = 1
)

// ValidationError lists the schema violations found in a plan file
type ValidationError struct {
	Path    string
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid plan %s:\n  - %s", e.Path, strings.Join(e.Details, "\n  - "))
}

// LoadPlan reads a plan file. The format is picked from the extension:
// .ws uses the WebSocket file format, .json and .jsonc are JSON with
// comments allowed, anything else is YAML.
func LoadPlan(path string) (*types.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var plan *types.Plan
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ws":
		plan, err = ParseWebSocketPlan(strings.NewReader(string(data)))
	case ".json", ".jsonc":
		plan, err = parsePlanDocument(path, jsonc.ToJSON(data))
	default:
		plan, err = parsePlanDocument(path, data)
	}
	if err != nil {
		return nil, err
	}

	applyPlanDefaults(plan, path)

	if err := ValidatePlan(plan); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}

	return plan, nil
}

// parsePlanDocument checks a YAML or JSON document against the plan schema
// and decodes it. JSON is decoded by the YAML decoder, which accepts it.
func parsePlanDocument(path string, data []byte) (*types.Plan, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("plan %s is empty", path)
	}

	if err := validateSchema(path, doc); err != nil {
		return nil, err
	}

	var plan types.Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", path, err)
	}

	return &plan, nil
}

func validateSchema(path string, doc interface{}) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal plan %s for validation: %w", path, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(planSchema),
		gojsonschema.NewBytesLoader(docBytes),
	)
	if err != nil {
		return fmt.Errorf("failed to validate plan %s: %w", path, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return &ValidationError{Path: path, Details: details}
	}

	return nil
}

func applyPlanDefaults(plan *types.Plan, path string) {
	if plan.Name == "" {
		plan.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if plan.Sampler.Name == "" {
		plan.Sampler.Name = plan.Name
	}
	if plan.Load.Connections <= 0 {
		plan.Load.Connections = DefaultConnections
	}
	if plan.Load.Iterations <= 0 && plan.Load.DurationSec <= 0 {
		plan.Load.Iterations = DefaultIterations
	}
}

// ValidatePlan checks a decoded plan regardless of its source format
func ValidatePlan(plan *types.Plan) error {
	if err := plan.Sampler.Validate(); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	for name, v := range plan.Variables {
		if err := v.Validate(name); err != nil {
			return err
		}
	}
	if plan.Load.RampUpSec < 0 || plan.Load.DurationSec < 0 || plan.Load.PauseMs < 0 {
		return fmt.Errorf("load: ramp-up, duration and pause cannot be negative")
	}
	return nil
}
