package mock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads a mock configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// validateConfig validates the mock configuration and compiles regex rules
func validateConfig(config *Config) error {
	if len(config.Rules) == 0 && !config.Echo && config.Greeting == "" {
		return fmt.Errorf("no rules defined")
	}

	for i := range config.Rules {
		rule := &config.Rules[i]
		switch rule.MatchType {
		case "", "exact", "prefix":
		case "regex":
			re, err := regexp2.Compile(rule.Match, regexp2.None)
			if err != nil {
				return fmt.Errorf("rule %d: invalid regex %q: %w", i, rule.Match, err)
			}
			rule.re = re
		default:
			return fmt.Errorf("rule %d: matchType must be 'exact', 'prefix', or 'regex'", i)
		}
		if rule.CloseCode != 0 && (rule.CloseCode < 1000 || rule.CloseCode > 4999) {
			return fmt.Errorf("rule %d: invalid close code %d", i, rule.CloseCode)
		}
	}

	return nil
}

// SaveConfig saves a mock configuration to a file
func SaveConfig(config *Config, path string) error {
	var data []byte
	var err error

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
