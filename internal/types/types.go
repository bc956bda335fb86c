package types

// Plan is a load-test plan file: variables, one sampler and the load shape
type Plan struct {
	Name        string                   `json:"name" yaml:"name"`
	Description string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Variables   map[string]VariableValue `json:"variables,omitempty" yaml:"variables,omitempty"`
	Sampler     SamplerConfig            `json:"sampler" yaml:"sampler"`
	Load        LoadProfile              `json:"load,omitempty" yaml:"load,omitempty"`
}

// LoadProfile describes how many connections run and for how long
type LoadProfile struct {
	Connections int `json:"connections,omitempty" yaml:"connections,omitempty"` // concurrent workers
	Iterations  int `json:"iterations,omitempty" yaml:"iterations,omitempty"`   // total iterations across workers
	RampUpSec   int `json:"rampUp,omitempty" yaml:"rampUp,omitempty"`
	DurationSec int `json:"duration,omitempty" yaml:"duration,omitempty"`
	PauseMs     int `json:"pause,omitempty" yaml:"pause,omitempty"` // pause between iterations of one worker
}

// VariableValue can be a simple string or a multi-value variable
type VariableValue struct {
	// Simple string value
	StringValue *string

	// Multi-value variable
	MultiValue *MultiValueVariable
}

// MultiValueVariable represents a variable with multiple options
type MultiValueVariable struct {
	Options     []string `json:"options" yaml:"options"`
	Active      int      `json:"active" yaml:"active"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// TLSConfig holds TLS settings for wss connections
type TLSConfig struct {
	CertFile           string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	CAFile             string `json:"caFile,omitempty" yaml:"caFile,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}
