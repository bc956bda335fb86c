package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// UnmarshalJSON accepts either a plain string or a multi-value object
func (v *VariableValue) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		v.StringValue = &str
		v.MultiValue = nil
		return nil
	}

	var mv MultiValueVariable
	if err := json.Unmarshal(data, &mv); err == nil && len(mv.Options) > 0 {
		v.StringValue = nil
		v.MultiValue = &mv
		return nil
	}

	return errors.New("variable value must be either a string or a multi-value object")
}

// MarshalJSON implements custom JSON marshaling for VariableValue
func (v VariableValue) MarshalJSON() ([]byte, error) {
	if v.StringValue != nil {
		return json.Marshal(*v.StringValue)
	}
	if v.MultiValue != nil {
		return json.Marshal(v.MultiValue)
	}
	return json.Marshal("")
}

// UnmarshalYAML accepts either a plain string or a multi-value mapping
func (v *VariableValue) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string
	if err := unmarshal(&str); err == nil {
		v.StringValue = &str
		v.MultiValue = nil
		return nil
	}

	var mv MultiValueVariable
	if err := unmarshal(&mv); err == nil && len(mv.Options) > 0 {
		v.StringValue = nil
		v.MultiValue = &mv
		return nil
	}

	return errors.New("variable value must be either a string or a multi-value object")
}

// MarshalYAML implements custom YAML marshaling for VariableValue
func (v VariableValue) MarshalYAML() (interface{}, error) {
	if v.StringValue != nil {
		return *v.StringValue, nil
	}
	if v.MultiValue != nil {
		return v.MultiValue, nil
	}
	return "", nil
}

// GetValue returns the string value for the variable
// For multi-value variables, it returns the active option
// Returns empty string if the active index is out of bounds (use Validate to check)
func (v *VariableValue) GetValue() string {
	if v.StringValue != nil {
		return *v.StringValue
	}
	if v.MultiValue != nil && v.MultiValue.Active >= 0 && v.MultiValue.Active < len(v.MultiValue.Options) {
		return v.MultiValue.Options[v.MultiValue.Active]
	}
	return ""
}

// Validate checks if the variable configuration is valid
func (v *VariableValue) Validate(varName string) error {
	if v.MultiValue != nil {
		if len(v.MultiValue.Options) == 0 {
			return fmt.Errorf("variable '%s': multi-value variable has no options", varName)
		}
		if v.MultiValue.Active < 0 {
			return fmt.Errorf("variable '%s': active index %d is negative", varName, v.MultiValue.Active)
		}
		if v.MultiValue.Active >= len(v.MultiValue.Options) {
			return fmt.Errorf("variable '%s': active index %d is out of bounds (have %d options)",
				varName, v.MultiValue.Active, len(v.MultiValue.Options))
		}
	}
	return nil
}

// SetValue sets the string value for the variable
func (v *VariableValue) SetValue(value string) {
	v.StringValue = &value
	v.MultiValue = nil
}

// IsMultiValue returns true if this is a multi-value variable
func (v *VariableValue) IsMultiValue() bool {
	return v.MultiValue != nil
}
