package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// VariableType represents the type of a template variable.
type VariableType string

const (
	VariableTypeString  VariableType = "STRING"
	VariableTypeNumber  VariableType = "NUMBER"
	VariableTypeBoolean VariableType = "BOOLEAN"
	VariableTypeJSON    VariableType = "JSON"
)

// ParseVariableType returns the type named by s (case-insensitive).
func ParseVariableType(s string) (VariableType, error) {
	switch t := VariableType(strings.ToUpper(strings.TrimSpace(s))); t {
	case VariableTypeString, VariableTypeNumber, VariableTypeBoolean, VariableTypeJSON:
		return t, nil
	default:
		return "", fmt.Errorf("unknown variable type %q", s)
	}
}

// LenientVariableType maps unknown or empty type names to STRING.
func LenientVariableType(s string) VariableType {
	t, err := ParseVariableType(s)
	if err != nil {
		return VariableTypeString
	}
	return t
}

// Variable defines expected input to a prompt template. It belongs to exactly
// one version and is never mutated after the version is created.
type Variable struct {
	Name         string       `json:"name"`
	Type         VariableType `json:"type"`
	Required     bool         `json:"required"`
	DefaultValue *string      `json:"defaultValue,omitempty"`
}

// Validate checks a rendering value against the variable type. present is
// false when the caller supplied no value at all.
func (v *Variable) Validate(value string, present bool) error {
	if !present {
		if v.Required {
			return &ValidationError{Field: v.Name, Message: "required field is missing"}
		}
		return nil
	}
	switch v.Type {
	case VariableTypeNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return &ValidationError{Field: v.Name, Value: value, Message: "expected number"}
		}
	case VariableTypeBoolean:
		if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
			return &ValidationError{Field: v.Name, Value: value, Message: "expected boolean"}
		}
	case VariableTypeJSON:
		if !json.Valid([]byte(value)) {
			return &ValidationError{Field: v.Name, Value: value, Message: "expected JSON"}
		}
	}
	return nil
}

// ValidateVariables checks that every variable has a name, a known type and a
// name unique within the list.
func ValidateVariables(vars []Variable) error {
	seen := make(map[string]bool, len(vars))
	for i, v := range vars {
		field := fmt.Sprintf("variables[%d]", i)
		if strings.TrimSpace(v.Name) == "" {
			return BadRequest(field+".name", "%s.name is required", field)
		}
		if _, err := ParseVariableType(string(v.Type)); err != nil {
			return BadRequest(field+".type", "variable %q: %v", v.Name, err)
		}
		if seen[v.Name] {
			return BadRequest(field+".name", "duplicate variable name %q", v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}

// CopyVariables returns a deep copy of vars, preserving nil.
func CopyVariables(vars []Variable) []Variable {
	if vars == nil {
		return nil
	}
	out := make([]Variable, len(vars))
	for i, v := range vars {
		out[i] = v
		out[i].DefaultValue = copyString(v.DefaultValue)
	}
	return out
}

// VariableOption configures a Variable (functional option).
type VariableOption func(*Variable)

// Required marks the variable as required.
func Required() VariableOption {
	return func(v *Variable) {
		v.Required = true
	}
}

// Default sets the default value used when no input is provided.
func Default(val string) VariableOption {
	return func(v *Variable) {
		v.DefaultValue = &val
	}
}

// NewVariable returns a variable of the given type.
func NewVariable(name string, typ VariableType, opts ...VariableOption) Variable {
	v := Variable{Name: name, Type: typ}
	for _, o := range opts {
		o(&v)
	}
	return v
}
