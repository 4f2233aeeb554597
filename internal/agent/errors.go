package agent

import (
	"fmt"
	"strings"
)

// ViolationReason says why a field failed validation.
type ViolationReason string

const (
	ReasonMissing ViolationReason = "missing"
	ReasonEmpty   ViolationReason = "empty"
	ReasonInvalid ViolationReason = "invalid"
)

// SchemaViolationError reports a required field that is missing, empty or
// malformed. Field is the dotted descriptor key, e.g. "agent.id".
type SchemaViolationError struct {
	Field  string
	Reason ViolationReason
	Detail string
}

func (e *SchemaViolationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("field %s is %s: %s", e.Field, e.Reason, e.Detail)
	}
	return fmt.Sprintf("field %s is %s", e.Field, e.Reason)
}

// UnknownKeyError lists descriptor keys that are not part of the schema.
type UnknownKeyError struct {
	Keys []string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("unknown key(s): %s", strings.Join(e.Keys, ", "))
}

// ScriptConfigAmbiguousError reports a script table that sets both or neither
// of inline and file.
type ScriptConfigAmbiguousError struct {
	Field string
	// Both is true when both keys were set, false when neither was.
	Both bool
}

func (e *ScriptConfigAmbiguousError) Error() string {
	if e.Both {
		return fmt.Sprintf("%s: set exactly one of inline or file, not both", e.Field)
	}
	return fmt.Sprintf("%s: set exactly one of inline or file", e.Field)
}

// DecodeError wraps a TOML syntax or type error. Line and Column are 1-based
// and zero when the decoder did not report a position.
type DecodeError struct {
	Line   int
	Column int
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("decoding descriptor at line %d, column %d: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("decoding descriptor: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
