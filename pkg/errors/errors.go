package errors

import (
	"fmt"
)

// ParseError represents a YAML or JSON decoding failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures a graph document or settings validation issue.
// Code optionally carries the engine error code the issue maps to.
type ValidationError struct {
	Field   string
	Code    string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

// NewCodedValidationError constructs a ValidationError tagged with an error code.
func NewCodedValidationError(field, code, message string) error {
	return &ValidationError{Field: field, Code: code, Message: message}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InputError reports execution input that could not be decoded.
type InputError struct {
	Source string
	Err    error
}

// NewInputError constructs an InputError.
func NewInputError(source string, err error) error {
	return &InputError{Source: source, Err: err}
}

func (e *InputError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("input error (%s): %v", e.Source, e.Err)
}

// Unwrap exposes the underlying error.
func (e *InputError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
