package agent

import (
	"errors"
	"fmt"
)

// ErrorCode identifies well-known domain error categories shared by the graph
// definition layer and the execution engine.
type ErrorCode string

const (
	// Definition errors are fatal at graph-load time; the execution never starts.
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeDuplicate     ErrorCode = "DUPLICATE_ID"
	ErrCodeDuplicateLink ErrorCode = "DUPLICATE_LINK"
	ErrCodeCycle         ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrCodeUnknownNode   ErrorCode = "UNKNOWN_NODE"
	ErrCodeUnknownPort   ErrorCode = "UNKNOWN_PORT"
	ErrCodeUnknownBlock  ErrorCode = "UNKNOWN_BLOCK_TYPE"
	ErrCodeMissingInput  ErrorCode = "MISSING_INPUT"
	ErrCodeType          ErrorCode = "INVALID_TYPE"

	ErrCodeDispatch  ErrorCode = "DISPATCH_ERROR"
	ErrCodeBlock     ErrorCode = "BLOCK_EXECUTION_ERROR"
	ErrCodeTimeout   ErrorCode = "TIMEOUT"
	ErrCodeLedger    ErrorCode = "LEDGER_ERROR"
	ErrCodeLeaseHeld ErrorCode = "LEASE_UNAVAILABLE"
	ErrCodeLeaseLost ErrorCode = "LEASE_LOST"
	ErrCodeState     ErrorCode = "INVALID_STATE"
	ErrCodeNotFound  ErrorCode = "NOT_FOUND"
	ErrCodeConflict  ErrorCode = "CONFLICT"
	ErrCodeCancelled ErrorCode = "CANCELLED"
	ErrCodeInternal  ErrorCode = "INTERNAL_ERROR"
)

var definitionCodes = map[ErrorCode]struct{}{
	ErrCodeValidation:    {},
	ErrCodeDuplicate:     {},
	ErrCodeDuplicateLink: {},
	ErrCodeCycle:         {},
	ErrCodeUnknownNode:   {},
	ErrCodeUnknownPort:   {},
	ErrCodeUnknownBlock:  {},
	ErrCodeMissingInput:  {},
	ErrCodeType:          {},
}

// DomainError represents a typed error enriched with contextual data while
// remaining free from infrastructure dependencies.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As usage.
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is comparisons against other DomainError values. A target
// without a message matches on code alone.
func (e *DomainError) Is(target error) bool {
	var domainErr *DomainError
	if !errors.As(target, &domainErr) {
		return false
	}
	if domainErr.Message == "" {
		return e.Code == domainErr.Code
	}
	return e.Code == domainErr.Code && e.Message == domainErr.Message
}

// WithContext clones the error with additional contextual metadata.
func (e *DomainError) WithContext(ctx map[string]interface{}) *DomainError {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Context: merged,
	}
}

// NewError constructs a DomainError with the supplied code and message.
func NewError(code ErrorCode, message string, cause error, context map[string]interface{}) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: context,
	}
}

// CodeOf extracts the error code from err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// HasCode reports whether err wraps a DomainError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsDefinitionError reports whether err is a graph definition error.
func IsDefinitionError(err error) bool {
	_, ok := definitionCodes[CodeOf(err)]
	return ok
}

func newValidationError(message string, context map[string]interface{}) *DomainError {
	return NewError(ErrCodeValidation, message, nil, context)
}

func newDuplicateError(identifier string) *DomainError {
	return NewError(ErrCodeDuplicate, "duplicate identifier", nil, map[string]interface{}{
		"id": identifier,
	})
}

func newCycleError(path []string) *DomainError {
	return NewError(ErrCodeCycle, "cycle over non-static links", nil, map[string]interface{}{
		"path": path,
	})
}

func newTypeError(port string, expected DataType, actual interface{}) *DomainError {
	return NewError(ErrCodeType, "invalid type", nil, map[string]interface{}{
		"port":     port,
		"expected": string(expected),
		"actual":   fmt.Sprintf("%T", actual),
	})
}

// BlockError is the structured failure a block reports. Retryable failures
// are re-dispatched by the coordinator within its attempt budget.
type BlockError struct {
	Kind      string
	Message   string
	Retryable bool
	Cause     error
}

// NewBlockError constructs a non-retryable block failure.
func NewBlockError(kind, message string) *BlockError {
	return &BlockError{Kind: kind, Message: message}
}

// NewRetryableBlockError constructs a block failure the coordinator may retry.
func NewRetryableBlockError(kind, message string, cause error) *BlockError {
	return &BlockError{Kind: kind, Message: message, Retryable: true, Cause: cause}
}

func (e *BlockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error.
func (e *BlockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
