package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the categories of per-file and startup failures.
type ErrorType string

const (
	// ErrorTypeFilesystem covers transient stat/read races. Dropped silently.
	ErrorTypeFilesystem ErrorType = "filesystem"
	// ErrorTypeReadiness covers files that never stabilized.
	ErrorTypeReadiness ErrorType = "readiness"
	// ErrorTypeTransform covers OCR failures. Always degraded to pass-through.
	ErrorTypeTransform ErrorType = "transform"
	// ErrorTypeSecurity covers output paths escaping the output root.
	ErrorTypeSecurity ErrorType = "security"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// IngestError is a structured error type with context.
type IngestError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Path        string
	Recoverable bool
}

// Error implements the error interface.
func (e *IngestError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *IngestError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *IngestError) Is(target error) bool {
	var t *IngestError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *IngestError) WithContext(key string, value interface{}) *IngestError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the file the error concerns.
func (e *IngestError) WithPath(path string) *IngestError {
	e.Path = path

	return e
}

// WithComponent adds component context.
func (e *IngestError) WithComponent(component string) *IngestError {
	e.Component = component

	return e
}

// NewSecurityError creates a security error.
func NewSecurityError(code, message string) *IngestError {
	return &IngestError{
		Type:        ErrorTypeSecurity,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewFilesystemError creates a transient filesystem error.
func NewFilesystemError(code, message string, cause error) *IngestError {
	return &IngestError{
		Type:        ErrorTypeFilesystem,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewReadinessError creates a readiness error.
func NewReadinessError(code, message string, cause error) *IngestError {
	return &IngestError{
		Type:        ErrorTypeReadiness,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTransformError creates a transformation error.
func NewTransformError(code, message string, cause error) *IngestError {
	return &IngestError{
		Type:        ErrorTypeTransform,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *IngestError {
	return &IngestError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *IngestError {
	return &IngestError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *IngestError {
	return &IngestError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsSecurityError checks if an error is security-related.
func IsSecurityError(err error) bool {
	return TypeOf(err) == ErrorTypeSecurity
}

// IsFilesystemError reports transient filesystem races that callers drop.
func IsFilesystemError(err error) bool {
	return TypeOf(err) == ErrorTypeFilesystem
}

// TypeOf returns the ErrorType of err, or "" when err is not an IngestError.
func TypeOf(err error) ErrorType {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Type
	}

	return ""
}

// Common error codes.
const (
	ErrCodePathTraversal    = "ERR_PATH_TRAVERSAL"
	ErrCodeInvalidName      = "ERR_INVALID_NAME"
	ErrCodeCommandInjection = "ERR_COMMAND_INJECTION"
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodeReadFailed       = "ERR_READ_FAILED"
	ErrCodeNotReady         = "ERR_NOT_READY"
	ErrCodeTransformFailed  = "ERR_TRANSFORM_FAILED"
	ErrCodeWriteFailed      = "ERR_WRITE_FAILED"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeLockHeld         = "ERR_LOCK_HELD"
	ErrCodePanic            = "ERR_PANIC"
	ErrCodeInternalError    = "ERR_INTERNAL"
)

// ErrPathTraversal creates a path traversal security error.
func ErrPathTraversal(path string) *IngestError {
	return NewSecurityError(ErrCodePathTraversal, "path escapes output root: "+path)
}

// ErrCommandInjection creates a command injection security error.
func ErrCommandInjection(command string) *IngestError {
	return NewSecurityError(
		ErrCodeCommandInjection,
		"command injection attempt: "+command,
	)
}
