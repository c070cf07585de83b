package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context, creating an IngestError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *IngestError {
	if err == nil {
		return nil
	}

	// Preserve location and recoverability of an existing IngestError
	var ie *IngestError
	if errors.As(err, &ie) {
		return &IngestError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       ie,
			Context:     ie.Context,
			Component:   ie.Component,
			Path:        ie.Path,
			Recoverable: ie.Recoverable,
		}
	}

	return &IngestError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeFilesystem || errType == ErrorTypeReadiness || errType == ErrorTypeTransform,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message, path string) *IngestError {
	ie := Wrap(err, ErrorTypeIO, code, message)
	if ie != nil {
		ie.Recoverable = false
		ie.Path = path
	}
	return ie
}

// WrapFilesystem wraps a transient stat/read error for path
func WrapFilesystem(err error, code, message, path string) *IngestError {
	ie := Wrap(err, ErrorTypeFilesystem, code, message)
	if ie != nil {
		ie.Recoverable = true
		ie.Path = path
	}
	return ie
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *IngestError {
	ie := Wrap(err, ErrorTypeConfig, code, message)
	if ie != nil {
		ie.Recoverable = false
	}
	return ie
}

// FromPanic converts a recovered panic value into an internal error.
func FromPanic(recovered interface{}, path string) *IngestError {
	var cause error
	switch v := recovered.(type) {
	case error:
		cause = v
	default:
		cause = fmt.Errorf("%v", v)
	}
	return NewInternalError(ErrCodePanic, "worker panic recovered", cause).WithPath(path)
}

// GetErrorContext extracts structured log fields from an IngestError
func GetErrorContext(err error) map[string]interface{} {
	var ie *IngestError
	if errors.As(err, &ie) {
		context := make(map[string]interface{})
		for k, v := range ie.Context {
			context[k] = v
		}
		if ie.Component != "" {
			context["component"] = ie.Component
		}
		if ie.Path != "" {
			context["path"] = ie.Path
		}
		context["type"] = string(ie.Type)
		context["code"] = ie.Code
		context["recoverable"] = ie.Recoverable
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// ExtractCause extracts the root cause from a wrapped error
func ExtractCause(err error) error {
	for err != nil {
		var ie *IngestError
		if !errors.As(err, &ie) {
			return err
		}
		if ie.Cause == nil {
			return ie
		}
		err = ie.Cause
	}
	return nil
}
