package service

import "fmt"

// Code is the closed validation failure taxonomy. Every failed validation
// maps to exactly one code; handlers decide how much of it the end user sees.
type Code string

const (
	CodeMalformed        Code = "MALFORMED"
	CodeInvalidSignature Code = "INVALID_SIGNATURE"
	CodeExpired          Code = "EXPIRED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeRevoked          Code = "REVOKED"
	CodeUsageExceeded    Code = "USAGE_EXCEEDED"
	CodeDeviceMismatch   Code = "DEVICE_MISMATCH"
	CodeWrongPurpose     Code = "WRONG_PURPOSE"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// ValidationError is terminal for the request: the pipeline never retries
// internally and the caller must not either.
type ValidationError struct {
	Code Code
	err  error
}

func NewValidationError(code Code, err error) *ValidationError {
	return &ValidationError{Code: code, err: err}
}

func (e *ValidationError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("token validation failed (%s): %v", e.Code, e.err)
	}
	return fmt.Sprintf("token validation failed (%s)", e.Code)
}

func (e *ValidationError) Unwrap() error { return e.err }
