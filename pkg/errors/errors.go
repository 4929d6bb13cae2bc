// Package errors defines the error taxonomy of the key custody service.
// Provider and store failures are translated into these codes at the service boundary,
// so callers never see raw provider error codes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies an entry of the custody error taxonomy
type Code string

const (
	CodeGenerationFailed     Code = "generation_failed"
	CodeStorageConflict      Code = "storage_conflict"
	CodeStorageFailed        Code = "storage_failed"
	CodeNotFound             Code = "not_found"
	CodeAccessDenied         Code = "access_denied"
	CodeUnsupportedAlgorithm Code = "unsupported_algorithm"
	CodeDecryptionFailed     Code = "decryption_failed"
	CodeAuthenticationFailed Code = "authentication_failed"
	CodeSignatureMalformed   Code = "signature_malformed"
	CodeProviderUnavailable  Code = "provider_unavailable"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// CustodyError represents a structured error with additional metadata
type CustodyError interface {
	error

	// Code returns the taxonomy code
	Code() Code

	// Description returns a human-readable description of the code
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) CustodyError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) CustodyError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

// baseError is the internal implementation of CustodyError
type baseError struct {
	code        Code
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

// Error implements the error interface
func (e *baseError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.description
}

// Code returns the taxonomy code
func (e *baseError) Code() Code {
	return e.code
}

// Description returns the error description
func (e *baseError) Description() string {
	return e.description
}

// Unwrap returns the underlying cause error
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is matches any CustodyError carrying the same code, so errors.Is works against
// a freshly constructed error of the wanted kind.
func (e *baseError) Is(target error) bool {
	t, ok := target.(CustodyError)
	return ok && t.Code() == e.code
}

// WithCause adds a cause error to the error chain
func (e *baseError) WithCause(cause error) CustodyError {
	e.cause = cause
	return e
}

// WithMetadata adds additional context metadata
func (e *baseError) WithMetadata(key string, value interface{}) CustodyError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// Metadata returns all metadata
func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// ================================================================================
// Error Constructor
// ================================================================================

// NewError creates a new CustodyError with the specified parameters
func NewError(code Code, description string, message string) CustodyError {
	return &baseError{
		code:        code,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Taxonomy Constructors
// ================================================================================

// ErrGenerationFailed is returned when the primitive provider cannot produce key material.
func ErrGenerationFailed(message string) CustodyError {
	return NewError(CodeGenerationFailed, "The primitive provider could not generate the requested key.", message)
}

// ErrStorageConflict is returned when a (kind, tag) pair already exists in the key store.
func ErrStorageConflict(kind, tag string) CustodyError {
	return NewError(
		CodeStorageConflict,
		"A key with the same kind and tag already exists.",
		fmt.Sprintf("%s key tag %q already exists", kind, tag),
	).WithMetadata("kind", kind).
		WithMetadata("tag", tag)
}

// ErrStorageFailed is returned when the key store could not persist or read a record.
func ErrStorageFailed(message string) CustodyError {
	return NewError(CodeStorageFailed, "The key store could not complete the operation.", message)
}

// ErrNotFound is returned when no key matches the (kind, tag) pair.
func ErrNotFound(kind, tag string) CustodyError {
	return NewError(
		CodeNotFound,
		"No key matches the requested kind and tag.",
		fmt.Sprintf("%s key tag %q not found", kind, tag),
	).WithMetadata("kind", kind).
		WithMetadata("tag", tag)
}

// ErrAccessDenied is returned when the access policy of a key rejects the current context.
func ErrAccessDenied(operation string) CustodyError {
	return NewError(
		CodeAccessDenied,
		"The key's access policy does not allow this operation in the current context.",
		fmt.Sprintf("access denied for %s", operation),
	).WithMetadata("operation", operation)
}

// ErrUnsupportedAlgorithm is returned when a key handle or parameter does not support the requested scheme.
func ErrUnsupportedAlgorithm(message string) CustodyError {
	return NewError(CodeUnsupportedAlgorithm, "The key or parameter does not support the requested algorithm.", message)
}

// ErrDecryptionFailed is the single, reason-free failure of asymmetric decryption.
func ErrDecryptionFailed() CustodyError {
	return NewError(CodeDecryptionFailed, "Decryption failed.", "decryption failed")
}

// ErrAuthenticationFailed is the single, reason-free failure of opening a sealed blob.
func ErrAuthenticationFailed() CustodyError {
	return NewError(CodeAuthenticationFailed, "Message authentication failed.", "authentication failed")
}

// ErrSignatureMalformed is returned when a signature cannot be structurally valid for the key.
func ErrSignatureMalformed(message string) CustodyError {
	return NewError(CodeSignatureMalformed, "The signature is structurally invalid for this key.", message)
}

// ErrProviderUnavailable is returned when the primitive provider or its device cannot be reached.
func ErrProviderUnavailable(message string) CustodyError {
	return NewError(CodeProviderUnavailable, "The cryptographic provider is unavailable.", message)
}

// ================================================================================
// Error Inspection Utilities
// ================================================================================

// AsCustodyError finds the first CustodyError in err's chain
func AsCustodyError(err error) (CustodyError, bool) {
	var ce CustodyError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code of err, or an empty code when err is not a CustodyError.
func CodeOf(err error) Code {
	if ce, ok := AsCustodyError(err); ok {
		return ce.Code()
	}
	return ""
}

// HasCode reports whether err carries the given taxonomy code
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

//Personal.AI order the ending
