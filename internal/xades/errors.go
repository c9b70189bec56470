package xades

import (
	"errors"
	"fmt"
)

// XAdESError represents an engine operation error with structured context.
type XAdESError struct {
	Op  string // Operation: "build", "embed", "parse", "verify", "extend"
	Err error
}

// Error implements the error interface.
func (e *XAdESError) Error() string {
	return fmt.Sprintf("xades %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *XAdESError) Unwrap() error { return e.Err }

// NewXAdESError creates a new XAdESError with the given operation and error.
func NewXAdESError(op string, err error) *XAdESError {
	return &XAdESError{Op: op, Err: err}
}

// Sentinel errors for engine operations.
var (
	// ErrMalformed indicates the document is not a XAdES signature.
	ErrMalformed = errors.New("malformed signature document")

	// ErrUnsupportedAlgorithm indicates an unknown digest or signature method.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrSignatureMismatch indicates the signature value does not verify.
	ErrSignatureMismatch = errors.New("signature value does not verify")

	// ErrDigestMismatch indicates a reference digest does not match its target.
	ErrDigestMismatch = errors.New("reference digest mismatch")

	// ErrMissingReference indicates a referenced object could not be resolved.
	ErrMissingReference = errors.New("referenced object not found")
)
