package ocsp

import (
	"errors"
	"fmt"
)

// OCSPError represents an OCSP operation error with structured context.
type OCSPError struct {
	Op  string // Operation: "request", "fetch", "parse", "respond"
	Err error
}

// Error implements the error interface.
func (e *OCSPError) Error() string {
	return fmt.Sprintf("ocsp %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OCSPError) Unwrap() error { return e.Err }

// NewOCSPError creates a new OCSPError with the given operation and error.
func NewOCSPError(op string, err error) *OCSPError {
	return &OCSPError{Op: op, Err: err}
}

// Sentinel errors for OCSP operations.
var (
	// ErrUnreachable indicates a transport failure or a non-2xx HTTP status.
	ErrUnreachable = errors.New("OCSP service unreachable")

	// ErrInvalidRequest indicates the OCSP request is malformed.
	ErrInvalidRequest = errors.New("invalid OCSP request")

	// ErrInvalidResponse indicates the OCSP response could not be decoded
	// or was not signed correctly.
	ErrInvalidResponse = errors.New("invalid OCSP response")

	// ErrNonceMismatch indicates the response nonce differs from the request.
	ErrNonceMismatch = errors.New("OCSP nonce mismatch")
)
