package asic

import (
	"errors"
	"fmt"
)

// SignatureError represents a container or signing operation error with
// structured context.
type SignatureError struct {
	Op  string // Operation: "build", "finalize", "extend", "open", "add", "timestamp"
	Err error
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	return fmt.Sprintf("asic %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SignatureError) Unwrap() error { return e.Err }

// NewSignatureError creates a new SignatureError with the given operation and error.
func NewSignatureError(op string, err error) *SignatureError {
	return &SignatureError{Op: op, Err: err}
}

// ServiceUnreachableError reports an OCSP or timestamp service that could not
// be reached. It matches ErrServiceUnreachable.
type ServiceUnreachableError struct {
	Service string // "OCSP" or "timestamp"
	URL     string
	Err     error
}

// Error implements the error interface.
func (e *ServiceUnreachableError) Error() string {
	return fmt.Sprintf("Failed to connect to %s service %s", e.Service, e.URL)
}

// Unwrap returns the underlying transport error.
func (e *ServiceUnreachableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrServiceUnreachable) hold.
func (e *ServiceUnreachableError) Is(target error) bool {
	return target == ErrServiceUnreachable
}

// Sentinel errors for container and signing operations.
var (
	// ErrIllegalSignatureProfile indicates the profile is not allowed for the container.
	ErrIllegalSignatureProfile = errors.New("illegal signature profile")

	// ErrNotSupported indicates an unsupported combination or container type.
	ErrNotSupported = errors.New("not supported")

	// ErrSignatureTokenMissing indicates signing was requested without a token.
	ErrSignatureTokenMissing = errors.New("signature token missing")

	// ErrInvalidSignature indicates bytes that are not a signature document.
	ErrInvalidSignature = errors.New("Invalid signature document")

	// ErrServiceUnreachable indicates an OCSP or timestamp service failure.
	ErrServiceUnreachable = errors.New("service unreachable")

	// ErrDataToSignConsumed indicates a DataToSign was finalized twice.
	ErrDataToSignConsumed = errors.New("data to sign already finalized")

	// ErrInvalidSignatureValue indicates a raw value of the wrong shape for the key.
	ErrInvalidSignatureValue = errors.New("invalid signature value")

	// ErrNoDataFiles indicates signing a container without data files.
	ErrNoDataFiles = errors.New("container has no data files")

	// ErrTimestampedContainer indicates a timestamped ASiC-S refusing signatures.
	ErrTimestampedContainer = errors.New("container is not for signatures in case of timestamped ASiC-S container")
)

// User-facing diagnostics printed by batch callers.
const (
	DiagnosticTimestampedASiCS = "This container has already timestamp. Should be no signatures in case of timestamped ASiCS container."
	DiagnosticNotForASiCS      = "Not supported: Not for ASiC-S container"
)
