package audit

import (
	"fmt"
	"sync"
)

var (
	// globalWriter is the default audit writer.
	globalWriter Writer = NopWriter{}
	globalMu     sync.RWMutex

	// enabled tracks whether audit logging is active.
	enabled bool
)

// Init initializes the global audit logger with the given writer.
// Must be called before any audit events are logged.
// Returns an error if initialization fails.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}

	globalWriter = w
	enabled = true
	return nil
}

// InitFile initializes the global audit logger with a file writer.
// This is a convenience function for the common case.
func InitFile(path string) error {
	if path == "" {
		return Init(nil)
	}

	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}

	return Init(w)
}

// Close closes the global audit writer.
// Should be called when the application exits.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalWriter != nil {
		err := globalWriter.Close()
		globalWriter = NopWriter{}
		enabled = false
		return err
	}
	return nil
}

// Enabled returns whether audit logging is active.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes an audit event to the global writer.
// Returns an error if the write fails.
//
// IMPORTANT: If audit logging is enabled and this returns an error,
// the calling operation SHOULD fail. Audit logs are critical for
// compliance and security.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	return w.Write(event)
}

// MustLog writes an audit event and returns an error suitable for
// failing the parent operation if audit logging fails.
//
// Usage:
//
//	if err := audit.MustLog(event); err != nil {
//	    return nil, err // Operation fails if audit fails
//	}
func MustLog(event *Event) error {
	if err := Log(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

func resultOf(success bool) Result {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// SignatureInfo identifies a signature in audit events.
type SignatureInfo struct {
	ID        string
	Container string
	Profile   string
	Algorithm string
	Serial    string
	Subject   string
}

func (s SignatureInfo) object() Object {
	return Object{Type: "signature", ID: s.ID, Serial: s.Serial, Subject: s.Subject}
}

// LogDataToSignBuilt logs the first phase of a signing operation.
func LogDataToSignBuilt(sig SignatureInfo) error {
	event := NewEvent(EventDataToSignBuilt, ResultSuccess).
		WithObject(sig.object()).
		WithContext(Context{
			Profile:   sig.Profile,
			Container: sig.Container,
			Algorithm: sig.Algorithm,
		})

	return MustLog(event)
}

// LogSignatureCreated logs a finalized signature.
func LogSignatureCreated(sig SignatureInfo, success bool, reason string) error {
	event := NewEvent(EventSignatureCreated, resultOf(success)).
		WithObject(sig.object()).
		WithContext(Context{
			Profile:   sig.Profile,
			Container: sig.Container,
			Algorithm: sig.Algorithm,
			Reason:    reason,
		})

	return MustLog(event)
}

// LogSignatureExtended logs an extension from one profile to another.
func LogSignatureExtended(sig SignatureInfo, from string, success bool) error {
	event := NewEvent(EventSignatureExtended, resultOf(success)).
		WithObject(sig.object()).
		WithContext(Context{
			Profile:   sig.Profile,
			Container: sig.Container,
			Reason:    fmt.Sprintf("from=%s", from),
		})

	return MustLog(event)
}

// LogSignatureRejected logs a signing attempt refused by a container rule.
func LogSignatureRejected(container, profile, reason string) error {
	event := NewEvent(EventSignatureRejected, ResultFailure).
		WithObject(Object{Type: "container"}).
		WithContext(Context{
			Profile:   profile,
			Container: container,
			Reason:    reason,
		})

	return MustLog(event)
}

// LogOCSPRequest logs a revocation status request.
func LogOCSPRequest(url, serial, status string, success bool) error {
	event := NewEvent(EventOCSPRequest, resultOf(success)).
		WithObject(Object{Type: "certificate", Serial: serial}).
		WithContext(Context{URL: url, Status: status})

	return MustLog(event)
}

// LogTSARequest logs a timestamp request.
func LogTSARequest(url, algorithm, genTime string, success bool) error {
	event := NewEvent(EventTSARequest, resultOf(success)).
		WithObject(Object{Type: "timestamp"}).
		WithContext(Context{URL: url, Algorithm: algorithm, GenTime: genTime})

	return MustLog(event)
}

// LogContainerSaved logs a container written to storage.
func LogContainerSaved(path, container string, signatures int) error {
	event := NewEvent(EventContainerSaved, ResultSuccess).
		WithObject(Object{Type: "container", Path: path}).
		WithContext(Context{
			Container: container,
			Reason:    fmt.Sprintf("%d signatures", signatures),
		})

	return MustLog(event)
}

// LogContainerTimestamped logs a timestamp-only ASiC-S token.
func LogContainerTimestamped(algorithm, genTime string) error {
	event := NewEvent(EventContainerTimestamped, ResultSuccess).
		WithObject(Object{Type: "container"}).
		WithContext(Context{Container: "ASICS", Algorithm: algorithm, GenTime: genTime})

	return MustLog(event)
}

// LogKeyAccessed logs a signing token being opened.
func LogKeyAccessed(alias string, success bool, reason string) error {
	event := NewEvent(EventKeyAccessed, resultOf(success)).
		WithObject(Object{Type: "token", ID: alias}).
		WithContext(Context{Reason: reason})

	return MustLog(event)
}

// LogAuthFailed logs a rejected PIN or password.
func LogAuthFailed(alias, reason string) error {
	event := NewEvent(EventAuthFailed, ResultFailure).
		WithObject(Object{Type: "token", ID: alias}).
		WithContext(Context{Reason: reason})

	return MustLog(event)
}
