package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
)

// =============================================================================
// Event Tests
// =============================================================================

func TestU_NewEvent_Creation(t *testing.T) {
	event := NewEvent(EventSignatureCreated, ResultSuccess)

	if event.EventType != EventSignatureCreated {
		t.Errorf("expected EventType=%s, got %s", EventSignatureCreated, event.EventType)
	}
	if event.Result != ResultSuccess {
		t.Errorf("expected Result=%s, got %s", ResultSuccess, event.Result)
	}
	if event.Timestamp == "" {
		t.Error("Timestamp should not be empty")
	}
	if event.Actor.Type != "user" {
		t.Errorf("expected Actor.Type=user, got %s", event.Actor.Type)
	}
}

func TestU_Event_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{
			name:    "[Unit] Validate: valid event",
			event:   NewEvent(EventSignatureCreated, ResultSuccess),
			wantErr: false,
		},
		{
			name: "[Unit] Validate: missing event_type",
			event: &Event{
				Timestamp: "2024-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing actor",
			event: &Event{
				EventType: EventOCSPRequest,
				Timestamp: "2024-01-15T10:00:00Z",
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing result",
			event: &Event{
				EventType: EventTSARequest,
				Timestamp: "2024-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestU_Event_CanonicalJSON(t *testing.T) {
	event := NewEvent(EventSignatureCreated, ResultSuccess).
		WithObject(Object{Type: "signature", ID: "S0"})
	event.HashPrev = GenesisHash
	event.Hash = "sha256:ignored"

	canonical, err := event.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	if strings.Contains(string(canonical), "sha256:ignored") {
		t.Error("canonical JSON must not include the event hash")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(canonical, &decoded); err != nil {
		t.Fatalf("canonical JSON is invalid: %v", err)
	}
	if decoded["hash_prev"] != GenesisHash {
		t.Errorf("hash_prev = %v, want %s", decoded["hash_prev"], GenesisHash)
	}
}

// =============================================================================
// FileWriter Tests
// =============================================================================

func TestU_FileWriter_WriteAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	if w.LastHash() != GenesisHash {
		t.Errorf("LastHash() = %s, want %s", w.LastHash(), GenesisHash)
	}

	for _, typ := range []EventType{EventDataToSignBuilt, EventOCSPRequest, EventSignatureCreated} {
		if err := w.Write(NewEvent(typ, ResultSuccess)); err != nil {
			t.Fatalf("Write(%s) error = %v", typ, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	count, err := VerifyChain(path)
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if count != 3 {
		t.Errorf("VerifyChain() count = %d, want 3", count)
	}
}

func TestU_FileWriter_AppendContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	w1, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	if err := w1.Write(NewEvent(EventSignatureCreated, ResultSuccess)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	last := w1.LastHash()
	_ = w1.Close()

	w2, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() reopen error = %v", err)
	}
	if w2.LastHash() != last {
		t.Errorf("reopened LastHash() = %s, want %s", w2.LastHash(), last)
	}
	if err := w2.Write(NewEvent(EventContainerSaved, ResultSuccess)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = w2.Close()

	if count, err := VerifyChain(path); err != nil || count != 2 {
		t.Errorf("VerifyChain() = %d, %v; want 2, nil", count, err)
	}
}

func TestU_VerifyChain_Tampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	_ = w.Write(NewEvent(EventSignatureCreated, ResultSuccess).WithObject(Object{Type: "signature", ID: "S0"}))
	_ = w.Write(NewEvent(EventSignatureExtended, ResultSuccess).WithObject(Object{Type: "signature", ID: "S0"}))
	_ = w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	tampered := strings.Replace(string(data), `"id":"S0"`, `"id":"S9"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := VerifyChain(path); err == nil {
		t.Error("VerifyChain() should detect tampering")
	}
}

func TestU_VerifyChain_EmptyAndMissing(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.jsonl")
	if err := os.WriteFile(empty, nil, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if count, err := VerifyChain(empty); err != nil || count != 0 {
		t.Errorf("VerifyChain(empty) = %d, %v", count, err)
	}
	if _, err := VerifyChain(filepath.Join(dir, "missing.jsonl")); err == nil {
		t.Error("VerifyChain(missing) should fail")
	}
}

func TestU_FileWriter_InvalidEvent(t *testing.T) {
	w, err := NewFileWriter(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Write(&Event{}); err == nil {
		t.Error("Write() should reject an invalid event")
	}
}

// =============================================================================
// MemoryWriter Tests
// =============================================================================

func TestU_MemoryWriter_ConcurrentWrites(t *testing.T) {
	m := NewMemoryWriter()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Write(NewEvent(EventTSARequest, ResultSuccess))
		}()
	}
	wg.Wait()

	events := m.Events()
	if len(events) != 20 {
		t.Fatalf("Events() len = %d, want 20", len(events))
	}
	prev := GenesisHash
	for i, e := range events {
		if e.HashPrev != prev {
			t.Fatalf("event %d: chain broken", i)
		}
		prev = e.Hash
	}
	if m.LastHash() != prev {
		t.Error("LastHash() should be the hash of the last event")
	}
}

func TestU_MultiWriter_Write(t *testing.T) {
	a, b := NewMemoryWriter(), NewMemoryWriter()
	mw := NewMultiWriter(a, b)

	if err := mw.Write(NewEvent(EventContainerSaved, ResultSuccess)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Error("MultiWriter should write to every writer")
	}
}

func TestU_NopWriter_Write(t *testing.T) {
	var w NopWriter
	if err := w.Write(NewEvent(EventSignatureCreated, ResultSuccess)); err != nil {
		t.Errorf("NopWriter.Write() error = %v", err)
	}
	if w.LastHash() != GenesisHash {
		t.Errorf("NopWriter.LastHash() = %s, want %s", w.LastHash(), GenesisHash)
	}
}

// =============================================================================
// Global Logger Tests
// =============================================================================

func TestU_LogHelpers_AllEvents(t *testing.T) {
	m := NewMemoryWriter()
	if err := Init(m); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer func() { _ = Close() }()

	if !Enabled() {
		t.Fatal("Enabled() should be true after Init")
	}

	sig := SignatureInfo{ID: "S0", Container: "BDOC", Profile: "LT_TM", Algorithm: "SHA256", Serial: "1"}
	calls := []struct {
		name string
		fn   func() error
	}{
		{"LogDataToSignBuilt", func() error { return LogDataToSignBuilt(sig) }},
		{"LogOCSPRequest", func() error { return LogOCSPRequest("http://ocsp", "1", "good", true) }},
		{"LogTSARequest", func() error { return LogTSARequest("http://tsa", "SHA256", "2024-01-01T00:00:00Z", true) }},
		{"LogSignatureCreated", func() error { return LogSignatureCreated(sig, true, "") }},
		{"LogSignatureExtended", func() error { return LogSignatureExtended(sig, "LT_TM", true) }},
		{"LogSignatureRejected", func() error { return LogSignatureRejected("ASICS", "LT", "timestamped") }},
		{"LogContainerSaved", func() error { return LogContainerSaved("/tmp/c.asice", "ASICE", 1) }},
		{"LogContainerTimestamped", func() error { return LogContainerTimestamped("SHA256", "2024-01-01T00:00:00Z") }},
		{"LogKeyAccessed", func() error { return LogKeyAccessed("signer", true, "pkcs12 opened") }},
		{"LogAuthFailed", func() error { return LogAuthFailed("signer", "wrong password") }},
	}
	for _, c := range calls {
		if err := c.fn(); err != nil {
			t.Errorf("%s() error = %v", c.name, err)
		}
	}

	want := []EventType{
		EventDataToSignBuilt, EventOCSPRequest, EventTSARequest, EventSignatureCreated,
		EventSignatureExtended, EventSignatureRejected, EventContainerSaved,
		EventContainerTimestamped, EventKeyAccessed, EventAuthFailed,
	}
	got := m.Types()
	if len(got) != len(want) {
		t.Fatalf("recorded %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if m.Events()[4].Context.Reason != "from=LT_TM" {
		t.Errorf("extension reason = %q", m.Events()[4].Context.Reason)
	}
	if m.Events()[9].Result != ResultFailure {
		t.Error("LogAuthFailed should record a failure")
	}
}

func TestU_GlobalAudit_InitWithNil(t *testing.T) {
	if err := Init(nil); err != nil {
		t.Fatalf("Init(nil) error = %v", err)
	}
	if Enabled() {
		t.Error("Enabled() should be false after Init(nil)")
	}
	if err := Log(NewEvent(EventSignatureCreated, ResultSuccess)); err != nil {
		t.Errorf("Log() error = %v (should succeed with NopWriter)", err)
	}
}

func TestU_GlobalAudit_InitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := InitFile(path); err != nil {
		t.Fatalf("InitFile() error = %v", err)
	}
	if err := LogContainerSaved("c.bdoc", "BDOC", 2); err != nil {
		t.Fatalf("LogContainerSaved() error = %v", err)
	}
	if err := Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if count, err := VerifyChain(path); err != nil || count != 1 {
		t.Errorf("VerifyChain() = %d, %v", count, err)
	}

	if err := InitFile(""); err != nil {
		t.Errorf("InitFile(\"\") error = %v", err)
	}
	if Enabled() {
		t.Error("empty path should disable audit")
	}
}

func TestU_MustLog_Error(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	_ = w.Close()
	if err := Init(w); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer func() { _ = Init(nil) }()

	if err := MustLog(NewEvent(EventSignatureCreated, ResultSuccess)); err == nil {
		t.Error("MustLog() should fail when the writer is closed")
	} else if !strings.Contains(err.Error(), "audit log failed") {
		t.Errorf("MustLog() error = %v", err)
	}
}

func TestU_FSWriter_MemFS(t *testing.T) {
	fs := memfs.New()

	w, err := NewFSWriter(fs, "logs/audit.jsonl")
	if err != nil {
		t.Fatalf("NewFSWriter() error = %v", err)
	}
	for _, typ := range []EventType{EventDataToSignBuilt, EventSignatureCreated} {
		if err := w.Write(NewEvent(typ, ResultSuccess)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	events, err := ReadEventsFS(fs, "logs/audit.jsonl")
	if err != nil {
		t.Fatalf("ReadEventsFS() error = %v", err)
	}
	if len(events) != 2 || events[1].EventType != EventSignatureCreated {
		t.Errorf("ReadEventsFS() = %d events, want DATATOSIGN_BUILT then SIGNATURE_CREATED", len(events))
	}
	if count, err := VerifyChainFS(fs, "logs/audit.jsonl"); err != nil || count != 2 {
		t.Errorf("VerifyChainFS() = %d, %v; want 2, nil", count, err)
	}
}

func TestU_FileWriter_WriteAfterClose(t *testing.T) {
	w, err := NewFSWriter(memfs.New(), "audit.jsonl")
	if err != nil {
		t.Fatalf("NewFSWriter() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Write(NewEvent(EventSignatureCreated, ResultSuccess)); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after Close error = %v, want ErrClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestU_MemoryWriter_ChainMatchesFile(t *testing.T) {
	m := NewMemoryWriter()
	for _, typ := range []EventType{EventDataToSignBuilt, EventKeyAccessed, EventSignatureCreated} {
		if err := m.Write(NewEvent(typ, ResultSuccess)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	prev := GenesisHash
	for i, e := range m.Events() {
		canonical, err := e.CanonicalJSON()
		if err != nil {
			t.Fatalf("CanonicalJSON() error = %v", err)
		}
		if e.HashPrev != prev || e.Hash != chainHash(canonical, prev) {
			t.Errorf("event %d is not chained like the file log", i)
		}
		prev = e.Hash
	}
}
