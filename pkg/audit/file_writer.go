package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

const (
	// GenesisHash is the hash_prev of the first event of a log.
	GenesisHash = "sha256:genesis"

	// HashPrefix prefixes every chained hash.
	HashPrefix = "sha256:"
)

// ErrClosed is returned when writing to a closed log.
var ErrClosed = errors.New("audit log is closed")

// FileWriter appends chained events to a JSONL log on a billy filesystem.
type FileWriter struct {
	mu       sync.Mutex
	fs       billy.Filesystem
	file     billy.File
	lastHash string
	path     string
}

var _ Writer = (*FileWriter)(nil)

// NewFileWriter opens the log at path on the host filesystem.
func NewFileWriter(path string) (*FileWriter, error) {
	return NewFSWriter(osfs.New(""), path)
}

// NewFSWriter opens the log at path on fs. An existing log is continued
// from its last hash.
func NewFSWriter(fs billy.Filesystem, path string) (*FileWriter, error) {
	lines, err := readLines(fs, path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	lastHash := GenesisHash
	if n := len(lines); n > 0 {
		var tail struct {
			Hash string `json:"hash"`
		}
		if err := json.Unmarshal(lines[n-1], &tail); err != nil {
			return nil, fmt.Errorf("failed to parse last audit event: %w", err)
		}
		if tail.Hash == "" {
			return nil, fmt.Errorf("last audit event has no hash")
		}
		lastHash = tail.Hash
	}

	file, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileWriter{fs: fs, file: file, lastHash: lastHash, path: path}, nil
}

// Write chains event onto the log: hash = SHA256(canonical || hash_prev).
func (w *FileWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	event.HashPrev = w.lastHash
	canonical, err := event.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	event.Hash = chainHash(canonical, w.lastHash)

	line, err := event.JSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := syncFile(w.file); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	w.lastHash = event.Hash
	return nil
}

// Close flushes and closes the log.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := syncFile(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LastHash returns the hash of the last written event.
func (w *FileWriter) LastHash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHash
}

// Path returns the log path.
func (w *FileWriter) Path() string {
	return w.path
}

// syncFile flushes to disk when the file supports it. memfs files do not.
func syncFile(f billy.File) error {
	if s, ok := f.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func chainHash(canonical []byte, prev string) string {
	h := sha256.New()
	_, _ = h.Write(canonical)
	_, _ = h.Write([]byte(prev))
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// readLines returns the non-blank lines of the log.
func readLines(fs billy.Filesystem, path string) ([][]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, err
	}
	var lines [][]byte
	for _, l := range bytes.Split(buf.Bytes(), []byte("\n")) {
		if l = bytes.TrimSpace(l); len(l) > 0 {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// ReadEvents decodes every event of the log at path on the host filesystem.
func ReadEvents(path string) ([]*Event, error) {
	return ReadEventsFS(osfs.New(""), path)
}

// ReadEventsFS decodes every event of the log at path on fs.
func ReadEventsFS(fs billy.Filesystem, path string) ([]*Event, error) {
	lines, err := readLines(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	events := make([]*Event, 0, len(lines))
	for i, l := range lines {
		var e Event
		if err := json.Unmarshal(l, &e); err != nil {
			return events, fmt.Errorf("event %d: invalid JSON: %w", i+1, err)
		}
		events = append(events, &e)
	}
	return events, nil
}

// VerifyChain checks the hash chain of the log at path on the host
// filesystem. It returns the number of events verified before any break.
func VerifyChain(path string) (int, error) {
	return VerifyChainFS(osfs.New(""), path)
}

// VerifyChainFS checks the hash chain of the log at path on fs.
func VerifyChainFS(fs billy.Filesystem, path string) (int, error) {
	events, err := ReadEventsFS(fs, path)
	if err != nil {
		return len(events), err
	}

	prev := GenesisHash
	for i, e := range events {
		if e.HashPrev != prev {
			return i, fmt.Errorf("event %d: hash chain broken: expected prev=%s, got prev=%s", i+1, prev, e.HashPrev)
		}
		canonical, err := e.CanonicalJSON()
		if err != nil {
			return i, fmt.Errorf("event %d: failed to serialize: %w", i+1, err)
		}
		if want := chainHash(canonical, e.HashPrev); e.Hash != want {
			return i, fmt.Errorf("event %d: hash mismatch: expected=%s, got=%s", i+1, want, e.Hash)
		}
		prev = e.Hash
	}
	return len(events), nil
}
