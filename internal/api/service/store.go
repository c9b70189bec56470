// Package service provides business logic for the REST API.
package service

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/uuid"

	"github.com/remiblancher/asic/pkg/asic"
)

// Service errors mapped to HTTP statuses by internal/api/errors.
var (
	// ErrInvalidRequest indicates a malformed or incomplete request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrContainerNotFound indicates an unknown container id.
	ErrContainerNotFound = errors.New("container not found")

	// ErrSessionNotFound indicates an unknown or finished signing session.
	ErrSessionNotFound = errors.New("signing session not found")

	// ErrSessionExpired indicates a signing session past its deadline.
	ErrSessionExpired = errors.New("signing session expired")

	// ErrSignatureIDInUse indicates a signature id already attached or held
	// by another pending session on the same container.
	ErrSignatureIDInUse = errors.New("signature id already in use")
)

// Store keeps serialized containers on a billy filesystem, one file per
// container named <id>.<ext>. The extension carries the container type so
// BDoc containers reopen as BDoc.
type Store struct {
	fs billy.Filesystem

	mu    sync.Mutex
	types map[string]asic.DocumentType
}

// NewStore returns a store on fs, or in memory when fs is nil.
func NewStore(fs billy.Filesystem) *Store {
	if fs == nil {
		fs = memfs.New()
	}
	return &Store{fs: fs, types: make(map[string]asic.DocumentType)}
}

func extensionFor(t asic.DocumentType) string {
	return "." + strings.ToLower(string(t))
}

func (s *Store) path(id string) (string, error) {
	s.mu.Lock()
	t, ok := s.types[id]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}
	return id + extensionFor(t), nil
}

// Create stores c under a new id.
func (s *Store) Create(c *asic.Container) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.types[id] = c.Type()
	s.mu.Unlock()
	if err := s.Put(id, c); err != nil {
		s.mu.Lock()
		delete(s.types, id)
		s.mu.Unlock()
		return "", err
	}
	return id, nil
}

// Put replaces the container stored under id.
func (s *Store) Put(id string, c *asic.Container) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	return c.Save(s.fs, p)
}

// Get reopens the container stored under id.
func (s *Store) Get(id string) (*asic.Container, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	return asic.Open(s.fs, p)
}

// Bytes returns the serialized container.
func (s *Store) Bytes(id string) ([]byte, asic.DocumentType, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, "", err
	}
	data, err := c.Bytes()
	return data, c.Type(), err
}

// Delete removes the container stored under id.
func (s *Store) Delete(id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.mu.Lock()
	delete(s.types, id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored containers.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.types)
}
