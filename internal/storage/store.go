// Package storage persists full-document notebook snapshots keyed by path.
package storage

import (
	"context"
	"sync"

	"github.com/notebook-gateway/backend/internal/model"
	"github.com/notebook-gateway/backend/internal/notebook"
)

// ContentStore reads and writes whole notebook documents. Sessions guarantee
// writes for a given path never overlap, so implementations do not need
// per-path locking for correctness of snapshot contents.
type ContentStore interface {
	// Read loads the notebook at path. With createIfMissing set, a missing
	// notebook yields a fresh blank document instead of ErrNotebookNotFound.
	Read(ctx context.Context, path string, createIfMissing bool) (*notebook.Document, error)

	// Write replaces the stored snapshot for path.
	Write(ctx context.Context, path string, doc *notebook.Document) error

	// Rename moves a stored snapshot to a new path. Missing sources are not
	// an error: a notebook may be renamed before its first save.
	Rename(ctx context.Context, oldPath, newPath string) error
}

// MemoryStore is an in-memory ContentStore used by tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*notebook.Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*notebook.Document)}
}

func (s *MemoryStore) Read(ctx context.Context, path string, createIfMissing bool) (*notebook.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.docs[path]; ok {
		return doc.Clone(), nil
	}
	if createIfMissing {
		return notebook.NewDocument(), nil
	}
	return nil, model.ErrNotebookNotFound
}

func (s *MemoryStore) Write(ctx context.Context, path string, doc *notebook.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = doc.Clone()
	return nil
}

func (s *MemoryStore) Rename(ctx context.Context, oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[oldPath]; ok {
		delete(s.docs, oldPath)
		s.docs[newPath] = doc
	}
	return nil
}
