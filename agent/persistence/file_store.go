package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileFormatVersion is written into every collection file.
const fileFormatVersion = 1

type collectionFile struct {
	Version   int        `json:"version"`
	NextID    uint64     `json:"next_id"`
	Documents []Document `json:"documents"`
}

// FileStore is a file-based implementation of Store.
// Every collection lives in <base_dir>/<collection>.json and is rewritten
// atomically (temp file + rename) after each write.
type FileStore struct {
	baseDir string
	mem     *MemoryStore
	mu      sync.Mutex
}

// NewFileStore creates a new file-based store and loads existing collections
func NewFileStore(config StoreConfig) (*FileStore, error) {
	if config.BaseDir == "" {
		return nil, fmt.Errorf("%w: file store requires base_dir", ErrInvalidInput)
	}
	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %w", ErrStorageUnavailable, err)
	}

	store := &FileStore{
		baseDir: config.BaseDir,
		mem:     NewMemoryStore(),
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("%w: load collections: %w", ErrStorageUnavailable, err)
	}
	return store, nil
}

func (s *FileStore) path(collection string) string {
	return filepath.Join(s.baseDir, collection+".json")
}

// loadFromDisk loads every collection file into memory
func (s *FileStore) loadFromDisk() error {
	matches, err := filepath.Glob(filepath.Join(s.baseDir, "*.json"))
	if err != nil {
		return err
	}
	for _, p := range matches {
		name := strings.TrimSuffix(filepath.Base(p), ".json")
		if !ValidCollection(name) {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var f collectionFile
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if f.Version > fileFormatVersion {
			return fmt.Errorf("%s: unsupported version %d", filepath.Base(p), f.Version)
		}
		s.mem.restore(name, f.NextID, f.Documents)
	}
	return nil
}

// saveToDisk writes one collection file
func (s *FileStore) saveToDisk(collection string) error {
	nextID, docs := s.mem.snapshot(collection)
	if docs == nil {
		docs = []Document{}
	}
	data, err := json.MarshalIndent(collectionFile{
		Version:   fileFormatVersion,
		NextID:    nextID,
		Documents: docs,
	}, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file then rename
	target := s.path(collection)
	tempPath := target + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, target)
}

// Close closes the store
func (s *FileStore) Close() error {
	return s.mem.Close()
}

// Ping checks if the store is healthy
func (s *FileStore) Ping(ctx context.Context) error {
	if err := s.mem.Ping(ctx); err != nil {
		return err
	}
	if _, err := os.Stat(s.baseDir); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Get retrieves a document by id
func (s *FileStore) Get(ctx context.Context, collection string, id uint64) (*Document, error) {
	return s.mem.Get(ctx, collection, id)
}

// GetAll retrieves the documents matching q
func (s *FileStore) GetAll(ctx context.Context, collection string, q Query) ([]Document, error) {
	return s.mem.GetAll(ctx, collection, q)
}

// Count returns the number of documents in a collection
func (s *FileStore) Count(ctx context.Context, collection string) (int, error) {
	return s.mem.Count(ctx, collection)
}

// Put inserts or upserts a document and persists the collection
func (s *FileStore) Put(ctx context.Context, collection string, doc *Document) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.mem.Put(ctx, collection, doc)
	if err != nil {
		return 0, err
	}
	return id, s.saveToDisk(collection)
}

// Delete removes a document and persists the collection
func (s *FileStore) Delete(ctx context.Context, collection string, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Delete(ctx, collection, id); err != nil {
		return err
	}
	return s.saveToDisk(collection)
}

// Clear empties a collection and persists it
func (s *FileStore) Clear(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Clear(ctx, collection); err != nil {
		return err
	}
	return s.saveToDisk(collection)
}

// ReplaceAll swaps a collection's content; the file is rewritten once
func (s *FileStore) ReplaceAll(ctx context.Context, collection string, docs []Document) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.mem.ReplaceAll(ctx, collection, docs)
	if err != nil {
		return nil, err
	}
	if err := s.saveToDisk(collection); err != nil {
		return nil, err
	}
	return ids, nil
}
