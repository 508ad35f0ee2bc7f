package persistence

import (
	"context"
	"sort"
	"sync"
)

// memCollection is the in-memory state of one collection.
type memCollection struct {
	nextID uint64
	docs   map[uint64]Document
}

func newMemCollection() *memCollection {
	return &memCollection{docs: make(map[uint64]Document)}
}

func (c *memCollection) put(doc Document) uint64 {
	if doc.ID == 0 {
		c.nextID++
		doc.ID = c.nextID
	} else if doc.ID > c.nextID {
		c.nextID = doc.ID
	}
	c.docs[doc.ID] = doc
	return doc.ID
}

func (c *memCollection) sorted(q Query) []Document {
	out := make([]Document, 0, len(c.docs))
	for _, d := range c.docs {
		if q.Match(&d) {
			out = append(out, d.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing; data is lost on restart.
type MemoryStore struct {
	collections map[string]*memCollection
	mu          sync.RWMutex
	closed      bool
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) collection(name string) *memCollection {
	c, ok := s.collections[name]
	if !ok {
		c = newMemCollection()
		s.collections[name] = c
	}
	return c
}

// Get retrieves a document by id
func (s *MemoryStore) Get(ctx context.Context, collection string, id uint64) (*Document, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	c, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	d, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := d.clone()
	return &cp, nil
}

// GetAll retrieves the documents matching q
func (s *MemoryStore) GetAll(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := checkArgs(collection, q); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	c, ok := s.collections[collection]
	if !ok {
		return []Document{}, nil
	}
	return c.sorted(q), nil
}

// Count returns the number of documents in a collection
func (s *MemoryStore) Count(ctx context.Context, collection string) (int, error) {
	if !ValidCollection(collection) {
		return 0, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	if c, ok := s.collections[collection]; ok {
		return len(c.docs), nil
	}
	return 0, nil
}

// Put inserts or upserts a document
func (s *MemoryStore) Put(ctx context.Context, collection string, doc *Document) (uint64, error) {
	if doc == nil || !ValidCollection(collection) {
		return 0, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	id := s.collection(collection).put(doc.clone())
	doc.ID = id
	return id, nil
}

// Delete removes a document
func (s *MemoryStore) Delete(ctx context.Context, collection string, id uint64) error {
	if !ValidCollection(collection) {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if c, ok := s.collections[collection]; ok {
		delete(c.docs, id)
	}
	return nil
}

// Clear removes every document in a collection
func (s *MemoryStore) Clear(ctx context.Context, collection string) error {
	if !ValidCollection(collection) {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if c, ok := s.collections[collection]; ok {
		c.docs = make(map[uint64]Document)
	}
	return nil
}

// ReplaceAll swaps the content of a collection in one step
func (s *MemoryStore) ReplaceAll(ctx context.Context, collection string, docs []Document) ([]uint64, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	c := s.collection(collection)
	next := &memCollection{nextID: c.nextID, docs: make(map[uint64]Document, len(docs))}
	ids := make([]uint64, len(docs))
	for i := range docs {
		ids[i] = next.put(docs[i].clone())
	}
	s.collections[collection] = next
	return ids, nil
}

// snapshot returns a copy of a collection's state for the file store.
func (s *MemoryStore) snapshot(collection string) (uint64, []Document) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	return c.nextID, c.sorted(All())
}

// restore replaces a collection's state wholesale.
func (s *MemoryStore) restore(collection string, nextID uint64, docs []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &memCollection{nextID: nextID, docs: make(map[uint64]Document, len(docs))}
	for _, d := range docs {
		c.put(d)
	}
	s.collections[collection] = c
}
