package persistence

import (
	"context"
	"time"

	"github.com/leesite/agentlee/internal/database"
)

// OperationObserver receives the outcome of every store call.
type OperationObserver interface {
	ObserveStoreOperation(operation, collection string, err error, duration time.Duration)
}

// PoolStatser is implemented by stores backed by a SQL connection pool.
type PoolStatser interface {
	PoolStats() database.PoolStats
}

// instrumentedStore 记录每次存储调用的耗时与结果
type instrumentedStore struct {
	next Store
	obs  OperationObserver
}

// Instrument wraps store so that each call is reported to obs. A nil
// observer returns store unchanged.
func Instrument(store Store, obs OperationObserver) Store {
	if obs == nil {
		return store
	}
	return &instrumentedStore{next: store, obs: obs}
}

// Unwrap returns the decorated store.
func (s *instrumentedStore) Unwrap() Store { return s.next }

// PoolStatsOf returns the SQL pool statistics of store, looking through
// Instrument wrappers. ok is false for backends without a pool.
func PoolStatsOf(store Store) (stats database.PoolStats, ok bool) {
	for {
		switch s := store.(type) {
		case PoolStatser:
			return s.PoolStats(), true
		case interface{ Unwrap() Store }:
			store = s.Unwrap()
		default:
			return database.PoolStats{}, false
		}
	}
}

func (s *instrumentedStore) Get(ctx context.Context, collection string, id uint64) (*Document, error) {
	start := time.Now()
	doc, err := s.next.Get(ctx, collection, id)
	s.obs.ObserveStoreOperation("get", collection, err, time.Since(start))
	return doc, err
}

func (s *instrumentedStore) GetAll(ctx context.Context, collection string, q Query) ([]Document, error) {
	start := time.Now()
	docs, err := s.next.GetAll(ctx, collection, q)
	s.obs.ObserveStoreOperation("get_all", collection, err, time.Since(start))
	return docs, err
}

func (s *instrumentedStore) Count(ctx context.Context, collection string) (int, error) {
	start := time.Now()
	n, err := s.next.Count(ctx, collection)
	s.obs.ObserveStoreOperation("count", collection, err, time.Since(start))
	return n, err
}

func (s *instrumentedStore) Put(ctx context.Context, collection string, doc *Document) (uint64, error) {
	start := time.Now()
	id, err := s.next.Put(ctx, collection, doc)
	s.obs.ObserveStoreOperation("put", collection, err, time.Since(start))
	return id, err
}

func (s *instrumentedStore) Delete(ctx context.Context, collection string, id uint64) error {
	start := time.Now()
	err := s.next.Delete(ctx, collection, id)
	s.obs.ObserveStoreOperation("delete", collection, err, time.Since(start))
	return err
}

func (s *instrumentedStore) Clear(ctx context.Context, collection string) error {
	start := time.Now()
	err := s.next.Clear(ctx, collection)
	s.obs.ObserveStoreOperation("clear", collection, err, time.Since(start))
	return err
}

func (s *instrumentedStore) ReplaceAll(ctx context.Context, collection string, docs []Document) ([]uint64, error) {
	start := time.Now()
	ids, err := s.next.ReplaceAll(ctx, collection, docs)
	s.obs.ObserveStoreOperation("replace_all", collection, err, time.Since(start))
	return ids, err
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.obs.ObserveStoreOperation("ping", "", err, time.Since(start))
	return err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
