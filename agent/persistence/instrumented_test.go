package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observedOp struct {
	op, collection string
	failed         bool
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []observedOp
}

func (r *recordingObserver) ObserveStoreOperation(op, collection string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, observedOp{op: op, collection: collection, failed: err != nil})
}

func TestInstrumentedStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return Instrument(NewMemoryStore(), &recordingObserver{})
	})
}

func TestInstrument_ReportsOperations(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	s := Instrument(NewMemoryStore(), obs)

	doc, err := NewDocument(0, "c", 0.5, time.Now(), map[string]string{"a": "b"})
	require.NoError(t, err)
	id, err := s.Put(ctx, CollectionKnowledge, doc)
	require.NoError(t, err)
	_, err = s.Get(ctx, CollectionKnowledge, id+100)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAll(ctx, CollectionKnowledge, All())
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))

	assert.Equal(t, []observedOp{
		{op: "put", collection: CollectionKnowledge},
		{op: "get", collection: CollectionKnowledge, failed: true},
		{op: "get_all", collection: CollectionKnowledge},
		{op: "ping"},
	}, obs.ops)
}

func TestInstrument_NilObserver(t *testing.T) {
	base := NewMemoryStore()
	assert.Same(t, base, Instrument(base, nil))
}

func TestPoolStatsOf(t *testing.T) {
	_, ok := PoolStatsOf(NewMemoryStore())
	assert.False(t, ok)

	sqlStore := newSQLiteStore(t)
	stats, ok := PoolStatsOf(Instrument(sqlStore, &recordingObserver{}))
	require.True(t, ok)
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
}
