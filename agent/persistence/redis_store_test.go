package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultStoreConfig()
	cfg.Type = StoreTypeRedis
	cfg.Redis.Addr = mr.Addr()

	s, err := NewRedisStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, _ := newRedisStore(t)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, CollectionKnowledge, mustDoc(t, "faq", 0.5, time.Now(), "x"))
	require.NoError(t, err)

	assert.True(t, mr.Exists("agentlee:knowledge:docs"))
	assert.True(t, mr.Exists("agentlee:knowledge:idx:relevance"))
	assert.True(t, mr.Exists("agentlee:knowledge:idx:category:faq"))

	seq, err := mr.Get("agentlee:knowledge:seq")
	require.NoError(t, err)
	assert.Equal(t, "1", seq)
}

func TestRedisStore_ExplicitIDRaisesSequence(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, CollectionMemories, &Document{ID: 40, Body: []byte(`1`)})
	require.NoError(t, err)

	id, err := s.Put(ctx, CollectionMemories, &Document{Body: []byte(`2`)})
	require.NoError(t, err)
	assert.Equal(t, uint64(41), id)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultStoreConfig()
	cfg.Redis.Addr = addr
	_, err = NewRedisStore(cfg)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}
