package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leesite/agentlee/types"
)

func TestRanker_Score(t *testing.T) {
	r := NewRanker()
	rec := &types.MemoryRecord{Input: "pricing plans", Relevance: 0.5}

	text, score := r.Score(rec, "pricing")
	assert.Equal(t, 0.9, text)
	assert.InDelta(t, 0.5*0.4+0.9*0.6, score, 1e-9)
}

func TestRanker_Rank(t *testing.T) {
	r := NewRanker()
	a := &types.MemoryRecord{ID: 1, Input: "seo audit pricing", Relevance: 0.3}
	b := &types.MemoryRecord{ID: 2, Input: "seo audit pricing", Relevance: 0.9}
	c := &types.MemoryRecord{ID: 3, Input: "contact form", Relevance: 0.99}
	d := &types.MemoryRecord{ID: 4, Input: "seo audit pricing", Relevance: 0.3}

	ranked := r.Rank([]*types.MemoryRecord{a, b, c, d}, "seo audit pricing", 5)
	require.Len(t, ranked, 3, "records without text relevance are dropped")
	assert.Equal(t, uint64(2), ranked[0].Record.ID)
	// equal scores keep enumeration order
	assert.Equal(t, uint64(1), ranked[1].Record.ID)
	assert.Equal(t, uint64(4), ranked[2].Record.ID)
	assert.Equal(t, 1.0, ranked[0].TextRelevance)

	assert.Len(t, r.Rank([]*types.MemoryRecord{a, b, c, d}, "seo audit pricing", 2), 2)
	assert.Nil(t, r.Rank([]*types.MemoryRecord{a}, "  ", 5))
	assert.Zero(t, a.AccessCount, "ranking alone never mutates records")
}
