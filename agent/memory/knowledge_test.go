package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leesite/agentlee/agent/content"
	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/types"
)

func newTestKB(t *testing.T) (*KnowledgeBase, *persistence.MemoryStore) {
	t.Helper()
	store := persistence.NewMemoryStore()
	return NewKnowledgeBase(store, DefaultConfig().MatchThreshold, nil), store
}

func TestKnowledgeBase_FindExact(t *testing.T) {
	kb, _ := newTestKB(t)
	ctx := context.Background()

	require.True(t, kb.Store(ctx, "Hello", "Hi there!", types.CategoryNavigation))

	m := kb.Find("hello")
	assert.True(t, m.Found())
	assert.Equal(t, 1.0, m.Confidence)
	assert.Equal(t, "Hi there!", m.Response)
	assert.Equal(t, types.CategoryNavigation, m.Category)
}

func TestKnowledgeBase_FindThresholdIsStrict(t *testing.T) {
	kb, _ := newTestKB(t)
	ctx := context.Background()
	kb.Store(ctx, "one two three four five", "numbers", types.CategoryGeneral)

	// 3/5 = 0.6 is not above the threshold
	m := kb.Find("one two three six seven")
	assert.False(t, m.Found())
	assert.Equal(t, RetrievalMiss, m)

	m = kb.Find("one two three four six")
	assert.True(t, m.Found())
	assert.InDelta(t, 0.8, m.Confidence, 1e-9)
}

func TestKnowledgeBase_TiesKeepInsertionOrder(t *testing.T) {
	kb, _ := newTestKB(t)
	ctx := context.Background()
	kb.Store(ctx, "pricing plans", "first", types.CategoryFAQ)
	kb.Store(ctx, "pricing tiers", "second", types.CategoryFAQ)

	m := kb.Find("pricing")
	assert.Equal(t, 0.9, m.Confidence)
	assert.Equal(t, "first", m.Response)
}

func TestKnowledgeBase_StoreUpsertsAndSkipsEmpty(t *testing.T) {
	kb, store := newTestKB(t)
	ctx := context.Background()

	assert.True(t, kb.Store(ctx, "hours", "9 to 5", types.CategoryTaught))
	assert.True(t, kb.Store(ctx, "HOURS!", "8 to 6", types.CategoryTaught))
	assert.True(t, kb.Store(ctx, "hours", "always open", types.CategoryFAQ))
	assert.False(t, kb.Store(ctx, "  ", "nothing", types.CategoryTaught))
	assert.False(t, kb.Store(ctx, "hours", " ", types.CategoryTaught))

	assert.Equal(t, 2, kb.Count())
	cats := kb.Categories()
	assert.Equal(t, "8 to 6", cats[types.CategoryTaught]["hours"])
	assert.Equal(t, "always open", cats[types.CategoryFAQ]["hours"])

	n, err := store.Count(ctx, persistence.CollectionKnowledge)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestKnowledgeBase_EmptyCategoryDefaultsToGeneral(t *testing.T) {
	kb, _ := newTestKB(t)
	kb.Store(context.Background(), "contact", "Use the form.", "")
	assert.Contains(t, kb.Categories(), types.CategoryGeneral)
}

func TestKnowledgeBase_Overwrite(t *testing.T) {
	kb, _ := newTestKB(t)
	ctx := context.Background()
	kb.Store(ctx, "hours", "9 to 5", types.CategoryTaught)
	kb.Store(ctx, "hours", "9 to 5", types.CategoryFAQ)
	kb.Store(ctx, "location", "Atlanta", types.CategoryFAQ)

	assert.Equal(t, 2, kb.Overwrite(ctx, "Hours?", "8 to 6"))
	assert.Equal(t, "8 to 6", kb.Find("hours").Response)
	assert.Equal(t, "Atlanta", kb.Find("location").Response)
	assert.Zero(t, kb.Overwrite(ctx, "hours", "8 to 6"))
}

func TestKnowledgeBase_Search(t *testing.T) {
	kb, _ := newTestKB(t)
	ctx := context.Background()
	kb.Store(ctx, "seo services", "We do SEO.", types.CategoryFAQ)
	kb.Store(ctx, "web design services", "We design sites.", types.CategoryFAQ)
	kb.Store(ctx, "contact", "Email us.", types.CategoryFAQ)

	got := kb.Search("services", 5)
	require.Len(t, got, 2)
	assert.Equal(t, "seo services", got[0].Pattern)
	assert.Equal(t, "web design services", got[1].Pattern)

	assert.Len(t, kb.Search("services", 1), 1)
	assert.Nil(t, kb.Search("", 5))
}

func TestKnowledgeBase_LoadSkipsMalformed(t *testing.T) {
	kb, store := newTestKB(t)
	ctx := context.Background()
	kb.Store(ctx, "hours", "9 to 5", types.CategoryTaught)
	kb.Store(ctx, "location", "Atlanta", types.CategoryFAQ)

	bad, err := persistence.NewDocument(0, types.CategoryFAQ, 0, time.Now(), types.KnowledgeRecord{Pattern: "orphan"})
	require.NoError(t, err)
	_, err = store.Put(ctx, persistence.CollectionKnowledge, bad)
	require.NoError(t, err)
	_, err = store.Put(ctx, persistence.CollectionKnowledge, &persistence.Document{Body: json.RawMessage(`not json`)})
	require.NoError(t, err)

	reloaded := NewKnowledgeBase(store, 0.6, nil)
	n, err := reloaded.Load(ctx, persistence.ReadOnly(store))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "Atlanta", reloaded.Find("location").Response)

	// ids survive the reload so later writes upsert instead of duplicating
	reloaded.Store(ctx, "location", "Decatur", types.CategoryFAQ)
	count, err := store.Count(ctx, persistence.CollectionKnowledge)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestKnowledgeBase_Reset(t *testing.T) {
	kb, store := newTestKB(t)
	ctx := context.Background()
	kb.Store(ctx, "hours", "9 to 5", types.CategoryTaught)

	require.NoError(t, kb.Reset(ctx))
	assert.Zero(t, kb.Count())
	assert.False(t, kb.Find("hours").Found())

	n, err := store.Count(ctx, persistence.CollectionKnowledge)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKnowledgeBase_TrainFromContent(t *testing.T) {
	kb, _ := newTestKB(t)
	ctx := context.Background()

	doc := &content.Document{
		Source: "services.html",
		Sections: []content.Section{
			{Heading: "Web Design", Blocks: []string{"We build fast sites."}, Items: []string{"Landing pages", "Stores"}},
			{Heading: "Empty Section"},
			{Heading: "", Blocks: []string{"orphan text"}},
		},
		FAQs: []content.FAQ{
			{Question: "Do you offer hosting?", Answer: "Yes, managed hosting."},
			{Question: "Broken?", Answer: ""},
		},
	}

	assert.Equal(t, 4, kb.TrainFromContent(ctx, doc))
	assert.Equal(t, 4, kb.Count())

	m := kb.Find("what is web design")
	require.True(t, m.Found())
	assert.Equal(t, 1.0, m.Confidence)
	assert.Equal(t, "We build fast sites. Landing pages; Stores", m.Response)
	assert.Equal(t, types.CategorySiteContent, m.Category)

	m = kb.Find("do you offer hosting")
	require.True(t, m.Found())
	assert.Equal(t, types.CategoryFAQ, m.Category)

	assert.Zero(t, kb.TrainFromContent(ctx, nil))
}
