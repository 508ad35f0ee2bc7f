package conversation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/types"
)

func newTestManager(t *testing.T, store persistence.Store, now *time.Time, opts ...Option) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TimeZone = "UTC"
	m, err := NewManager(cfg, store, nil, opts...)
	require.NoError(t, err)
	m.now = func() time.Time { return *now }
	return m
}

type recordingSink struct {
	entries []types.ConversationEntry
	err     error
}

func (s *recordingSink) Record(_ context.Context, _ string, e types.ConversationEntry) error {
	s.entries = append(s.entries, e)
	return s.err
}

func TestManager_Touch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, persistence.NewMemoryStore(), &now)

	p, err := m.Touch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.VisitCount)
	assert.Equal(t, now, p.FirstSeen)
	assert.Equal(t, now, p.LastSeen)

	first := now
	now = now.Add(time.Hour)
	p, err = m.Touch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.VisitCount)
	assert.Equal(t, first, p.FirstSeen)
	assert.Equal(t, now, p.LastSeen)

	_, err = m.Touch(ctx, "  ")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestManager_ExtractInfo(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, persistence.NewMemoryStore(), &now)

	ex, err := m.ExtractInfo(ctx, "Hi, I'm John, interested in SEO.", "u1")
	require.NoError(t, err)
	assert.Equal(t, "John", ex.Name)

	_, err = m.ExtractInfo(ctx, "my email is john@example.com and I need help with seo and hosting", "u1")
	require.NoError(t, err)

	p, ok := m.Profile(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "John", p.Name)
	assert.Equal(t, "john@example.com", p.Email)
	assert.Equal(t, []string{"seo", "hosting"}, p.Interests)
	assert.Equal(t, 1, p.VisitCount, "extraction creates the profile on first sight")

	ex, err = m.ExtractInfo(ctx, "blue", "u2")
	require.NoError(t, err)
	assert.True(t, ex.Empty())
	_, ok = m.Profile(ctx, "u2")
	assert.False(t, ok)
}

func TestManager_Greeting(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, persistence.NewMemoryStore(), &now)

	assert.Equal(t, "Good morning! I'm Agent Lee. How can I help you today?", m.Greeting(ctx, "nobody"))
	_, ok := m.Profile(ctx, "nobody")
	assert.False(t, ok, "greeting never creates a profile")

	_, err := m.Touch(ctx, "u1")
	require.NoError(t, err)
	_, err = m.ExtractInfo(ctx, "my name is sarah", "u1")
	require.NoError(t, err)

	now = time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, "Good afternoon, Sarah! I'm Agent Lee. How can I help you today?", m.Greeting(ctx, "u1"))

	_, err = m.Touch(ctx, "u1")
	require.NoError(t, err)
	now = time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "Good evening, Sarah! Welcome back, it's great to see you again.", m.Greeting(ctx, "u1"))
}

func TestManager_AppendConversationCapsHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	store := persistence.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.HistoryLimit = 3
	m, err := NewManager(cfg, store, nil)
	require.NoError(t, err)
	m.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		_, err := m.AppendConversation(ctx, "u1", types.RoleUser, fmt.Sprintf("message %d", i), map[string]any{"i": i})
		require.NoError(t, err)
	}

	h := m.History(ctx, "u1", 0)
	require.Len(t, h, 3)
	assert.Equal(t, "message 2", h[0].Text)
	assert.Equal(t, "message 4", h[2].Text)
	assert.Len(t, m.History(ctx, "u1", 2), 2)
	assert.Nil(t, m.History(ctx, "nobody", 0))

	docs, err := store.GetAll(ctx, persistence.CollectionConversations, persistence.ByCategory("u1"))
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestManager_AppendConversationValidation(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := newTestManager(t, persistence.NewMemoryStore(), &now)

	_, err := m.AppendConversation(ctx, "u1", types.Role("bot"), "hi", nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = m.AppendConversation(ctx, "u1", types.RoleUser, "   ", nil)
	assert.True(t, types.IsErrorCode(err, types.ErrMalformedRecord))

	_, err = m.AppendConversation(ctx, "", types.RoleUser, "hi", nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestManager_SinkFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	sink := &recordingSink{err: fmt.Errorf("sink down")}
	m := newTestManager(t, persistence.NewMemoryStore(), &now, WithTranscriptSink(sink))

	entry, err := m.AppendConversation(ctx, "u1", types.RoleAgent, "Hello!", nil)
	require.NoError(t, err)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, entry, sink.entries[0])
	assert.Len(t, m.History(ctx, "u1", 0), 1)
}

type upperClassifier struct{}

func (upperClassifier) Extract(text string) Extraction {
	return Extraction{Name: strings.ToUpper(text)}
}
func (upperClassifier) Classify(string) Intent { return IntentQuestion }

func TestManager_CustomClassifier(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, persistence.NewMemoryStore(), &now, WithClassifier(upperClassifier{}))

	_, err := m.ExtractInfo(context.Background(), "zed", "u1")
	require.NoError(t, err)
	p, _ := m.Profile(context.Background(), "u1")
	assert.Equal(t, "ZED", p.Name)
	assert.Equal(t, IntentQuestion, m.Classifier().Classify("anything"))
}

func TestManager_PreferencesAndUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := newTestManager(t, persistence.NewMemoryStore(), &now)

	require.NoError(t, m.SetPreference(ctx, "u1", "voice", false))
	require.NoError(t, m.SetPreference(ctx, "u1", "theme", "dark"))
	assert.Error(t, m.SetPreference(ctx, "u1", "", 1))

	prefs := m.Preferences(ctx, "u1")
	assert.Equal(t, map[string]any{"voice": false, "theme": "dark"}, prefs)
	prefs["theme"] = "light"
	assert.Equal(t, "dark", m.Preferences(ctx, "u1")["theme"])
	assert.Empty(t, m.Preferences(ctx, "nobody"))

	name, email := " Dana ", "DANA@Example.com"
	p, err := m.UpdateProfile(ctx, "u1", ProfileUpdate{Name: &name, Email: &email, Interests: []string{"SEO"}})
	require.NoError(t, err)
	assert.Equal(t, "Dana", p.Name)
	assert.Equal(t, "dana@example.com", p.Email)
	assert.Equal(t, []string{"seo"}, p.Interests)

	_, err = m.UpdateProfile(ctx, "ghost", ProfileUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestManager_RestoresAcrossRestart(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	store := persistence.NewMemoryStore()

	first := newTestManager(t, store, &now)
	_, err := first.Touch(ctx, "u1")
	require.NoError(t, err)
	_, err = first.ExtractInfo(ctx, "my name is sarah", "u1")
	require.NoError(t, err)
	require.NoError(t, first.SetPreference(ctx, "u1", "voice", true))
	_, err = first.AppendConversation(ctx, "u1", types.RoleUser, "hello", nil)
	require.NoError(t, err)
	_, err = first.AppendConversation(ctx, "u1", types.RoleAgent, "Hi Sarah!", nil)
	require.NoError(t, err)

	second := newTestManager(t, store, &now)
	p, err := second.Touch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.VisitCount)
	assert.Equal(t, "Sarah", p.Name)
	assert.Equal(t, true, second.Preferences(ctx, "u1")["voice"])

	h := second.History(ctx, "u1", 0)
	require.Len(t, h, 2)
	assert.Equal(t, types.RoleAgent, h[1].Role)

	docs, err := store.GetAll(ctx, persistence.CollectionProfiles, persistence.ByCategory("u1"))
	require.NoError(t, err)
	assert.Len(t, docs, 1, "profile writes upsert a single document")
}

func TestManager_ReadsRestoreWithoutTouch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	store := persistence.NewMemoryStore()

	first := newTestManager(t, store, &now)
	_, err := first.ExtractInfo(ctx, "my name is sarah", "u1")
	require.NoError(t, err)
	require.NoError(t, first.SetPreference(ctx, "u1", "theme", "dark"))
	_, err = first.AppendConversation(ctx, "u1", types.RoleUser, "do you do seo", nil)
	require.NoError(t, err)

	// 重启后直接读取，不经过 Touch
	second := newTestManager(t, store, &now)
	p, ok := second.Profile(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "Sarah", p.Name)
	assert.Equal(t, 1, p.VisitCount, "reads do not count as visits")
	assert.Equal(t, "dark", second.Preferences(ctx, "u1")["theme"])

	third := newTestManager(t, store, &now)
	h := third.History(ctx, "u1", 0)
	require.Len(t, h, 1)
	assert.Equal(t, "do you do seo", h[0].Text)

	_, ok = third.Profile(ctx, "nobody")
	assert.False(t, ok)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.HistoryLimit = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.TimeZone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}

func TestNewVisitorID(t *testing.T) {
	a, b := NewVisitorID(), NewVisitorID()
	assert.True(t, strings.HasPrefix(a, "visitor-"))
	assert.NotEqual(t, a, b)
}
