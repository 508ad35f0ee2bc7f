package conversation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/types"
)

// ErrUnknownUser is returned for users that were never touched.
var ErrUnknownUser = errors.New("unknown user")

// Config 对话上下文配置
type Config struct {
	// 每个用户保留的对话条数
	HistoryLimit int `json:"history_limit" yaml:"history_limit" env:"HISTORY_LIMIT"`
	// 问候语使用的时区，空为本地时区
	TimeZone string `json:"time_zone" yaml:"time_zone" env:"TIME_ZONE"`
	// 助手名称，出现在首次问候中
	AgentName string `json:"agent_name" yaml:"agent_name" env:"AGENT_NAME"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		HistoryLimit: 100,
		AgentName:    "Agent Lee",
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive")
	}
	if c.TimeZone != "" {
		if _, err := time.LoadLocation(c.TimeZone); err != nil {
			return fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
		}
	}
	return nil
}

// ProfileUpdate carries explicit profile edits; nil fields are left alone.
type ProfileUpdate struct {
	Name      *string  `json:"name,omitempty"`
	Email     *string  `json:"email,omitempty"`
	Phone     *string  `json:"phone,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// storedProfile 是 profiles 集合中的文档体
type storedProfile struct {
	Profile     types.UserProfile `json:"profile"`
	Preferences map[string]any    `json:"preferences,omitempty"`
}

type userState struct {
	profile *types.UserProfile
	history []types.ConversationEntry
	prefs   map[string]any
}

// Manager 访客上下文管理器：档案、滚动对话记录与偏好
type Manager struct {
	cfg        Config
	store      persistence.Store
	classifier Classifier
	sink       TranscriptSink
	loc        *time.Location
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	users map[string]*userState
}

// Option configures a Manager.
type Option func(*Manager)

// WithClassifier replaces the default RegexClassifier.
func WithClassifier(c Classifier) Option {
	return func(m *Manager) { m.classifier = c }
}

// WithTranscriptSink replaces the default StoreTranscriptSink.
func WithTranscriptSink(s TranscriptSink) Option {
	return func(m *Manager) { m.sink = s }
}

// NewManager 创建对话上下文管理器
func NewManager(cfg Config, store persistence.Store, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = persistence.NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := time.Local
	if cfg.TimeZone != "" {
		loc, _ = time.LoadLocation(cfg.TimeZone)
	}

	m := &Manager{
		cfg:        cfg,
		store:      store,
		classifier: NewRegexClassifier(),
		sink:       NewStoreTranscriptSink(store, cfg.HistoryLimit),
		loc:        loc,
		logger:     logger.With(zap.String("component", "conversation")),
		now:        time.Now,
		users:      make(map[string]*userState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewVisitorID returns a fresh anonymous visitor id.
func NewVisitorID() string {
	return "visitor-" + uuid.NewString()
}

// Classifier returns the configured classifier.
func (m *Manager) Classifier() Classifier {
	return m.classifier
}

func invalidUser() error {
	return types.NewError(types.ErrInvalidRequest, "user id is required").WithHTTPStatus(400)
}

// Touch records a visit: the first sight creates the profile with
// VisitCount 1, later sights increment VisitCount and update LastSeen.
func (m *Manager) Touch(ctx context.Context, userID string) (*types.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidUser()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st, created := m.stateLocked(ctx, userID)
	if !created {
		st.profile.VisitCount++
		st.profile.LastSeen = m.now()
	}
	m.persistLocked(ctx, userID, st)
	return st.profile.Clone(), nil
}

// stateLocked 返回用户状态，必要时从存储加载或新建；调用方持有 mu
func (m *Manager) stateLocked(ctx context.Context, userID string) (*userState, bool) {
	if st, ok := m.users[userID]; ok {
		return st, false
	}
	if st := m.loadLocked(ctx, userID); st != nil {
		m.users[userID] = st
		return st, false
	}

	now := m.now()
	st := &userState{
		profile: &types.UserProfile{
			ID:         userID,
			FirstSeen:  now,
			LastSeen:   now,
			VisitCount: 1,
		},
		prefs: make(map[string]any),
	}
	m.users[userID] = st
	return st, true
}

// knownLocked 返回内存中或存储中已有的用户，不创建新档案
func (m *Manager) knownLocked(ctx context.Context, userID string) (*userState, bool) {
	if st, ok := m.users[userID]; ok {
		return st, true
	}
	if userID == "" {
		return nil, false
	}
	st := m.loadLocked(ctx, userID)
	if st == nil {
		return nil, false
	}
	m.users[userID] = st
	return st, true
}

func (m *Manager) loadLocked(ctx context.Context, userID string) *userState {
	docs, err := m.store.GetAll(ctx, persistence.CollectionProfiles, persistence.ByCategory(userID))
	if err != nil {
		m.logger.Warn("profile read failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if len(docs) == 0 {
		return nil
	}
	last := docs[len(docs)-1]
	var sp storedProfile
	if err := last.Decode(&sp); err != nil || sp.Profile.ID != userID {
		m.logger.Warn("skipped malformed profile", zap.String("user_id", userID))
		return nil
	}
	sp.Profile.StoreID = last.ID
	if sp.Preferences == nil {
		sp.Preferences = make(map[string]any)
	}
	st := &userState{profile: &sp.Profile, prefs: sp.Preferences}

	if hr, ok := m.sink.(HistoryReader); ok {
		history, err := hr.Recent(ctx, userID, m.cfg.HistoryLimit)
		if err != nil {
			m.logger.Warn("transcript read failed", zap.String("user_id", userID), zap.Error(err))
		}
		st.history = history
	}
	return st
}

// persistLocked 写入失败只记录告警，内存状态保留
func (m *Manager) persistLocked(ctx context.Context, userID string, st *userState) {
	doc, err := persistence.NewDocument(st.profile.StoreID, userID, 0, st.profile.LastSeen, storedProfile{
		Profile:     *st.profile,
		Preferences: st.prefs,
	})
	if err == nil {
		var id uint64
		if id, err = m.store.Put(ctx, persistence.CollectionProfiles, doc); err == nil {
			st.profile.StoreID = id
			return
		}
	}
	m.logger.Warn("profile write failed", zap.String("user_id", userID), zap.Error(err))
}

// ExtractInfo runs the classifier over text and merges any found fields
// into the user's profile. It returns what was extracted.
func (m *Manager) ExtractInfo(ctx context.Context, text, userID string) (Extraction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Extraction{}, invalidUser()
	}
	ex := m.classifier.Extract(text)
	if ex.Empty() {
		return ex, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st, _ := m.stateLocked(ctx, userID)
	p := st.profile
	if ex.Name != "" {
		p.Name = ex.Name
	}
	if ex.Email != "" {
		p.Email = ex.Email
	}
	if ex.Phone != "" {
		p.Phone = ex.Phone
	}
	p.Interests = mergeInterests(p.Interests, ex.Interests)
	m.persistLocked(ctx, userID, st)

	m.logger.Debug("profile updated from text",
		zap.String("user_id", userID),
		zap.Bool("name", ex.Name != ""),
		zap.Bool("email", ex.Email != ""),
		zap.Bool("phone", ex.Phone != ""),
		zap.Int("interests", len(ex.Interests)),
	)
	return ex, nil
}

func mergeInterests(have, add []string) []string {
	for _, in := range add {
		in = strings.ToLower(strings.TrimSpace(in))
		if in == "" {
			continue
		}
		dup := false
		for _, h := range have {
			if h == in {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, in)
		}
	}
	return have
}

// Greeting builds a time-of-day greeting with the user's name when known
// and a returning-visitor clause when VisitCount > 1. Unknown users get the
// first-visit greeting; no profile is created.
func (m *Manager) Greeting(ctx context.Context, userID string) string {
	var name string
	visits := 0

	m.mu.Lock()
	if st, ok := m.knownLocked(ctx, userID); ok {
		name = st.profile.Name
		visits = st.profile.VisitCount
	}
	m.mu.Unlock()

	var b strings.Builder
	b.WriteString(timeOfDay(m.now().In(m.loc)))
	if name != "" {
		b.WriteString(", ")
		b.WriteString(name)
	}
	b.WriteString("!")
	if visits > 1 {
		b.WriteString(" Welcome back, it's great to see you again.")
	} else {
		fmt.Fprintf(&b, " I'm %s. How can I help you today?", m.cfg.AgentName)
	}
	return b.String()
}

func timeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "Good morning"
	case h < 17:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

// AppendConversation appends an entry to the user's rolling log, dropping
// the oldest entries beyond HistoryLimit, and hands it to the transcript
// sink. Sink failures are logged.
func (m *Manager) AppendConversation(ctx context.Context, userID string, role types.Role, text string, metadata map[string]any) (types.ConversationEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return types.ConversationEntry{}, invalidUser()
	}
	if !role.Valid() {
		return types.ConversationEntry{}, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid role %q", role)).WithHTTPStatus(400)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.ConversationEntry{}, types.NewMalformedRecordError("conversation entry requires text")
	}

	entry := types.ConversationEntry{
		Role:      role,
		Text:      text,
		Timestamp: m.now(),
		Metadata:  maps.Clone(metadata),
	}

	m.mu.Lock()
	st, _ := m.stateLocked(ctx, userID)
	st.history = append(st.history, entry)
	if over := len(st.history) - m.cfg.HistoryLimit; over > 0 {
		st.history = append([]types.ConversationEntry(nil), st.history[over:]...)
	}
	m.mu.Unlock()

	if err := m.sink.Record(ctx, userID, entry); err != nil {
		m.logger.Warn("transcript hand-off failed", zap.String("user_id", userID), zap.Error(err))
	}
	return entry, nil
}

// Profile returns a copy of the user's profile.
func (m *Manager) Profile(ctx context.Context, userID string) (*types.UserProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.knownLocked(ctx, userID)
	if !ok {
		return nil, false
	}
	return st.profile.Clone(), true
}

// History returns up to limit of the most recent entries, oldest first.
// A limit <= 0 returns the whole log.
func (m *Manager) History(ctx context.Context, userID string, limit int) []types.ConversationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.knownLocked(ctx, userID)
	if !ok {
		return nil
	}
	h := st.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]types.ConversationEntry(nil), h...)
}

// SetPreference stores a preference value for the user.
func (m *Manager) SetPreference(ctx context.Context, userID, key string, value any) error {
	userID = strings.TrimSpace(userID)
	key = strings.TrimSpace(key)
	if userID == "" {
		return invalidUser()
	}
	if key == "" {
		return types.NewError(types.ErrInvalidRequest, "preference key is required").WithHTTPStatus(400)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, _ := m.stateLocked(ctx, userID)
	st.prefs[key] = value
	m.persistLocked(ctx, userID, st)
	return nil
}

// Preferences returns a copy of the user's preference bag.
func (m *Manager) Preferences(ctx context.Context, userID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.knownLocked(ctx, userID)
	if !ok {
		return map[string]any{}
	}
	return maps.Clone(st.prefs)
}

// UpdateProfile applies explicit edits to a known user's profile.
func (m *Manager) UpdateProfile(ctx context.Context, userID string, u ProfileUpdate) (*types.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.knownLocked(ctx, userID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	p := st.profile
	if u.Name != nil {
		p.Name = strings.TrimSpace(*u.Name)
	}
	if u.Email != nil {
		p.Email = strings.ToLower(strings.TrimSpace(*u.Email))
	}
	if u.Phone != nil {
		p.Phone = strings.TrimSpace(*u.Phone)
	}
	p.Interests = mergeInterests(p.Interests, u.Interests)
	m.persistLocked(ctx, userID, st)
	return p.Clone(), nil
}
