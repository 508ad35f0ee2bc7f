package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leesite/agentlee/agent/content"
	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/types"
)

// Match is the result of a knowledge lookup. The zero value is the
// retrieval-miss sentinel.
type Match struct {
	Pattern    string  `json:"pattern,omitempty"`
	Response   string  `json:"response,omitempty"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

// RetrievalMiss is returned when nothing clears the match threshold.
var RetrievalMiss = Match{}

// Found reports whether the match carries a response.
func (m Match) Found() bool {
	return m.Confidence > 0 && m.Response != ""
}

type knowledgeKey struct {
	category string
	pattern  string
}

// KnowledgeBase 知识库：category -> pattern -> response，
// 内存中按插入顺序保存，写操作同步到持久化存储。
type KnowledgeBase struct {
	store     persistence.Store
	threshold float64
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.RWMutex
	records []*types.KnowledgeRecord
	index   map[knowledgeKey]*types.KnowledgeRecord
}

// NewKnowledgeBase 创建知识库
func NewKnowledgeBase(store persistence.Store, threshold float64, logger *zap.Logger) *KnowledgeBase {
	if store == nil {
		store = persistence.NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeBase{
		store:     store,
		threshold: threshold,
		logger:    logger.With(zap.String("component", "knowledge_base")),
		now:       time.Now,
		index:     make(map[knowledgeKey]*types.KnowledgeRecord),
	}
}

// Store upserts a pattern under category. Empty patterns or responses are
// skipped and reported as false. Persistence failures are logged; the
// in-memory record is kept.
func (kb *KnowledgeBase) Store(ctx context.Context, pattern, response, category string) bool {
	pattern = Normalize(pattern)
	response = strings.TrimSpace(response)
	category = strings.TrimSpace(category)
	if pattern == "" || response == "" {
		return false
	}
	if category == "" {
		category = types.CategoryGeneral
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	key := knowledgeKey{category: category, pattern: pattern}
	rec, exists := kb.index[key]
	if exists {
		rec.Response = response
	} else {
		rec = &types.KnowledgeRecord{
			Pattern:   pattern,
			Response:  response,
			Category:  category,
			CreatedAt: kb.now(),
		}
		kb.records = append(kb.records, rec)
		kb.index[key] = rec
	}

	if err := kb.persist(ctx, rec); err != nil {
		kb.logger.Warn("knowledge write failed",
			zap.String("pattern", pattern),
			zap.String("category", category),
			zap.Error(err),
		)
	}
	return true
}

// Overwrite replaces the response of every record whose pattern equals
// pattern, in any category. It returns the number of records changed.
func (kb *KnowledgeBase) Overwrite(ctx context.Context, pattern, response string) int {
	pattern = Normalize(pattern)
	response = strings.TrimSpace(response)
	if pattern == "" || response == "" {
		return 0
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	changed := 0
	for _, rec := range kb.records {
		if rec.Pattern != pattern || rec.Response == response {
			continue
		}
		rec.Response = response
		changed++
		if err := kb.persist(ctx, rec); err != nil {
			kb.logger.Warn("knowledge write failed",
				zap.String("pattern", pattern),
				zap.String("category", rec.Category),
				zap.Error(err),
			)
		}
	}
	return changed
}

// persist 调用方持有写锁
func (kb *KnowledgeBase) persist(ctx context.Context, rec *types.KnowledgeRecord) error {
	doc, err := persistence.NewDocument(rec.ID, rec.Category, 0, rec.CreatedAt, rec)
	if err != nil {
		return err
	}
	id, err := kb.store.Put(ctx, persistence.CollectionKnowledge, doc)
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// Find returns the best match strictly above the threshold, or RetrievalMiss.
// Ties keep insertion order.
func (kb *KnowledgeBase) Find(input string) Match {
	if Normalize(input) == "" {
		return RetrievalMiss
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	best := RetrievalMiss
	for _, rec := range kb.records {
		c := Confidence(rec.Pattern, input)
		if c > best.Confidence {
			best = Match{Pattern: rec.Pattern, Response: rec.Response, Category: rec.Category, Confidence: c}
		}
	}
	if best.Confidence <= kb.threshold {
		return RetrievalMiss
	}
	return best
}

// Search ranks every record with a non-zero confidence, highest first.
func (kb *KnowledgeBase) Search(input string, limit int) []Match {
	if Normalize(input) == "" {
		return nil
	}
	kb.mu.RLock()
	matches := make([]Match, 0, 8)
	for _, rec := range kb.records {
		if c := Confidence(rec.Pattern, input); c > 0 {
			matches = append(matches, Match{Pattern: rec.Pattern, Response: rec.Response, Category: rec.Category, Confidence: c})
		}
	}
	kb.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Count returns the number of knowledge items.
func (kb *KnowledgeBase) Count() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.records)
}

// Categories returns a copy of the category -> pattern -> response view.
func (kb *KnowledgeBase) Categories() map[string]map[string]string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make(map[string]map[string]string)
	for _, rec := range kb.records {
		if out[rec.Category] == nil {
			out[rec.Category] = make(map[string]string)
		}
		out[rec.Category][rec.Pattern] = rec.Response
	}
	return out
}

// Records returns copies of every record in insertion order.
func (kb *KnowledgeBase) Records() []types.KnowledgeRecord {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]types.KnowledgeRecord, len(kb.records))
	for i, rec := range kb.records {
		out[i] = *rec
	}
	return out
}

// Load replaces the in-memory state with the stored records. Malformed
// documents are skipped; for duplicate (category, pattern) the later id wins.
func (kb *KnowledgeBase) Load(ctx context.Context, reader persistence.Reader) (int, error) {
	docs, err := reader.GetAll(ctx, persistence.CollectionKnowledge, persistence.All())
	if err != nil {
		return 0, fmt.Errorf("load knowledge: %w", err)
	}

	records := make([]*types.KnowledgeRecord, 0, len(docs))
	index := make(map[knowledgeKey]*types.KnowledgeRecord, len(docs))
	skipped := 0
	for i := range docs {
		var rec types.KnowledgeRecord
		if err := docs[i].Decode(&rec); err != nil || !rec.Valid() {
			skipped++
			continue
		}
		rec.ID = docs[i].ID
		rec.Pattern = Normalize(rec.Pattern)
		key := knowledgeKey{category: rec.Category, pattern: rec.Pattern}
		if prev, ok := index[key]; ok {
			*prev = rec
			continue
		}
		r := rec
		records = append(records, &r)
		index[key] = &r
	}
	if skipped > 0 {
		kb.logger.Warn("skipped malformed knowledge records", zap.Int("count", skipped))
	}

	kb.mu.Lock()
	kb.records = records
	kb.index = index
	kb.mu.Unlock()
	return len(records), nil
}

// Reset removes every record from memory and the store.
func (kb *KnowledgeBase) Reset(ctx context.Context) error {
	kb.mu.Lock()
	kb.records = nil
	kb.index = make(map[knowledgeKey]*types.KnowledgeRecord)
	kb.mu.Unlock()
	return kb.store.Clear(ctx, persistence.CollectionKnowledge)
}

// questionTemplates 每个标题合成的问法
var questionTemplates = []string{"what is %s", "tell me about %s", "explain %s"}

// TrainFromContent imports a parsed page: three question phrasings per
// heading under site-content and every FAQ pair under faq. Entries without
// an answer are skipped. It returns the number of stored records.
func (kb *KnowledgeBase) TrainFromContent(ctx context.Context, doc *content.Document) int {
	if doc.Empty() {
		return 0
	}
	stored := 0
	for _, sec := range doc.Sections {
		topic := Normalize(sec.Heading)
		answer := sec.Answer()
		if topic == "" || answer == "" {
			continue
		}
		for _, tpl := range questionTemplates {
			if kb.Store(ctx, fmt.Sprintf(tpl, topic), answer, types.CategorySiteContent) {
				stored++
			}
		}
	}
	for _, faq := range doc.FAQs {
		if !faq.Valid() {
			continue
		}
		if kb.Store(ctx, faq.Question, faq.Answer, types.CategoryFAQ) {
			stored++
		}
	}
	kb.logger.Info("trained from content",
		zap.String("source", doc.Source),
		zap.Int("sections", len(doc.Sections)),
		zap.Int("faqs", len(doc.FAQs)),
		zap.Int("stored", stored),
	)
	return stored
}
