package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/types"
)

// statsCategory 计数器文档在 stats 集合中的分类索引
const statsCategory = "interaction_counters"

// Counters are the global interaction counters.
type Counters struct {
	TotalInteractions   int64 `json:"total_interactions"`
	SuccessfulResponses int64 `json:"successful_responses"`
	FailedResponses     int64 `json:"failed_responses"`
}

// LearnResult describes what a single Learn call stored.
type LearnResult struct {
	Memory   types.MemoryRecord `json:"memory"`
	Patterns []string           `json:"patterns,omitempty"`
}

// Learner records every accepted exchange as a memory and promotes
// successful ones into the knowledge base.
type Learner struct {
	kb      *KnowledgeBase
	engine  *TieringEngine
	store   persistence.Store
	metrics MetricsRecorder
	logger  *zap.Logger
	tracer  trace.Tracer

	mu       sync.Mutex
	counters Counters
	statsID  uint64
}

// NewLearner 创建交互学习器
func NewLearner(kb *KnowledgeBase, engine *TieringEngine, store persistence.Store, metrics MetricsRecorder, logger *zap.Logger) *Learner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = persistence.NewMemoryStore()
	}
	return &Learner{
		kb:      kb,
		engine:  engine,
		store:   store,
		metrics: orNop(metrics),
		logger:  logger.With(zap.String("component", "learner")),
		tracer:  otel.Tracer(instrumentationName),
	}
}

// Learn stores the exchange as a short-term memory at the initial relevance
// for its outcome. Successful exchanges also store every pattern variant of
// input under category. Counters are incremented for every accepted call.
func (l *Learner) Learn(ctx context.Context, input, response string, successful bool, category string) (LearnResult, error) {
	input = strings.TrimSpace(input)
	response = strings.TrimSpace(response)
	if Normalize(input) == "" || response == "" {
		return LearnResult{}, types.NewMalformedRecordError("learn requires input and response")
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = types.CategoryLearned
	}

	ctx, span := l.tracer.Start(ctx, "memory.learn", trace.WithAttributes(
		attribute.String("memory.category", category),
		attribute.Bool("memory.successful", successful),
	))
	defer span.End()

	rec, err := l.engine.Add(ctx, types.MemoryRecord{
		Input:         input,
		Response:      response,
		WasSuccessful: successful,
		Category:      category,
	})
	if err != nil {
		return LearnResult{}, err
	}

	result := LearnResult{Memory: rec}
	if successful {
		for _, p := range PatternVariants(input) {
			if l.kb.Store(ctx, p, response, category) {
				result.Patterns = append(result.Patterns, p)
			}
		}
		l.metrics.SetKnowledgeItems(l.kb.Count())
	}

	l.mu.Lock()
	l.counters.TotalInteractions++
	if successful {
		l.counters.SuccessfulResponses++
	} else {
		l.counters.FailedResponses++
	}
	err = l.persistLocked(ctx)
	l.mu.Unlock()
	if err != nil {
		l.logger.Warn("counter write failed", zap.Error(err))
	}

	l.metrics.RecordLearn(category, successful)
	span.SetAttributes(attribute.Int("memory.patterns", len(result.Patterns)))
	return result, nil
}

// persistLocked 调用方持有 mu
func (l *Learner) persistLocked(ctx context.Context) error {
	doc, err := persistence.NewDocument(l.statsID, statsCategory, 0, l.engine.now(), l.counters)
	if err != nil {
		return err
	}
	id, err := l.store.Put(ctx, persistence.CollectionStats, doc)
	if err != nil {
		return err
	}
	l.statsID = id
	return nil
}

// Counters returns the current counters.
func (l *Learner) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}

// Merge adds imported counters to the current ones and persists them.
func (l *Learner) Merge(ctx context.Context, c Counters) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters.TotalInteractions += max(c.TotalInteractions, 0)
	l.counters.SuccessfulResponses += max(c.SuccessfulResponses, 0)
	l.counters.FailedResponses += max(c.FailedResponses, 0)
	return l.persistLocked(ctx)
}

// Load reads the persisted counters. A missing document leaves them at zero.
func (l *Learner) Load(ctx context.Context, reader persistence.Reader) error {
	docs, err := reader.GetAll(ctx, persistence.CollectionStats, persistence.ByCategory(statsCategory))
	if err != nil {
		return fmt.Errorf("load counters: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}
	// 以最新的文档为准
	last := docs[len(docs)-1]
	var c Counters
	if err := last.Decode(&c); err != nil {
		l.logger.Warn("skipped malformed counters", zap.Uint64("id", last.ID), zap.Error(err))
		return nil
	}

	l.mu.Lock()
	l.counters = c
	l.statsID = last.ID
	l.mu.Unlock()
	return nil
}

// Reset zeroes the counters and clears the stats collection.
func (l *Learner) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.counters = Counters{}
	l.statsID = 0
	l.mu.Unlock()
	return l.store.Clear(ctx, persistence.CollectionStats)
}
