package memory

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leesite/agentlee/agent/content"
	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/types"
)

// Reply sources
const (
	SourceKnowledge = "knowledge"
	SourceMemory    = "memory"
	SourceNone      = "none"
)

// Reply is the answer chosen for an input. A reply with an empty Text is a
// miss and the caller answers with its own fallback.
type Reply struct {
	Text       string  `json:"text,omitempty"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category,omitempty"`
	Pattern    string  `json:"pattern,omitempty"`
	MemoryID   uint64  `json:"memory_id,omitempty"`
}

// Found reports whether a learned answer was found.
func (r Reply) Found() bool {
	return r.Text != ""
}

// LoadReport counts what Load restored.
type LoadReport struct {
	Knowledge int      `json:"knowledge"`
	Memories  int      `json:"memories"`
	Counters  Counters `json:"counters"`
}

// SearchResult combines ranked memories and knowledge matches.
type SearchResult struct {
	Memories  []RankedMemory `json:"memories"`
	Knowledge []Match        `json:"knowledge"`
}

// TrainingSystem 训练系统
//
// 进程内唯一的服务对象，持有知识库、分层引擎与学习器；
// 启动时构造一次并注入到 HTTP handler 与 CLI。
type TrainingSystem struct {
	cfg     Config
	store   persistence.Store
	kb      *KnowledgeBase
	engine  *TieringEngine
	learner *Learner
	metrics MetricsRecorder
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewTrainingSystem validates cfg and wires the components over store.
func NewTrainingSystem(cfg Config, store persistence.Store, metrics MetricsRecorder, logger *zap.Logger) (*TrainingSystem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid memory config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics = orNop(metrics)

	kb := NewKnowledgeBase(store, cfg.MatchThreshold, logger)
	engine := NewTieringEngine(cfg, store, metrics, logger)
	return &TrainingSystem{
		cfg:     cfg,
		store:   store,
		kb:      kb,
		engine:  engine,
		learner: NewLearner(kb, engine, store, metrics, logger),
		metrics: metrics,
		logger:  logger.With(zap.String("component", "training_system")),
		tracer:  otel.Tracer(instrumentationName),
	}, nil
}

// Load restores knowledge, memories and counters concurrently through a
// read-only view of the store.
func (ts *TrainingSystem) Load(ctx context.Context) (LoadReport, error) {
	reader := persistence.ReadOnly(ts.store)
	var report LoadReport

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := ts.kb.Load(gctx, reader)
		report.Knowledge = n
		return err
	})
	g.Go(func() error {
		n, err := ts.engine.Load(gctx, reader)
		report.Memories = n
		return err
	})
	g.Go(func() error {
		return ts.learner.Load(gctx, reader)
	})
	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Counters = ts.learner.Counters()
	ts.metrics.SetKnowledgeItems(report.Knowledge)
	ts.logger.Info("training state loaded",
		zap.Int("knowledge", report.Knowledge),
		zap.Int("memories", report.Memories),
		zap.Int64("interactions", report.Counters.TotalInteractions),
	)
	return report, nil
}

// Respond answers from the knowledge base first, then from the best
// successful memory whose text relevance reaches MemoryAnswerThreshold.
func (ts *TrainingSystem) Respond(ctx context.Context, input string) Reply {
	_, span := ts.tracer.Start(ctx, "memory.respond")
	defer span.End()

	if m := ts.kb.Find(input); m.Found() {
		ts.metrics.RecordLookup(SourceKnowledge, true, m.Confidence)
		span.SetAttributes(attribute.String("memory.source", SourceKnowledge))
		return Reply{
			Text:       m.Response,
			Source:     SourceKnowledge,
			Confidence: m.Confidence,
			Category:   m.Category,
			Pattern:    m.Pattern,
		}
	}

	for _, rm := range ts.engine.Search(input, ts.cfg.DefaultSearchLimit) {
		if !rm.Record.WasSuccessful || rm.TextRelevance < ts.cfg.MemoryAnswerThreshold {
			continue
		}
		ts.metrics.RecordLookup(SourceMemory, true, rm.TextRelevance)
		span.SetAttributes(attribute.String("memory.source", SourceMemory))
		return Reply{
			Text:       rm.Record.Response,
			Source:     SourceMemory,
			Confidence: rm.TextRelevance,
			Category:   rm.Record.Category,
			MemoryID:   rm.Record.ID,
		}
	}

	ts.metrics.RecordLookup(SourceNone, false, 0)
	span.SetAttributes(attribute.String("memory.source", SourceNone))
	return Reply{Source: SourceNone}
}

// Learn records an exchange.
func (ts *TrainingSystem) Learn(ctx context.Context, input, response string, successful bool, category string) (LearnResult, error) {
	return ts.learner.Learn(ctx, input, response, successful, category)
}

// Teach stores an explicit pattern under the taught category.
func (ts *TrainingSystem) Teach(ctx context.Context, pattern, response string) error {
	if !ts.kb.Store(ctx, pattern, response, types.CategoryTaught) {
		return types.NewMalformedRecordError("teach requires pattern and response")
	}
	ts.metrics.SetKnowledgeItems(ts.kb.Count())
	ts.logger.Info("taught pattern", zap.String("pattern", Normalize(pattern)))
	return nil
}

// Correct replaces the answer for input in every category and learns the
// exchange as a successful interaction under the corrections category.
func (ts *TrainingSystem) Correct(ctx context.Context, input, response string) (LearnResult, error) {
	res, err := ts.learner.Learn(ctx, input, response, true, types.CategoryCorrections)
	if err != nil {
		return res, err
	}
	replaced := ts.kb.Overwrite(ctx, input, response)
	ts.logger.Info("correction learned",
		zap.String("input", Normalize(input)),
		zap.Int("patterns", len(res.Patterns)),
		zap.Int("replaced", replaced),
	)
	return res, nil
}

// TrainFromContent imports a parsed document into the knowledge base.
func (ts *TrainingSystem) TrainFromContent(ctx context.Context, doc *content.Document) int {
	n := ts.kb.TrainFromContent(ctx, doc)
	ts.metrics.SetKnowledgeItems(ts.kb.Count())
	return n
}

// SearchMemories ranks memories and knowledge against input. Returned
// memories have their access count incremented.
func (ts *TrainingSystem) SearchMemories(input string, limit int) SearchResult {
	if limit <= 0 {
		limit = ts.cfg.DefaultSearchLimit
	}
	return SearchResult{
		Memories:  ts.engine.Search(input, limit),
		Knowledge: ts.kb.Search(input, limit),
	}
}

// Consolidate runs one consolidation cycle.
func (ts *TrainingSystem) Consolidate(ctx context.Context) (ConsolidationReport, error) {
	return ts.engine.Consolidate(ctx)
}

// Start schedules periodic consolidation.
func (ts *TrainingSystem) Start(ctx context.Context) error {
	return ts.engine.Start(ctx)
}

// Stop cancels the consolidation schedule.
func (ts *TrainingSystem) Stop() {
	ts.engine.Stop()
}

// Stats returns the counters and tier sizes.
func (ts *TrainingSystem) Stats() types.TrainingStats {
	c := ts.learner.Counters()
	shortN, longN := ts.engine.Sizes()
	return types.TrainingStats{
		TotalInteractions:   c.TotalInteractions,
		SuccessfulResponses: c.SuccessfulResponses,
		FailedResponses:     c.FailedResponses,
		KnowledgeItems:      ts.kb.Count(),
		ShortTermMemories:   shortN,
		LongTermMemories:    longN,
		LastConsolidation:   ts.engine.LastConsolidation(),
	}
}

// CountKnowledgeItems returns the number of knowledge records.
func (ts *TrainingSystem) CountKnowledgeItems() int {
	return ts.kb.Count()
}

// Categories returns the category -> pattern -> response view.
func (ts *TrainingSystem) Categories() map[string]map[string]string {
	return ts.kb.Categories()
}

// Memories returns copies of both tiers.
func (ts *TrainingSystem) Memories() (shortTerm, longTerm []types.MemoryRecord) {
	return ts.engine.Snapshot()
}

// ResetTraining clears knowledge, both tiers and the counters, in memory
// and in the store.
func (ts *TrainingSystem) ResetTraining(ctx context.Context) error {
	err := errors.Join(
		ts.kb.Reset(ctx),
		ts.engine.Reset(ctx),
		ts.learner.Reset(ctx),
	)
	ts.metrics.SetKnowledgeItems(0)
	if err != nil {
		ts.logger.Warn("reset left stored data behind", zap.Error(err))
		return fmt.Errorf("reset training: %w", err)
	}
	ts.logger.Info("training reset")
	return nil
}

// Ping checks the underlying store.
func (ts *TrainingSystem) Ping(ctx context.Context) error {
	return ts.store.Ping(ctx)
}

// Close stops the schedule and closes the store.
func (ts *TrainingSystem) Close() error {
	ts.Stop()
	return ts.store.Close()
}
