package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/types"
)

const instrumentationName = "github.com/leesite/agentlee/agent/memory"

// ErrConsolidationInProgress is returned when a cycle is already running.
var ErrConsolidationInProgress = errors.New("consolidation already in progress")

// 整合状态
const (
	ConsolidationSuccess = "success"
	ConsolidationFailure = "failure"
)

// ConsolidationReport summarizes one consolidation cycle.
type ConsolidationReport struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Promoted        int           `json:"promoted"`
	PrunedShortTerm int           `json:"pruned_short_term"`
	PrunedLongTerm  int           `json:"pruned_long_term"`
	ShortTerm       int           `json:"short_term"`
	LongTerm        int           `json:"long_term"`
	Persisted       bool          `json:"persisted"`
}

// Pruned returns the number of records discarded from both tiers.
func (r ConsolidationReport) Pruned() int {
	return r.PrunedShortTerm + r.PrunedLongTerm
}

// TieringEngine 记忆分层引擎
//
// 每条记忆只属于短期或长期其中一层。整合周期依次执行：
// 重算相关度 -> 晋升 -> 裁剪 -> ReplaceAll 持久化。
// 整个周期持有 mu，存储调用因此是串行的。
type TieringEngine struct {
	cfg     Config
	store   persistence.Store
	ranker  *Ranker
	metrics MetricsRecorder
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu                sync.Mutex
	shortTerm         []*types.MemoryRecord
	longTerm          []*types.MemoryRecord
	lastConsolidation time.Time

	consolidating atomic.Bool

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewTieringEngine 创建分层引擎
func NewTieringEngine(cfg Config, store persistence.Store, metrics MetricsRecorder, logger *zap.Logger) *TieringEngine {
	if store == nil {
		store = persistence.NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieringEngine{
		cfg:     cfg,
		store:   store,
		ranker:  NewRanker(),
		metrics: orNop(metrics),
		logger:  logger.With(zap.String("component", "tiering_engine")),
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
}

func (e *TieringEngine) initialRelevance(successful bool) float64 {
	if successful {
		return e.cfg.InitialRelevanceSuccess
	}
	return e.cfg.InitialRelevanceFailure
}

// Add appends a new record to short-term memory and writes it through to the
// store. A full short-term tier triggers a synchronous consolidation.
func (e *TieringEngine) Add(ctx context.Context, rec types.MemoryRecord) (types.MemoryRecord, error) {
	if !rec.Valid() {
		return rec, types.NewMalformedRecordError("memory record requires input and response")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.now()
	}
	if rec.BaseRelevance <= 0 {
		rec.BaseRelevance = e.initialRelevance(rec.WasSuccessful)
	}
	if rec.Category == "" {
		rec.Category = types.CategoryGeneral
	}
	rec.ID = 0
	rec.AccessCount = max(rec.AccessCount, 0)
	rec.Relevance = clamp(rec.BaseRelevance, e.cfg.ShortTermRelevanceCap)
	rec.Tier = types.TierShortTerm

	e.mu.Lock()
	r := &rec
	err := e.persistLocked(ctx, r)
	e.shortTerm = append(e.shortTerm, r)
	full := len(e.shortTerm) > e.cfg.MaxShortTermMemories
	out := *r
	shortN, longN := len(e.shortTerm), len(e.longTerm)
	e.mu.Unlock()

	e.metrics.SetTierSizes(shortN, longN)
	if err != nil {
		e.logger.Warn("memory write failed, kept in memory until next consolidation",
			zap.String("category", rec.Category),
			zap.Error(err),
		)
	}
	if full {
		if _, err := e.Consolidate(ctx); err != nil && !errors.Is(err, ErrConsolidationInProgress) {
			e.logger.Warn("capacity consolidation failed", zap.Error(err))
		}
	}
	return out, nil
}

// persistLocked 调用方持有 mu
func (e *TieringEngine) persistLocked(ctx context.Context, rec *types.MemoryRecord) error {
	doc, err := persistence.NewDocument(rec.ID, rec.Category, rec.Relevance, rec.Timestamp, rec)
	if err != nil {
		return err
	}
	id, err := e.store.Put(ctx, persistence.CollectionMemories, doc)
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// Consolidate runs one cycle. Persistence failures return a
// CONSOLIDATION_FAILURE error; the in-memory promotions and prunes are kept
// and the durable write is retried by the next cycle.
func (e *TieringEngine) Consolidate(ctx context.Context) (ConsolidationReport, error) {
	if !e.consolidating.CompareAndSwap(false, true) {
		return ConsolidationReport{}, ErrConsolidationInProgress
	}
	defer e.consolidating.Store(false)

	ctx, span := e.tracer.Start(ctx, "memory.consolidate")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	report := ConsolidationReport{StartedAt: start}

	// 1. 重算相关度，上限取周期开始时所在层
	for _, rec := range e.shortTerm {
		rec.Relevance = relevanceAt(rec, start, e.cfg.ShortTermDecayRate, e.cfg.ShortTermRelevanceCap)
	}
	for _, rec := range e.longTerm {
		rec.Relevance = relevanceAt(rec, start, e.cfg.LongTermDecayRate, e.cfg.LongTermRelevanceCap)
	}

	// 2. 晋升
	kept := make([]*types.MemoryRecord, 0, len(e.shortTerm))
	for _, rec := range e.shortTerm {
		if rec.Relevance >= e.cfg.PromotionThreshold {
			rec.Tier = types.TierLongTerm
			e.longTerm = append(e.longTerm, rec)
			report.Promoted++
			continue
		}
		kept = append(kept, rec)
	}
	e.shortTerm = kept

	// 3. 裁剪
	e.shortTerm, report.PrunedShortTerm = prune(e.shortTerm, e.cfg.MaxShortTermMemories)
	e.longTerm, report.PrunedLongTerm = prune(e.longTerm, e.cfg.MaxLongTermMemories)
	report.ShortTerm, report.LongTerm = len(e.shortTerm), len(e.longTerm)
	e.lastConsolidation = start

	// 4. 持久化
	err := e.replaceAllLocked(ctx)
	report.Persisted = err == nil
	report.Duration = e.now().Sub(start)

	span.SetAttributes(
		attribute.Int("memory.promoted", report.Promoted),
		attribute.Int("memory.pruned", report.Pruned()),
		attribute.Int("memory.short_term", report.ShortTerm),
		attribute.Int("memory.long_term", report.LongTerm),
	)
	e.metrics.SetTierSizes(report.ShortTerm, report.LongTerm)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		e.metrics.RecordConsolidation(ConsolidationFailure, report.Duration, report.Promoted, report.Pruned())
		e.logger.Warn("consolidation persisted nothing, retrying next cycle",
			zap.Int("promoted", report.Promoted),
			zap.Int("pruned", report.Pruned()),
			zap.Error(err),
		)
		return report, types.NewConsolidationError(err)
	}

	e.metrics.RecordConsolidation(ConsolidationSuccess, report.Duration, report.Promoted, report.Pruned())
	e.logger.Debug("consolidation completed",
		zap.Int("promoted", report.Promoted),
		zap.Int("pruned", report.Pruned()),
		zap.Int("short_term", report.ShortTerm),
		zap.Int("long_term", report.LongTerm),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// replaceAllLocked 以 clear + 批量插入写回两层全部记录
func (e *TieringEngine) replaceAllLocked(ctx context.Context) error {
	all := make([]*types.MemoryRecord, 0, len(e.shortTerm)+len(e.longTerm))
	all = append(all, e.shortTerm...)
	all = append(all, e.longTerm...)

	docs := make([]persistence.Document, 0, len(all))
	for _, rec := range all {
		doc, err := persistence.NewDocument(rec.ID, rec.Category, rec.Relevance, rec.Timestamp, rec)
		if err != nil {
			return fmt.Errorf("encode memory %d: %w", rec.ID, err)
		}
		docs = append(docs, *doc)
	}
	ids, err := e.store.ReplaceAll(ctx, persistence.CollectionMemories, docs)
	if err != nil {
		return err
	}
	for i, id := range ids {
		if i < len(all) {
			all[i].ID = id
		}
	}
	return nil
}

// relevanceAt 统一的相关度公式：
// base*0.6 + exp(-rate*ageDays)*0.2 + log10(access+1)*0.1 + success*0.1，截断到 [0, limit]
func relevanceAt(rec *types.MemoryRecord, now time.Time, decayRate, limit float64) float64 {
	ageDays := now.Sub(rec.Timestamp).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	success := 0.8
	if rec.WasSuccessful {
		success = 1.2
	}
	access := math.Log10(float64(max(rec.AccessCount, 0)) + 1)
	r := rec.BaseRelevance*0.6 + math.Exp(-decayRate*ageDays)*0.2 + access*0.1 + success*0.1
	return clamp(r, limit)
}

func clamp(v, limit float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > limit:
		return limit
	}
	return v
}

// prune 按相关度稳定降序排序后截断
func prune(records []*types.MemoryRecord, capacity int) ([]*types.MemoryRecord, int) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Relevance > records[j].Relevance
	})
	if capacity < 0 || len(records) <= capacity {
		return records, 0
	}
	dropped := len(records) - capacity
	for i := capacity; i < len(records); i++ {
		records[i] = nil
	}
	return records[:capacity], dropped
}

// Search ranks short-term then long-term records against input and bumps
// AccessCount on every returned record. The returned records are copies.
func (e *TieringEngine) Search(input string, limit int) []RankedMemory {
	if limit <= 0 {
		limit = e.cfg.DefaultSearchLimit
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	candidates := make([]*types.MemoryRecord, 0, len(e.shortTerm)+len(e.longTerm))
	candidates = append(candidates, e.shortTerm...)
	candidates = append(candidates, e.longTerm...)

	ranked := e.ranker.Rank(candidates, input, limit)
	for i := range ranked {
		ranked[i].Record.AccessCount++
		cp := *ranked[i].Record
		ranked[i].Record = &cp
	}
	return ranked
}

// Load rebuilds both tiers from the store. Records at or above the promotion
// threshold, or stored as long-term, are placed in long-term memory.
func (e *TieringEngine) Load(ctx context.Context, reader persistence.Reader) (int, error) {
	high, err := reader.GetAll(ctx, persistence.CollectionMemories, persistence.RelevanceAtLeast(e.cfg.PromotionThreshold))
	if err != nil {
		return 0, fmt.Errorf("load long-term memories: %w", err)
	}
	low, err := reader.GetAll(ctx, persistence.CollectionMemories, persistence.RelevanceBelow(e.cfg.PromotionThreshold))
	if err != nil {
		return 0, fmt.Errorf("load short-term memories: %w", err)
	}

	var shortTerm, longTerm []*types.MemoryRecord
	skipped := 0
	decode := func(doc *persistence.Document) *types.MemoryRecord {
		var rec types.MemoryRecord
		if err := doc.Decode(&rec); err != nil || !rec.Valid() {
			skipped++
			return nil
		}
		rec.ID = doc.ID
		rec.Relevance = clamp(rec.Relevance, e.cfg.LongTermRelevanceCap)
		if rec.BaseRelevance <= 0 {
			rec.BaseRelevance = e.initialRelevance(rec.WasSuccessful)
		}
		return &rec
	}
	for i := range high {
		if rec := decode(&high[i]); rec != nil {
			rec.Tier = types.TierLongTerm
			longTerm = append(longTerm, rec)
		}
	}
	for i := range low {
		rec := decode(&low[i])
		if rec == nil {
			continue
		}
		if rec.Tier == types.TierLongTerm {
			longTerm = append(longTerm, rec)
			continue
		}
		rec.Tier = types.TierShortTerm
		shortTerm = append(shortTerm, rec)
	}
	sort.SliceStable(longTerm, func(i, j int) bool { return longTerm[i].ID < longTerm[j].ID })
	if skipped > 0 {
		e.logger.Warn("skipped malformed memory records", zap.Int("count", skipped))
	}

	e.mu.Lock()
	if len(shortTerm) > e.cfg.MaxShortTermMemories {
		shortTerm, _ = prune(shortTerm, e.cfg.MaxShortTermMemories)
	}
	if len(longTerm) > e.cfg.MaxLongTermMemories {
		longTerm, _ = prune(longTerm, e.cfg.MaxLongTermMemories)
	}
	e.shortTerm, e.longTerm = shortTerm, longTerm
	n := len(shortTerm) + len(longTerm)
	shortN, longN := len(shortTerm), len(longTerm)
	e.mu.Unlock()

	e.metrics.SetTierSizes(shortN, longN)
	return n, nil
}

// Restore appends previously exported records and writes the merged tiers
// back. Malformed records are skipped. It returns the number restored.
func (e *TieringEngine) Restore(ctx context.Context, records []types.MemoryRecord) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	restored := 0
	for _, rec := range records {
		if !rec.Valid() {
			continue
		}
		r := rec
		r.ID = 0
		r.AccessCount = max(r.AccessCount, 0)
		if r.Timestamp.IsZero() {
			r.Timestamp = e.now()
		}
		if r.BaseRelevance <= 0 {
			r.BaseRelevance = e.initialRelevance(r.WasSuccessful)
		}
		if r.Category == "" {
			r.Category = types.CategoryGeneral
		}
		if r.Tier == types.TierLongTerm || r.Relevance >= e.cfg.PromotionThreshold {
			r.Tier = types.TierLongTerm
			r.Relevance = clamp(r.Relevance, e.cfg.LongTermRelevanceCap)
			e.longTerm = append(e.longTerm, &r)
		} else {
			r.Tier = types.TierShortTerm
			r.Relevance = clamp(r.Relevance, e.cfg.ShortTermRelevanceCap)
			e.shortTerm = append(e.shortTerm, &r)
		}
		restored++
	}
	if len(e.shortTerm) > e.cfg.MaxShortTermMemories {
		e.shortTerm, _ = prune(e.shortTerm, e.cfg.MaxShortTermMemories)
	}
	if len(e.longTerm) > e.cfg.MaxLongTermMemories {
		e.longTerm, _ = prune(e.longTerm, e.cfg.MaxLongTermMemories)
	}
	e.metrics.SetTierSizes(len(e.shortTerm), len(e.longTerm))

	if err := e.replaceAllLocked(ctx); err != nil {
		return restored, types.NewConsolidationError(err)
	}
	return restored, nil
}

// Snapshot returns copies of both tiers.
func (e *TieringEngine) Snapshot() (shortTerm, longTerm []types.MemoryRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyRecords(e.shortTerm), copyRecords(e.longTerm)
}

func copyRecords(records []*types.MemoryRecord) []types.MemoryRecord {
	out := make([]types.MemoryRecord, len(records))
	for i, rec := range records {
		out[i] = *rec
	}
	return out
}

// Sizes returns the number of short-term and long-term records.
func (e *TieringEngine) Sizes() (shortTerm, longTerm int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.shortTerm), len(e.longTerm)
}

// LastConsolidation returns the start time of the last cycle.
func (e *TieringEngine) LastConsolidation() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastConsolidation
}

// Reset empties both tiers and the memories collection.
func (e *TieringEngine) Reset(ctx context.Context) error {
	e.mu.Lock()
	e.shortTerm = nil
	e.longTerm = nil
	e.mu.Unlock()
	e.metrics.SetTierSizes(0, 0)
	return e.store.Clear(ctx, persistence.CollectionMemories)
}

// Start schedules periodic consolidation. It is a no-op when consolidation
// is disabled or already scheduled.
func (e *TieringEngine) Start(ctx context.Context) error {
	if !e.cfg.ConsolidationEnabled {
		return nil
	}
	e.cronMu.Lock()
	defer e.cronMu.Unlock()
	if e.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(e.cfg.ConsolidationSchedule, func() { e.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("schedule consolidation %q: %w", e.cfg.ConsolidationSchedule, err)
	}
	c.Start()
	e.cron = c
	e.logger.Info("consolidation scheduled", zap.String("schedule", e.cfg.ConsolidationSchedule))
	return nil
}

func (e *TieringEngine) runScheduled(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx := parent
	if e.cfg.ConsolidationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.cfg.ConsolidationTimeout)
		defer cancel()
	}

	report, err := e.Consolidate(ctx)
	switch {
	case errors.Is(err, ErrConsolidationInProgress):
		e.logger.Debug("scheduled consolidation skipped, cycle already running")
	case err != nil:
		e.logger.Warn("scheduled consolidation failed", zap.Error(err))
	default:
		e.logger.Info("scheduled consolidation",
			zap.Int("promoted", report.Promoted),
			zap.Int("pruned", report.Pruned()),
		)
	}
}

// Stop cancels the schedule and waits briefly for a running cycle.
func (e *TieringEngine) Stop() {
	e.cronMu.Lock()
	c := e.cron
	e.cron = nil
	e.cronMu.Unlock()
	if c == nil {
		return
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		e.logger.Warn("stop timeout waiting for running consolidation")
	}
}
