package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/leesite/agentlee/types"
)

// SnapshotVersion is the current export format version.
const SnapshotVersion = 1

// Snapshot is the JSON export of the training state.
type Snapshot struct {
	Version    int                     `json:"version"`
	ExportedAt time.Time               `json:"exported_at"`
	Knowledge  []types.KnowledgeRecord `json:"knowledge"`
	Memories   []types.MemoryRecord    `json:"memories"`
	Counters   Counters                `json:"counters"`
}

// ImportReport counts the records an Import accepted and skipped.
type ImportReport struct {
	Knowledge int `json:"knowledge"`
	Memories  int `json:"memories"`
	Skipped   int `json:"skipped"`
}

// Export captures knowledge, both tiers and the counters.
func (ts *TrainingSystem) Export() Snapshot {
	shortTerm, longTerm := ts.engine.Snapshot()
	return Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: ts.engine.now().UTC(),
		Knowledge:  ts.kb.Records(),
		Memories:   append(shortTerm, longTerm...),
		Counters:   ts.learner.Counters(),
	}
}

// Import merges a snapshot into the current state. Records missing their
// key or response are skipped without aborting the batch.
func (ts *TrainingSystem) Import(ctx context.Context, snap Snapshot) (ImportReport, error) {
	if snap.Version > SnapshotVersion {
		return ImportReport{}, types.NewMalformedRecordError(
			fmt.Sprintf("snapshot version %d is newer than supported %d", snap.Version, SnapshotVersion))
	}

	var report ImportReport
	for _, rec := range snap.Knowledge {
		if !rec.Valid() || !ts.kb.Store(ctx, rec.Pattern, rec.Response, rec.Category) {
			report.Skipped++
			continue
		}
		report.Knowledge++
	}
	ts.metrics.SetKnowledgeItems(ts.kb.Count())

	valid := make([]types.MemoryRecord, 0, len(snap.Memories))
	for _, rec := range snap.Memories {
		if !rec.Valid() {
			report.Skipped++
			continue
		}
		valid = append(valid, rec)
	}
	n, err := ts.engine.Restore(ctx, valid)
	report.Memories = n
	if err != nil {
		return report, err
	}
	if err := ts.learner.Merge(ctx, snap.Counters); err != nil {
		ts.logger.Warn("counter write failed during import", zap.Error(err))
	}

	ts.logger.Info("snapshot imported",
		zap.Int("knowledge", report.Knowledge),
		zap.Int("memories", report.Memories),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// WriteSnapshot encodes snap as indented JSON.
func WriteSnapshot(w io.Writer, snap Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, types.NewMalformedRecordError("decode snapshot").WithCause(err)
	}
	return snap, nil
}
