package memory

import "time"

// MetricsRecorder receives memory subsystem events. Implemented by the
// Prometheus collector; a nil recorder disables metrics.
type MetricsRecorder interface {
	RecordLookup(source string, hit bool, confidence float64)
	RecordLearn(category string, successful bool)
	RecordConsolidation(status string, duration time.Duration, promoted, pruned int)
	SetTierSizes(shortTerm, longTerm int)
	SetKnowledgeItems(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordLookup(string, bool, float64)                  {}
func (nopRecorder) RecordLearn(string, bool)                            {}
func (nopRecorder) RecordConsolidation(string, time.Duration, int, int) {}
func (nopRecorder) SetTierSizes(int, int)                               {}
func (nopRecorder) SetKnowledgeItems(int)                               {}

func orNop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return nopRecorder{}
	}
	return m
}
