package memory

import (
	"sort"

	"github.com/leesite/agentlee/types"
)

// Ranker blends stored relevance with text relevance to order memories.
type Ranker struct {
	RelevanceWeight float64
	TextWeight      float64
}

// NewRanker returns the 0.4 relevance / 0.6 text blend.
func NewRanker() *Ranker {
	return &Ranker{RelevanceWeight: 0.4, TextWeight: 0.6}
}

// RankedMemory is a memory scored against an input.
type RankedMemory struct {
	Record        *types.MemoryRecord `json:"record"`
	TextRelevance float64             `json:"text_relevance"`
	Score         float64             `json:"score"`
}

// Score returns the text relevance of rec.Input to input and the combined score.
func (r *Ranker) Score(rec *types.MemoryRecord, input string) (text, combined float64) {
	text = Confidence(rec.Input, input)
	return text, rec.Relevance*r.RelevanceWeight + text*r.TextWeight
}

// Rank scores candidates, keeps those with text relevance > 0 and returns
// the top limit by combined score. The sort is stable so ties keep the
// candidates' enumeration order. Rank does not mutate the records.
func (r *Ranker) Rank(candidates []*types.MemoryRecord, input string, limit int) []RankedMemory {
	if Normalize(input) == "" {
		return nil
	}
	ranked := make([]RankedMemory, 0, len(candidates))
	for _, rec := range candidates {
		text, score := r.Score(rec, input)
		if text <= 0 {
			continue
		}
		ranked = append(ranked, RankedMemory{Record: rec, TextRelevance: text, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
