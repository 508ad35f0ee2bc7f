package types

import "time"

// Knowledge categories used by the built-in importers and learners.
const (
	CategoryNavigation  = "navigation"
	CategoryFAQ         = "faq"
	CategoryTaught      = "taught"
	CategoryCorrections = "corrections"
	CategorySiteContent = "site-content"
	CategoryLearned     = "learned"
	CategoryGeneral     = "general"
)

// KnowledgeRecord maps a normalized pattern to a canned response.
type KnowledgeRecord struct {
	ID        uint64    `json:"id,omitempty"`
	Pattern   string    `json:"pattern"`
	Response  string    `json:"response"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the record carries both a pattern and a response.
func (r KnowledgeRecord) Valid() bool {
	return r.Pattern != "" && r.Response != ""
}

// Tier is the memory partition a MemoryRecord lives in.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// MemoryRecord is a logged input/response exchange with a decaying relevance.
type MemoryRecord struct {
	ID            uint64    `json:"id,omitempty"`
	Input         string    `json:"input"`
	Response      string    `json:"response"`
	WasSuccessful bool      `json:"was_successful"`
	Category      string    `json:"category"`
	Timestamp     time.Time `json:"timestamp"`

	// Relevance 只由整合周期修改，范围 [0, 0.99]
	Relevance float64 `json:"relevance"`
	// BaseRelevance 为创建时的初始相关度，整合公式以它为基准
	BaseRelevance float64 `json:"base_relevance"`
	AccessCount   int     `json:"access_count"`
	Tier          Tier    `json:"tier"`
}

// Valid reports whether the record carries both an input and a response.
func (r MemoryRecord) Valid() bool {
	return r.Input != "" && r.Response != ""
}

// TrainingStats holds the global interaction counters.
type TrainingStats struct {
	TotalInteractions   int64     `json:"total_interactions"`
	SuccessfulResponses int64     `json:"successful_responses"`
	FailedResponses     int64     `json:"failed_responses"`
	KnowledgeItems      int       `json:"knowledge_items"`
	ShortTermMemories   int       `json:"short_term_memories"`
	LongTermMemories    int       `json:"long_term_memories"`
	LastConsolidation   time.Time `json:"last_consolidation,omitempty"`
}
