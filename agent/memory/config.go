package memory

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config 记忆子系统配置
type Config struct {
	// 晋升阈值：短期记忆相关度 >= 该值时进入长期记忆
	PromotionThreshold float64 `json:"promotion_threshold" yaml:"promotion_threshold" env:"PROMOTION_THRESHOLD"`

	// 各层容量
	MaxShortTermMemories int `json:"max_short_term_memories" yaml:"max_short_term_memories" env:"MAX_SHORT_TERM_MEMORIES"`
	MaxLongTermMemories  int `json:"max_long_term_memories" yaml:"max_long_term_memories" env:"MAX_LONG_TERM_MEMORIES"`

	// 每天的衰减率，exp(-rate*ageDays)
	ShortTermDecayRate float64 `json:"short_term_decay_rate" yaml:"short_term_decay_rate" env:"SHORT_TERM_DECAY_RATE"`
	LongTermDecayRate  float64 `json:"long_term_decay_rate" yaml:"long_term_decay_rate" env:"LONG_TERM_DECAY_RATE"`

	// 相关度上限
	ShortTermRelevanceCap float64 `json:"short_term_relevance_cap" yaml:"short_term_relevance_cap" env:"SHORT_TERM_RELEVANCE_CAP"`
	LongTermRelevanceCap  float64 `json:"long_term_relevance_cap" yaml:"long_term_relevance_cap" env:"LONG_TERM_RELEVANCE_CAP"`

	// 新记忆的初始相关度
	InitialRelevanceSuccess float64 `json:"initial_relevance_success" yaml:"initial_relevance_success" env:"INITIAL_RELEVANCE_SUCCESS"`
	InitialRelevanceFailure float64 `json:"initial_relevance_failure" yaml:"initial_relevance_failure" env:"INITIAL_RELEVANCE_FAILURE"`

	// 知识库命中阈值（严格大于）
	MatchThreshold float64 `json:"match_threshold" yaml:"match_threshold" env:"MATCH_THRESHOLD"`
	// Respond 使用记忆作答时要求的最低文本相关度
	MemoryAnswerThreshold float64 `json:"memory_answer_threshold" yaml:"memory_answer_threshold" env:"MEMORY_ANSWER_THRESHOLD"`

	// 检索默认返回条数
	DefaultSearchLimit int `json:"default_search_limit" yaml:"default_search_limit" env:"DEFAULT_SEARCH_LIMIT"`

	// 整合调度（robfig/cron 表达式）
	ConsolidationEnabled  bool          `json:"consolidation_enabled" yaml:"consolidation_enabled" env:"CONSOLIDATION_ENABLED"`
	ConsolidationSchedule string        `json:"consolidation_schedule" yaml:"consolidation_schedule" env:"CONSOLIDATION_SCHEDULE"`
	ConsolidationTimeout  time.Duration `json:"consolidation_timeout" yaml:"consolidation_timeout" env:"CONSOLIDATION_TIMEOUT"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		PromotionThreshold:      0.7,
		MaxShortTermMemories:    100,
		MaxLongTermMemories:     1000,
		ShortTermDecayRate:      0.1,
		LongTermDecayRate:       0.01,
		ShortTermRelevanceCap:   0.95,
		LongTermRelevanceCap:    0.99,
		InitialRelevanceSuccess: 0.6,
		InitialRelevanceFailure: 0.3,
		MatchThreshold:          0.6,
		MemoryAnswerThreshold:   0.6,
		DefaultSearchLimit:      5,
		ConsolidationEnabled:    true,
		ConsolidationSchedule:   "@every 1h",
		ConsolidationTimeout:    30 * time.Second,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.PromotionThreshold <= 0 || c.PromotionThreshold >= 1 {
		return fmt.Errorf("promotion_threshold must be in (0, 1), got %v", c.PromotionThreshold)
	}
	if c.MaxShortTermMemories <= 0 || c.MaxLongTermMemories <= 0 {
		return fmt.Errorf("tier capacities must be positive")
	}
	if c.ShortTermDecayRate < 0 || c.LongTermDecayRate < 0 {
		return fmt.Errorf("decay rates must not be negative")
	}
	if c.ShortTermRelevanceCap <= 0 || c.ShortTermRelevanceCap > 0.99 ||
		c.LongTermRelevanceCap <= 0 || c.LongTermRelevanceCap > 0.99 {
		return fmt.Errorf("relevance caps must be in (0, 0.99]")
	}
	for _, v := range []float64{c.InitialRelevanceSuccess, c.InitialRelevanceFailure, c.MatchThreshold, c.MemoryAnswerThreshold} {
		if v < 0 || v > 1 {
			return fmt.Errorf("relevance settings must be in [0, 1], got %v", v)
		}
	}
	if c.DefaultSearchLimit <= 0 {
		return fmt.Errorf("default_search_limit must be positive")
	}
	if c.ConsolidationEnabled {
		if _, err := cron.ParseStandard(c.ConsolidationSchedule); err != nil {
			return fmt.Errorf("invalid consolidation_schedule %q: %w", c.ConsolidationSchedule, err)
		}
	}
	return nil
}
