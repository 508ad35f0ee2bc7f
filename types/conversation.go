package types

import "time"

// Role identifies who produced a conversation entry.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleSystem:
		return true
	}
	return false
}

// UserProfile describes a visitor as learned from the conversation.
type UserProfile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Interests  []string  `json:"interests,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	VisitCount int       `json:"visit_count"`

	// StoreID 是持久化层分配的文档 ID
	StoreID uint64 `json:"store_id,omitempty"`
}

// Clone returns a deep copy of the profile.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Interests = append([]string(nil), p.Interests...)
	return &cp
}

// ConversationEntry is a single turn in a visitor's rolling log.
type ConversationEntry struct {
	Role      Role           `json:"role"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
