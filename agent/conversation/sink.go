package conversation

import (
	"context"
	"fmt"

	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/types"
)

// TranscriptSink receives every appended conversation entry.
type TranscriptSink interface {
	Record(ctx context.Context, userID string, entry types.ConversationEntry) error
}

// HistoryReader is implemented by sinks that can replay a user's recent
// entries, oldest first.
type HistoryReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]types.ConversationEntry, error)
}

// NopSink discards transcripts.
type NopSink struct{}

// Record implements TranscriptSink.
func (NopSink) Record(context.Context, string, types.ConversationEntry) error { return nil }

// StoreTranscriptSink writes entries to the conversations collection, one
// document per entry, with the user id as category. Older entries beyond
// MaxEntries per user are deleted.
type StoreTranscriptSink struct {
	store      persistence.Store
	maxEntries int
}

// NewStoreTranscriptSink 创建基于持久化存储的对话记录落地
func NewStoreTranscriptSink(store persistence.Store, maxEntries int) *StoreTranscriptSink {
	return &StoreTranscriptSink{store: store, maxEntries: maxEntries}
}

// Record implements TranscriptSink.
func (s *StoreTranscriptSink) Record(ctx context.Context, userID string, entry types.ConversationEntry) error {
	doc, err := persistence.NewDocument(0, userID, 0, entry.Timestamp, entry)
	if err != nil {
		return fmt.Errorf("encode transcript entry: %w", err)
	}
	if _, err := s.store.Put(ctx, persistence.CollectionConversations, doc); err != nil {
		return fmt.Errorf("write transcript entry: %w", err)
	}
	if s.maxEntries <= 0 {
		return nil
	}

	docs, err := s.store.GetAll(ctx, persistence.CollectionConversations, persistence.ByCategory(userID))
	if err != nil {
		return fmt.Errorf("trim transcript: %w", err)
	}
	for i := 0; i < len(docs)-s.maxEntries; i++ {
		if err := s.store.Delete(ctx, persistence.CollectionConversations, docs[i].ID); err != nil {
			return fmt.Errorf("trim transcript: %w", err)
		}
	}
	return nil
}

// Recent implements HistoryReader.
func (s *StoreTranscriptSink) Recent(ctx context.Context, userID string, limit int) ([]types.ConversationEntry, error) {
	docs, err := s.store.GetAll(ctx, persistence.CollectionConversations, persistence.ByCategory(userID))
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[len(docs)-limit:]
	}
	out := make([]types.ConversationEntry, 0, len(docs))
	for i := range docs {
		var entry types.ConversationEntry
		if err := docs[i].Decode(&entry); err != nil || !entry.Role.Valid() {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
