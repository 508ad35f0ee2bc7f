// Package persistence provides the collection-oriented document store that
// backs the knowledge base, the memory tiers, visitor profiles and transcripts.
//
// Supported backends:
// - Memory: for development and tests (default)
// - File: JSON file per collection, single-node deployments
// - SQL: gorm over sqlite, postgres or mysql
// - Redis: hash + sorted-set indexes, distributed deployments
// - Mongo: one MongoDB collection per name
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"time"
)

// Common errors
var (
	ErrNotFound           = errors.New("not found")
	ErrStoreClosed        = errors.New("store is closed")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Collection names used by the memory subsystem.
const (
	CollectionKnowledge     = "knowledge"
	CollectionMemories      = "memories"
	CollectionProfiles      = "profiles"
	CollectionConversations = "conversations"
	CollectionStats         = "stats"
)

// Collections lists every collection the service opens.
func Collections() []string {
	return []string{
		CollectionKnowledge,
		CollectionMemories,
		CollectionProfiles,
		CollectionConversations,
		CollectionStats,
	}
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidCollection reports whether name can be used as a collection name on every backend.
func ValidCollection(name string) bool {
	return collectionNamePattern.MatchString(name)
}

// Document is the unit persisted in a collection. Category, Relevance and
// Timestamp are the secondary indexes; Body carries the JSON encoded record.
type Document struct {
	ID        uint64          `json:"id"`
	Category  string          `json:"category,omitempty"`
	Relevance float64         `json:"relevance"`
	Timestamp int64           `json:"timestamp"`
	Body      json.RawMessage `json:"body"`
}

// NewDocument encodes v as the body of a new document.
func NewDocument(id uint64, category string, relevance float64, ts time.Time, v any) (*Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Document{
		ID:        id,
		Category:  category,
		Relevance: relevance,
		Timestamp: ts.UnixMilli(),
		Body:      body,
	}, nil
}

// Decode unmarshals the document body into v.
func (d *Document) Decode(v any) error {
	if len(d.Body) == 0 {
		return ErrInvalidInput
	}
	return json.Unmarshal(d.Body, v)
}

func (d *Document) clone() Document {
	cp := *d
	cp.Body = append(json.RawMessage(nil), d.Body...)
	return cp
}

// Index names a secondary index a Query runs against.
type Index string

const (
	IndexNone      Index = ""
	IndexCategory  Index = "category"
	IndexRelevance Index = "relevance"
	IndexTimestamp Index = "timestamp"
)

// Query selects documents of a collection. Range bounds are lower-inclusive
// and upper-exclusive; a nil bound is open.
type Query struct {
	Index    Index
	Category string
	Lower    *float64
	Upper    *float64
}

// All matches every document.
func All() Query { return Query{} }

// ByCategory matches documents whose category equals c.
func ByCategory(c string) Query {
	return Query{Index: IndexCategory, Category: c}
}

// RelevanceBetween matches lo <= relevance < hi.
func RelevanceBetween(lo, hi float64) Query {
	return Query{Index: IndexRelevance, Lower: &lo, Upper: &hi}
}

// RelevanceAtLeast matches relevance >= lo.
func RelevanceAtLeast(lo float64) Query {
	return Query{Index: IndexRelevance, Lower: &lo}
}

// RelevanceBelow matches relevance < hi.
func RelevanceBelow(hi float64) Query {
	return Query{Index: IndexRelevance, Upper: &hi}
}

// TimestampBetween matches from <= timestamp < to.
func TimestampBetween(from, to time.Time) Query {
	lo, hi := float64(from.UnixMilli()), float64(to.UnixMilli())
	return Query{Index: IndexTimestamp, Lower: &lo, Upper: &hi}
}

// Validate checks the query is well formed.
func (q Query) Validate() error {
	switch q.Index {
	case IndexNone, IndexCategory:
		return nil
	case IndexRelevance, IndexTimestamp:
		if q.Lower != nil && q.Upper != nil && *q.Lower > *q.Upper {
			return ErrInvalidInput
		}
		if (q.Lower != nil && math.IsNaN(*q.Lower)) || (q.Upper != nil && math.IsNaN(*q.Upper)) {
			return ErrInvalidInput
		}
		return nil
	default:
		return ErrInvalidInput
	}
}

// Match reports whether d satisfies the query.
func (q Query) Match(d *Document) bool {
	switch q.Index {
	case IndexCategory:
		return d.Category == q.Category
	case IndexRelevance:
		return q.inRange(d.Relevance)
	case IndexTimestamp:
		return q.inRange(float64(d.Timestamp))
	default:
		return true
	}
}

func (q Query) inRange(v float64) bool {
	if q.Lower != nil && v < *q.Lower {
		return false
	}
	if q.Upper != nil && v >= *q.Upper {
		return false
	}
	return true
}

// Reader is the read side of a store.
type Reader interface {
	// Get returns the document with the given id or ErrNotFound.
	Get(ctx context.Context, collection string, id uint64) (*Document, error)

	// GetAll returns the documents matching q ordered by ascending id.
	GetAll(ctx context.Context, collection string, q Query) ([]Document, error)

	// Count returns the number of documents in the collection.
	Count(ctx context.Context, collection string) (int, error)
}

// Writer is the write side of a store.
type Writer interface {
	// Put inserts doc when doc.ID is 0 (assigning an id) and upserts otherwise.
	Put(ctx context.Context, collection string, doc *Document) (uint64, error)

	// Delete removes a document; deleting a missing id is not an error.
	Delete(ctx context.Context, collection string, id uint64) error

	// Clear removes every document of the collection.
	Clear(ctx context.Context, collection string) error

	// ReplaceAll clears the collection and inserts docs as a single unit of
	// work. It returns the ids in the order of docs.
	ReplaceAll(ctx context.Context, collection string, docs []Document) ([]uint64, error)
}

// Store is a readwrite document store.
type Store interface {
	Reader
	Writer

	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// readOnlyView hides the Writer half of a store.
type readOnlyView struct {
	r Reader
}

// ReadOnly returns a view of r that only exposes reads.
func ReadOnly(r Reader) Reader {
	return readOnlyView{r: r}
}

func (v readOnlyView) Get(ctx context.Context, collection string, id uint64) (*Document, error) {
	return v.r.Get(ctx, collection, id)
}

func (v readOnlyView) GetAll(ctx context.Context, collection string, q Query) ([]Document, error) {
	return v.r.GetAll(ctx, collection, q)
}

func (v readOnlyView) Count(ctx context.Context, collection string) (int, error) {
	return v.r.Count(ctx, collection)
}

func checkArgs(collection string, q Query) error {
	if !ValidCollection(collection) {
		return ErrInvalidInput
	}
	return q.Validate()
}
