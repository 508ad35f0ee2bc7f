package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// bumpSeqScript raises a sequence to ARGV[1] if it is lower.
var bumpSeqScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local want = tonumber(ARGV[1])
if want > cur then
	redis.call('SET', KEYS[1], ARGV[1])
end
return 0
`)

// RedisStore is a Redis-based implementation of Store.
// Suitable for distributed deployments. Per collection it keeps a hash of
// JSON documents, sorted sets for the relevance and timestamp indexes and a
// set per category.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a new Redis-based store
func NewRedisStore(config StoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connect to redis: %w", ErrStorageUnavailable, err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "agentlee:"
	}

	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

// Close closes the store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(collection, suffix string) string {
	return s.keyPrefix + collection + ":" + suffix
}

func (s *RedisStore) docsKey(c string) string { return s.key(c, "docs") }
func (s *RedisStore) seqKey(c string) string { return s.key(c, "seq") }
func (s *RedisStore) relevanceKey(c string) string { return s.key(c, "idx:relevance") }
func (s *RedisStore) timestampKey(c string) string { return s.key(c, "idx:timestamp") }
func (s *RedisStore) categoriesKey(c string) string { return s.key(c, "idx:categories") }
func (s *RedisStore) categoryKey(c, cat string) string { return s.key(c, "idx:category:"+cat) }

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func scoreBound(v *float64, open string, exclusive bool) string {
	if v == nil {
		return open
	}
	if math.IsInf(*v, 0) {
		if *v > 0 {
			return "+inf"
		}
		return "-inf"
	}
	s := strconv.FormatFloat(*v, 'g', -1, 64)
	if exclusive {
		return "(" + s
	}
	return s
}

func (s *RedisStore) lookup(ctx context.Context, collection string, id uint64) (*Document, error) {
	data, err := s.client.HGet(ctx, s.docsKey(collection), formatID(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document %d: %w", id, err)
	}
	return &doc, nil
}

// Get retrieves a document by id
func (s *RedisStore) Get(ctx context.Context, collection string, id uint64) (*Document, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidInput
	}
	return s.lookup(ctx, collection, id)
}

// GetAll retrieves the documents matching q through the matching index
func (s *RedisStore) GetAll(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := checkArgs(collection, q); err != nil {
		return nil, err
	}

	var raw []string
	switch q.Index {
	case IndexNone:
		all, err := s.client.HGetAll(ctx, s.docsKey(collection)).Result()
		if err != nil {
			return nil, err
		}
		raw = make([]string, 0, len(all))
		for _, v := range all {
			raw = append(raw, v)
		}
	default:
		ids, err := s.indexIDs(ctx, collection, q)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []Document{}, nil
		}
		vals, err := s.client.HMGet(ctx, s.docsKey(collection), ids...).Result()
		if err != nil {
			return nil, err
		}
		raw = make([]string, 0, len(vals))
		for _, v := range vals {
			if str, ok := v.(string); ok {
				raw = append(raw, str)
			}
		}
	}

	docs := make([]Document, 0, len(raw))
	for _, r := range raw {
		var d Document
		if err := json.Unmarshal([]byte(r), &d); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *RedisStore) indexIDs(ctx context.Context, collection string, q Query) ([]string, error) {
	switch q.Index {
	case IndexCategory:
		return s.client.SMembers(ctx, s.categoryKey(collection, q.Category)).Result()
	case IndexRelevance, IndexTimestamp:
		key := s.relevanceKey(collection)
		if q.Index == IndexTimestamp {
			key = s.timestampKey(collection)
		}
		return s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: scoreBound(q.Lower, "-inf", false),
			Max: scoreBound(q.Upper, "+inf", true),
		}).Result()
	}
	return nil, ErrInvalidInput
}

// Count returns the number of documents in a collection
func (s *RedisStore) Count(ctx context.Context, collection string) (int, error) {
	if !ValidCollection(collection) {
		return 0, ErrInvalidInput
	}
	n, err := s.client.HLen(ctx, s.docsKey(collection)).Result()
	return int(n), err
}

// assignIDs fills zero ids from the sequence and raises it past explicit ones.
func (s *RedisStore) assignIDs(ctx context.Context, collection string, docs []Document) error {
	var missing int64
	var maxExplicit uint64
	for i := range docs {
		if docs[i].ID == 0 {
			missing++
		} else if docs[i].ID > maxExplicit {
			maxExplicit = docs[i].ID
		}
	}
	if maxExplicit > 0 {
		if err := bumpSeqScript.Run(ctx, s.client, []string{s.seqKey(collection)}, formatID(maxExplicit)).Err(); err != nil {
			return err
		}
	}
	if missing == 0 {
		return nil
	}
	last, err := s.client.IncrBy(ctx, s.seqKey(collection), missing).Result()
	if err != nil {
		return err
	}
	next := uint64(last - missing + 1)
	for i := range docs {
		if docs[i].ID == 0 {
			docs[i].ID = next
			next++
		}
	}
	return nil
}

func (s *RedisStore) index(ctx context.Context, pipe redis.Pipeliner, collection string, d *Document) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	member := formatID(d.ID)
	pipe.HSet(ctx, s.docsKey(collection), member, data)
	pipe.ZAdd(ctx, s.relevanceKey(collection), redis.Z{Score: d.Relevance, Member: member})
	pipe.ZAdd(ctx, s.timestampKey(collection), redis.Z{Score: float64(d.Timestamp), Member: member})
	pipe.SAdd(ctx, s.categoryKey(collection, d.Category), member)
	pipe.SAdd(ctx, s.categoriesKey(collection), d.Category)
	return nil
}

// Put inserts or upserts a document
func (s *RedisStore) Put(ctx context.Context, collection string, doc *Document) (uint64, error) {
	if doc == nil || !ValidCollection(collection) {
		return 0, ErrInvalidInput
	}
	batch := []Document{doc.clone()}
	if err := s.assignIDs(ctx, collection, batch); err != nil {
		return 0, err
	}
	d := &batch[0]

	old, err := s.lookup(ctx, collection, d.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if old != nil && old.Category != d.Category {
			pipe.SRem(ctx, s.categoryKey(collection, old.Category), formatID(d.ID))
		}
		return s.index(ctx, pipe, collection, d)
	})
	if err != nil {
		return 0, err
	}
	doc.ID = d.ID
	return d.ID, nil
}

// Delete removes a document
func (s *RedisStore) Delete(ctx context.Context, collection string, id uint64) error {
	if !ValidCollection(collection) {
		return ErrInvalidInput
	}
	old, err := s.lookup(ctx, collection, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	member := formatID(id)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.docsKey(collection), member)
		pipe.ZRem(ctx, s.relevanceKey(collection), member)
		pipe.ZRem(ctx, s.timestampKey(collection), member)
		pipe.SRem(ctx, s.categoryKey(collection, old.Category), member)
		return nil
	})
	return err
}

func (s *RedisStore) clearKeys(ctx context.Context, collection string) ([]string, error) {
	cats, err := s.client.SMembers(ctx, s.categoriesKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	keys := []string{
		s.docsKey(collection),
		s.relevanceKey(collection),
		s.timestampKey(collection),
		s.categoriesKey(collection),
	}
	for _, c := range cats {
		keys = append(keys, s.categoryKey(collection, c))
	}
	return keys, nil
}

// Clear removes every document in a collection; the id sequence is kept
func (s *RedisStore) Clear(ctx context.Context, collection string) error {
	if !ValidCollection(collection) {
		return ErrInvalidInput
	}
	keys, err := s.clearKeys(ctx, collection)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, keys...).Err()
}

// ReplaceAll clears the collection and inserts docs in one MULTI/EXEC
func (s *RedisStore) ReplaceAll(ctx context.Context, collection string, docs []Document) ([]uint64, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidInput
	}
	batch := make([]Document, len(docs))
	for i := range docs {
		batch[i] = docs[i].clone()
	}
	if err := s.assignIDs(ctx, collection, batch); err != nil {
		return nil, err
	}
	keys, err := s.clearKeys(ctx, collection)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		for i := range batch {
			if err := s.index(ctx, pipe, collection, &batch[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
	}
	return ids, nil
}
