package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// mongoIllegalOperation is returned by standalone servers for transactions.
const mongoIllegalOperation = 20

type mongoDocument struct {
	ID        int64   `bson:"_id"`
	Category  string  `bson:"category"`
	Relevance float64 `bson:"relevance"`
	Timestamp int64   `bson:"timestamp"`
	Body      string  `bson:"body"`
}

func toMongo(d *Document) mongoDocument {
	return mongoDocument{
		ID:        int64(d.ID),
		Category:  d.Category,
		Relevance: d.Relevance,
		Timestamp: d.Timestamp,
		Body:      string(d.Body),
	}
}

func (m mongoDocument) document() Document {
	return Document{
		ID:        uint64(m.ID),
		Category:  m.Category,
		Relevance: m.Relevance,
		Timestamp: m.Timestamp,
		Body:      []byte(m.Body),
	}
}

// MongoStore is a MongoDB implementation of Store: one MongoDB collection per
// store collection plus a sequences collection for ids.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	logger  *zap.Logger
	indexed map[string]bool
}

// NewMongoStore connects to MongoDB and verifies the connection
func NewMongoStore(config StoreConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.Mongo
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: connect to mongo: %w", ErrStorageUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping mongo: %w", ErrStorageUnavailable, err)
	}

	name := cfg.Database
	if name == "" {
		name = "agentlee"
	}
	s := &MongoStore{
		client:  client,
		db:      client.Database(name),
		logger:  logger.With(zap.String("component", "mongo_store")),
		indexed: make(map[string]bool),
	}
	for _, c := range Collections() {
		if err := s.ensureIndexes(ctx, c); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("%w: create indexes: %w", ErrStorageUnavailable, err)
		}
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context, collection string) error {
	if s.indexed[collection] {
		return nil
	}
	_, err := s.db.Collection(collection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "relevance", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	})
	if err != nil {
		return err
	}
	s.indexed[collection] = true
	return nil
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks if the store is healthy
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func rangeFilter(field string, q Query) bson.D {
	cond := bson.D{}
	if q.Lower != nil {
		cond = append(cond, bson.E{Key: "$gte", Value: *q.Lower})
	}
	if q.Upper != nil {
		cond = append(cond, bson.E{Key: "$lt", Value: *q.Upper})
	}
	if len(cond) == 0 {
		return bson.D{}
	}
	return bson.D{{Key: field, Value: cond}}
}

func mongoFilter(q Query) bson.D {
	switch q.Index {
	case IndexCategory:
		return bson.D{{Key: "category", Value: q.Category}}
	case IndexRelevance:
		return rangeFilter("relevance", q)
	case IndexTimestamp:
		return rangeFilter("timestamp", q)
	default:
		return bson.D{}
	}
}

// Get retrieves a document by id
func (s *MongoStore) Get(ctx context.Context, collection string, id uint64) (*Document, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidInput
	}
	var m mongoDocument
	err := s.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: int64(id)}}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc := m.document()
	return &doc, nil
}

// GetAll retrieves the documents matching q
func (s *MongoStore) GetAll(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := checkArgs(collection, q); err != nil {
		return nil, err
	}
	cur, err := s.db.Collection(collection).Find(ctx, mongoFilter(q),
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var rows []mongoDocument
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	docs := make([]Document, len(rows))
	for i := range rows {
		docs[i] = rows[i].document()
	}
	return docs, nil
}

// Count returns the number of documents in a collection
func (s *MongoStore) Count(ctx context.Context, collection string) (int, error) {
	if !ValidCollection(collection) {
		return 0, ErrInvalidInput
	}
	n, err := s.db.Collection(collection).CountDocuments(ctx, bson.D{})
	return int(n), err
}

type sequenceDoc struct {
	Name string `bson:"_id"`
	Seq  int64  `bson:"seq"`
}

func (s *MongoStore) nextID(ctx context.Context, collection string) (uint64, error) {
	var seq sequenceDoc
	err := s.db.Collection("sequences").FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: collection}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&seq)
	if err != nil {
		return 0, err
	}
	return uint64(seq.Seq), nil
}

func (s *MongoStore) raiseSeq(ctx context.Context, collection string, id uint64) error {
	_, err := s.db.Collection("sequences").UpdateOne(ctx,
		bson.D{{Key: "_id", Value: collection}},
		bson.D{{Key: "$max", Value: bson.D{{Key: "seq", Value: int64(id)}}}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) assign(ctx context.Context, collection string, d *Document) error {
	if d.ID == 0 {
		id, err := s.nextID(ctx, collection)
		if err != nil {
			return err
		}
		d.ID = id
		return nil
	}
	return s.raiseSeq(ctx, collection, d.ID)
}

// Put inserts or upserts a document
func (s *MongoStore) Put(ctx context.Context, collection string, doc *Document) (uint64, error) {
	if doc == nil || !ValidCollection(collection) {
		return 0, ErrInvalidInput
	}
	d := doc.clone()
	if err := s.assign(ctx, collection, &d); err != nil {
		return 0, err
	}
	_, err := s.db.Collection(collection).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: int64(d.ID)}},
		toMongo(&d),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return 0, err
	}
	doc.ID = d.ID
	return d.ID, nil
}

// Delete removes a document
func (s *MongoStore) Delete(ctx context.Context, collection string, id uint64) error {
	if !ValidCollection(collection) {
		return ErrInvalidInput
	}
	_, err := s.db.Collection(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: int64(id)}})
	return err
}

// Clear removes every document in a collection
func (s *MongoStore) Clear(ctx context.Context, collection string) error {
	if !ValidCollection(collection) {
		return ErrInvalidInput
	}
	_, err := s.db.Collection(collection).DeleteMany(ctx, bson.D{})
	return err
}

// ReplaceAll clears the collection and inserts docs. It runs in a
// transaction on replica sets and sequentially on standalone servers.
func (s *MongoStore) ReplaceAll(ctx context.Context, collection string, docs []Document) ([]uint64, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidInput
	}
	batch := make([]any, len(docs))
	ids := make([]uint64, len(docs))
	for i := range docs {
		d := docs[i].clone()
		if err := s.assign(ctx, collection, &d); err != nil {
			return nil, err
		}
		ids[i] = d.ID
		batch[i] = toMongo(&d)
	}

	replace := func(ctx context.Context) (any, error) {
		coll := s.db.Collection(collection)
		if _, err := coll.DeleteMany(ctx, bson.D{}); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, nil
		}
		_, err := coll.InsertMany(ctx, batch)
		return nil, err
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return nil, err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, replace)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == mongoIllegalOperation {
		s.logger.Debug("transactions unsupported, replacing without transaction")
		_, err = replace(ctx)
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}
