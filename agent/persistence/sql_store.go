package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leesite/agentlee/internal/database"
)

// sqlSchemaVersion is recorded in schema_meta after AutoMigrate.
const sqlSchemaVersion = "1"

// documentRow is the gorm model for every collection.
type documentRow struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	Collection string    `gorm:"size:64;not null;index:idx_doc_category,priority:1;index:idx_doc_relevance,priority:1;index:idx_doc_ts,priority:1"`
	Category   string    `gorm:"size:255;index:idx_doc_category,priority:2"`
	Relevance  float64   `gorm:"index:idx_doc_relevance,priority:2"`
	Timestamp  int64     `gorm:"column:ts;index:idx_doc_ts,priority:2"`
	Body       string    `gorm:"type:text"`
	UpdatedAt  time.Time
}

func (documentRow) TableName() string { return "agentlee_documents" }

type schemaMeta struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"size:255"`
	UpdatedAt time.Time
}

func (schemaMeta) TableName() string { return "schema_meta" }

func toRow(collection string, d *Document) documentRow {
	return documentRow{
		ID:         d.ID,
		Collection: collection,
		Category:   d.Category,
		Relevance:  d.Relevance,
		Timestamp:  d.Timestamp,
		Body:       string(d.Body),
	}
}

func (r documentRow) document() Document {
	return Document{
		ID:        r.ID,
		Category:  r.Category,
		Relevance: r.Relevance,
		Timestamp: r.Timestamp,
		Body:      []byte(r.Body),
	}
}

// SQLOptions tunes an SQLStore built around an existing pool.
type SQLOptions struct {
	// SkipMigrate disables AutoMigrate on open
	SkipMigrate bool
	// TxRetries bounds WithTransactionRetry for ReplaceAll (default: 3)
	TxRetries int
}

// SQLStore is a gorm implementation of Store. All collections share one
// table; ids are unique across the whole store.
type SQLStore struct {
	pool    *database.PoolManager
	retries int
	logger  *zap.Logger
}

// NewSQLStore opens the configured database and migrates the schema
func NewSQLStore(config StoreConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.SQL
	if _, err := database.Dialector(cfg.Driver, cfg.DSN); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if strings.EqualFold(cfg.Driver, database.DriverSQLite) || cfg.Driver == "" {
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}

	pool, err := database.Open(cfg.Driver, cfg.DSN, database.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	store, err := NewSQLStoreFromPool(pool, SQLOptions{}, logger)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return store, nil
}

// NewSQLStoreFromPool wraps an already opened pool
func NewSQLStoreFromPool(pool *database.PoolManager, opts SQLOptions, logger *zap.Logger) (*SQLStore, error) {
	if pool == nil {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TxRetries <= 0 {
		opts.TxRetries = 3
	}
	s := &SQLStore{
		pool:    pool,
		retries: opts.TxRetries,
		logger:  logger.With(zap.String("component", "sql_store")),
	}
	if !opts.SkipMigrate {
		if err := s.migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func ensureSQLiteDir(dsn string) error {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *SQLStore) migrate() error {
	db := s.pool.DB()
	if err := db.AutoMigrate(&documentRow{}, &schemaMeta{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	meta := schemaMeta{Name: "schema_version", Value: sqlSchemaVersion}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&meta).Error
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	s.logger.Debug("schema migrated", zap.String("version", sqlSchemaVersion))
	return nil
}

// SchemaVersion returns the version recorded in schema_meta
func (s *SQLStore) SchemaVersion(ctx context.Context) (string, error) {
	var meta schemaMeta
	err := s.pool.DB().WithContext(ctx).Where("name = ?", "schema_version").First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	return meta.Value, err
}

// Close closes the store
func (s *SQLStore) Close() error {
	return s.pool.Close()
}

// Ping checks if the store is healthy
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		if errors.Is(err, database.ErrPoolClosed) {
			return ErrStoreClosed
		}
		return err
	}
	return nil
}

// PoolStats returns connection pool statistics
func (s *SQLStore) PoolStats() database.PoolStats {
	return s.pool.GetStats()
}

// Get retrieves a document by id
func (s *SQLStore) Get(ctx context.Context, collection string, id uint64) (*Document, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidInput
	}
	var row documentRow
	err := s.pool.DB().WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql get: %w", err)
	}
	doc := row.document()
	return &doc, nil
}

// GetAll retrieves the documents matching q
func (s *SQLStore) GetAll(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := checkArgs(collection, q); err != nil {
		return nil, err
	}
	tx := s.pool.DB().WithContext(ctx).Where("collection = ?", collection)
	switch q.Index {
	case IndexCategory:
		tx = tx.Where("category = ?", q.Category)
	case IndexRelevance:
		if q.Lower != nil {
			tx = tx.Where("relevance >= ?", *q.Lower)
		}
		if q.Upper != nil {
			tx = tx.Where("relevance < ?", *q.Upper)
		}
	case IndexTimestamp:
		if q.Lower != nil {
			tx = tx.Where("ts >= ?", int64(*q.Lower))
		}
		if q.Upper != nil {
			tx = tx.Where("ts < ?", int64(*q.Upper))
		}
	}

	var rows []documentRow
	if err := tx.Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sql get all: %w", err)
	}
	docs := make([]Document, len(rows))
	for i := range rows {
		docs[i] = rows[i].document()
	}
	return docs, nil
}

// Count returns the number of documents in a collection
func (s *SQLStore) Count(ctx context.Context, collection string) (int, error) {
	if !ValidCollection(collection) {
		return 0, ErrInvalidInput
	}
	var n int64
	err := s.pool.DB().WithContext(ctx).Model(&documentRow{}).
		Where("collection = ?", collection).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("sql count: %w", err)
	}
	return int(n), nil
}

func insertRow(tx *gorm.DB, row *documentRow) error {
	if row.ID == 0 {
		return tx.Create(row).Error
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row).Error
}

// Put inserts or upserts a document
func (s *SQLStore) Put(ctx context.Context, collection string, doc *Document) (uint64, error) {
	if doc == nil || !ValidCollection(collection) {
		return 0, ErrInvalidInput
	}
	row := toRow(collection, doc)
	if err := insertRow(s.pool.DB().WithContext(ctx), &row); err != nil {
		return 0, fmt.Errorf("sql put: %w", err)
	}
	doc.ID = row.ID
	return row.ID, nil
}

// Delete removes a document
func (s *SQLStore) Delete(ctx context.Context, collection string, id uint64) error {
	if !ValidCollection(collection) {
		return ErrInvalidInput
	}
	err := s.pool.DB().WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Delete(&documentRow{}).Error
	if err != nil {
		return fmt.Errorf("sql delete: %w", err)
	}
	return nil
}

// Clear removes every document in a collection
func (s *SQLStore) Clear(ctx context.Context, collection string) error {
	if !ValidCollection(collection) {
		return ErrInvalidInput
	}
	err := s.pool.DB().WithContext(ctx).
		Where("collection = ?", collection).
		Delete(&documentRow{}).Error
	if err != nil {
		return fmt.Errorf("sql clear: %w", err)
	}
	return nil
}

// ReplaceAll clears the collection and inserts docs in one transaction
func (s *SQLStore) ReplaceAll(ctx context.Context, collection string, docs []Document) ([]uint64, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidInput
	}
	var ids []uint64
	err := s.pool.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		ids = make([]uint64, len(docs))
		if err := tx.Where("collection = ?", collection).Delete(&documentRow{}).Error; err != nil {
			return err
		}
		for i := range docs {
			row := toRow(collection, &docs[i])
			if err := insertRow(tx, &row); err != nil {
				return err
			}
			ids[i] = row.ID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sql replace all: %w", err)
	}
	return ids, nil
}
