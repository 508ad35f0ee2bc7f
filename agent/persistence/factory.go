package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// NewStore creates the Store selected by config.Type
func NewStore(ctx context.Context, config StoreConfig, logger *zap.Logger) (Store, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(config)
	case StoreTypeSQL:
		return NewSQLStore(config, logger)
	case StoreTypeRedis:
		return NewRedisStore(config)
	case StoreTypeMongo:
		return NewMongoStore(config, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported store type: %s", ErrInvalidInput, config.Type)
	}
}

// Open creates the configured store. When the backend is unavailable it logs
// a warning and degrades to the file store under BaseDir, then to memory.
func Open(ctx context.Context, config StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "persistence"))

	store, err := NewStore(ctx, config, logger)
	if err == nil {
		logger.Info("store opened", zap.String("type", string(config.Type)))
		return store, nil
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		return nil, err
	}

	logger.Warn("storage unavailable, falling back",
		zap.String("type", string(config.Type)),
		zap.Error(err),
	)

	if config.Type != StoreTypeFile && config.BaseDir != "" {
		fs, ferr := NewFileStore(config)
		if ferr == nil {
			logger.Warn("using file store fallback", zap.String("base_dir", config.BaseDir))
			return fs, nil
		}
		logger.Warn("file store fallback failed", zap.Error(ferr))
	}

	logger.Warn("using in-memory store, data will not survive restart")
	return NewMemoryStore(), nil
}
