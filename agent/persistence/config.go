package persistence

import "time"

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeMongo  StoreType = "mongo"
)

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type" env:"TYPE"`

	// BaseDir is the base directory for file-based storage, also the
	// fallback location when the configured backend is unavailable
	BaseDir string `json:"base_dir" yaml:"base_dir" env:"BASE_DIR"`

	// SQL configuration (only used when Type is "sql")
	SQL SQLStoreConfig `json:"sql" yaml:"sql" env:"SQL"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis" env:"REDIS"`

	// Mongo configuration (only used when Type is "mongo")
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo" env:"MONGO"`
}

// SQLStoreConfig contains gorm-specific configuration
type SQLStoreConfig struct {
	// Driver is one of sqlite, postgres, mysql
	Driver string `json:"driver" yaml:"driver" env:"DRIVER"`

	// DSN is the driver data source; for sqlite a file path or ":memory:"
	DSN string `json:"dsn" yaml:"dsn" env:"DSN"`

	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string `json:"addr" yaml:"addr" env:"ADDR"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password" env:"PASSWORD"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db" env:"DB"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	URI            string        `json:"uri" yaml:"uri" env:"URI"`
	Database       string        `json:"database" yaml:"database" env:"DATABASE"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/agentlee",
		SQL: SQLStoreConfig{
			Driver:          "sqlite",
			DSN:             "./data/agentlee/agentlee.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "agentlee:",
		},
		Mongo: MongoStoreConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "agentlee",
			ConnectTimeout: 5 * time.Second,
		},
	}
}
