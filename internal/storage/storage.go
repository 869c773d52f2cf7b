// Package storage opens the configured apikey.Store backend.
package storage

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/storage/memory"
	"github.com/xenking/apikeyd/internal/storage/mongo"
	"github.com/xenking/apikeyd/internal/storage/postgres"
	"github.com/xenking/apikeyd/internal/storage/redis"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config selects and configures the key store.
type Config struct {
	Driver          string        `default:"postgres" usage:"Key store driver: postgres, redis, mongo or memory"`
	DatabaseURL     string        `usage:"PostgreSQL connection URL (APIKEYD_STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL        string        `usage:"Redis URL, e.g. redis://localhost:6379/0" flag:"redis-url"`
	MongoURI        string        `usage:"MongoDB connection URI" flag:"mongo-uri"`
	MongoDatabase   string        `default:"cgc" usage:"MongoDB database name" flag:"mongo-database"`
	MongoCollection string        `default:"api_keys" usage:"MongoDB collection name" flag:"mongo-collection"`
	Timeout         time.Duration `default:"2s" usage:"Deadline for a single store call" flag:"store-timeout"`
}

// Validate checks that the selected driver has its connection settings.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set APIKEYD_STORE_DATABASE_URL or DATABASE_URL")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("redis URL is required for the redis driver")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("mongo URI is required for the mongo driver")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown store driver %q", c.Driver)
	}
	return nil
}

// Handle is an open store plus the function that releases it.
type Handle struct {
	Store apikey.Store
	close func(ctx context.Context) error
}

// Close releases the underlying client.
func (h *Handle) Close(ctx context.Context) error {
	if h.close == nil {
		return nil
	}
	return h.close(ctx)
}

// Open connects to the configured backend and prepares its schema.
func Open(ctx context.Context, lg *zap.Logger, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lg.Info("Opening key store", zap.String("driver", cfg.Driver))

	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &Handle{
			Store: postgres.NewAPIKeyRepository(pool),
			close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil

	case DriverRedis:
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "create redis client")
		}
		return &Handle{
			Store: redis.NewAPIKeyStore(client),
			close: func(context.Context) error { return client.Close() },
		}, nil

	case DriverMongo:
		client, err := mongo.NewClient(ctx, cfg.MongoURI)
		if err != nil {
			return nil, errors.Wrap(err, "create mongo client")
		}
		store := mongo.NewAPIKeyStore(client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, errors.Wrap(err, "ensure indexes")
		}
		return &Handle{
			Store: store,
			close: client.Disconnect,
		}, nil

	default:
		lg.Warn("Using in-memory key store, keys are lost on exit")
		return &Handle{Store: memory.NewAPIKeyStore()}, nil
	}
}
