package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/stepflow/internal/config"
	"github.com/kode4food/stepflow/pkg/api"
)

// Store is a StateStore that holds resources until closed
type Store interface {
	api.StateStore
	Close() error
}

// Open creates the Store selected by cfg
func Open(ctx context.Context, cfg config.StateConfig) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Adapter {
	case config.StateAdapterRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis state store: %w", err)
		}
		return NewRedisStore(client, cfg.RedisPrefix), nil

	case config.StateAdapterBlob:
		return OpenBlobStore(ctx, cfg.BucketURL, "state/")

	case config.StateAdapterSQLite:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		res, err := NewSQLiteStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return res, nil

	default:
		return NewMemoryStore(), nil
	}
}
