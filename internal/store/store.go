// Package store selects and constructs the configured record store.
package store

import (
	"context"
	"fmt"

	"github.com/DaanH/buildings-visualizer/internal/domain"
	"github.com/DaanH/buildings-visualizer/internal/infra"
	"github.com/DaanH/buildings-visualizer/internal/store/pgstore"
	"github.com/DaanH/buildings-visualizer/internal/store/redisstore"
	"github.com/DaanH/buildings-visualizer/internal/store/sqlitestore"
)

// Open constructs the store named by cfg.StoreDriver. All drivers satisfy
// the same contract; only the Redis driver expires records.
func Open(ctx context.Context, cfg *infra.Config) (domain.Store, error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverRedis:
		return redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case infra.StoreDriverSQLite:
		return sqlitestore.Open(ctx, cfg.SQLitePath)
	case infra.StoreDriverPostgres:
		return pgstore.Open(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.StoreDriver)
	}
}
