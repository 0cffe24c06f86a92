package store

import (
	"context"

	"github.com/vasic-digital/graphrag-core/internal/config"
	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
)

// Open constructs a Store for the backend named in cfg, applying migrations
// before returning. "postgres" and "sqlite" are the only recognized values;
// cfg.SetDefaults should have already run so Backend is never empty.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return nil, graphragerr.New(graphragerr.StorageFatal, "", "unrecognized storage backend: "+cfg.Backend)
	}
}
