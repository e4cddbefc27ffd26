package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearth-finance/hearth/internal/api"
	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/memory"
	"github.com/hearth-finance/hearth/internal/ledger/postgres"
	"github.com/hearth-finance/hearth/internal/platform/db"
	"github.com/hearth-finance/hearth/internal/shared"
)

// Directory resolves members and categories and mirrors callers into the household roster.
type Directory interface {
	ledger.MemberDirectory
	ledger.CategoryCatalog
	api.MemberRegistry
}

// Backend is the storage selected by STORE_BACKEND.
type Backend struct {
	Store       ledger.Store
	Directory   Directory
	Audit       ledger.AuditRecorder
	Approvals   ledger.ApprovalRecorder
	Idempotency shared.IdempotencyKeys
	// Pool is nil for the memory backend.
	Pool *pgxpool.Pool
}

// OpenBackend connects the configured store. Postgres migrations run first when
// MIGRATE_ON_START is set.
func OpenBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case BackendMemory:
		logger.Info("using in-memory store")
		return &Backend{
			Store:       memory.NewStore(),
			Directory:   memory.NewDirectory(),
			Audit:       shared.NewMemoryAuditLog(),
			Approvals:   shared.NewMemoryApprovals(),
			Idempotency: shared.NewMemoryIdempotency(),
		}, nil
	case BackendPostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(pool, db.Up); err != nil {
				pool.Close()
				return nil, err
			}
			logger.Info("migrations applied")
		}
		return &Backend{
			Store:       postgres.NewStore(pool),
			Directory:   postgres.NewDirectory(pool),
			Audit:       shared.NewAuditLogger(pool),
			Approvals:   shared.NewApprovalRecorder(pool, logger),
			Idempotency: shared.NewIdempotencyStore(pool),
			Pool:        pool,
		}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// Ready pings the database. The memory backend is always ready.
func (b *Backend) Ready(ctx context.Context) error {
	if b == nil || b.Pool == nil {
		return nil
	}
	return b.Pool.Ping(ctx)
}

// Close releases the pool.
func (b *Backend) Close() {
	if b != nil && b.Pool != nil {
		b.Pool.Close()
	}
}
