package shared

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyKeys deduplicates mutating requests.
type IdempotencyKeys interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

func checkKey(key, module string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	return nil
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.pool == nil {
		return ErrNotInitialised
	}
	if err := checkKey(key, module); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, s.now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	if err := checkKey(key, module); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module)
	return err
}

// MemoryIdempotency keeps keys in process memory.
type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMemoryIdempotency constructs an empty key set.
func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]struct{})}
}

// CheckAndInsert records the key or reports a replay.
func (m *MemoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if err := checkKey(key, module); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := module + "\x00" + key
	if _, ok := m.keys[k]; ok {
		return ErrIdempotencyConflict
	}
	m.keys[k] = struct{}{}
	return nil
}

// Delete forgets the key.
func (m *MemoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"\x00"+key)
	return nil
}
