package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	ensureVersionTableSQL = `CREATE TABLE IF NOT EXISTS schema_version (
        version INT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	ensureHistoryTableSQL = `CREATE TABLE IF NOT EXISTS price_history (
        region TEXT NOT NULL,
        ts BIGINT NOT NULL,
        price DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (region, ts)
    );`

	recordVersionSQL = `INSERT INTO schema_version (version) VALUES ($1)
    ON CONFLICT (version) DO NOTHING;`

	loadHistorySQL = `SELECT ts, price FROM price_history
    WHERE region = $1
    ORDER BY ts;`

	deleteHistorySQL = `DELETE FROM price_history WHERE region = $1;`

	insertSampleSQL = `INSERT INTO price_history (region, ts, price)
    VALUES ($1, $2, $3)
    ON CONFLICT (region, ts) DO UPDATE SET price = EXCLUDED.price;`

	listRecentSQL = `SELECT ts, price FROM (
        SELECT ts, price FROM price_history
        WHERE region = $1
        ORDER BY ts DESC
        LIMIT $2
    ) recent ORDER BY ts;`

	listBetweenSQL = `SELECT ts, price FROM price_history
    WHERE region = $1 AND ts >= $2 AND ts < $3
    ORDER BY ts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// HistoryStore defines operations for price history persistence. One record
// set per region; a save replaces the region's full pruned history.
type HistoryStore interface {
	LoadHistory(ctx context.Context, region string) ([]PriceSample, error)
	ReplaceHistory(ctx context.Context, region string, samples []PriceSample) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists price history in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the persisted-state tables if they do not exist and
// records the current schema version.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{ensureVersionTableSQL, ensureHistoryTableSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	if _, err := pool.Exec(ctx, recordVersionSQL, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// LoadHistory returns a region's persisted samples in chronological order.
func (s *Store) LoadHistory(ctx context.Context, region string) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadHistorySQL, region)
	if queryErr != nil {
		return nil, fmt.Errorf("load history: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		var sample PriceSample
		if err := rows.Scan(&sample.TS, &sample.Price); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples returns the newest limit samples for a region in
// chronological order.
func (s *Store) ListRecentSamples(ctx context.Context, region string, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return s.querySamples(ctx, pool, listRecentSQL, region, limit)
}

// ListSamplesBetween returns samples with from <= ts < to in chronological order.
func (s *Store) ListSamplesBetween(ctx context.Context, region string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return s.querySamples(ctx, pool, listBetweenSQL, region, from.Unix(), to.Unix())
}

func (s *Store) querySamples(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]PriceSample, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		var sample PriceSample
		if err := rows.Scan(&sample.TS, &sample.Price); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ReplaceHistory atomically swaps a region's stored history for the given
// pruned sample set. Idempotent; safe to retry after a transient failure.
func (s *Store) ReplaceHistory(ctx context.Context, region string, samples []PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace history: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, deleteHistorySQL, region); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(insertSampleSQL, region, sample.TS, sample.Price)
	}
	if batch.Len() > 0 {
		results := tx.SendBatch(ctx, batch)
		for range samples {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert sample: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("flush sample batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace history: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

var (
	_ HistoryStore   = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
