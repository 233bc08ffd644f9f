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
	// ErrNotFound is returned when a pool row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	upsertPoolSQL = `INSERT INTO pools (
        address,
        token_a,
        token_b,
        tvl_usd,
        apr,
        volume_24h,
        price_ratio,
        risk_score,
        last_updated
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (address) DO UPDATE
    SET
        token_a      = EXCLUDED.token_a,
        token_b      = EXCLUDED.token_b,
        tvl_usd      = EXCLUDED.tvl_usd,
        apr          = EXCLUDED.apr,
        volume_24h   = EXCLUDED.volume_24h,
        price_ratio  = EXCLUDED.price_ratio,
        risk_score   = EXCLUDED.risk_score,
        last_updated = EXCLUDED.last_updated;`

	selectPoolColumns = `SELECT
        address,
        token_a,
        token_b,
        tvl_usd,
        apr,
        volume_24h,
        price_ratio,
        risk_score,
        last_updated
    FROM pools`

	listPoolsSQL = selectPoolColumns + `
    ORDER BY tvl_usd DESC, address ASC;`

	getPoolSQL = selectPoolColumns + `
    WHERE address = $1;`

	insertSnapshotSQL = `INSERT INTO snapshots (
        pool_address,
        timestamp,
        price_ratio
    ) VALUES ($1,$2,$3);`

	historySQL = `SELECT
        pool_address,
        timestamp,
        price_ratio
    FROM snapshots
    WHERE pool_address = $1
    ORDER BY timestamp ASC;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM snapshots WHERE pool_address = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PoolStore persists the current state of each pool.
type PoolStore interface {
	UpsertPool(ctx context.Context, pool Pool) error
	ListPools(ctx context.Context) ([]Pool, error)
	GetPool(ctx context.Context, address string) (Pool, error)
}

// SnapshotStore persists the append-only price ratio series.
type SnapshotStore interface {
	RecordSnapshot(ctx context.Context, snap Snapshot) error
	History(ctx context.Context, address string) ([]Snapshot, error)
}

// Repository is the combined persistence contract of a refresh cycle.
type Repository interface {
	PoolStore
	SnapshotStore
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL implementation of Repository.
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

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
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
		// 释放失败时连接被回收，会话锁随之失效
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertPool replaces the row for pool.Address.
func (s *Store) UpsertPool(ctx context.Context, p Pool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertPoolSQL,
		p.Address,
		p.TokenA,
		p.TokenB,
		p.TVLUSD,
		p.APR,
		p.Volume24h,
		p.PriceRatio,
		p.RiskScore,
		p.LastUpdated.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert pool %s: %w", p.Address, execErr)
	}
	return nil
}

// ListPools returns every pool ordered by TVL descending.
func (s *Store) ListPools(ctx context.Context) ([]Pool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPoolsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list pools: %w", queryErr)
	}
	defer rows.Close()

	pools := make([]Pool, 0)
	for rows.Next() {
		p, scanErr := scanPool(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		pools = append(pools, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return pools, nil
}

// GetPool returns one pool or ErrNotFound.
func (s *Store) GetPool(ctx context.Context, address string) (Pool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Pool{}, err
	}

	p, scanErr := scanPool(pool.QueryRow(ctx, getPoolSQL, address))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Pool{}, ErrNotFound
	}
	if scanErr != nil {
		return Pool{}, fmt.Errorf("get pool %s: %w", address, scanErr)
	}
	return p, nil
}

// RecordSnapshot appends one observation; duplicate timestamps are allowed.
func (s *Store) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertSnapshotSQL, snap.PoolAddress, snap.Timestamp.UTC(), snap.PriceRatio); execErr != nil {
		return fmt.Errorf("record snapshot %s: %w", snap.PoolAddress, execErr)
	}
	return nil
}

// History returns all snapshots of a pool ordered by timestamp ascending.
func (s *Store) History(ctx context.Context, address string) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, historySQL, address)
	if queryErr != nil {
		return nil, fmt.Errorf("history %s: %w", address, queryErr)
	}
	defer rows.Close()

	history := make([]Snapshot, 0)
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.PoolAddress, &snap.Timestamp, &snap.PriceRatio); err != nil {
			return nil, err
		}
		history = append(history, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return history, nil
}

// CountSnapshots counts stored snapshots of a pool.
func (s *Store) CountSnapshots(ctx context.Context, address string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL, address).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

func scanPool(row pgx.Row) (Pool, error) {
	var p Pool
	if err := row.Scan(
		&p.Address,
		&p.TokenA,
		&p.TokenB,
		&p.TVLUSD,
		&p.APR,
		&p.Volume24h,
		&p.PriceRatio,
		&p.RiskScore,
		&p.LastUpdated,
	); err != nil {
		return Pool{}, err
	}
	return p, nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
