package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/rgbtools/refreshd/job"
)

// PoolConfig bounds the underlying connection pool; see
// POSTGRES_MIN_CONNECTIONS / POSTGRES_MAX_CONNECTIONS in the configuration
// surface (spec §6).
type PoolConfig struct {
	DSN            string
	MinConnections int32
	MaxConnections int32
}

// PostgresStore is the PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool against cfg.DSN, applies any
// pending schema migrations, and returns a ready Store.
func NewPostgresStore(ctx context.Context, cfg PoolConfig) (*PostgresStore, error) {
	if err := applyMigrations(cfg.DSN); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MinConns = cfg.MinConnections
	poolCfg.MaxConns = cfg.MaxConnections

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close implements Store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Enqueue implements Store.
func (s *PostgresStore) Enqueue(ctx context.Context, p EnqueueParams) (string, error) {
	if !p.Trigger.Kind.Valid() {
		return "", ErrInvalidTrigger
	}

	id := job.NewID()
	const q = `
		INSERT INTO refresh_jobs (
			job_id, xpub_van, xpub_col, master_fingerprint, trigger,
			recipient_id, asset_id, status, attempts, max_retries,
			created_at
		) VALUES ($1, $2, $3, $4, $5, nullif($6, ''), nullif($7, ''), 'pending', 0, $8, now())`

	_, err := s.pool.Exec(ctx, q,
		id, p.Wallet.XpubVan, p.Wallet.XpubCol, p.Wallet.MasterFingerprint,
		string(p.Trigger.Kind), p.Trigger.RecipientID, p.Trigger.AssetID,
		p.MaxRetries,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	return id, nil
}

// DequeueForWallet implements Store. It uses FOR UPDATE SKIP LOCKED so
// concurrent dequeuers (different orchestrator processes) never observe the
// same pending job.
func (s *PostgresStore) DequeueForWallet(ctx context.Context, xpubVan string) (*job.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin dequeue tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQ = `
		SELECT job_id, xpub_van, xpub_col, master_fingerprint, trigger,
		       coalesce(recipient_id, ''), coalesce(asset_id, ''),
		       status, attempts, max_retries, created_at, processed_at,
		       coalesce(error_message, '')
		FROM refresh_jobs
		WHERE xpub_van = $1 AND status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	row := tx.QueryRow(ctx, selectQ, xpubVan)

	var j job.Job
	var triggerKind string
	if err := row.Scan(
		&j.ID, &j.Wallet.XpubVan, &j.Wallet.XpubCol, &j.Wallet.MasterFingerprint,
		&triggerKind, &j.Trigger.RecipientID, &j.Trigger.AssetID,
		&j.Status, &j.Attempts, &j.MaxRetries, &j.CreatedAt, &j.ProcessedAt,
		&j.ErrorMessage,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan pending job: %w", err)
	}
	j.Trigger.Kind = job.TriggerKind(triggerKind)

	const updateQ = `UPDATE refresh_jobs SET status = 'processing' WHERE job_id = $1`
	if _, err := tx.Exec(ctx, updateQ, j.ID); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit dequeue tx: %w", err)
	}

	j.Status = job.StatusProcessing
	return &j, nil
}

// IncrementAttempts implements Store.
func (s *PostgresStore) IncrementAttempts(ctx context.Context, jobID string) (int, error) {
	const q = `UPDATE refresh_jobs SET attempts = attempts + 1 WHERE job_id = $1 RETURNING attempts`

	var attempts int
	if err := s.pool.QueryRow(ctx, q, jobID).Scan(&attempts); err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrJobNotFound
		}
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

// CompleteJob implements Store.
func (s *PostgresStore) CompleteJob(ctx context.Context, p CompleteParams) error {
	status := job.StatusCompleted
	var errMsg string
	if p.Err != nil {
		status = job.StatusFailed
		errMsg = p.Err.Error()
	}

	const q = `
		UPDATE refresh_jobs
		SET status = $2, processed_at = now(), error_message = nullif($3, '')
		WHERE job_id = $1`

	tag, err := s.pool.Exec(ctx, q, p.JobID, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListWalletsNeedingWork implements Store.
func (s *PostgresStore) ListWalletsNeedingWork(ctx context.Context) ([]job.Wallet, error) {
	const q = `
		SELECT xpub_van, xpub_col, master_fingerprint FROM refresh_jobs WHERE status = 'pending'
		UNION
		SELECT xpub_van, xpub_col, master_fingerprint FROM refresh_watchers WHERE status = 'watching'`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list wallets needing work: %w", err)
	}
	defer rows.Close()

	var wallets []job.Wallet
	for rows.Next() {
		var w job.Wallet
		if err := rows.Scan(&w.XpubVan, &w.XpubCol, &w.MasterFingerprint); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// CreateWatcher implements Store.
func (s *PostgresStore) CreateWatcher(ctx context.Context, w job.Wallet, recipientID, assetID string, ttl time.Duration) (*Watcher, error) {
	const q = `
		INSERT INTO refresh_watchers (
			xpub_van, xpub_col, master_fingerprint, recipient_id,
			asset_id, status, refresh_count, created_at, expires_at
		) VALUES ($1, $2, $3, $4, nullif($5, ''), 'watching', 0, now(), now() + $6::interval)
		ON CONFLICT (xpub_van, recipient_id) DO UPDATE SET xpub_van = refresh_watchers.xpub_van
		RETURNING xpub_van, xpub_col, master_fingerprint, recipient_id,
		          coalesce(asset_id, ''), status, refresh_count, last_refresh,
		          created_at, expires_at`

	row := s.pool.QueryRow(ctx, q, w.XpubVan, w.XpubCol, w.MasterFingerprint,
		recipientID, assetID, ttl.String())

	var out Watcher
	if err := row.Scan(
		&out.Wallet.XpubVan, &out.Wallet.XpubCol, &out.Wallet.MasterFingerprint,
		&out.RecipientID, &out.AssetID, &out.Status, &out.RefreshCount,
		&out.LastRefresh, &out.CreatedAt, &out.ExpiresAt,
	); err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &out, nil
}

// ListActiveWatchers implements Store.
func (s *PostgresStore) ListActiveWatchers(ctx context.Context, xpubVan string) ([]*Watcher, error) {
	const q = `
		SELECT xpub_van, xpub_col, master_fingerprint, recipient_id,
		       coalesce(asset_id, ''), status, refresh_count, last_refresh,
		       created_at, expires_at
		FROM refresh_watchers
		WHERE xpub_van = $1 AND status = 'watching'
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, q, xpubVan)
	if err != nil {
		return nil, fmt.Errorf("list active watchers: %w", err)
	}
	defer rows.Close()

	var out []*Watcher
	for rows.Next() {
		var w Watcher
		if err := rows.Scan(
			&w.Wallet.XpubVan, &w.Wallet.XpubCol, &w.Wallet.MasterFingerprint,
			&w.RecipientID, &w.AssetID, &w.Status, &w.RefreshCount,
			&w.LastRefresh, &w.CreatedAt, &w.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan watcher: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// ListJobs implements Store.
func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	const q = `
		SELECT job_id, xpub_van, xpub_col, master_fingerprint, trigger,
		       coalesce(recipient_id, ''), coalesce(asset_id, ''),
		       status, attempts, max_retries, created_at, processed_at,
		       coalesce(error_message, '')
		FROM refresh_jobs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		var j job.Job
		var triggerKind string
		if err := rows.Scan(
			&j.ID, &j.Wallet.XpubVan, &j.Wallet.XpubCol, &j.Wallet.MasterFingerprint,
			&triggerKind, &j.Trigger.RecipientID, &j.Trigger.AssetID,
			&j.Status, &j.Attempts, &j.MaxRetries, &j.CreatedAt, &j.ProcessedAt,
			&j.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Trigger.Kind = job.TriggerKind(triggerKind)
		out = append(out, &j)
	}
	return out, rows.Err()
}

// ListWatchers implements Store.
func (s *PostgresStore) ListWatchers(ctx context.Context) ([]*Watcher, error) {
	const q = `
		SELECT xpub_van, xpub_col, master_fingerprint, recipient_id,
		       coalesce(asset_id, ''), status, refresh_count, last_refresh,
		       created_at, expires_at
		FROM refresh_watchers
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list watchers: %w", err)
	}
	defer rows.Close()

	var out []*Watcher
	for rows.Next() {
		var w Watcher
		if err := rows.Scan(
			&w.Wallet.XpubVan, &w.Wallet.XpubCol, &w.Wallet.MasterFingerprint,
			&w.RecipientID, &w.AssetID, &w.Status, &w.RefreshCount,
			&w.LastRefresh, &w.CreatedAt, &w.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan watcher: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// ListLocks implements Store.
func (s *PostgresStore) ListLocks(ctx context.Context) ([]*Lock, error) {
	const q = `SELECT xpub_van, locked_at, expires_at FROM wallet_locks WHERE expires_at > now() ORDER BY locked_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var out []*Lock
	for rows.Next() {
		var l Lock
		if err := rows.Scan(&l.XpubVan, &l.LockedAt, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// UpdateWatcher implements Store.
func (s *PostgresStore) UpdateWatcher(ctx context.Context, xpubVan, recipientID string, fields WatcherFields) error {
	sets := []string{}
	args := []interface{}{xpubVan, recipientID}
	argN := func() int {
		args = append(args, nil)
		return len(args)
	}

	if fields.AssetID != nil {
		n := argN()
		args[n-1] = *fields.AssetID
		sets = append(sets, fmt.Sprintf("asset_id = nullif($%d, '')", n))
	}
	if fields.Status != nil {
		n := argN()
		args[n-1] = string(*fields.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", n))
	}
	if fields.LastRefresh != nil {
		n := argN()
		args[n-1] = *fields.LastRefresh
		sets = append(sets, fmt.Sprintf("last_refresh = $%d", n))
	}
	if fields.IncrementRefresh {
		sets = append(sets, "refresh_count = refresh_count + 1")
	}

	if len(sets) == 0 {
		return nil
	}

	q := "UPDATE refresh_watchers SET "
	for i, set := range sets {
		if i > 0 {
			q += ", "
		}
		q += set
	}
	q += " WHERE xpub_van = $1 AND recipient_id = $2"

	_, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update watcher: %w", err)
	}
	return nil
}

// AcquireLock implements Store: delete if expired, insert, succeed iff the
// insert succeeded.
func (s *PostgresStore) AcquireLock(ctx context.Context, xpubVan string, ttl time.Duration) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin lock tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const deleteExpiredQ = `DELETE FROM wallet_locks WHERE xpub_van = $1 AND expires_at <= now()`
	if _, err := tx.Exec(ctx, deleteExpiredQ, xpubVan); err != nil {
		return false, fmt.Errorf("purge expired lock: %w", err)
	}

	const insertQ = `
		INSERT INTO wallet_locks (xpub_van, locked_at, expires_at)
		VALUES ($1, now(), now() + $2::interval)
		ON CONFLICT (xpub_van) DO NOTHING`

	tag, err := tx.Exec(ctx, insertQ, xpubVan, ttl.String())
	if err != nil {
		return false, fmt.Errorf("insert lock: %w", err)
	}

	acquired := tag.RowsAffected() == 1
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit lock tx: %w", err)
	}

	return acquired, nil
}

// ReleaseLock implements Store.
func (s *PostgresStore) ReleaseLock(ctx context.Context, xpubVan string) error {
	const q = `DELETE FROM wallet_locks WHERE xpub_van = $1`
	if _, err := s.pool.Exec(ctx, q, xpubVan); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Recover implements Store. Only status = watching watchers are
// re-enqueued; see spec §9 open question (c).
func (s *PostgresStore) Recover(ctx context.Context, maxRetries int) (int, error) {
	const selectQ = `
		SELECT xpub_van, xpub_col, master_fingerprint, recipient_id, coalesce(asset_id, '')
		FROM refresh_watchers
		WHERE status = 'watching'`

	rows, err := s.pool.Query(ctx, selectQ)
	if err != nil {
		return 0, fmt.Errorf("list watching watchers: %w", err)
	}

	type pending struct {
		w                     job.Wallet
		recipientID, assetID string
	}
	var toRecover []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.w.XpubVan, &p.w.XpubCol, &p.w.MasterFingerprint, &p.recipientID, &p.assetID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan watching watcher: %w", err)
		}
		toRecover = append(toRecover, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range toRecover {
		_, err := s.Enqueue(ctx, EnqueueParams{
			Wallet: p.w,
			Trigger: job.Trigger{
				Kind:        job.Recovery,
				RecipientID: p.recipientID,
				AssetID:     p.assetID,
			},
			MaxRetries: maxRetries,
		})
		if err != nil {
			return 0, fmt.Errorf("recover watcher %s: %w", p.recipientID, err)
		}
	}

	log.Infof("recovery: re-enqueued %d job(s) for active watchers", len(toRecover))
	return len(toRecover), nil
}
