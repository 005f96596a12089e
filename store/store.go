// Package store is the durable persistence layer for refresh jobs, transfer
// watchers, and wallet locks: a PostgreSQL-backed implementation of spec §3
// and §4.1, with row-level locking standing in for the in-process
// mutual-exclusion the rest of the orchestrator relies on.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rgbtools/refreshd/build"
	"github.com/rgbtools/refreshd/job"
)

var log = build.NewPkgLogger("STOR")

// ErrJobNotFound is returned when an operation references a job_id that
// does not exist. MemoryStore.UpdateWatcher also returns it for a
// (xpub_van, recipient_id) pair with no watcher row.
var ErrJobNotFound = errors.New("store: job not found")

// ErrInvalidTrigger is returned by Enqueue for an unknown trigger kind; this
// is a permanent/validation failure (spec §7), not retried.
var ErrInvalidTrigger = errors.New("store: invalid trigger kind")

// EnqueueParams are the fields needed to create a new pending job.
type EnqueueParams struct {
	Wallet     job.Wallet
	Trigger    job.Trigger
	MaxRetries int
}

// CompleteParams describes the terminal transition applied by CompleteJob.
type CompleteParams struct {
	JobID string
	// Err, if non-nil, transitions the job to failed and records its
	// message; otherwise the job transitions to completed.
	Err error
}

// Store is the narrow set of atomic operations the rest of the orchestrator
// is built from. Every method is safe to call concurrently from multiple
// wallet workers and multiple orchestrator processes.
type Store interface {
	// Enqueue inserts a pending job. It is expected never to fail the
	// caller's request path in practice: HTTP handlers log and discard
	// enqueue errors (spec §4.1).
	Enqueue(ctx context.Context, p EnqueueParams) (string, error)

	// DequeueForWallet selects and claims the oldest pending job for the
	// given wallet, atomically transitioning it to processing. Returns
	// (nil, nil) if there is no pending work.
	DequeueForWallet(ctx context.Context, xpubVan string) (*job.Job, error)

	// IncrementAttempts bumps a job's attempt counter by one and returns
	// the new value. Called once per transient failure inside the job
	// handler's retry-with-backoff loop (spec §7); successful passes,
	// permanent failures and lock-skip outcomes never call this (spec §9
	// open question (b)).
	IncrementAttempts(ctx context.Context, jobID string) (int, error)

	// CompleteJob atomically transitions a processing job to its terminal
	// state and sets processed_at.
	CompleteJob(ctx context.Context, p CompleteParams) error

	// ListWalletsNeedingWork returns the union of wallets with a pending
	// job and wallets with a watching watcher.
	ListWalletsNeedingWork(ctx context.Context) ([]job.Wallet, error)

	// CreateWatcher idempotently inserts a watcher row keyed by
	// (xpub_van, recipient_id); a duplicate call is a no-op that returns
	// the existing row unchanged.
	CreateWatcher(ctx context.Context, w job.Wallet, recipientID, assetID string, ttl time.Duration) (*Watcher, error)

	// ListActiveWatchers returns every watching watcher for the wallet.
	ListActiveWatchers(ctx context.Context, xpubVan string) ([]*Watcher, error)

	// ListJobs returns the most recent jobs across all wallets, newest
	// first, for operator inspection (cmd/refreshctl "jobs list").
	ListJobs(ctx context.Context, limit int) ([]*job.Job, error)

	// ListWatchers returns every watcher across all wallets regardless of
	// status, for operator inspection (cmd/refreshctl "watchers list").
	ListWatchers(ctx context.Context) ([]*Watcher, error)

	// ListLocks returns every currently unexpired wallet lock, for operator
	// inspection (cmd/refreshctl "locks list").
	ListLocks(ctx context.Context) ([]*Lock, error)

	// UpdateWatcher applies a partial update to the watcher identified by
	// (xpubVan, recipientID).
	UpdateWatcher(ctx context.Context, xpubVan, recipientID string, fields WatcherFields) error

	// AcquireLock purges any expired lock row for xpubVan and attempts to
	// insert a fresh one; it returns whether the caller now holds the
	// lock. Acquisition never blocks.
	AcquireLock(ctx context.Context, xpubVan string, ttl time.Duration) (bool, error)

	// ReleaseLock deletes the lock row for xpubVan, if any.
	ReleaseLock(ctx context.Context, xpubVan string) error

	// Recover re-enqueues a recovery-triggered job for every watcher still
	// in the watching state, stamping each re-enqueued job with maxRetries
	// (the operator-configured MAX_REFRESH_RETRIES). Called once at
	// orchestrator startup when ENABLE_RECOVERY is true.
	Recover(ctx context.Context, maxRetries int) (int, error)

	// Close releases the underlying connection pool.
	Close()
}
