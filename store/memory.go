package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rgbtools/refreshd/job"
)

// MemoryStore is an in-process Store used by unit tests for the components
// layered on top of Store (walletlock, jobhandler, transferwatcher,
// walletworker, orchestrator), so those tests don't require a live
// PostgreSQL instance. It implements the same atomicity contracts as
// PostgresStore: dequeue claims under a mutex, acquire/release enforce a
// single live lock per xpub_van.
type MemoryStore struct {
	mu sync.Mutex

	jobs     map[string]*job.Job
	watchers map[string]*Watcher // keyed by xpub_van + "/" + recipient_id
	locks    map[string]*Lock
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*job.Job),
		watchers: make(map[string]*Watcher),
		locks:    make(map[string]*Lock),
	}
}

func watcherKey(xpubVan, recipientID string) string {
	return xpubVan + "/" + recipientID
}

// Close implements Store.
func (s *MemoryStore) Close() {}

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(_ context.Context, p EnqueueParams) (string, error) {
	if !p.Trigger.Kind.Valid() {
		return "", ErrInvalidTrigger
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := job.NewID()
	s.jobs[id] = &job.Job{
		ID:         id,
		Wallet:     p.Wallet,
		Trigger:    p.Trigger,
		Status:     job.StatusPending,
		MaxRetries: p.MaxRetries,
		CreatedAt:  time.Now(),
	}
	return id, nil
}

// DequeueForWallet implements Store.
func (s *MemoryStore) DequeueForWallet(_ context.Context, xpubVan string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*job.Job
	for _, j := range s.jobs {
		if j.Wallet.XpubVan == xpubVan && j.Status == job.StatusPending {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	chosen := candidates[0]
	chosen.Status = job.StatusProcessing

	cp := *chosen
	return &cp, nil
}

// IncrementAttempts implements Store.
func (s *MemoryStore) IncrementAttempts(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return 0, ErrJobNotFound
	}
	j.Attempts++
	return j.Attempts, nil
}

// CompleteJob implements Store.
func (s *MemoryStore) CompleteJob(_ context.Context, p CompleteParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[p.JobID]
	if !ok {
		return ErrJobNotFound
	}
	now := time.Now()
	j.ProcessedAt = &now
	if p.Err != nil {
		j.Status = job.StatusFailed
		j.ErrorMessage = p.Err.Error()
	} else {
		j.Status = job.StatusCompleted
	}
	return nil
}

// ListWalletsNeedingWork implements Store.
func (s *MemoryStore) ListWalletsNeedingWork(_ context.Context) ([]job.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]job.Wallet)
	for _, j := range s.jobs {
		if j.Status == job.StatusPending {
			seen[j.Wallet.XpubVan] = j.Wallet
		}
	}
	for _, w := range s.watchers {
		if w.Status == WatcherWatching {
			seen[w.Wallet.XpubVan] = w.Wallet
		}
	}

	out := make([]job.Wallet, 0, len(seen))
	for _, w := range seen {
		out = append(out, w)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].XpubVan < out[k].XpubVan })
	return out, nil
}

// CreateWatcher implements Store.
func (s *MemoryStore) CreateWatcher(_ context.Context, w job.Wallet, recipientID, assetID string, ttl time.Duration) (*Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := watcherKey(w.XpubVan, recipientID)
	if existing, ok := s.watchers[key]; ok {
		cp := *existing
		return &cp, nil
	}

	watcher := &Watcher{
		Wallet:      w,
		RecipientID: recipientID,
		AssetID:     assetID,
		Status:      WatcherWatching,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(ttl),
	}
	s.watchers[key] = watcher

	cp := *watcher
	return &cp, nil
}

// ListActiveWatchers implements Store.
func (s *MemoryStore) ListActiveWatchers(_ context.Context, xpubVan string) ([]*Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Watcher
	for _, w := range s.watchers {
		if w.Wallet.XpubVan == xpubVan && w.Status == WatcherWatching {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// ListJobs implements Store.
func (s *MemoryStore) ListJobs(_ context.Context, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListWatchers implements Store.
func (s *MemoryStore) ListWatchers(_ context.Context) ([]*Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// ListLocks implements Store.
func (s *MemoryStore) ListLocks(_ context.Context) ([]*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]*Lock, 0, len(s.locks))
	for _, l := range s.locks {
		if l.ExpiresAt.After(now) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].LockedAt.After(out[k].LockedAt) })
	return out, nil
}

// UpdateWatcher implements Store.
func (s *MemoryStore) UpdateWatcher(_ context.Context, xpubVan, recipientID string, fields WatcherFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watchers[watcherKey(xpubVan, recipientID)]
	if !ok {
		return ErrJobNotFound
	}
	if fields.AssetID != nil {
		w.AssetID = *fields.AssetID
	}
	if fields.Status != nil {
		w.Status = *fields.Status
	}
	if fields.LastRefresh != nil {
		w.LastRefresh = fields.LastRefresh
	}
	if fields.IncrementRefresh {
		w.RefreshCount++
	}
	return nil
}

// AcquireLock implements Store.
func (s *MemoryStore) AcquireLock(_ context.Context, xpubVan string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.locks[xpubVan]; ok {
		if existing.ExpiresAt.After(now) {
			return false, nil
		}
		delete(s.locks, xpubVan)
	}

	s.locks[xpubVan] = &Lock{
		XpubVan:   xpubVan,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	return true, nil
}

// ReleaseLock implements Store.
func (s *MemoryStore) ReleaseLock(_ context.Context, xpubVan string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, xpubVan)
	return nil
}

// Recover implements Store.
func (s *MemoryStore) Recover(ctx context.Context, maxRetries int) (int, error) {
	s.mu.Lock()
	var toRecover []*Watcher
	for _, w := range s.watchers {
		if w.Status == WatcherWatching {
			cp := *w
			toRecover = append(toRecover, &cp)
		}
	}
	s.mu.Unlock()

	for _, w := range toRecover {
		_, err := s.Enqueue(ctx, EnqueueParams{
			Wallet: w.Wallet,
			Trigger: job.Trigger{
				Kind:        job.Recovery,
				RecipientID: w.RecipientID,
				AssetID:     w.AssetID,
			},
			MaxRetries: maxRetries,
		})
		if err != nil {
			return 0, err
		}
	}
	return len(toRecover), nil
}
