// Package jobhandler implements the unified job dispatch and refresh
// procedure (spec §4.4): given one dequeued job, it performs the side
// effects its trigger requires and reports completion back to the Store.
package jobhandler

import (
	"context"
	"math/rand"
	"time"

	"github.com/rgbtools/refreshd/apiclient"
	"github.com/rgbtools/refreshd/build"
	"github.com/rgbtools/refreshd/job"
	"github.com/rgbtools/refreshd/store"
	"github.com/rgbtools/refreshd/transferpolicy"
	"github.com/rgbtools/refreshd/walletlock"
)

var log = build.NewPkgLogger("JOBH")

// Config parameterizes a Handler with the spec §6 values it needs.
type Config struct {
	MaxRetries          int
	RetryDelayBase      time.Duration
	WatcherTTL          time.Duration
	InvoiceWatcherTTL   time.Duration
	DurationRcvTransfer time.Duration
}

// Handler performs the side effects of one job (spec §4.4). A single
// invocation is one refresh pass; it never long-runs a loop.
type Handler struct {
	cfg     Config
	store   store.Store
	api     apiclient.WalletAPI
	locker  *walletlock.Locker
	metrics *build.Metrics
}

// New constructs a Handler.
func New(cfg Config, s store.Store, api apiclient.WalletAPI, locker *walletlock.Locker) *Handler {
	return &Handler{cfg: cfg, store: s, api: api, locker: locker}
}

// WithMetrics attaches m so completed jobs are counted by outcome; it
// returns h for chaining and is a no-op when m is nil.
func (h *Handler) WithMetrics(m *build.Metrics) *Handler {
	h.metrics = m
	return h
}

// Handle dispatches j according to its trigger and reports the outcome to
// the Store via CompleteJob. The returned error is for logging only: job
// failures are recorded as Store state, not propagated to the caller (spec
// §7, "orchestration errors never propagate").
func (h *Handler) Handle(ctx context.Context, j *job.Job) error {
	var err error
	if j.Trigger.Kind == job.InvoiceCreated && j.Trigger.AssetID == "" {
		err = h.handleInvoiceWithoutAsset(ctx, j)
	} else {
		err = h.refreshWallet(ctx, j)
	}

	completeErr := h.classifyTerminal(ctx, j, err)
	if completeErr := h.store.CompleteJob(ctx, store.CompleteParams{JobID: j.ID, Err: completeErr}); completeErr != nil {
		log.Errorf("job %s: failed to record completion: %v", j.ID, completeErr)
		return completeErr
	}

	if h.metrics != nil {
		outcome := "completed"
		if completeErr != nil {
			outcome = "failed"
		}
		h.metrics.JobsProcessed.WithLabelValues(outcome).Inc()
	}

	return err
}

// classifyTerminal decides, given the error from dispatch and the job's
// retry budget, whether the job should be recorded as failed (nil error
// means success). Transient errors retry with backoff up to MaxRetries
// before becoming a terminal failure (spec §7).
func (h *Handler) classifyTerminal(ctx context.Context, j *job.Job, err error) error {
	if err == nil {
		return nil
	}
	if !apiclient.IsTransient(err) {
		// Permanent/validation failure: no retry.
		return err
	}

	attempts, incErr := h.store.IncrementAttempts(ctx, j.ID)
	if incErr != nil {
		log.Errorf("job %s: failed to record attempt: %v", j.ID, incErr)
		return err
	}
	if attempts > h.cfg.MaxRetries {
		return err
	}

	delay := backoff(h.cfg.RetryDelayBase, attempts)
	log.Warnf("job %s: transient error (attempt %d/%d), backing off %s: %v",
		j.ID, attempts, h.cfg.MaxRetries, delay, err)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	// Re-run the dispatch once more within this same invocation; the
	// wallet worker already claimed this job, so retries happen inline
	// rather than by re-enqueuing.
	var retryErr error
	if j.Trigger.Kind == job.InvoiceCreated && j.Trigger.AssetID == "" {
		retryErr = h.handleInvoiceWithoutAsset(ctx, j)
	} else {
		retryErr = h.refreshWallet(ctx, j)
	}
	return h.classifyTerminal(ctx, j, retryErr)
}

// backoff computes RETRY_DELAY_BASE * 2^attempts with up to 20% jitter
// (SPEC_FULL.md §12).
func backoff(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 0; i < attempts && i < 20; i++ {
		d *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}

// handleInvoiceWithoutAsset implements spec §4.4's dispatch rule for
// invoice_created jobs that have not pre-committed an asset: create a
// short-lived watcher and return without refreshing, since the transfer may
// not yet exist on any listed asset.
func (h *Handler) handleInvoiceWithoutAsset(ctx context.Context, j *job.Job) error {
	_, err := h.store.CreateWatcher(ctx, j.Wallet, j.Trigger.RecipientID, "", h.cfg.InvoiceWatcherTTL)
	return err
}

// refreshWallet implements the unified refresh procedure (spec §4.4 steps
// 1-8).
func (h *Handler) refreshWallet(ctx context.Context, j *job.Job) error {
	var procErr error
	acquired, err := h.locker.WithLock(ctx, j.Wallet.XpubVan, func(ctx context.Context) error {
		procErr = h.runRefreshPass(ctx, j.Wallet)
		return procErr
	})
	if err != nil {
		return err
	}
	if !acquired {
		// Lock contention is not an error; a later tick retries.
		return nil
	}
	return procErr
}

func (h *Handler) runRefreshPass(ctx context.Context, wallet job.Wallet) error {
	if err := h.api.Refresh(ctx, wallet); err != nil {
		return err
	}

	detached, err := h.api.ListTransfers(ctx, wallet, "")
	if err != nil {
		return err
	}

	assets, err := h.api.ListAssets(ctx, wallet)
	if err != nil {
		return err
	}

	allTransfers := append([]apiclient.Transfer{}, detached...)
	for _, asset := range assets {
		transfers, err := h.api.ListTransfers(ctx, wallet, asset.AssetID)
		if err != nil {
			return err
		}
		allTransfers = append(allTransfers, transfers...)
	}

	now := time.Now()
	for _, t := range allTransfers {
		if !t.Status.Terminal() {
			if _, err := h.store.CreateWatcher(ctx, wallet, t.RecipientID, t.AssetID, h.cfg.WatcherTTL); err != nil {
				log.Errorf("wallet %s: failed to create watcher for %s: %v", wallet.XpubVan, t.RecipientID, err)
			}
		}

		if transferpolicy.Cancellable(t, h.cfg.DurationRcvTransfer, now) {
			if err := h.api.FailTransfers(ctx, wallet, t.BatchTransferIdx); err != nil {
				log.Warnf("wallet %s: failtransfers for batch %d failed (will re-observe next pass): %v",
					wallet.XpubVan, t.BatchTransferIdx, err)
			}
		}
	}

	return nil
}
