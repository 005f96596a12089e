// Package walletworker implements the per-wallet task (spec §4.3): it
// sequentially drains one wallet's pending jobs and ticks its active
// watchers, terminating on idle timeout. Its Start/Stop/WaitForShutdown
// shape follows the teacher's lnwallet/dcrwallet SPVSyncer: a
// sync.WaitGroup-guarded goroutine driven by a cancellable context.
package walletworker

import (
	"context"
	"sync"
	"time"

	"github.com/rgbtools/refreshd/build"
	"github.com/rgbtools/refreshd/job"
	"github.com/rgbtools/refreshd/jobhandler"
	"github.com/rgbtools/refreshd/store"
	"github.com/rgbtools/refreshd/transferwatcher"
)

var log = build.NewPkgLogger("WWRK")

// Config parameterizes a Worker with the spec §6 values it needs.
type Config struct {
	PollInterval time.Duration
	IdleTimeout  time.Duration
}

// Worker drains jobs and ticks watchers for exactly one wallet. Jobs and
// watcher ticks are serialized inside one Worker: it is itself the
// concurrency-control primitive for this wallet at the task level,
// reinforced by the wallet lock for cross-process safety (spec §4.3).
type Worker struct {
	cfg     Config
	wallet  job.Wallet
	store   store.Store
	handler *jobhandler.Handler
	watcher *transferwatcher.Watcher

	wg     sync.WaitGroup
	mtx    sync.Mutex
	cancel func()
	done   chan struct{}
}

// New constructs a Worker for a single wallet. It does not start running
// until Start is called.
func New(cfg Config, wallet job.Wallet, s store.Store, handler *jobhandler.Handler, watcher *transferwatcher.Watcher) *Worker {
	return &Worker{
		cfg:     cfg,
		wallet:  wallet,
		store:   s,
		handler: handler,
		watcher: watcher,
		done:    make(chan struct{}),
	}
}

// Start launches the worker's main loop in a new goroutine.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mtx.Lock()
	w.cancel = cancel
	w.mtx.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(w.done)
		w.run(ctx)
	}()
}

// Stop signals the worker to exit; it does not wait for the goroutine to
// finish. Use WaitForShutdown for that.
func (w *Worker) Stop() {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

// WaitForShutdown blocks until the worker's goroutine has exited, either
// because Stop was called or because it self-terminated on idle timeout.
func (w *Worker) WaitForShutdown() {
	w.wg.Wait()
}

// Done returns a channel that is closed when the worker's goroutine exits,
// used by the orchestrator's supervision registry to detect self-exits
// without blocking (spec §4.2 step 1, "reap entries whose worker task has
// exited").
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run(ctx context.Context) {
	log.Debugf("wallet %s: worker starting", w.wallet.XpubVan)
	defer log.Debugf("wallet %s: worker exiting", w.wallet.XpubVan)

	lastActivity := time.Now()

	for {
		didWork := w.runOnce(ctx)
		if didWork {
			lastActivity = time.Now()
		}

		if time.Since(lastActivity) > w.cfg.IdleTimeout {
			log.Debugf("wallet %s: idle for %s, exiting", w.wallet.XpubVan, w.cfg.IdleTimeout)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// runOnce performs one dequeue-and-dispatch plus one tick of every active
// watcher (spec §4.3 steps 1-2), returning whether any work was actually
// performed so the caller can reset its idle timer.
func (w *Worker) runOnce(ctx context.Context) bool {
	didWork := false

	j, err := w.store.DequeueForWallet(ctx, w.wallet.XpubVan)
	if err != nil {
		log.Errorf("wallet %s: dequeue failed: %v", w.wallet.XpubVan, err)
	} else if j != nil {
		didWork = true
		if err := w.handler.Handle(ctx, j); err != nil {
			log.Errorf("wallet %s: job %s failed: %v", w.wallet.XpubVan, j.ID, err)
		}
	}

	watchers, err := w.store.ListActiveWatchers(ctx, w.wallet.XpubVan)
	if err != nil {
		log.Errorf("wallet %s: list watchers failed: %v", w.wallet.XpubVan, err)
		return didWork
	}

	for _, watcher := range watchers {
		performedWork, err := w.watcher.Tick(ctx, watcher)
		if performedWork {
			didWork = true
		}
		if err != nil {
			log.Errorf("wallet %s: watcher %s tick failed: %v", w.wallet.XpubVan, watcher.RecipientID, err)
		}
	}

	return didWork
}
