// Package orchestrator implements the single supervisory task (spec §4.2):
// it polls the Store for wallets needing work, spawns a bounded pool of
// Wallet Workers to service them, and reaps workers that have self-exited
// on idle timeout. It never takes a wallet lock and never calls the
// external API itself — all of that happens inside the workers it spawns.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rgbtools/refreshd/apiclient"
	"github.com/rgbtools/refreshd/build"
	"github.com/rgbtools/refreshd/job"
	"github.com/rgbtools/refreshd/jobhandler"
	"github.com/rgbtools/refreshd/store"
	"github.com/rgbtools/refreshd/transferwatcher"
	"github.com/rgbtools/refreshd/walletlock"
	"github.com/rgbtools/refreshd/walletworker"
)

var log = build.NewPkgLogger("ORCH")

// Config parameterizes an Orchestrator with the spec §6 values it needs.
type Config struct {
	PollInterval       time.Duration
	MaxWalletProcesses int
	DrainTimeout       time.Duration
	EnableRecovery     bool

	WorkerConfig  walletworker.Config
	JobConfig     jobhandler.Config
	WatcherConfig transferwatcher.Config
	LockTTL       time.Duration

	// Metrics is optional; when set, the orchestrator and everything it
	// constructs report through it (SPEC_FULL.md §11).
	Metrics *build.Metrics
}

// Orchestrator is the single task that decides which wallets get a Wallet
// Worker. It uses an errgroup.Group, scaled to the teacher's single-task
// SPVSyncer idiom to the many-task case: one goroutine per supervised
// wallet, joined on Stop.
type Orchestrator struct {
	cfg   Config
	store store.Store
	api   apiclient.WalletAPI

	mtx     sync.Mutex
	workers map[string]*walletworker.Worker // keyed by xpub_van
	eg      *errgroup.Group
	egCtx   context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs an Orchestrator. It does not start running until Start is
// called.
func New(cfg Config, s store.Store, api apiclient.WalletAPI) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   s,
		api:     api,
		workers: make(map[string]*walletworker.Worker),
		done:    make(chan struct{}),
	}
}

// Start runs the startup sequence (spec §4.2: recover, then loop) and
// launches the poll loop in a new goroutine. Migrations are applied by the
// Store constructor before Start is ever reached (spec §4.2, "initialize
// schema").
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.cfg.EnableRecovery {
		n, err := o.store.Recover(ctx, o.cfg.JobConfig.MaxRetries)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Infof("recovered %d watcher(s) into recovery jobs", n)
		}
	}

	egCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(egCtx)

	o.mtx.Lock()
	o.eg = eg
	o.egCtx = egCtx
	o.cancel = cancel
	o.mtx.Unlock()

	go func() {
		defer close(o.done)
		o.loop(egCtx)
	}()

	return nil
}

// Stop propagates cancellation to the poll loop and every supervised
// worker, then blocks up to DrainTimeout for them to exit (spec §4.2,
// "Shutdown").
func (o *Orchestrator) Stop() {
	o.mtx.Lock()
	cancel := o.cancel
	o.mtx.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	drained := make(chan struct{})
	go func() {
		<-o.done
		o.mtx.Lock()
		eg := o.eg
		o.mtx.Unlock()
		if eg != nil {
			_ = eg.Wait()
		}
		close(drained)
	}()

	select {
	case <-drained:
		log.Infof("all supervised wallet workers drained cleanly")
	case <-time.After(o.cfg.DrainTimeout):
		log.Warnf("drain window of %s elapsed with workers still running", o.cfg.DrainTimeout)
	}
}

// loop is the poll loop body (spec §4.2 steps 1-4).
func (o *Orchestrator) loop(ctx context.Context) {
	log.Debugf("orchestrator starting, poll interval %s, cap %d", o.cfg.PollInterval, o.cfg.MaxWalletProcesses)
	defer log.Debugf("orchestrator exiting")

	for {
		o.reap()

		wallets, err := o.store.ListWalletsNeedingWork(ctx)
		if err != nil {
			log.Errorf("list wallets needing work failed: %v", err)
		} else {
			o.spawnMissing(ctx, wallets)
		}

		o.reportActiveWatchers(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// reportActiveWatchers reports the store-wide count of watching watchers,
// if Metrics is configured. This is a metrics-only read and does not
// affect orchestration decisions.
func (o *Orchestrator) reportActiveWatchers(ctx context.Context) {
	if o.cfg.Metrics == nil {
		return
	}
	watchers, err := o.store.ListWatchers(ctx)
	if err != nil {
		log.Errorf("list watchers for metrics failed: %v", err)
		return
	}
	active := 0
	for _, w := range watchers {
		if w.Status == store.WatcherWatching {
			active++
		}
	}
	o.cfg.Metrics.WatchersActive.Set(float64(active))
}

// reap removes supervision-registry entries whose worker has already
// exited (spec §4.2 step 1).
func (o *Orchestrator) reap() {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	for xpubVan, w := range o.workers {
		select {
		case <-w.Done():
			delete(o.workers, xpubVan)
			log.Debugf("wallet %s: reaped exited worker", xpubVan)
		default:
		}
	}
	o.reportRegistrySizeLocked()
}

// spawnMissing spawns a Wallet Worker for every wallet in wallets that
// doesn't already have a live one, up to MaxWalletProcesses (spec §4.2
// step 3). Wallets skipped because the registry is at capacity are
// reconsidered on the next tick, not retried within this one.
func (o *Orchestrator) spawnMissing(ctx context.Context, wallets []job.Wallet) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	for _, wallet := range wallets {
		if _, ok := o.workers[wallet.XpubVan]; ok {
			continue
		}
		if len(o.workers) >= o.cfg.MaxWalletProcesses {
			log.Debugf("wallet %s: skipped, registry at cap %d", wallet.XpubVan, o.cfg.MaxWalletProcesses)
			continue
		}

		locker := walletlock.New(o.store, o.cfg.LockTTL).WithMetrics(o.cfg.Metrics)
		handler := jobhandler.New(o.cfg.JobConfig, o.store, o.api, locker).WithMetrics(o.cfg.Metrics)
		tw := transferwatcher.New(o.cfg.WatcherConfig, o.store, o.api, locker)
		worker := walletworker.New(o.cfg.WorkerConfig, wallet, o.store, handler, tw)

		o.workers[wallet.XpubVan] = worker
		o.eg.Go(func() error {
			worker.Start(ctx)
			worker.WaitForShutdown()
			return nil
		})
		log.Debugf("wallet %s: spawned worker (registry size %d/%d)",
			wallet.XpubVan, len(o.workers), o.cfg.MaxWalletProcesses)
	}
	o.reportRegistrySizeLocked()
}

// reportRegistrySizeLocked reports the current registry size to Metrics, if
// set. Callers must already hold o.mtx.
func (o *Orchestrator) reportRegistrySizeLocked() {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.WalletWorkers.Set(float64(len(o.workers)))
	}
}

// RegistrySize reports how many wallets currently have a live supervised
// worker, for tests and operator visibility.
func (o *Orchestrator) RegistrySize() int {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	return len(o.workers)
}
