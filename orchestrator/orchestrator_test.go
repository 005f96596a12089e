package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/rgbtools/refreshd/apiclient/apiclienttest"
	"github.com/rgbtools/refreshd/job"
	"github.com/rgbtools/refreshd/jobhandler"
	"github.com/rgbtools/refreshd/orchestrator"
	"github.com/rgbtools/refreshd/store"
	"github.com/rgbtools/refreshd/transferwatcher"
	"github.com/rgbtools/refreshd/walletworker"
)

func testWallet(xpubVan string) job.Wallet {
	return job.Wallet{XpubVan: xpubVan, XpubCol: xpubVan + "-col", MasterFingerprint: "fp-" + xpubVan}
}

func newOrchestrator(maxWalletProcesses int) (*orchestrator.Orchestrator, *store.MemoryStore) {
	s := store.NewMemoryStore()
	api := apiclienttest.NewFake()
	o := orchestrator.New(orchestrator.Config{
		PollInterval:       10 * time.Millisecond,
		MaxWalletProcesses: maxWalletProcesses,
		DrainTimeout:        time.Second,
		EnableRecovery:      true,
		LockTTL:             30 * time.Second,
		WorkerConfig: walletworker.Config{
			PollInterval: 10 * time.Millisecond,
			IdleTimeout:  30 * time.Millisecond,
		},
		JobConfig: jobhandler.Config{
			MaxRetries:          3,
			RetryDelayBase:      time.Millisecond,
			WatcherTTL:          time.Hour,
			InvoiceWatcherTTL:   time.Minute,
			DurationRcvTransfer: time.Hour,
		},
		WatcherConfig: transferwatcher.Config{DurationRcvTransfer: time.Hour},
	}, s, api)
	return o, s
}

func TestOrchestratorEnforcesWalletProcessCap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, s := newOrchestrator(2)

	for i := 0; i < 5; i++ {
		w := testWallet("van" + string(rune('A'+i)))
		if _, err := s.Enqueue(ctx, store.EnqueueParams{Wallet: w, Trigger: job.Trigger{Kind: job.Sync}}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := o.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if o.RegistrySize() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if size := o.RegistrySize(); size > 2 {
		t.Fatalf("expected the registry to never exceed the configured cap of 2, saw %d", size)
	}
}

func TestOrchestratorRecoversWatchingWatchersOnStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, s := newOrchestrator(10)
	w := testWallet("vanR")
	if _, err := s.CreateWatcher(ctx, w, "R1", "A1", time.Hour); err != nil {
		t.Fatalf("create watcher: %v", err)
	}

	if err := o.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	wallets, err := s.ListWalletsNeedingWork(ctx)
	if err != nil {
		t.Fatalf("list wallets: %v", err)
	}
	found := false
	for _, ww := range wallets {
		if ww.XpubVan == "vanR" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the watching watcher's wallet to still need work after recovery")
	}

	j, err := s.DequeueForWallet(ctx, "vanR")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if j == nil || j.Trigger.Kind != job.Recovery {
		t.Fatalf("expected a recovery job for vanR, got %+v", j)
	}
	if j.MaxRetries != 3 {
		t.Fatalf("expected the recovery job to carry the configured JobConfig.MaxRetries of 3, got %d", j.MaxRetries)
	}
}
