package walletworker_test

import (
	"context"
	"testing"
	"time"

	"github.com/rgbtools/refreshd/apiclient"
	"github.com/rgbtools/refreshd/apiclient/apiclienttest"
	"github.com/rgbtools/refreshd/job"
	"github.com/rgbtools/refreshd/jobhandler"
	"github.com/rgbtools/refreshd/store"
	"github.com/rgbtools/refreshd/transferwatcher"
	"github.com/rgbtools/refreshd/walletlock"
	"github.com/rgbtools/refreshd/walletworker"
)

func testWallet(xpubVan string) job.Wallet {
	return job.Wallet{XpubVan: xpubVan, XpubCol: xpubVan + "-col", MasterFingerprint: "fp-" + xpubVan}
}

func newWorker(cfg walletworker.Config, w job.Wallet, s store.Store, api apiclient.WalletAPI) *walletworker.Worker {
	locker := walletlock.New(s, 30*time.Second)
	handler := jobhandler.New(jobhandler.Config{
		MaxRetries:          3,
		RetryDelayBase:      time.Millisecond,
		WatcherTTL:          time.Hour,
		InvoiceWatcherTTL:   time.Minute,
		DurationRcvTransfer: time.Hour,
	}, s, api, locker)
	tw := transferwatcher.New(transferwatcher.Config{DurationRcvTransfer: time.Hour}, s, api, locker)
	return walletworker.New(cfg, w, s, handler, tw)
}

func TestWorkerSelfTerminatesOnIdleTimeout(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	api := apiclienttest.NewFake()
	w := testWallet("van1")

	worker := newWorker(walletworker.Config{
		PollInterval: 5 * time.Millisecond,
		IdleTimeout:  20 * time.Millisecond,
	}, w, s, api)

	worker.Start(ctx)

	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("expected the worker to self-terminate after its idle timeout")
	}
	worker.WaitForShutdown()
}

func TestWorkerDrainsPendingJobsBeforeIdling(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	api := apiclienttest.NewFake()
	w := testWallet("van2")

	for i := 0; i < 3; i++ {
		if _, err := s.Enqueue(ctx, store.EnqueueParams{
			Wallet:  w,
			Trigger: job.Trigger{Kind: job.Sync},
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	worker := newWorker(walletworker.Config{
		PollInterval: 5 * time.Millisecond,
		IdleTimeout:  30 * time.Millisecond,
	}, w, s, api)

	worker.Start(ctx)
	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("expected the worker to eventually exit")
	}
	worker.WaitForShutdown()

	if api.RefreshCount() != 3 {
		t.Fatalf("expected all 3 sync jobs to be drained before the worker idled out, got %d refresh calls", api.RefreshCount())
	}
}

func TestWorkerStopCancelsPromptly(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	api := apiclienttest.NewFake()
	w := testWallet("van3")

	worker := newWorker(walletworker.Config{
		PollInterval: time.Hour,
		IdleTimeout:  time.Hour,
	}, w, s, api)

	worker.Start(ctx)
	worker.Stop()

	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Stop to cause prompt termination even with a long poll interval")
	}
	worker.WaitForShutdown()
}
