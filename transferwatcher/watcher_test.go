package transferwatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/rgbtools/refreshd/apiclient"
	"github.com/rgbtools/refreshd/apiclient/apiclienttest"
	"github.com/rgbtools/refreshd/job"
	"github.com/rgbtools/refreshd/store"
	"github.com/rgbtools/refreshd/transferwatcher"
	"github.com/rgbtools/refreshd/walletlock"
)

func testWallet(xpubVan string) job.Wallet {
	return job.Wallet{XpubVan: xpubVan, XpubCol: xpubVan + "-col", MasterFingerprint: "fp-" + xpubVan}
}

func newWatcher(s store.Store, api apiclient.WalletAPI) *transferwatcher.Watcher {
	locker := walletlock.New(s, 30*time.Second)
	return transferwatcher.New(transferwatcher.Config{DurationRcvTransfer: time.Hour}, s, api, locker)
}

func TestTickExpiresPastDueWatcherAndCancelsStuckTransfer(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	api := apiclienttest.NewFake()
	w := testWallet("van1")

	watcher, err := s.CreateWatcher(ctx, w, "R1", "A1", -time.Second)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}

	pastExp := time.Now().Add(-10 * time.Second)
	api.ByAsset["A1"] = []apiclient.Transfer{
		{RecipientID: "R1", AssetID: "A1", Status: apiclient.StatusWaitingCounterparty,
			Kind: apiclient.KindReceiveBlind, Expiration: &pastExp, BatchTransferIdx: 7},
	}

	tw := newWatcher(s, api)
	didWork, err := tw.Tick(ctx, watcher)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !didWork {
		t.Fatal("expected an expiry tick to report work done")
	}

	if len(api.FailCalls) != 1 || api.FailCalls[0] != 7 {
		t.Fatalf("expected failtransfers(7) on expiry, got %+v", api.FailCalls)
	}

	active, err := s.ListActiveWatchers(ctx, w.XpubVan)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected the expired watcher to no longer be active, got %+v", active)
	}
}

func TestTickDiscoversLateBoundAsset(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	api := apiclienttest.NewFake()
	w := testWallet("van2")

	watcher, err := s.CreateWatcher(ctx, w, "R2", "", time.Hour)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}

	api.Assets = []apiclient.Asset{{AssetID: "A2"}}
	api.ByAsset["A2"] = []apiclient.Transfer{
		{RecipientID: "R2", AssetID: "A2", Status: apiclient.StatusWaitingCounterparty},
	}

	tw := newWatcher(s, api)
	didWork, err := tw.Tick(ctx, watcher)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !didWork {
		t.Fatal("expected a lock-acquired refresh pass to report work done")
	}

	active, err := s.ListActiveWatchers(ctx, w.XpubVan)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].AssetID != "A2" {
		t.Fatalf("expected the watcher to learn asset A2, got %+v", active)
	}
	if active[0].RefreshCount != 1 {
		t.Fatalf("expected refresh count to be bumped, got %d", active[0].RefreshCount)
	}
}

func TestTickTransitionsToSettledOnTerminalStatus(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	api := apiclienttest.NewFake()
	w := testWallet("van3")

	watcher, err := s.CreateWatcher(ctx, w, "R3", "A3", time.Hour)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}

	api.ByAsset["A3"] = []apiclient.Transfer{
		{RecipientID: "R3", AssetID: "A3", Status: apiclient.StatusSettled},
	}

	tw := newWatcher(s, api)
	if _, err := tw.Tick(ctx, watcher); err != nil {
		t.Fatalf("tick: %v", err)
	}

	active, err := s.ListActiveWatchers(ctx, w.XpubVan)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected the settled watcher to no longer be active, got %+v", active)
	}
}

func TestTickSkipsWhenLockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	api := apiclienttest.NewFake()
	w := testWallet("van4")

	watcher, err := s.CreateWatcher(ctx, w, "R4", "A4", time.Hour)
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}

	ok, err := s.AcquireLock(ctx, w.XpubVan, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire lock: ok=%v err=%v", ok, err)
	}

	tw := newWatcher(s, api)
	didWork, err := tw.Tick(ctx, watcher)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if didWork {
		t.Fatal("expected a lock-contended tick to report no work done")
	}
	if api.RefreshCount() != 0 {
		t.Fatal("expected no refresh call while the lock is held elsewhere")
	}
}
