// Package transferwatcher implements the per-transfer tick (spec §4.5): one
// invocation advances a single watcher row by at most one step. State lives
// entirely in the watcher row; there is no in-process loop here — the
// Wallet Worker supplies the cadence by calling Tick once per its own loop
// iteration (spec §4.3 step 2).
package transferwatcher

import (
	"context"
	"time"

	"github.com/rgbtools/refreshd/apiclient"
	"github.com/rgbtools/refreshd/build"
	"github.com/rgbtools/refreshd/store"
	"github.com/rgbtools/refreshd/transferpolicy"
	"github.com/rgbtools/refreshd/walletlock"
)

var log = build.NewPkgLogger("XFRW")

// Config parameterizes a Watcher with the spec §6 values it needs.
type Config struct {
	DurationRcvTransfer time.Duration
}

// Watcher advances refresh_watchers rows one tick at a time.
type Watcher struct {
	cfg    Config
	store  store.Store
	api    apiclient.WalletAPI
	locker *walletlock.Locker
}

// New constructs a Watcher.
func New(cfg Config, s store.Store, api apiclient.WalletAPI, locker *walletlock.Locker) *Watcher {
	return &Watcher{cfg: cfg, store: s, api: api, locker: locker}
}

// Tick advances w by one step (spec §4.5). It never blocks beyond one
// lock-gated refresh pass, and never panics on a missing transfer — a
// not-yet-visible transfer simply means no state change this tick. The
// returned bool reports whether the tick performed real work (an expiry or
// a lock-gated refresh), as opposed to skipping due to lock contention —
// the Wallet Worker uses this to decide whether to reset its idle timer
// (spec §4.3 step 2).
func (tw *Watcher) Tick(ctx context.Context, w *store.Watcher) (bool, error) {
	now := time.Now()

	if w.ExpiresAt.Before(now) {
		return true, tw.expire(ctx, w)
	}

	acquired, err := tw.locker.WithLock(ctx, w.Wallet.XpubVan, func(ctx context.Context) error {
		return tw.refreshAndAdvance(ctx, w)
	})
	return acquired, err
}

// expire implements spec §4.5 step 1: an expired watcher transitions to
// expired and, if the transfer it was tracking is still stuck waiting on
// the counterparty and meets the cancellation predicate, is explicitly
// cancelled. Best-effort: the transfer may not be resolvable without a
// refresh, in which case only the watcher's own expiry is recorded.
func (tw *Watcher) expire(ctx context.Context, w *store.Watcher) error {
	if w.AssetID != "" {
		transfers, err := tw.api.ListTransfers(ctx, w.Wallet, w.AssetID)
		if err == nil {
			for _, t := range transfers {
				if t.RecipientID != w.RecipientID {
					continue
				}
				if transferpolicy.Cancellable(t, tw.cfg.DurationRcvTransfer, time.Now()) {
					if err := tw.api.FailTransfers(ctx, w.Wallet, t.BatchTransferIdx); err != nil {
						log.Warnf("watcher %s/%s: failtransfers on expiry failed: %v",
							w.Wallet.XpubVan, w.RecipientID, err)
					}
				}
				break
			}
		}
	}

	expired := store.WatcherExpired
	return tw.store.UpdateWatcher(ctx, w.Wallet.XpubVan, w.RecipientID, store.WatcherFields{
		Status: &expired,
	})
}

// refreshAndAdvance implements spec §4.5 steps 3-5, run under the wallet
// lock.
func (tw *Watcher) refreshAndAdvance(ctx context.Context, w *store.Watcher) error {
	if err := tw.api.Refresh(ctx, w.Wallet); err != nil {
		return err
	}

	now := time.Now()
	fields := store.WatcherFields{
		IncrementRefresh: true,
		LastRefresh:      &now,
	}

	transfer, assetID, found, err := tw.findTransfer(ctx, w)
	if err != nil {
		return err
	}
	if assetID != "" && assetID != w.AssetID {
		fields.AssetID = &assetID
	}

	if !found {
		return tw.store.UpdateWatcher(ctx, w.Wallet.XpubVan, w.RecipientID, fields)
	}

	if transfer.Status.Terminal() {
		terminal := toWatcherStatus(transfer.Status)
		fields.Status = &terminal
		if err := tw.store.UpdateWatcher(ctx, w.Wallet.XpubVan, w.RecipientID, fields); err != nil {
			return err
		}
		return nil
	}

	if transferpolicy.Cancellable(transfer, tw.cfg.DurationRcvTransfer, now) {
		if err := tw.api.FailTransfers(ctx, w.Wallet, transfer.BatchTransferIdx); err != nil {
			log.Warnf("watcher %s/%s: failtransfers failed (will re-observe next tick): %v",
				w.Wallet.XpubVan, w.RecipientID, err)
		} else {
			expiredStatus := store.WatcherExpired
			fields.Status = &expiredStatus
		}
	}

	return tw.store.UpdateWatcher(ctx, w.Wallet.XpubVan, w.RecipientID, fields)
}

// findTransfer locates the tracked transfer. If the watcher already knows
// its asset ID, only that asset's transfer list and the detached list are
// consulted; otherwise every known asset is searched (spec §4.5 step 4).
func (tw *Watcher) findTransfer(ctx context.Context, w *store.Watcher) (transfer apiclient.Transfer, assetID string, found bool, err error) {
	detached, err := tw.api.ListTransfers(ctx, w.Wallet, "")
	if err != nil {
		return apiclient.Transfer{}, "", false, err
	}
	if t, ok := findByRecipient(detached, w.RecipientID); ok {
		return t, "", true, nil
	}

	if w.AssetID != "" {
		transfers, err := tw.api.ListTransfers(ctx, w.Wallet, w.AssetID)
		if err != nil {
			return apiclient.Transfer{}, "", false, err
		}
		if t, ok := findByRecipient(transfers, w.RecipientID); ok {
			return t, w.AssetID, true, nil
		}
		return apiclient.Transfer{}, "", false, nil
	}

	assets, err := tw.api.ListAssets(ctx, w.Wallet)
	if err != nil {
		return apiclient.Transfer{}, "", false, err
	}
	for _, asset := range assets {
		transfers, err := tw.api.ListTransfers(ctx, w.Wallet, asset.AssetID)
		if err != nil {
			return apiclient.Transfer{}, "", false, err
		}
		if t, ok := findByRecipient(transfers, w.RecipientID); ok {
			return t, asset.AssetID, true, nil
		}
	}
	return apiclient.Transfer{}, "", false, nil
}

func findByRecipient(transfers []apiclient.Transfer, recipientID string) (apiclient.Transfer, bool) {
	for _, t := range transfers {
		if t.RecipientID == recipientID {
			return t, true
		}
	}
	return apiclient.Transfer{}, false
}

func toWatcherStatus(s apiclient.TransferStatus) store.WatcherStatus {
	switch s {
	case apiclient.StatusSettled:
		return store.WatcherSettled
	case apiclient.StatusFailed:
		return store.WatcherFailed
	case apiclient.StatusExpired:
		return store.WatcherExpired
	default:
		return store.WatcherExpired
	}
}
