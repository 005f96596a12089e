// Package apiclienttest provides an in-memory apiclient.WalletAPI fake used
// by jobhandler and transferwatcher tests, analogous to the teacher's
// wtmock package backing wtclient.DB in watchtower tests.
package apiclienttest

import (
	"context"
	"sync"

	"github.com/rgbtools/refreshd/apiclient"
	"github.com/rgbtools/refreshd/job"
)

// Fake is a scriptable apiclient.WalletAPI.
type Fake struct {
	mu sync.Mutex

	Assets    []apiclient.Asset
	Detached  []apiclient.Transfer
	ByAsset   map[string][]apiclient.Transfer
	RefreshN  int
	FailCalls []int

	// ListTransfersErr, if set, is returned by every ListTransfers call
	// instead of the scripted response, for exercising error-propagation
	// paths in callers.
	ListTransfersErr error
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{ByAsset: make(map[string][]apiclient.Transfer)}
}

func (f *Fake) Refresh(_ context.Context, _ job.Wallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefreshN++
	return nil
}

func (f *Fake) ListAssets(_ context.Context, _ job.Wallet) ([]apiclient.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiclient.Asset{}, f.Assets...), nil
}

func (f *Fake) ListTransfers(_ context.Context, _ job.Wallet, assetID string) ([]apiclient.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListTransfersErr != nil {
		return nil, f.ListTransfersErr
	}
	if assetID == "" {
		return append([]apiclient.Transfer{}, f.Detached...), nil
	}
	return append([]apiclient.Transfer{}, f.ByAsset[assetID]...), nil
}

func (f *Fake) FailTransfers(_ context.Context, _ job.Wallet, batchTransferIdx int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailCalls = append(f.FailCalls, batchTransferIdx)
	return nil
}

// RefreshCount returns how many times Refresh was called so far.
func (f *Fake) RefreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RefreshN
}
