// Package apiclient is the outbound HTTP client for the four wallet-node
// endpoints the orchestrator drives (spec §6): refresh, listassets,
// listtransfers, and failtransfers. The HTTP API itself, and everything
// behind it, is out of scope (spec §1); this package only speaks to it.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rgbtools/refreshd/build"
	"github.com/rgbtools/refreshd/job"
)

var log = build.NewPkgLogger("APIC")

// WalletAPI is the subset of Client's methods that jobhandler and
// transferwatcher depend on, mirroring the teacher's pattern of depending
// on a narrow interface (e.g. lnwallet.WalletController) rather than a
// concrete client so tests can substitute a fake.
type WalletAPI interface {
	Refresh(ctx context.Context, wallet job.Wallet) error
	ListAssets(ctx context.Context, wallet job.Wallet) ([]Asset, error)
	ListTransfers(ctx context.Context, wallet job.Wallet, assetID string) ([]Transfer, error)
	FailTransfers(ctx context.Context, wallet job.Wallet, batchTransferIdx int) error
}

var _ WalletAPI = (*Client)(nil)

// TransientError wraps an error the caller should retry (HTTP timeouts,
// 5xx responses) per spec §7's "Transient external" taxonomy.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a
// TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return asTransient(err, &t)
}

func asTransient(err error, target **TransientError) bool {
	for err != nil {
		if t, ok := err.(*TransientError); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// RequestsPerSecond bounds outbound call rate against the wallet node;
	// zero disables limiting.
	RequestsPerSecond float64
}

// Client is a thin wrapper over net/http that attaches the wallet
// identification headers (spec §6) to every call and classifies failures as
// transient or permanent.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

func (c *Client) do(ctx context.Context, path string, wallet job.Wallet, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xpub-van", wallet.XpubVan)
	req.Header.Set("xpub-col", wallet.XpubCol)
	req.Header.Set("master-fingerprint", wallet.MasterFingerprint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("%s: %w", path, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("%s: read response: %w", path, err)}
	}

	if resp.StatusCode >= 500 {
		return &TransientError{Err: fmt.Errorf("%s: server error %d: %s", path, resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: client error %d: %s", path, resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}

// Refresh resyncs wallet state. Not idempotent in effect but safe to retry
// (spec §6).
func (c *Client) Refresh(ctx context.Context, wallet job.Wallet) error {
	return c.do(ctx, "/wallet/refresh", wallet, struct{}{}, nil)
}

type listAssetsResponse struct {
	Assets []Asset `json:"assets"`
}

// ListAssets enumerates the wallet's known assets.
func (c *Client) ListAssets(ctx context.Context, wallet job.Wallet) ([]Asset, error) {
	var resp listAssetsResponse
	if err := c.do(ctx, "/wallet/listassets", wallet, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

type listTransfersRequest struct {
	AssetID string `json:"asset_id,omitempty"`
}

type listTransfersResponse struct {
	Transfers []Transfer `json:"transfers"`
}

// ListTransfers enumerates transfers for assetID, or the detached list when
// assetID is empty (spec §4.4 steps 3 and 5, GLOSSARY "Detached transfer").
func (c *Client) ListTransfers(ctx context.Context, wallet job.Wallet, assetID string) ([]Transfer, error) {
	var resp listTransfersResponse
	req := listTransfersRequest{AssetID: assetID}
	if err := c.do(ctx, "/wallet/listtransfers", wallet, req, &resp); err != nil {
		return nil, err
	}
	return resp.Transfers, nil
}

type failTransfersRequest struct {
	BatchTransferIdx int `json:"batch_transfer_idx"`
}

// FailTransfers cancels a transfer stuck in WAITING_COUNTERPARTY past its
// expiration (spec §4.6). Idempotent: re-failing an already-failed batch is
// a no-op on the API side.
func (c *Client) FailTransfers(ctx context.Context, wallet job.Wallet, batchTransferIdx int) error {
	req := failTransfersRequest{BatchTransferIdx: batchTransferIdx}
	return c.do(ctx, "/wallet/failtransfers", wallet, req, nil)
}
