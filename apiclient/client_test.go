package apiclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgbtools/refreshd/apiclient"
	"github.com/rgbtools/refreshd/job"
)

func testWallet() job.Wallet {
	return job.Wallet{
		XpubVan:           "van1",
		XpubCol:           "col1",
		MasterFingerprint: "fp1",
	}
}

func TestRefreshAttachesWalletIdentificationHeaders(t *testing.T) {
	var gotVan, gotCol, gotFingerprint string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVan = r.Header.Get("xpub-van")
		gotCol = r.Header.Get("xpub-col")
		gotFingerprint = r.Header.Get("master-fingerprint")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := apiclient.New(apiclient.Config{BaseURL: srv.URL, Timeout: time.Second})
	err := c.Refresh(context.Background(), testWallet())
	require.NoError(t, err)
	require.Equal(t, "van1", gotVan)
	require.Equal(t, "col1", gotCol)
	require.Equal(t, "fp1", gotFingerprint)
}

func TestListAssetsDecodesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"assets":[{"asset_id":"A1"},{"asset_id":"A2"}]}`))
	}))
	defer srv.Close()

	c := apiclient.New(apiclient.Config{BaseURL: srv.URL, Timeout: time.Second})
	assets, err := c.ListAssets(context.Background(), testWallet())
	require.NoError(t, err)
	require.Len(t, assets, 2)
}

func TestServerErrorClassifiesAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := apiclient.New(apiclient.Config{BaseURL: srv.URL, Timeout: time.Second})
	err := c.Refresh(context.Background(), testWallet())
	require.Error(t, err)
	require.True(t, apiclient.IsTransient(err), "expected a 5xx response to classify as transient")
}

func TestClientErrorIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := apiclient.New(apiclient.Config{BaseURL: srv.URL, Timeout: time.Second})
	err := c.Refresh(context.Background(), testWallet())
	require.Error(t, err)
	require.False(t, apiclient.IsTransient(err), "expected a 4xx response to classify as permanent")
}

func TestUnreachableServerIsTransient(t *testing.T) {
	c := apiclient.New(apiclient.Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	err := c.Refresh(context.Background(), testWallet())
	require.Error(t, err)
	require.True(t, apiclient.IsTransient(err), "expected a connection failure to classify as transient")
}

func TestFailTransfersSendsBatchTransferIdx(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := apiclient.New(apiclient.Config{BaseURL: srv.URL, Timeout: time.Second})
	err := c.FailTransfers(context.Background(), testWallet(), 42)
	require.NoError(t, err)
	require.Equal(t, "/wallet/failtransfers", gotPath)
}

func TestRateLimiterBoundsCallCadence(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := apiclient.New(apiclient.Config{BaseURL: srv.URL, Timeout: time.Second, RequestsPerSecond: 2})
	wallet := testWallet()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Refresh(context.Background(), wallet))
	}
	elapsed := time.Since(start)

	require.Equal(t, 3, calls)
	require.GreaterOrEqual(t, elapsed, 900*time.Millisecond, "3 calls at 2/s with a burst of 1 should take at least ~1s")
}
