package transferpolicy_test

import (
	"testing"
	"time"

	"github.com/rgbtools/refreshd/apiclient"
	"github.com/rgbtools/refreshd/transferpolicy"
)

func TestCancellableBlindReceiveExpired(t *testing.T) {
	now := time.Now()
	exp := now.Add(-5 * time.Second)
	transfer := apiclient.Transfer{
		Status:     apiclient.StatusWaitingCounterparty,
		Kind:       apiclient.KindReceiveBlind,
		Expiration: &exp,
	}

	if !transferpolicy.Cancellable(transfer, time.Hour, now) {
		t.Fatal("expected an expired blind receive to be cancellable")
	}
}

func TestCancellableNonBlindRequiresGracePeriod(t *testing.T) {
	now := time.Now()
	exp := now.Add(-5 * time.Second)
	transfer := apiclient.Transfer{
		Status:     apiclient.StatusWaitingCounterparty,
		Kind:       apiclient.KindReceiveWitness,
		Expiration: &exp,
	}

	if transferpolicy.Cancellable(transfer, time.Hour, now) {
		t.Fatal("expected a non-blind receive within the grace period to not be cancellable yet")
	}

	grace := 1 * time.Second
	if !transferpolicy.Cancellable(transfer, grace, now) {
		t.Fatal("expected a non-blind receive past the grace period to be cancellable")
	}
}

func TestCancellableRequiresWaitingCounterparty(t *testing.T) {
	now := time.Now()
	exp := now.Add(-5 * time.Second)
	transfer := apiclient.Transfer{
		Status:     apiclient.StatusSettled,
		Kind:       apiclient.KindReceiveBlind,
		Expiration: &exp,
	}

	if transferpolicy.Cancellable(transfer, time.Hour, now) {
		t.Fatal("settled transfers are never cancellable")
	}
}

func TestCancellableRequiresPastExpiration(t *testing.T) {
	now := time.Now()
	exp := now.Add(5 * time.Second)
	transfer := apiclient.Transfer{
		Status:     apiclient.StatusWaitingCounterparty,
		Kind:       apiclient.KindReceiveBlind,
		Expiration: &exp,
	}

	if transferpolicy.Cancellable(transfer, time.Hour, now) {
		t.Fatal("a transfer with a future expiration is never cancellable")
	}
}
