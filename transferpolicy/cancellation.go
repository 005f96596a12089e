// Package transferpolicy holds the cancellation predicate shared by the Job
// Handler and the Transfer Watcher (spec §4.6): both must apply exactly the
// same rule before invoking failtransfers, so it lives in one place rather
// than being duplicated at each call site.
package transferpolicy

import (
	"time"

	"github.com/rgbtools/refreshd/apiclient"
)

// Cancellable reports whether t is eligible for an explicit failtransfers
// call at time now, given the protocol-level DURATION_RCV_TRANSFER
// constant. All three conjuncts of spec §4.6 must hold:
//
//  1. status is WAITING_COUNTERPARTY
//  2. it has an expiration strictly in the past
//  3. either its kind is RECEIVE_BLIND, or expiration + durationRcvTransfer
//     is also in the past
func Cancellable(t apiclient.Transfer, durationRcvTransfer time.Duration, now time.Time) bool {
	if t.Status != apiclient.StatusWaitingCounterparty {
		return false
	}
	if t.Expiration == nil || !t.Expiration.Before(now) {
		return false
	}
	if t.Kind == apiclient.KindReceiveBlind {
		return true
	}
	return t.Expiration.Add(durationRcvTransfer).Before(now)
}
