package apiclient

import "time"

// TransferStatus mirrors the overlay protocol's transfer states relevant to
// refresh (spec §4.6, GLOSSARY "Terminal state").
type TransferStatus string

const (
	StatusWaitingCounterparty TransferStatus = "WAITING_COUNTERPARTY"
	StatusSettled             TransferStatus = "SETTLED"
	StatusFailed              TransferStatus = "FAILED"
	StatusExpired             TransferStatus = "EXPIRED"
)

// Terminal reports whether no further state change is expected for a
// transfer in this status without operator action.
func (s TransferStatus) Terminal() bool {
	switch s {
	case StatusSettled, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// TransferKind distinguishes transfer varieties relevant to the
// cancellation predicate (spec §4.6).
type TransferKind string

const (
	KindReceiveBlind TransferKind = "RECEIVE_BLIND"
	KindReceiveWitness TransferKind = "RECEIVE_WITNESS"
	KindSend           TransferKind = "SEND"
)

// Transfer is the subset of listtransfers fields the orchestrator needs.
type Transfer struct {
	RecipientID      string         `json:"recipient_id"`
	AssetID          string         `json:"asset_id"` // empty for a detached transfer
	Status           TransferStatus `json:"status"`
	Kind             TransferKind   `json:"kind"`
	Expiration       *time.Time     `json:"expiration"`
	BatchTransferIdx int            `json:"batch_transfer_idx"`
}

// Asset is the subset of listassets fields the orchestrator needs.
type Asset struct {
	AssetID string `json:"asset_id"`
}
