// Package job defines the unit of work dispatched to a wallet worker: a
// durable, wallet-scoped request to refresh state against the external
// wallet HTTP API.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Trigger identifies why a job was enqueued. It is a closed, tagged variant
// rather than an open class hierarchy: callers switch on Kind and read the
// kind-specific fields that accompany it.
type Trigger struct {
	Kind TriggerKind

	// RecipientID is populated for InvoiceCreated and for Recovery jobs
	// (copied from the recovered watcher), and is otherwise empty.
	RecipientID string

	// AssetID is optional even for InvoiceCreated: an invoice may not
	// pre-commit to an asset.
	AssetID string
}

// TriggerKind enumerates the reasons a refresh job can be enqueued.
type TriggerKind string

const (
	// Sync is an operator- or API-driven explicit refresh request.
	Sync TriggerKind = "sync"

	// AssetSent is enqueued after an outgoing transfer is finalized.
	AssetSent TriggerKind = "asset_sent"

	// InvoiceCreated is enqueued when a new invoice is created; it may or
	// may not carry a pre-committed asset ID.
	InvoiceCreated TriggerKind = "invoice_created"

	// Manual is an operator-requested refresh with no further context.
	Manual TriggerKind = "manual"

	// Recovery is enqueued by Store.Recover for watchers that were still
	// active when the orchestrator last exited.
	Recovery TriggerKind = "recovery"
)

// Valid reports whether k is one of the known trigger kinds. The store
// rejects jobs with an unknown kind as a permanent validation failure (see
// spec §7, "Validation / permanent" errors).
func (k TriggerKind) Valid() bool {
	switch k {
	case Sync, AssetSent, InvoiceCreated, Manual, Recovery:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a Job. A job moves monotonically through
// Pending -> Processing -> {Completed, Failed}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Wallet identifies a wallet by the triple the spec sharding and lock keys
// are derived from. XpubCol and MasterFingerprint co-vary with XpubVan and
// are carried only because downstream HTTP calls require them.
type Wallet struct {
	XpubVan          string
	XpubCol          string
	MasterFingerprint string
}

// Job is a single, durable unit of work queued against one wallet.
type Job struct {
	ID     string
	Wallet Wallet

	Trigger Trigger

	Status       Status
	Attempts     int
	MaxRetries   int
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	ErrorMessage string
}

// NewID returns a fresh, globally unique job identifier.
func NewID() string {
	return uuid.NewString()
}
