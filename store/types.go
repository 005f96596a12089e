package store

import (
	"time"

	"github.com/rgbtools/refreshd/job"
)

// WatcherStatus is the lifecycle state of a Watcher row.
type WatcherStatus string

const (
	WatcherWatching WatcherStatus = "watching"
	WatcherSettled  WatcherStatus = "settled"
	WatcherFailed   WatcherStatus = "failed"
	WatcherExpired  WatcherStatus = "expired"
)

// Terminal reports whether s is one of the states a Watcher never leaves.
func (s WatcherStatus) Terminal() bool {
	switch s {
	case WatcherSettled, WatcherFailed, WatcherExpired:
		return true
	default:
		return false
	}
}

// Watcher is a long-lived intent to monitor one transfer until it reaches a
// terminal state. (xpub_van, recipient_id) is unique: see CreateWatcher.
type Watcher struct {
	Wallet job.Wallet

	RecipientID string
	AssetID     string // optional, may be discovered later

	Status       WatcherStatus
	RefreshCount int

	LastRefresh *time.Time
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Lock is a TTL-based mutual exclusion row keyed by xpub_van.
type Lock struct {
	XpubVan   string
	LockedAt  time.Time
	ExpiresAt time.Time
}

// WatcherFields is a partial-update set applied by UpdateWatcher; nil fields
// are left untouched.
type WatcherFields struct {
	AssetID          *string
	Status           *WatcherStatus
	IncrementRefresh bool
	LastRefresh      *time.Time
}
