package mirror

import (
	"context"
	"time"
)

// DocumentStore is the secondary, read-optimised store orders are mirrored
// into. It has no write authority of its own: only the Engine writes to it.
type DocumentStore interface {
	// ListOrders returns every order document, duplicates included.
	ListOrders(ctx context.Context) ([]DocumentRef, error)
	// FindOrder returns the document for orderNumber, or nil if there is none.
	FindOrder(ctx context.Context, orderNumber string) (*DocumentRef, error)
	// CreateOrder stores a new document; the store assigns doc.ID when empty.
	CreateOrder(ctx context.Context, doc *Document) error
	// PatchOrder overwrites every mirrored field of document id.
	PatchOrder(ctx context.Context, id string, doc *Document) error
	DeleteDocument(ctx context.Context, id string) error

	SaveSyncState(ctx context.Context, state *SyncState) error
	// GetSyncState returns the state recorded under key, or nil.
	GetSyncState(ctx context.Context, key string) (*SyncState, error)
}

// SyncStateKey is the sync-state key of order reconciliation.
const SyncStateKey = "orders"

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Stats counts what one reconciliation run did.
type Stats struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
	Total     int `json:"total"`
}

// SyncState is the singleton record of the latest run for a key. Each run
// overwrites the previous one.
type SyncState struct {
	Key        string    `json:"key"`
	Status     string    `json:"status"`
	LastSync   time.Time `json:"lastSync"`
	DurationMS int64     `json:"durationMs"`
	Stats      Stats     `json:"stats"`
	Error      string    `json:"error,omitempty"`
}
