package orders

import (
	"context"
	"time"
)

// Order statuses, following the checkout lifecycle the storefront uses.
const (
	StatusPending   = "pending"
	StatusOnHold    = "on-hold"
	StatusPaid      = "processing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Meta keys the gateway stamps onto orders.
const (
	MetaReference          = "_ecocash_reference"
	MetaMobile             = "_ecocash_mobile"
	MetaReferenceConfirmed = "_ecocash_reference_confirmed"
	MetaWebhookTimestamp   = "_ecocash_webhook_timestamp"
)

// Note is one line of order history.
type Note struct {
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Order is the slice of the storefront order the gateway is allowed to
// see: totals, status, a metadata bag and notes. The order lifecycle
// itself belongs to the storefront.
type Order struct {
	ID        string            `bson:"_id" json:"id"`
	Total     float64           `bson:"total" json:"total"`
	Currency  string            `bson:"currency" json:"currency"`
	Status    string            `bson:"status" json:"status"`
	Meta      map[string]string `bson:"meta,omitempty" json:"meta,omitempty"`
	Notes     []Note            `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at" json:"updated_at"`
}

// Store is the accessor contract the gateway uses to read and annotate
// orders. It never reaches past these methods into order internals.
type Store interface {
	Get(ctx context.Context, id string) (*Order, error)
	Create(ctx context.Context, order *Order) (*Order, error)
	UpdateStatus(ctx context.Context, id, status, note string) error
	SetMeta(ctx context.Context, id string, meta map[string]string) error
	AddNote(ctx context.Context, id, note string) error
}

// InventoryRestorer is called when a payment terminally fails so the
// storefront can put reserved stock back.
type InventoryRestorer interface {
	RestoreStock(ctx context.Context, orderID string) error
}
