package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/ec-cart-consistency/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
)

// ProductRepository reads products and credits the stock ledger.
type ProductRepository interface {
	// GetProduct reads a product. With lock set, the row stays locked against
	// concurrent stock changes until the transaction ends.
	GetProduct(ctx context.Context, id string, lock bool) (*model.Product, error)
	// IncrementStock atomically adds qty to the product's stock.
	IncrementStock(ctx context.Context, id string, qty int) error
}

// CartRepository stores both anonymous and customer cart entries.
type CartRepository interface {
	GetCartEntry(ctx context.Context, owner model.OwnerKey, productID string) (*model.CartEntry, error)
	ListCartEntries(ctx context.Context, owner model.OwnerKey) ([]model.CartEntry, error)
	UpsertCartEntry(ctx context.Context, owner model.OwnerKey, productID string, qty int, now time.Time) error
	DeleteCartEntry(ctx context.Context, owner model.OwnerKey, productID string) (bool, error)
	DeleteCartEntries(ctx context.Context, owner model.OwnerKey) (int, error)
}

// OrderRepository reads orders written by checkout and flips their status.
type OrderRepository interface {
	GetOrder(ctx context.Context, id string, lock bool) (*model.Order, error)
	ListOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error)
	// TransitionOrderStatus sets the status only if the current status is one
	// of from. It reports whether the row changed.
	TransitionOrderStatus(ctx context.Context, id string, from []model.OrderStatus, to model.OrderStatus, now time.Time) (bool, error)
}

// RefundRepository is the refund queue consumed by payment reconciliation.
type RefundRepository interface {
	CreateRefund(ctx context.Context, refund *model.RefundRequest) error
	GetRefundByOrder(ctx context.Context, orderID string) (*model.RefundRequest, error)
}

// ActivityRepository is the append-only audit sink.
type ActivityRepository interface {
	AppendActivity(ctx context.Context, entry *model.ActivityLogEntry) error
}

// Tx is a unit of work. Everything done through one Tx commits or rolls back
// together.
type Tx interface {
	ProductRepository
	CartRepository
	OrderRepository
	RefundRepository
	ActivityRepository
}

// Store opens units of work.
type Store interface {
	// WithinTx runs fn in a transaction. The transaction commits if fn returns
	// nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// CustomerDirectory resolves notification recipients.
type CustomerDirectory interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}
