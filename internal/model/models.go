package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProductStatus is the moderation state of a product listing.
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
	ProductPending  ProductStatus = "pending"
	ProductRejected ProductStatus = "rejected"
)

// Product is the stock source of truth shared by every component.
type Product struct {
	ID            string        `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Price         int           `json:"price" db:"price"`
	StockQuantity int           `json:"stock_quantity" db:"stock_quantity"`
	Status        ProductStatus `json:"status" db:"status"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

func (p *Product) IsActive() bool {
	return p.Status == ProductActive
}

// OwnerKind distinguishes anonymous-session carts from customer carts.
type OwnerKind string

const (
	OwnerAnonymous OwnerKind = "anonymous"
	OwnerCustomer  OwnerKind = "customer"
)

// OwnerKey identifies whose cart an entry belongs to.
type OwnerKey struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func Anonymous(token string) OwnerKey {
	return OwnerKey{Kind: OwnerAnonymous, ID: token}
}

func Customer(customerID string) OwnerKey {
	return OwnerKey{Kind: OwnerCustomer, ID: customerID}
}

func (k OwnerKey) IsAnonymous() bool { return k.Kind == OwnerAnonymous }
func (k OwnerKey) IsCustomer() bool  { return k.Kind == OwnerCustomer }

// Valid reports whether the key has a known kind and a non-empty id.
func (k OwnerKey) Valid() bool {
	return (k.Kind == OwnerAnonymous || k.Kind == OwnerCustomer) && k.ID != ""
}

func (k OwnerKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}

// CartEntry is one (owner, product) line. At most one exists per pair.
type CartEntry struct {
	Owner     OwnerKey  `json:"owner"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderStatus is the fulfillment axis of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// PaymentStatus is the payment axis of an order, independent of fulfillment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type Order struct {
	ID             string        `json:"id" db:"id"`
	CustomerID     string        `json:"customer_id" db:"customer_id"`
	Status         OrderStatus   `json:"status" db:"status"`
	PaymentStatus  PaymentStatus `json:"payment_status" db:"payment_status"`
	TotalAmount    int           `json:"total_amount" db:"total_amount"`
	TrackingNumber *string       `json:"tracking_number,omitempty" db:"tracking_number"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// OrderItem is immutable once checkout has written it.
type OrderItem struct {
	OrderID             string `json:"order_id" db:"order_id"`
	ProductID           string `json:"product_id" db:"product_id"`
	Quantity            int    `json:"quantity" db:"quantity"`
	UnitPriceAtPurchase int    `json:"unit_price_at_purchase" db:"unit_price_at_purchase"`
}

type RefundStatus string

const RefundPending RefundStatus = "pending"

// RefundRequest is queued for payment reconciliation when a paid order is
// cancelled.
type RefundRequest struct {
	ID         string       `json:"id" db:"id"`
	OrderID    string       `json:"order_id" db:"order_id"`
	CustomerID string       `json:"customer_id" db:"customer_id"`
	Amount     int          `json:"amount" db:"amount"`
	Status     RefundStatus `json:"status" db:"status"`
	Reason     string       `json:"reason" db:"reason"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// ActivityLogEntry is an append-only audit record.
type ActivityLogEntry struct {
	ID          string    `json:"id" db:"id"`
	ActorID     string    `json:"actor_id" db:"actor_id"`
	Action      string    `json:"action" db:"action"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

func NewActivityEntry(actorID, action, description string, at time.Time) *ActivityLogEntry {
	return &ActivityLogEntry{
		ID:          uuid.NewString(),
		ActorID:     actorID,
		Action:      action,
		Description: description,
		CreatedAt:   at,
	}
}
