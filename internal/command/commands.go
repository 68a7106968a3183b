package command

import "github.com/example/ec-cart-consistency/internal/model"

// Cart Commands
type CartAdd struct {
	Owner     model.OwnerKey `json:"-"`
	ProductID string         `json:"product_id"`
	Quantity  int            `json:"quantity"`
}

type CartUpdate struct {
	Owner     model.OwnerKey `json:"-"`
	ProductID string         `json:"product_id"`
	Quantity  int            `json:"quantity"`
}

type CartRemove struct {
	Owner     model.OwnerKey `json:"-"`
	ProductID string         `json:"product_id"`
}

type CartClear struct {
	Owner model.OwnerKey `json:"-"`
}

// CartMerge folds the session cart into the customer's cart after sign-in.
// Both identities come from the identity layer, never from the request body.
type CartMerge struct {
	SessionToken string `json:"-"`
	CustomerID   string `json:"-"`
}

type CartGet struct {
	Owner model.OwnerKey `json:"-"`
}

// Order Commands
type OrderCancel struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"-"`
	Reason     string `json:"reason"`
}

type OrderReorder struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"-"`
}

// Product Queries
type ProductAvailability struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
