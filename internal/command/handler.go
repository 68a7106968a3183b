package command

import (
	"context"

	"github.com/example/ec-cart-consistency/internal/domain/cart"
	"github.com/example/ec-cart-consistency/internal/domain/inventory"
	"github.com/example/ec-cart-consistency/internal/domain/order"
	"github.com/example/ec-cart-consistency/internal/domain/reorder"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/model"
)

// AddResult is the cart after an add, plus the new quantity of the line.
type AddResult struct {
	Quantity int       `json:"quantity"`
	Cart     cart.View `json:"cart"`
}

type RemoveResult struct {
	Removed bool      `json:"removed"`
	Cart    cart.View `json:"cart"`
}

type ClearResult struct {
	Removed int       `json:"removed"`
	Cart    cart.View `json:"cart"`
}

type MergeResult struct {
	Merged   int       `json:"merged"`
	Combined int       `json:"combined"`
	Created  int       `json:"created"`
	Cart     cart.View `json:"cart"`
}

// ReorderResult carries the skip notes trimmed for display. MoreSkipped counts
// the notes left out.
type ReorderResult struct {
	AddedCount  int            `json:"added_count"`
	Skipped     []string       `json:"skipped"`
	MoreSkipped int            `json:"more_skipped"`
	Details     []reorder.Skip `json:"details"`
	Cart        cart.View      `json:"cart"`
}

type AvailabilityResult struct {
	ProductID    string `json:"product_id"`
	Requested    int    `json:"requested"`
	Available    bool   `json:"available"`
	Active       bool   `json:"active"`
	CurrentStock int    `json:"current_stock"`
}

type Handler struct {
	carts    *cart.Manager
	orders   *order.Lifecycle
	reorders *reorder.Engine
	ledger   *inventory.Ledger
	store    store.Store
}

func NewHandler(
	carts *cart.Manager,
	orders *order.Lifecycle,
	reorders *reorder.Engine,
	ledger *inventory.Ledger,
	st store.Store,
) *Handler {
	return &Handler{
		carts:    carts,
		orders:   orders,
		reorders: reorders,
		ledger:   ledger,
		store:    st,
	}
}

// CartAdd adds units to a cart line, respecting current stock
func (h *Handler) CartAdd(ctx context.Context, cmd CartAdd) (*AddResult, error) {
	qty, err := h.carts.Add(ctx, cmd.Owner, cmd.ProductID, cmd.Quantity)
	if err != nil {
		return nil, err
	}
	view, err := h.carts.Get(ctx, cmd.Owner)
	if err != nil {
		return nil, err
	}
	return &AddResult{Quantity: qty, Cart: view}, nil
}

// CartUpdate sets a line to an absolute quantity; zero removes it
func (h *Handler) CartUpdate(ctx context.Context, cmd CartUpdate) (*cart.View, error) {
	if err := h.carts.Update(ctx, cmd.Owner, cmd.ProductID, cmd.Quantity); err != nil {
		return nil, err
	}
	return h.cartGet(ctx, cmd.Owner)
}

func (h *Handler) CartRemove(ctx context.Context, cmd CartRemove) (*RemoveResult, error) {
	removed, err := h.carts.Remove(ctx, cmd.Owner, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	view, err := h.carts.Get(ctx, cmd.Owner)
	if err != nil {
		return nil, err
	}
	return &RemoveResult{Removed: removed, Cart: view}, nil
}

func (h *Handler) CartClear(ctx context.Context, cmd CartClear) (*ClearResult, error) {
	n, err := h.carts.Clear(ctx, cmd.Owner)
	if err != nil {
		return nil, err
	}
	view, err := h.carts.Get(ctx, cmd.Owner)
	if err != nil {
		return nil, err
	}
	return &ClearResult{Removed: n, Cart: view}, nil
}

// CartMerge moves the session cart into the customer cart and returns the result
func (h *Handler) CartMerge(ctx context.Context, cmd CartMerge) (*MergeResult, error) {
	customer := model.Customer(cmd.CustomerID)
	res, err := h.carts.Merge(ctx, model.Anonymous(cmd.SessionToken), customer)
	if err != nil {
		return nil, err
	}
	view, err := h.carts.Get(ctx, customer)
	if err != nil {
		return nil, err
	}
	return &MergeResult{
		Merged:   res.Merged(),
		Combined: res.Combined,
		Created:  res.Created,
		Cart:     view,
	}, nil
}

func (h *Handler) CartGet(ctx context.Context, cmd CartGet) (*cart.View, error) {
	return h.cartGet(ctx, cmd.Owner)
}

func (h *Handler) cartGet(ctx context.Context, owner model.OwnerKey) (*cart.View, error) {
	view, err := h.carts.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// OrderCancel cancels an order, restocking its lines and queueing any refund
func (h *Handler) OrderCancel(ctx context.Context, cmd OrderCancel) (*order.CancelResult, error) {
	res, err := h.orders.Cancel(ctx, cmd.OrderID, cmd.CustomerID, cmd.Reason)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// OrderReorder copies an earlier order into the customer's cart
func (h *Handler) OrderReorder(ctx context.Context, cmd OrderReorder) (*ReorderResult, error) {
	res, err := h.reorders.Reorder(ctx, cmd.OrderID, cmd.CustomerID)
	if err != nil {
		return nil, err
	}
	notes, more := res.Display(reorder.DisplayLimit)
	view, err := h.carts.Get(ctx, model.Customer(cmd.CustomerID))
	if err != nil {
		return nil, err
	}
	return &ReorderResult{
		AddedCount:  res.AddedCount,
		Skipped:     notes,
		MoreSkipped: more,
		Details:     res.Skipped,
		Cart:        view,
	}, nil
}

// ProductAvailability reports whether quantity units could be added right now.
// The answer is advisory; cart writes check again.
func (h *Handler) ProductAvailability(ctx context.Context, q ProductAvailability) (*AvailabilityResult, error) {
	if q.Quantity == 0 {
		q.Quantity = 1
	}
	avail, err := h.ledger.Lookup(ctx, h.store, q.ProductID, q.Quantity)
	if err != nil {
		return nil, err
	}
	return &AvailabilityResult{
		ProductID:    q.ProductID,
		Requested:    q.Quantity,
		Available:    avail.OK,
		Active:       avail.Active,
		CurrentStock: avail.CurrentStock,
	}, nil
}
