package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-cart-consistency/internal/apperr"
	"github.com/example/ec-cart-consistency/internal/domain/cart"
	"github.com/example/ec-cart-consistency/internal/domain/inventory"
	"github.com/example/ec-cart-consistency/internal/domain/order"
	"github.com/example/ec-cart-consistency/internal/domain/reorder"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store/mocks"
	"github.com/example/ec-cart-consistency/internal/lock"
	"github.com/example/ec-cart-consistency/internal/model"
	"github.com/example/ec-cart-consistency/internal/notification"
)

func newTestHandler() (*Handler, *mocks.MockStore, *mocks.MockSender) {
	st := mocks.NewMockStore()
	st.PutProduct(model.Product{ID: "mug", Name: "Mug", Price: 1200, StockQuantity: 5, Status: model.ProductActive})
	st.PutProduct(model.Product{ID: "plate", Name: "Plate", Price: 800, StockQuantity: 1, Status: model.ProductActive})
	st.PutProduct(model.Product{ID: "bowl", Name: "Bowl", Price: 900, StockQuantity: 0, Status: model.ProductActive})
	st.PutProduct(model.Product{ID: "retired", Name: "Retired", Price: 100, StockQuantity: 9, Status: model.ProductInactive})

	sender := mocks.NewMockSender()
	logger := zerolog.Nop()
	ledger := inventory.NewLedger(logger)
	locker := lock.NewLocal()

	handler := NewHandler(
		cart.NewManager(st, ledger, locker, logger),
		order.NewLifecycle(st, ledger, notification.NewDispatcher(sender, time.Second, logger), logger),
		reorder.NewEngine(st, ledger, locker, logger),
		ledger,
		st,
	)
	return handler, st, sender
}

// ============================================
// Cart Tests
// ============================================

func TestHandler_CartAdd_ReturnsCart(t *testing.T) {
	handler, _, _ := newTestHandler()
	ctx := context.Background()
	owner := model.Anonymous("tok")

	res, err := handler.CartAdd(ctx, CartAdd{Owner: owner, ProductID: "mug", Quantity: 2})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Quantity)
	require.Len(t, res.Cart.Items, 1)
	assert.Equal(t, 2400, res.Cart.Subtotal)
	assert.Equal(t, 2, res.Cart.ItemCount)
}

func TestHandler_CartAdd_InsufficientStock(t *testing.T) {
	handler, st, _ := newTestHandler()
	ctx := context.Background()
	owner := model.Anonymous("tok")

	_, err := handler.CartAdd(ctx, CartAdd{Owner: owner, ProductID: "mug", Quantity: 6})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 5, appErr.Available)
	assert.Empty(t, st.CartQuantities(owner))
}

func TestHandler_CartUpdateRemoveClear(t *testing.T) {
	handler, st, _ := newTestHandler()
	ctx := context.Background()
	owner := model.Customer("cust-1")

	_, err := handler.CartAdd(ctx, CartAdd{Owner: owner, ProductID: "mug", Quantity: 1})
	require.NoError(t, err)
	_, err = handler.CartAdd(ctx, CartAdd{Owner: owner, ProductID: "plate", Quantity: 1})
	require.NoError(t, err)

	view, err := handler.CartUpdate(ctx, CartUpdate{Owner: owner, ProductID: "mug", Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, view.ItemCount)

	removed, err := handler.CartRemove(ctx, CartRemove{Owner: owner, ProductID: "plate"})
	require.NoError(t, err)
	assert.True(t, removed.Removed)
	assert.Len(t, removed.Cart.Items, 1)

	cleared, err := handler.CartClear(ctx, CartClear{Owner: owner})
	require.NoError(t, err)
	assert.Equal(t, 1, cleared.Removed)
	assert.Empty(t, cleared.Cart.Items)
	assert.Empty(t, st.CartQuantities(owner))
}

func TestHandler_CartMerge(t *testing.T) {
	handler, st, _ := newTestHandler()
	ctx := context.Background()
	st.PutCartEntry(model.CartEntry{Owner: model.Anonymous("tok"), ProductID: "mug", Quantity: 2})
	st.PutCartEntry(model.CartEntry{Owner: model.Anonymous("tok"), ProductID: "plate", Quantity: 1})
	st.PutCartEntry(model.CartEntry{Owner: model.Customer("cust-1"), ProductID: "mug", Quantity: 1})

	res, err := handler.CartMerge(ctx, CartMerge{SessionToken: "tok", CustomerID: "cust-1"})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Merged)
	assert.Equal(t, 1, res.Combined)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, map[string]int{"mug": 3, "plate": 1}, st.CartQuantities(model.Customer("cust-1")))
	assert.Empty(t, st.CartQuantities(model.Anonymous("tok")))
	assert.Equal(t, 4, res.Cart.ItemCount)
}

func TestHandler_CartMerge_RequiresSession(t *testing.T) {
	handler, _, _ := newTestHandler()

	_, err := handler.CartMerge(context.Background(), CartMerge{CustomerID: "cust-1"})

	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestHandler_CartGet_StoreFailure(t *testing.T) {
	handler, st, _ := newTestHandler()
	st.BeginErr = errors.New("connection refused")

	_, err := handler.CartGet(context.Background(), CartGet{Owner: model.Anonymous("tok")})

	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.NotContains(t, err.Error(), "connection refused")
}

// ============================================
// Order Tests
// ============================================

func putPaidOrder(st *mocks.MockStore) {
	st.PutOrder(model.Order{
		ID:            "order-1",
		CustomerID:    "cust-1",
		Status:        model.OrderProcessing,
		PaymentStatus: model.PaymentPaid,
		TotalAmount:   4500,
	}, []model.OrderItem{
		{OrderID: "order-1", ProductID: "mug", Quantity: 3, UnitPriceAtPurchase: 1200},
		{OrderID: "order-1", ProductID: "bowl", Quantity: 1, UnitPriceAtPurchase: 900},
	})
}

func TestHandler_OrderCancel(t *testing.T) {
	handler, st, sender := newTestHandler()
	putPaidOrder(st)

	res, err := handler.OrderCancel(context.Background(), OrderCancel{OrderID: "order-1", CustomerID: "cust-1", Reason: "changed my mind"})

	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, res.Status)
	assert.Equal(t, 4, res.Restocked)
	require.NotNil(t, res.Refund)
	assert.Equal(t, 4500, res.Refund.Amount)

	mug, _ := st.Product("mug")
	assert.Equal(t, 8, mug.StockQuantity)
	assert.Len(t, sender.Calls(), 1)
}

func TestHandler_OrderCancel_OtherCustomer(t *testing.T) {
	handler, st, sender := newTestHandler()
	putPaidOrder(st)

	_, err := handler.OrderCancel(context.Background(), OrderCancel{OrderID: "order-1", CustomerID: "cust-2"})

	assert.ErrorIs(t, err, apperr.ErrNotFound)
	o, _ := st.Order("order-1")
	assert.Equal(t, model.OrderProcessing, o.Status)
	assert.Empty(t, sender.Calls())
}

func TestHandler_OrderReorder(t *testing.T) {
	handler, st, _ := newTestHandler()
	putPaidOrder(st)

	res, err := handler.OrderReorder(context.Background(), OrderReorder{OrderID: "order-1", CustomerID: "cust-1"})

	require.NoError(t, err)
	assert.Equal(t, 1, res.AddedCount)
	assert.Equal(t, []string{"Bowl: out of stock"}, res.Skipped)
	assert.Equal(t, 0, res.MoreSkipped)
	require.Len(t, res.Details, 1)
	assert.Equal(t, reorder.ReasonOutOfStock, res.Details[0].Reason)
	assert.Equal(t, 3, res.Cart.ItemCount)
}

func TestHandler_OrderReorder_TrimsSkipNotes(t *testing.T) {
	handler, st, _ := newTestHandler()
	items := []model.OrderItem{
		{OrderID: "order-2", ProductID: "mug", Quantity: 1, UnitPriceAtPurchase: 1200},
		{OrderID: "order-2", ProductID: "bowl", Quantity: 1, UnitPriceAtPurchase: 900},
		{OrderID: "order-2", ProductID: "retired", Quantity: 1, UnitPriceAtPurchase: 100},
		{OrderID: "order-2", ProductID: "gone", Quantity: 1, UnitPriceAtPurchase: 100},
		{OrderID: "order-2", ProductID: "plate", Quantity: 3, UnitPriceAtPurchase: 800},
	}
	st.PutOrder(model.Order{ID: "order-2", CustomerID: "cust-1", Status: model.OrderDelivered}, items)

	res, err := handler.OrderReorder(context.Background(), OrderReorder{OrderID: "order-2", CustomerID: "cust-1"})

	require.NoError(t, err)
	assert.Equal(t, 2, res.AddedCount)
	assert.Len(t, res.Skipped, reorder.DisplayLimit)
	assert.Equal(t, 1, res.MoreSkipped)
	assert.Len(t, res.Details, 4)
}

// ============================================
// Availability Tests
// ============================================

func TestHandler_ProductAvailability(t *testing.T) {
	handler, _, _ := newTestHandler()
	ctx := context.Background()

	tests := []struct {
		name      string
		query     ProductAvailability
		available bool
		active    bool
		stock     int
	}{
		{"in stock", ProductAvailability{ProductID: "mug", Quantity: 5}, true, true, 5},
		{"default quantity", ProductAvailability{ProductID: "plate"}, true, true, 1},
		{"too many", ProductAvailability{ProductID: "mug", Quantity: 6}, false, true, 5},
		{"inactive", ProductAvailability{ProductID: "retired", Quantity: 1}, false, false, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := handler.ProductAvailability(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.available, res.Available)
			assert.Equal(t, tt.active, res.Active)
			assert.Equal(t, tt.stock, res.CurrentStock)
		})
	}
}

func TestHandler_ProductAvailability_Errors(t *testing.T) {
	handler, _, _ := newTestHandler()
	ctx := context.Background()

	_, err := handler.ProductAvailability(ctx, ProductAvailability{ProductID: "missing", Quantity: 1})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = handler.ProductAvailability(ctx, ProductAvailability{ProductID: "mug", Quantity: -1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

var _ store.Store = (*mocks.MockStore)(nil)
