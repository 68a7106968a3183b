package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-cart-consistency/internal/apperr"
	"github.com/example/ec-cart-consistency/internal/domain/inventory"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store/mocks"
	"github.com/example/ec-cart-consistency/internal/model"
	"github.com/example/ec-cart-consistency/internal/notification"
)

const (
	ownerID = "cust-1"
	orderID = "order-1"
)

func newTestLifecycle() (*Lifecycle, *store.MemoryStore, *mocks.MockSender) {
	st := store.NewMemoryStore()
	st.PutProduct(model.Product{ID: "prod-a", Name: "Mug", Price: 1000, StockQuantity: 7, Status: model.ProductActive})
	st.PutProduct(model.Product{ID: "prod-b", Name: "Plate", Price: 500, StockQuantity: 0, Status: model.ProductInactive})

	sender := mocks.NewMockSender()
	dispatcher := notification.NewDispatcher(sender, time.Second, zerolog.Nop())
	l := NewLifecycle(st, inventory.NewLedger(zerolog.Nop()), dispatcher, zerolog.Nop())
	l.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return l, st, sender
}

func putOrder(st *store.MemoryStore, status model.OrderStatus, payment model.PaymentStatus) {
	st.PutOrder(model.Order{
		ID:            orderID,
		CustomerID:    ownerID,
		Status:        status,
		PaymentStatus: payment,
		TotalAmount:   3500,
	}, []model.OrderItem{
		{OrderID: orderID, ProductID: "prod-a", Quantity: 3, UnitPriceAtPurchase: 1000},
		{OrderID: orderID, ProductID: "prod-b", Quantity: 1, UnitPriceAtPurchase: 500},
	})
}

func stock(t *testing.T, st *store.MemoryStore, id string) int {
	t.Helper()
	p, ok := st.Product(id)
	require.True(t, ok)
	return p.StockQuantity
}

// ============================================
// Transition Table Tests
// ============================================

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to model.OrderStatus
		want     bool
	}{
		{model.OrderPending, model.OrderProcessing, true},
		{model.OrderPending, model.OrderCancelled, true},
		{model.OrderProcessing, model.OrderShipped, true},
		{model.OrderProcessing, model.OrderCancelled, true},
		{model.OrderShipped, model.OrderDelivered, true},
		{model.OrderShipped, model.OrderCancelled, false},
		{model.OrderDelivered, model.OrderCancelled, false},
		{model.OrderCancelled, model.OrderCancelled, false},
		{model.OrderShipped, model.OrderPending, false},
		{"unknown", model.OrderCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestCancellableStatuses(t *testing.T) {
	assert.Equal(t, []model.OrderStatus{model.OrderPending, model.OrderProcessing}, cancellableStatuses())
}

// ============================================
// Cancel Tests
// ============================================

func TestLifecycle_Cancel_RestocksAndRefundsPaidOrder(t *testing.T) {
	l, st, _ := newTestLifecycle()
	putOrder(st, model.OrderProcessing, model.PaymentPaid)

	result, err := l.Cancel(context.Background(), orderID, ownerID, "")

	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, result.Status)
	assert.Equal(t, 4, result.Restocked)
	assert.Equal(t, 10, stock(t, st, "prod-a"))
	assert.Equal(t, 1, stock(t, st, "prod-b"))

	o, _ := st.Order(orderID)
	assert.Equal(t, model.OrderCancelled, o.Status)
	assert.Equal(t, model.PaymentPaid, o.PaymentStatus)

	refunds := st.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, 3500, refunds[0].Amount)
	assert.Equal(t, model.RefundPending, refunds[0].Status)
	assert.Equal(t, RefundReason, refunds[0].Reason)
	assert.Equal(t, ownerID, refunds[0].CustomerID)
	require.NotNil(t, result.Refund)
	assert.Equal(t, refunds[0].ID, result.Refund.ID)

	activity := st.Activity()
	require.Len(t, activity, 1)
	assert.Equal(t, ActionOrderCancelled, activity[0].Action)
	assert.Equal(t, "customer:cust-1", activity[0].ActorID)
}

func TestLifecycle_Cancel_UnpaidOrderHasNoRefund(t *testing.T) {
	for _, payment := range []model.PaymentStatus{model.PaymentPending, model.PaymentFailed} {
		t.Run(string(payment), func(t *testing.T) {
			l, st, _ := newTestLifecycle()
			putOrder(st, model.OrderPending, payment)

			result, err := l.Cancel(context.Background(), orderID, ownerID, "")

			require.NoError(t, err)
			assert.Nil(t, result.Refund)
			assert.Empty(t, st.Refunds())
			assert.Equal(t, 10, stock(t, st, "prod-a"))
		})
	}
}

func TestLifecycle_Cancel_RecordsCustomerNote(t *testing.T) {
	l, st, _ := newTestLifecycle()
	putOrder(st, model.OrderPending, model.PaymentPaid)

	_, err := l.Cancel(context.Background(), orderID, ownerID, "ordered by mistake")

	require.NoError(t, err)
	assert.Contains(t, st.Activity()[0].Description, "ordered by mistake")
	assert.Equal(t, RefundReason, st.Refunds()[0].Reason)
}

func TestLifecycle_Cancel_StateGuard(t *testing.T) {
	for _, status := range []model.OrderStatus{model.OrderShipped, model.OrderDelivered} {
		t.Run(string(status), func(t *testing.T) {
			l, st, sender := newTestLifecycle()
			putOrder(st, status, model.PaymentPaid)

			_, err := l.Cancel(context.Background(), orderID, ownerID, "")

			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrStateConflict)
			var appErr *apperr.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, string(status), appErr.State)

			assert.Equal(t, 7, stock(t, st, "prod-a"))
			assert.Empty(t, st.Refunds())
			assert.Empty(t, st.Activity())
			assert.Empty(t, sender.Calls())
		})
	}
}

func TestLifecycle_Cancel_NoDoubleCompensation(t *testing.T) {
	l, st, _ := newTestLifecycle()
	putOrder(st, model.OrderProcessing, model.PaymentPaid)
	ctx := context.Background()

	_, err := l.Cancel(ctx, orderID, ownerID, "")
	require.NoError(t, err)

	_, err = l.Cancel(ctx, orderID, ownerID, "")

	assert.ErrorIs(t, err, apperr.ErrStateConflict)
	assert.Equal(t, 10, stock(t, st, "prod-a"))
	assert.Equal(t, 1, stock(t, st, "prod-b"))
	assert.Len(t, st.Refunds(), 1)
}

func TestLifecycle_Cancel_NotFound(t *testing.T) {
	tests := []struct {
		name     string
		orderID  string
		customer string
	}{
		{"absent order", "order-404", ownerID},
		{"other customer's order", orderID, "cust-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, st, _ := newTestLifecycle()
			putOrder(st, model.OrderPending, model.PaymentPaid)

			_, err := l.Cancel(context.Background(), tt.orderID, tt.customer, "")

			assert.ErrorIs(t, err, ErrOrderNotFound)
			o, _ := st.Order(orderID)
			assert.Equal(t, model.OrderPending, o.Status)
		})
	}
}

func TestLifecycle_Cancel_Validation(t *testing.T) {
	l, _, _ := newTestLifecycle()

	_, err := l.Cancel(context.Background(), "", ownerID, "")
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = l.Cancel(context.Background(), orderID, "", "")
	assert.ErrorIs(t, err, ErrInvalidCustomer)
}

func TestLifecycle_Cancel_RollsBackOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		method string
	}{
		{"stock credit fails", "IncrementStock"},
		{"refund insert fails", "CreateRefund"},
		{"activity append fails", "AppendActivity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, st, sender := newTestLifecycle()
			putOrder(st, model.OrderProcessing, model.PaymentPaid)
			st.FailOn(tt.method, errors.New("pq: could not serialize access"))

			_, err := l.Cancel(context.Background(), orderID, ownerID, "")

			assert.ErrorIs(t, err, apperr.ErrPersistence)
			assert.NotContains(t, err.Error(), "pq:")

			o, _ := st.Order(orderID)
			assert.Equal(t, model.OrderProcessing, o.Status)
			assert.Equal(t, 7, stock(t, st, "prod-a"))
			assert.Equal(t, 0, stock(t, st, "prod-b"))
			assert.Empty(t, st.Refunds())
			assert.Empty(t, st.Activity())
			assert.Empty(t, sender.Calls())
		})
	}
}

func TestLifecycle_Cancel_MissingProductRollsBack(t *testing.T) {
	l, st, _ := newTestLifecycle()
	st.PutOrder(model.Order{ID: orderID, CustomerID: ownerID, Status: model.OrderPending, PaymentStatus: model.PaymentPaid, TotalAmount: 1000},
		[]model.OrderItem{
			{OrderID: orderID, ProductID: "prod-a", Quantity: 1, UnitPriceAtPurchase: 1000},
			{OrderID: orderID, ProductID: "prod-gone", Quantity: 1, UnitPriceAtPurchase: 1000},
		})

	_, err := l.Cancel(context.Background(), orderID, ownerID, "")

	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 7, stock(t, st, "prod-a"))
	o, _ := st.Order(orderID)
	assert.Equal(t, model.OrderPending, o.Status)
}

func TestLifecycle_Cancel_SendsNoticeAfterCommit(t *testing.T) {
	l, st, sender := newTestLifecycle()
	putOrder(st, model.OrderPending, model.PaymentPaid)

	_, err := l.Cancel(context.Background(), orderID, ownerID, "")

	require.NoError(t, err)
	calls := sender.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ownerID, calls[0].Recipient)
	assert.Contains(t, calls[0].Subject, "order-1")
	assert.Contains(t, calls[0].Body, "Mug")
	assert.Contains(t, calls[0].Body, "3,500")
}

func TestLifecycle_Cancel_NotificationFailureIsSwallowed(t *testing.T) {
	l, st, sender := newTestLifecycle()
	sender.SendErr = errors.New("smtp: 554 rejected")
	putOrder(st, model.OrderProcessing, model.PaymentPaid)

	result, err := l.Cancel(context.Background(), orderID, ownerID, "")

	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, result.Status)
	o, _ := st.Order(orderID)
	assert.Equal(t, model.OrderCancelled, o.Status)
	assert.Len(t, st.Refunds(), 1)
}

func TestLifecycle_Cancel_WithoutNotifier(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutProduct(model.Product{ID: "prod-a", StockQuantity: 1, Status: model.ProductActive})
	st.PutProduct(model.Product{ID: "prod-b", StockQuantity: 1, Status: model.ProductActive})
	putOrder(st, model.OrderPending, model.PaymentPending)
	l := NewLifecycle(st, inventory.NewLedger(zerolog.Nop()), nil, zerolog.Nop())

	_, err := l.Cancel(context.Background(), orderID, ownerID, "")

	require.NoError(t, err)
}

// ============================================
// CancellationSaga Tests
// ============================================

func TestCancellationSaga_LostRaceReportsCurrentState(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutProduct(model.Product{ID: "prod-a", StockQuantity: 2, Status: model.ProductActive})
	st.PutOrder(model.Order{ID: orderID, CustomerID: ownerID, Status: model.OrderShipped, PaymentStatus: model.PaymentPaid}, nil)

	// The saga was built from a stale read taken while the order was pending.
	stale := model.Order{ID: orderID, CustomerID: ownerID, Status: model.OrderPending, PaymentStatus: model.PaymentPaid}
	items := []model.OrderItem{{OrderID: orderID, ProductID: "prod-a", Quantity: 2}}
	saga := NewCancellationSaga(inventory.NewLedger(zerolog.Nop()), stale, items, "customer:cust-1", "", time.Now())

	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return saga.Execute(ctx, tx)
	})

	require.Error(t, err)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.KindStateConflict, appErr.Kind)
	assert.Equal(t, "shipped", appErr.State)
	p, _ := st.Product("prod-a")
	assert.Equal(t, 2, p.StockQuantity)
}

func TestCancellationSaga_DuplicateRefundIsConflict(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutProduct(model.Product{ID: "prod-a", StockQuantity: 2, Status: model.ProductActive})
	o := model.Order{ID: orderID, CustomerID: ownerID, Status: model.OrderPending, PaymentStatus: model.PaymentPaid, TotalAmount: 100}
	st.PutOrder(o, nil)
	require.NoError(t, st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateRefund(ctx, &model.RefundRequest{ID: "r0", OrderID: orderID})
	}))

	saga := NewCancellationSaga(inventory.NewLedger(zerolog.Nop()), o, nil, "customer:cust-1", "", time.Now())
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return saga.Execute(ctx, tx)
	})

	assert.ErrorIs(t, err, apperr.ErrStateConflict)
	got, _ := st.Order(orderID)
	assert.Equal(t, model.OrderPending, got.Status)
}

// creditOrderTx records the order in which stock is credited.
type creditOrderTx struct {
	store.Tx
	credited []string
}

func (t *creditOrderTx) IncrementStock(ctx context.Context, id string, qty int) error {
	t.credited = append(t.credited, id)
	return t.Tx.IncrementStock(ctx, id, qty)
}

func TestCancellationSaga_CreditsInProductOrder(t *testing.T) {
	st := store.NewMemoryStore()
	for _, id := range []string{"prod-a", "prod-b", "prod-c"} {
		st.PutProduct(model.Product{ID: id, StockQuantity: 1, Status: model.ProductActive})
	}
	o := model.Order{ID: orderID, CustomerID: ownerID, Status: model.OrderPending, PaymentStatus: model.PaymentPending}
	items := []model.OrderItem{
		{OrderID: orderID, ProductID: "prod-c", Quantity: 1},
		{OrderID: orderID, ProductID: "prod-a", Quantity: 2},
		{OrderID: orderID, ProductID: "prod-b", Quantity: 3},
	}
	st.PutOrder(o, items)

	saga := NewCancellationSaga(inventory.NewLedger(zerolog.Nop()), o, items, "customer:cust-1", "", time.Now())
	var rec *creditOrderTx
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		rec = &creditOrderTx{Tx: tx}
		return saga.Execute(ctx, rec)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"prod-a", "prod-b", "prod-c"}, rec.credited)
	assert.Equal(t, 6, saga.Restocked())
	// The caller's slice is left as it was.
	assert.Equal(t, "prod-c", items[0].ProductID)
}

func TestCancellationSaga_ReportsRefundOnFile(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutProduct(model.Product{ID: "prod-a", StockQuantity: 2, Status: model.ProductActive})
	o := model.Order{ID: orderID, CustomerID: ownerID, Status: model.OrderPending, PaymentStatus: model.PaymentPaid, TotalAmount: 100}
	items := []model.OrderItem{{OrderID: orderID, ProductID: "prod-a", Quantity: 1}}
	st.PutOrder(o, items)
	require.NoError(t, st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateRefund(ctx, &model.RefundRequest{ID: "refund-7", OrderID: orderID})
	}))

	saga := NewCancellationSaga(inventory.NewLedger(zerolog.Nop()), o, items, "customer:cust-1", "", time.Now())
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return saga.Execute(ctx, tx)
	})

	require.ErrorIs(t, err, apperr.ErrStateConflict)
	assert.Contains(t, err.Error(), "refund-7")
	p, _ := st.Product("prod-a")
	assert.Equal(t, 2, p.StockQuantity)
	assert.Len(t, st.Refunds(), 1)
}

func TestLifecycle_Cancel_RefundLookupFailureRollsBack(t *testing.T) {
	l, st, sender := newTestLifecycle()
	putOrder(st, model.OrderPending, model.PaymentPaid)
	st.FailOn("GetRefundByOrder", errors.New("io timeout"))

	_, err := l.Cancel(context.Background(), orderID, ownerID, "")

	assert.ErrorIs(t, err, apperr.ErrPersistence)
	o, _ := st.Order(orderID)
	assert.Equal(t, model.OrderPending, o.Status)
	p, _ := st.Product("prod-a")
	assert.Equal(t, 7, p.StockQuantity)
	assert.Empty(t, st.Refunds())
	assert.Empty(t, sender.Calls())
}
