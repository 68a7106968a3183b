package order

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/ec-cart-consistency/internal/apperr"
	"github.com/example/ec-cart-consistency/internal/domain/inventory"
	"github.com/example/ec-cart-consistency/internal/email"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/metrics"
	"github.com/example/ec-cart-consistency/internal/model"
	"github.com/example/ec-cart-consistency/internal/notification"
	"github.com/example/ec-cart-consistency/internal/tracing"
)

var (
	ErrOrderNotFound   = apperr.NotFound("order not found")
	ErrInvalidOrder    = apperr.Validation("order_id is required")
	ErrInvalidCustomer = apperr.Validation("customer_id is required")
)

var tracer = tracing.Tracer("order")

// CancelResult summarizes a committed cancellation.
type CancelResult struct {
	OrderID   string               `json:"order_id"`
	Status    model.OrderStatus    `json:"status"`
	Restocked int                  `json:"restocked_units"`
	Refund    *model.RefundRequest `json:"refund,omitempty"`
}

// Lifecycle drives the customer-facing order transitions.
type Lifecycle struct {
	store    store.Store
	ledger   *inventory.Ledger
	notifier *notification.Dispatcher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewLifecycle(st store.Store, ledger *inventory.Ledger, notifier *notification.Dispatcher, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		store:    st,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger.With().Str("component", "order").Logger(),
		now:      time.Now,
	}
}

// Cancel cancels a pending or processing order owned by customerID, returning
// its stock and queueing a refund if it was paid. note is an optional reason
// given by the customer. The cancellation notice is sent after commit and its
// failure does not affect the result.
func (l *Lifecycle) Cancel(ctx context.Context, orderID, customerID, note string) (CancelResult, error) {
	if orderID == "" {
		return CancelResult{}, ErrInvalidOrder
	}
	if customerID == "" {
		return CancelResult{}, ErrInvalidCustomer
	}

	ctx, span := tracer.Start(ctx, "order.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("customer.id", customerID))

	var (
		saga       *CancellationSaga
		o          *model.Order
		emailItems []email.OrderItem
	)
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = loadOwnedOrder(ctx, tx, orderID, customerID, true)
		if err != nil {
			return err
		}
		if !CanTransitionTo(o.Status, model.OrderCancelled) {
			return apperr.StateConflict("order cannot be cancelled", string(o.Status))
		}

		items, err := tx.ListOrderItems(ctx, orderID)
		if err != nil {
			return apperr.Classify(err, "list order items")
		}

		saga = NewCancellationSaga(l.ledger, *o, items, model.Customer(customerID).String(), note, l.now())
		if err := saga.Execute(ctx, tx); err != nil {
			return err
		}

		emailItems, err = noticeItems(ctx, tx, items)
		return err
	})
	if err != nil {
		err = apperr.Classify(err, "cancel order")
		l.logFailure(err, orderID)
		span.SetStatus(codes.Error, err.Error())
		return CancelResult{}, err
	}

	metrics.OrdersCancelled.Inc()
	result := CancelResult{
		OrderID:   orderID,
		Status:    model.OrderCancelled,
		Restocked: saga.Restocked(),
		Refund:    saga.Refund(),
	}
	refundAmount := 0
	if result.Refund != nil {
		metrics.RefundsRequested.Inc()
		refundAmount = result.Refund.Amount
	}

	l.logger.Info().
		Str("order_id", orderID).
		Str("customer_id", customerID).
		Int("restocked", result.Restocked).
		Bool("refund", result.Refund != nil).
		Msg("order cancelled")

	l.notifier.Dispatch(ctx, o.CustomerID,
		email.CancellationSubject(orderID),
		email.BuildCancellationBody(orderID, emailItems, refundAmount))

	return result, nil
}

// loadOwnedOrder hides orders of other customers behind not found.
func loadOwnedOrder(ctx context.Context, tx store.OrderRepository, orderID, customerID string, lock bool) (*model.Order, error) {
	o, err := tx.GetOrder(ctx, orderID, lock)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, apperr.Classify(err, "get order")
	}
	if o.CustomerID != customerID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// LoadOwnedOrder is loadOwnedOrder for other packages reading order history.
func LoadOwnedOrder(ctx context.Context, tx store.OrderRepository, orderID, customerID string) (*model.Order, error) {
	return loadOwnedOrder(ctx, tx, orderID, customerID, false)
}

func noticeItems(ctx context.Context, tx store.ProductRepository, items []model.OrderItem) ([]email.OrderItem, error) {
	out := make([]email.OrderItem, 0, len(items))
	for _, item := range items {
		ei := email.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.UnitPriceAtPurchase}
		p, err := tx.GetProduct(ctx, item.ProductID, false)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, apperr.Classify(err, "get product")
		default:
			ei.Name = p.Name
		}
		out = append(out, ei)
	}
	return out, nil
}

func (l *Lifecycle) logFailure(err error, orderID string) {
	kind := apperr.KindOf(err)
	evt := l.logger.Info()
	if kind == apperr.KindPersistence {
		evt = l.logger.Error()
	}
	evt.Err(apperr.Cause(err)).Str("order_id", orderID).Str("kind", kind.String()).Msg("cancel rejected")
}
