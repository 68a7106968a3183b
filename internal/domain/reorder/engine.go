package reorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/ec-cart-consistency/internal/apperr"
	"github.com/example/ec-cart-consistency/internal/domain/inventory"
	"github.com/example/ec-cart-consistency/internal/domain/order"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/lock"
	"github.com/example/ec-cart-consistency/internal/metrics"
	"github.com/example/ec-cart-consistency/internal/model"
	"github.com/example/ec-cart-consistency/internal/tracing"
)

// DisplayLimit is how many skip notes a storefront shows before summarizing.
const DisplayLimit = 3

const (
	ReasonUnavailable = "no longer available"
	ReasonOutOfStock  = "out of stock"
)

const ActionReordered = "cart.reordered"

var ErrEmptyOrder = apperr.NotFound("order has no items")

var tracer = tracing.Tracer("reorder")

// Skip explains why a line was not added in full.
type Skip struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
}

func (s Skip) String() string {
	name := s.Name
	if name == "" {
		name = s.ProductID
	}
	return fmt.Sprintf("%s: %s", name, s.Reason)
}

// Result lists every skip; callers trim it for display.
type Result struct {
	AddedCount int    `json:"added_count"`
	Skipped    []Skip `json:"skipped"`
}

// Display returns at most limit skip notes and how many were left out.
func (r Result) Display(limit int) ([]string, int) {
	notes := make([]string, 0, len(r.Skipped))
	for i, s := range r.Skipped {
		if i == limit {
			break
		}
		notes = append(notes, s.String())
	}
	return notes, len(r.Skipped) - len(notes)
}

// Engine rebuilds a customer's cart from an earlier order.
type Engine struct {
	store  store.Store
	ledger *inventory.Ledger
	locker lock.Locker
	logger zerolog.Logger
	now    func() time.Time
}

func NewEngine(st store.Store, ledger *inventory.Ledger, locker lock.Locker, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  st,
		ledger: ledger,
		locker: locker,
		logger: logger.With().Str("component", "reorder").Logger(),
		now:    time.Now,
	}
}

// Reorder adds the order's lines to the customer's cart, clamped to current
// stock. Unavailable lines are skipped; each line is decided on its own.
func (e *Engine) Reorder(ctx context.Context, orderID, customerID string) (Result, error) {
	if orderID == "" {
		return Result{}, order.ErrInvalidOrder
	}
	if customerID == "" {
		return Result{}, order.ErrInvalidCustomer
	}

	ctx, span := tracer.Start(ctx, "reorder.Reorder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("customer.id", customerID))

	owner := model.Customer(customerID)
	release, err := e.locker.Lock(ctx, owner)
	if err != nil {
		return Result{}, apperr.Classify(err, "lock cart")
	}
	defer release()

	var result Result
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		result = Result{Skipped: []Skip{}}

		if _, err := order.LoadOwnedOrder(ctx, tx, orderID, customerID); err != nil {
			return err
		}
		items, err := tx.ListOrderItems(ctx, orderID)
		if err != nil {
			return apperr.Classify(err, "list order items")
		}
		if len(items) == 0 {
			return ErrEmptyOrder
		}

		now := e.now()
		// Product order keeps row locks consistent with cancellations.
		for _, item := range order.SortByProduct(items) {
			added, skip, err := e.addLine(ctx, tx, owner, item, now)
			if err != nil {
				return err
			}
			if added {
				result.AddedCount++
			}
			if skip != nil {
				result.Skipped = append(result.Skipped, *skip)
			}
		}

		if result.AddedCount == 0 {
			return nil
		}
		entry := model.NewActivityEntry(owner.String(), ActionReordered,
			fmt.Sprintf("reordered %d of %d items from order %s", result.AddedCount, len(items), orderID), now)
		if err := tx.AppendActivity(ctx, entry); err != nil {
			return apperr.Classify(err, "append activity")
		}
		return nil
	})
	if err != nil {
		err = apperr.Classify(err, "reorder")
		if apperr.KindOf(err) == apperr.KindPersistence {
			e.logger.Error().Err(apperr.Cause(err)).Str("order_id", orderID).Msg("reorder failed")
		}
		return Result{}, err
	}

	full := result.AddedCount
	for _, s := range result.Skipped {
		label := outcomeLabel(s.Reason)
		if label == "clamped" {
			full--
		}
		metrics.ReorderItems.WithLabelValues(label).Inc()
	}
	metrics.ReorderItems.WithLabelValues("added").Add(float64(full))
	e.logger.Info().
		Str("order_id", orderID).
		Int("added", result.AddedCount).
		Int("skipped", len(result.Skipped)).
		Msg("order reordered")
	return result, nil
}

// addLine applies the availability policy to one order line.
func (e *Engine) addLine(ctx context.Context, tx store.Tx, owner model.OwnerKey, item model.OrderItem, now time.Time) (bool, *Skip, error) {
	avail, err := e.ledger.CheckAvailable(ctx, tx, item.ProductID, item.Quantity)
	if errors.Is(err, inventory.ErrProductNotFound) {
		return false, &Skip{ProductID: item.ProductID, Reason: ReasonUnavailable}, nil
	}
	if err != nil {
		return false, nil, err
	}

	skip := &Skip{ProductID: item.ProductID, Name: avail.Product.Name}
	stock := avail.CurrentStock
	switch {
	case !avail.Active:
		skip.Reason = ReasonUnavailable
		return false, skip, nil
	case stock == 0:
		skip.Reason = ReasonOutOfStock
		return false, skip, nil
	}

	toAdd := item.Quantity
	if stock < toAdd {
		toAdd = stock
		skip.Reason = fmt.Sprintf("only %d available", stock)
	} else {
		skip = nil
	}

	existing := 0
	entry, err := tx.GetCartEntry(ctx, owner, item.ProductID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, nil, apperr.Classify(err, "get cart entry")
	default:
		existing = entry.Quantity
	}

	newQty := min(existing+toAdd, stock)
	if err := tx.UpsertCartEntry(ctx, owner, item.ProductID, newQty, now); err != nil {
		return false, nil, apperr.Classify(err, "upsert cart entry")
	}
	return true, skip, nil
}

func outcomeLabel(reason string) string {
	switch reason {
	case ReasonUnavailable:
		return "unavailable"
	case ReasonOutOfStock:
		return "out_of_stock"
	default:
		return "clamped"
	}
}
