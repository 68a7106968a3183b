package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ec-cart-consistency/internal/apperr"
	"github.com/example/ec-cart-consistency/internal/domain/inventory"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/model"
)

// RefundReason is recorded on every refund created by a cancellation.
const RefundReason = "customer cancellation"

const ActionOrderCancelled = "order.cancelled"

// CancellationSaga is the compensating unit of work for one cancellation:
// the status flip, one stock credit per line and the optional refund request.
// Execute must run inside a single transaction; any error leaves nothing
// applied once the caller rolls back.
type CancellationSaga struct {
	ledger *inventory.Ledger

	order   model.Order
	items   []model.OrderItem
	actorID string
	note    string
	at      time.Time

	// Filled by Execute.
	restocked int
	refund    *model.RefundRequest
}

// NewCancellationSaga credits lines in product id order so concurrent
// transactions lock product rows in the same order.
func NewCancellationSaga(ledger *inventory.Ledger, o model.Order, items []model.OrderItem, actorID, note string, at time.Time) *CancellationSaga {
	return &CancellationSaga{
		ledger:  ledger,
		order:   o,
		items:   SortByProduct(items),
		actorID: actorID,
		note:    note,
		at:      at,
	}
}

func (s *CancellationSaga) Execute(ctx context.Context, tx store.Tx) error {
	changed, err := tx.TransitionOrderStatus(ctx, s.order.ID, cancellableStatuses(), model.OrderCancelled, s.at)
	if err != nil {
		return apperr.Classify(err, "cancel order")
	}
	if !changed {
		// Lost a race with another status change after our read.
		current, err := tx.GetOrder(ctx, s.order.ID, false)
		if err != nil {
			return apperr.Classify(err, "reload order")
		}
		return apperr.StateConflict("order cannot be cancelled", string(current.Status))
	}

	for _, item := range s.items {
		if err := s.ledger.Credit(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
		s.restocked += item.Quantity
	}

	if s.order.PaymentStatus == model.PaymentPaid {
		existing, err := tx.GetRefundByOrder(ctx, s.order.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return apperr.Classify(err, "get refund request")
		default:
			return apperr.StateConflict(
				fmt.Sprintf("refund %s already requested", existing.ID), string(model.OrderCancelled))
		}

		refund := &model.RefundRequest{
			ID:         uuid.NewString(),
			OrderID:    s.order.ID,
			CustomerID: s.order.CustomerID,
			Amount:     s.order.TotalAmount,
			Status:     model.RefundPending,
			Reason:     RefundReason,
			CreatedAt:  s.at,
		}
		if err := tx.CreateRefund(ctx, refund); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.StateConflict("refund already requested", string(model.OrderCancelled))
			}
			return apperr.Classify(err, "create refund request")
		}
		s.refund = refund
	}

	description := fmt.Sprintf("cancelled order %s, restocked %d units", s.order.ID, s.restocked)
	if s.refund != nil {
		description += fmt.Sprintf(", refund %d requested", s.refund.Amount)
	}
	if s.note != "" {
		description += ": " + s.note
	}
	entry := model.NewActivityEntry(s.actorID, ActionOrderCancelled, description, s.at)
	if err := tx.AppendActivity(ctx, entry); err != nil {
		return apperr.Classify(err, "append activity")
	}
	return nil
}

// SortByProduct returns a copy of items ordered by product id.
func SortByProduct(items []model.OrderItem) []model.OrderItem {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b model.OrderItem) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}

// Restocked is the number of units credited back.
func (s *CancellationSaga) Restocked() int { return s.restocked }

// Refund is the refund request created, or nil for unpaid orders.
func (s *CancellationSaga) Refund() *model.RefundRequest { return s.refund }
