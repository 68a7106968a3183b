package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/ec-cart-consistency/internal/apperr"
	"github.com/example/ec-cart-consistency/internal/domain/inventory"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/lock"
	"github.com/example/ec-cart-consistency/internal/metrics"
	"github.com/example/ec-cart-consistency/internal/model"
	"github.com/example/ec-cart-consistency/internal/tracing"
)

var (
	ErrInvalidQuantity    = apperr.Validation("quantity must be positive")
	ErrNegativeQuantity   = apperr.Validation("quantity must not be negative")
	ErrInvalidProduct     = apperr.Validation("product_id is required")
	ErrInvalidOwner       = apperr.Validation("cart owner is required")
	ErrInvalidMerge       = apperr.Validation("merge requires an anonymous source and a customer target")
	ErrProductUnavailable = apperr.NotFound("product not found or no longer available")
	ErrItemNotInCart      = apperr.NotFound("item is not in the cart")
)

var tracer = tracing.Tracer("cart")

// Item is one cart line joined with its current product data.
type Item struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int    `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Active    bool   `json:"active"`
	LineTotal int    `json:"line_total"`
}

// View is a cart as shown to its owner. Subtotal covers active products only;
// ItemCount sums quantities.
type View struct {
	Items     []Item `json:"items"`
	Subtotal  int    `json:"subtotal"`
	ItemCount int    `json:"item_count"`
}

// MergeResult describes what a merge moved into the customer cart.
type MergeResult struct {
	Combined int `json:"combined"`
	Created  int `json:"created"`
}

func (r MergeResult) Merged() int { return r.Combined + r.Created }

type Manager struct {
	store  store.Store
	ledger *inventory.Ledger
	locker lock.Locker
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(st store.Store, ledger *inventory.Ledger, locker lock.Locker, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  st,
		ledger: ledger,
		locker: locker,
		logger: logger.With().Str("component", "cart").Logger(),
		now:    time.Now,
	}
}

// Add increases the owner's quantity of a product by qty. The resulting
// quantity may not exceed current stock; on rejection the cart is unchanged.
func (m *Manager) Add(ctx context.Context, owner model.OwnerKey, productID string, qty int) (int, error) {
	if err := validateLine(owner, productID); err != nil {
		return 0, err
	}
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}

	ctx, span := m.startSpan(ctx, "cart.Add", owner, productID)
	defer span.End()

	var newQty int
	err := m.withOwner(ctx, "add", func(ctx context.Context, tx store.Tx) error {
		existing, err := m.entryQuantity(ctx, tx, owner, productID)
		if err != nil {
			return err
		}
		newQty = existing + qty

		avail, err := m.admit(ctx, tx, productID, newQty)
		if err != nil {
			return err
		}

		now := m.now()
		if err := tx.UpsertCartEntry(ctx, owner, productID, newQty, now); err != nil {
			return apperr.Classify(err, "upsert cart entry")
		}
		return appendActivity(ctx, tx, owner, ActionItemAdded,
			fmt.Sprintf("added %d x %s (now %d)", qty, avail.Product.Name, newQty), now)
	}, owner)
	if err != nil {
		return 0, err
	}
	return newQty, nil
}

// Update sets an absolute quantity. Zero removes the line.
func (m *Manager) Update(ctx context.Context, owner model.OwnerKey, productID string, qty int) error {
	if err := validateLine(owner, productID); err != nil {
		return err
	}
	if qty < 0 {
		return ErrNegativeQuantity
	}
	if qty == 0 {
		_, err := m.remove(ctx, "update", owner, productID)
		return err
	}

	ctx, span := m.startSpan(ctx, "cart.Update", owner, productID)
	defer span.End()

	return m.withOwner(ctx, "update", func(ctx context.Context, tx store.Tx) error {
		avail, err := m.ledger.CheckAvailable(ctx, tx, productID, qty)
		if err != nil {
			return unavailable(err)
		}
		if !avail.Active {
			return ErrProductUnavailable
		}

		if _, err := tx.GetCartEntry(ctx, owner, productID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrItemNotInCart
			}
			return apperr.Classify(err, "get cart entry")
		}

		if !avail.OK {
			return apperr.InsufficientStock(avail.CurrentStock)
		}

		now := m.now()
		if err := tx.UpsertCartEntry(ctx, owner, productID, qty, now); err != nil {
			return apperr.Classify(err, "upsert cart entry")
		}
		return appendActivity(ctx, tx, owner, ActionItemUpdated,
			fmt.Sprintf("set %s to %d", avail.Product.Name, qty), now)
	}, owner)
}

// Remove deletes the line if present. It reports whether anything was removed.
func (m *Manager) Remove(ctx context.Context, owner model.OwnerKey, productID string) (bool, error) {
	if err := validateLine(owner, productID); err != nil {
		return false, err
	}
	return m.remove(ctx, "remove", owner, productID)
}

func (m *Manager) remove(ctx context.Context, op string, owner model.OwnerKey, productID string) (bool, error) {
	ctx, span := m.startSpan(ctx, "cart.Remove", owner, productID)
	defer span.End()

	var removed bool
	err := m.withOwner(ctx, op, func(ctx context.Context, tx store.Tx) error {
		var err error
		removed, err = tx.DeleteCartEntry(ctx, owner, productID)
		if err != nil {
			return apperr.Classify(err, "delete cart entry")
		}
		if !removed {
			return nil
		}
		return appendActivity(ctx, tx, owner, ActionItemRemoved,
			fmt.Sprintf("removed %s", productID), m.now())
	}, owner)
	return removed, err
}

// Clear removes every line and returns how many there were.
func (m *Manager) Clear(ctx context.Context, owner model.OwnerKey) (int, error) {
	if !owner.Valid() {
		return 0, ErrInvalidOwner
	}

	ctx, span := m.startSpan(ctx, "cart.Clear", owner, "")
	defer span.End()

	var n int
	err := m.withOwner(ctx, "clear", func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.DeleteCartEntries(ctx, owner)
		if err != nil {
			return apperr.Classify(err, "clear cart")
		}
		if n == 0 {
			return nil
		}
		return appendActivity(ctx, tx, owner, ActionCartCleared,
			fmt.Sprintf("cleared %d items", n), m.now())
	}, owner)
	return n, err
}

// Merge moves the anonymous cart into the customer cart, summing quantities
// of products present in both. Stock is not checked here; checkout validates
// the final quantities. Merging an empty anonymous cart changes nothing.
func (m *Manager) Merge(ctx context.Context, anonymous, customer model.OwnerKey) (MergeResult, error) {
	if !anonymous.Valid() || !customer.Valid() || !anonymous.IsAnonymous() || !customer.IsCustomer() {
		return MergeResult{}, ErrInvalidMerge
	}

	ctx, span := m.startSpan(ctx, "cart.Merge", customer, "")
	defer span.End()
	span.SetAttributes(attribute.String("cart.source", anonymous.String()))

	var result MergeResult
	err := m.withOwner(ctx, "merge", func(ctx context.Context, tx store.Tx) error {
		result = MergeResult{}

		entries, err := tx.ListCartEntries(ctx, anonymous)
		if err != nil {
			return apperr.Classify(err, "list anonymous cart")
		}
		if len(entries) == 0 {
			return nil
		}

		now := m.now()
		for _, e := range entries {
			existing, err := m.entryQuantity(ctx, tx, customer, e.ProductID)
			if err != nil {
				return err
			}
			if existing > 0 {
				result.Combined++
			} else {
				result.Created++
			}
			if err := tx.UpsertCartEntry(ctx, customer, e.ProductID, existing+e.Quantity, now); err != nil {
				return apperr.Classify(err, "merge cart entry")
			}
		}

		if _, err := tx.DeleteCartEntries(ctx, anonymous); err != nil {
			return apperr.Classify(err, "clear anonymous cart")
		}
		return appendActivity(ctx, tx, customer, ActionCartMerged,
			fmt.Sprintf("merged %d items from session cart", len(entries)), now)
	}, anonymous, customer)
	if err != nil {
		return MergeResult{}, err
	}
	return result, nil
}

// Get returns the owner's cart priced at current product prices.
func (m *Manager) Get(ctx context.Context, owner model.OwnerKey) (View, error) {
	if !owner.Valid() {
		return View{}, ErrInvalidOwner
	}

	ctx, span := m.startSpan(ctx, "cart.Get", owner, "")
	defer span.End()

	view := View{Items: []Item{}}
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		view = View{Items: []Item{}}

		entries, err := tx.ListCartEntries(ctx, owner)
		if err != nil {
			return apperr.Classify(err, "list cart")
		}

		for _, e := range entries {
			item := Item{ProductID: e.ProductID, Quantity: e.Quantity}

			p, err := tx.GetProduct(ctx, e.ProductID, false)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return apperr.Classify(err, "get product")
			default:
				item.Name = p.Name
				item.UnitPrice = p.Price
				item.Active = p.IsActive()
			}

			if item.Active {
				item.LineTotal = item.UnitPrice * item.Quantity
				view.Subtotal += item.LineTotal
			}
			view.ItemCount += item.Quantity
			view.Items = append(view.Items, item)
		}
		return nil
	})
	err = apperr.Classify(err, "get cart")
	m.observe("get", err)
	if err != nil {
		return View{}, err
	}
	return view, nil
}

// withOwner runs fn in one transaction while holding every owner's lock.
func (m *Manager) withOwner(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error, owners ...model.OwnerKey) error {
	release, err := lock.LockAll(ctx, m.locker, owners...)
	if err != nil {
		err = apperr.Classify(err, "lock cart")
		m.observe(op, err)
		return err
	}
	defer release()

	err = apperr.Classify(m.store.WithinTx(ctx, fn), op+" cart")
	m.observe(op, err)
	return err
}

// admit checks that qty units of the product may sit in a cart.
func (m *Manager) admit(ctx context.Context, tx store.Tx, productID string, qty int) (inventory.Availability, error) {
	avail, err := m.ledger.CheckAvailable(ctx, tx, productID, qty)
	if err != nil {
		return avail, unavailable(err)
	}
	if !avail.Active {
		return avail, ErrProductUnavailable
	}
	if !avail.OK {
		return avail, apperr.InsufficientStock(avail.CurrentStock)
	}
	return avail, nil
}

func (m *Manager) entryQuantity(ctx context.Context, tx store.Tx, owner model.OwnerKey, productID string) (int, error) {
	e, err := tx.GetCartEntry(ctx, owner, productID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Classify(err, "get cart entry")
	}
	return e.Quantity, nil
}

func (m *Manager) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = apperr.KindOf(err).String()
		if apperr.KindOf(err) == apperr.KindPersistence {
			m.logger.Error().Err(apperr.Cause(err)).Str("operation", op).Msg("cart operation failed")
		}
	}
	metrics.CartOperations.WithLabelValues(op, result).Inc()
}

func (m *Manager) startSpan(ctx context.Context, name string, owner model.OwnerKey, productID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("cart.owner", owner.String()))
	if productID != "" {
		span.SetAttributes(attribute.String("product.id", productID))
	}
	return ctx, span
}

func validateLine(owner model.OwnerKey, productID string) error {
	if !owner.Valid() {
		return ErrInvalidOwner
	}
	if productID == "" {
		return ErrInvalidProduct
	}
	return nil
}

// unavailable folds a missing product into the cart's not-found error.
func unavailable(err error) error {
	if errors.Is(err, inventory.ErrProductNotFound) {
		return ErrProductUnavailable
	}
	return err
}

func appendActivity(ctx context.Context, tx store.ActivityRepository, owner model.OwnerKey, action, description string, at time.Time) error {
	entry := model.NewActivityEntry(owner.String(), action, description, at)
	if err := tx.AppendActivity(ctx, entry); err != nil {
		return apperr.Classify(err, "append activity")
	}
	return nil
}
