package inventory

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/ec-cart-consistency/internal/apperr"
	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
	"github.com/example/ec-cart-consistency/internal/metrics"
	"github.com/example/ec-cart-consistency/internal/model"
	"github.com/example/ec-cart-consistency/internal/tracing"
)

var (
	ErrProductNotFound = apperr.NotFound("product not found")
	ErrInvalidQuantity = apperr.Validation("quantity must be positive")
	ErrInvalidProduct  = apperr.Validation("product_id is required")
)

var tracer = tracing.Tracer("inventory")

// Availability is the outcome of a stock check.
type Availability struct {
	OK           bool           `json:"ok"`
	Active       bool           `json:"active"`
	CurrentStock int            `json:"current_stock"`
	Product      *model.Product `json:"-"`
}

// Ledger is the only component that reads or credits product stock.
type Ledger struct {
	logger zerolog.Logger
}

func NewLedger(logger zerolog.Logger) *Ledger {
	return &Ledger{logger: logger.With().Str("component", "inventory").Logger()}
}

// CheckAvailable decides whether requested units can be admitted. The product
// row stays locked until tx ends, so the caller's dependent write sees the same
// stock value.
func (l *Ledger) CheckAvailable(ctx context.Context, tx store.ProductRepository, productID string, requested int) (Availability, error) {
	if productID == "" {
		return Availability{}, ErrInvalidProduct
	}

	p, err := tx.GetProduct(ctx, productID, true)
	if errors.Is(err, store.ErrNotFound) {
		return Availability{}, ErrProductNotFound
	}
	if err != nil {
		return Availability{}, apperr.Classify(err, "check availability")
	}

	active := p.IsActive()
	return Availability{
		OK:           active && requested <= p.StockQuantity,
		Active:       active,
		CurrentStock: p.StockQuantity,
		Product:      p,
	}, nil
}

// Credit returns qty units to stock.
func (l *Ledger) Credit(ctx context.Context, tx store.ProductRepository, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	ctx, span := tracer.Start(ctx, "inventory.Credit")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int("quantity", qty))

	err := tx.IncrementStock(ctx, productID, qty)
	if errors.Is(err, store.ErrNotFound) {
		return ErrProductNotFound
	}
	if err != nil {
		return apperr.Classify(err, "credit stock")
	}

	metrics.StockCredited.Add(float64(qty))
	l.logger.Debug().Str("product_id", productID).Int("quantity", qty).Msg("stock credited")
	return nil
}

// Lookup runs CheckAvailable in its own unit of work.
func (l *Ledger) Lookup(ctx context.Context, st store.Store, productID string, requested int) (Availability, error) {
	if requested <= 0 {
		return Availability{}, ErrInvalidQuantity
	}

	var avail Availability
	err := st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		avail, err = l.CheckAvailable(ctx, tx, productID, requested)
		return err
	})
	if err != nil {
		return Availability{}, apperr.Classify(err, "lookup availability")
	}
	return avail, nil
}
