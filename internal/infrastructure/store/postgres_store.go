package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/example/ec-cart-consistency/internal/apperr"
	"github.com/example/ec-cart-consistency/internal/model"
)

const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// NewPostgresStore creates a new PostgreSQL-based store
func NewPostgresStore(db *sqlx.DB, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.With().Str("component", "postgres_store").Logger(),
	}
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(ctx context.Context, connStr string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "connect postgres")
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// WithinTx implements Store.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Persistence(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Persistence(err, "commit transaction")
	}
	return nil
}

// CustomerEmail implements CustomerDirectory.
func (s *PostgresStore) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	var email string
	err := s.db.GetContext(ctx, &email, `SELECT email FROM customers WHERE id = $1`, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", apperr.Persistence(err, "get customer email")
	}
	return email, nil
}

type postgresTx struct {
	tx *sqlx.Tx
}

// Product operations

func (t *postgresTx) GetProduct(ctx context.Context, id string, lock bool) (*model.Product, error) {
	query := `SELECT id, name, price, stock_quantity, status, updated_at FROM products WHERE id = $1`
	if lock {
		query += ` FOR SHARE`
	}

	var p model.Product
	err := t.tx.GetContext(ctx, &p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence(err, "get product")
	}
	return &p, nil
}

func (t *postgresTx) IncrementStock(ctx context.Context, id string, qty int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1
	`, id, qty)
	if err != nil {
		return apperr.Persistence(err, "increment stock")
	}
	return requireOneRow(res, "increment stock")
}

// Cart operations

type cartEntryRow struct {
	OwnerKind string    `db:"owner_kind"`
	OwnerID   string    `db:"owner_id"`
	ProductID string    `db:"product_id"`
	Quantity  int       `db:"quantity"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r cartEntryRow) toModel() model.CartEntry {
	return model.CartEntry{
		Owner:     model.OwnerKey{Kind: model.OwnerKind(r.OwnerKind), ID: r.OwnerID},
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (t *postgresTx) GetCartEntry(ctx context.Context, owner model.OwnerKey, productID string) (*model.CartEntry, error) {
	var row cartEntryRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT owner_kind, owner_id, product_id, quantity, created_at, updated_at
		FROM cart_entries
		WHERE owner_kind = $1 AND owner_id = $2 AND product_id = $3
		FOR UPDATE
	`, string(owner.Kind), owner.ID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence(err, "get cart entry")
	}
	e := row.toModel()
	return &e, nil
}

func (t *postgresTx) ListCartEntries(ctx context.Context, owner model.OwnerKey) ([]model.CartEntry, error) {
	var rows []cartEntryRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT owner_kind, owner_id, product_id, quantity, created_at, updated_at
		FROM cart_entries
		WHERE owner_kind = $1 AND owner_id = $2
		ORDER BY created_at ASC, product_id ASC
	`, string(owner.Kind), owner.ID)
	if err != nil {
		return nil, apperr.Persistence(err, "list cart entries")
	}

	entries := make([]model.CartEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toModel())
	}
	return entries, nil
}

func (t *postgresTx) UpsertCartEntry(ctx context.Context, owner model.OwnerKey, productID string, qty int, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cart_entries (owner_kind, owner_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (owner_kind, owner_id, product_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			updated_at = EXCLUDED.updated_at
	`, string(owner.Kind), owner.ID, productID, qty, now)
	if err != nil {
		return apperr.Persistence(err, "upsert cart entry")
	}
	return nil
}

func (t *postgresTx) DeleteCartEntry(ctx context.Context, owner model.OwnerKey, productID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM cart_entries
		WHERE owner_kind = $1 AND owner_id = $2 AND product_id = $3
	`, string(owner.Kind), owner.ID, productID)
	if err != nil {
		return false, apperr.Persistence(err, "delete cart entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence(err, "delete cart entry")
	}
	return n > 0, nil
}

func (t *postgresTx) DeleteCartEntries(ctx context.Context, owner model.OwnerKey) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM cart_entries WHERE owner_kind = $1 AND owner_id = $2
	`, string(owner.Kind), owner.ID)
	if err != nil {
		return 0, apperr.Persistence(err, "clear cart")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Persistence(err, "clear cart")
	}
	return int(n), nil
}

// Order operations

func (t *postgresTx) GetOrder(ctx context.Context, id string, lock bool) (*model.Order, error) {
	query := `
		SELECT id, customer_id, status, payment_status, total_amount, tracking_number, created_at, updated_at
		FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var o model.Order
	err := t.tx.GetContext(ctx, &o, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence(err, "get order")
	}
	return &o, nil
}

func (t *postgresTx) ListOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	var items []model.OrderItem
	err := t.tx.SelectContext(ctx, &items, `
		SELECT order_id, product_id, quantity, unit_price_at_purchase
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, apperr.Persistence(err, "list order items")
	}
	return items, nil
}

func (t *postgresTx) TransitionOrderStatus(ctx context.Context, id string, from []model.OrderStatus, to model.OrderStatus, now time.Time) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`, id, string(to), now, pq.Array(allowed))
	if err != nil {
		return false, apperr.Persistence(err, "transition order status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence(err, "transition order status")
	}
	return n == 1, nil
}

// Refund operations

func (t *postgresTx) CreateRefund(ctx context.Context, refund *model.RefundRequest) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO refund_requests (id, order_id, customer_id, amount, status, reason, created_at)
		VALUES (:id, :order_id, :customer_id, :amount, :status, :reason, :created_at)
	`, refund)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return apperr.Persistence(err, "create refund request")
	}
	return nil
}

func (t *postgresTx) GetRefundByOrder(ctx context.Context, orderID string) (*model.RefundRequest, error) {
	var r model.RefundRequest
	err := t.tx.GetContext(ctx, &r, `
		SELECT id, order_id, customer_id, amount, status, reason, created_at
		FROM refund_requests WHERE order_id = $1
	`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence(err, "get refund request")
	}
	return &r, nil
}

// Activity log

func (t *postgresTx) AppendActivity(ctx context.Context, entry *model.ActivityLogEntry) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO activity_log (id, actor_id, action, description, created_at)
		VALUES (:id, :actor_id, :action, :description, :created_at)
	`, entry)
	if err != nil {
		return apperr.Persistence(err, "append activity")
	}
	return nil
}

func requireOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence(err, op)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
