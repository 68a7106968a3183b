package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ec-cart-consistency/internal/model"
)

// memoryState is one consistent copy of every table.
type memoryState struct {
	products  map[string]model.Product
	carts     map[model.OwnerKey]map[string]model.CartEntry
	orders    map[string]model.Order
	items     map[string][]model.OrderItem
	refunds   map[string]model.RefundRequest // orderID -> refund
	activity  []model.ActivityLogEntry
	customers map[string]string // customerID -> email
}

func newMemoryState() *memoryState {
	return &memoryState{
		products:  make(map[string]model.Product),
		carts:     make(map[model.OwnerKey]map[string]model.CartEntry),
		orders:    make(map[string]model.Order),
		items:     make(map[string][]model.OrderItem),
		refunds:   make(map[string]model.RefundRequest),
		customers: make(map[string]string),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for owner, entries := range s.carts {
		m := make(map[string]model.CartEntry, len(entries))
		for k, v := range entries {
			m[k] = v
		}
		c.carts[owner] = m
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v // order items are immutable
	}
	for k, v := range s.refunds {
		c.refunds[k] = v
	}
	c.activity = append(c.activity, s.activity...)
	for k, v := range s.customers {
		c.customers[k] = v
	}
	return c
}

// MemoryStore is an in-memory Store. Transactions run one at a time against a
// private copy of the state which replaces the shared state on commit.
type MemoryStore struct {
	mu     sync.Mutex
	state  *memoryState
	faults map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:  newMemoryState(),
		faults: make(map[string]error),
	}
}

// WithinTx implements Store.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := m.state.clone()
	if err := fn(ctx, &memoryTx{state: working, faults: m.faults}); err != nil {
		return err
	}
	m.state = working
	return nil
}

// FailOn makes the named Tx method return err until cleared with a nil err.
func (m *MemoryStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, method)
		return
	}
	m.faults[method] = err
}

// Seeding and inspection helpers.

func (m *MemoryStore) PutProduct(p model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
}

func (m *MemoryStore) Product(id string) (model.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[id]
	return p, ok
}

func (m *MemoryStore) PutOrder(o model.Order, items []model.OrderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.orders[o.ID] = o
	m.state.items[o.ID] = append([]model.OrderItem(nil), items...)
}

func (m *MemoryStore) Order(id string) (model.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[id]
	return o, ok
}

func (m *MemoryStore) PutCartEntry(e model.CartEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.carts[e.Owner] == nil {
		m.state.carts[e.Owner] = make(map[string]model.CartEntry)
	}
	m.state.carts[e.Owner][e.ProductID] = e
}

// CartQuantities returns productID -> quantity for an owner.
func (m *MemoryStore) CartQuantities(owner model.OwnerKey) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.state.carts[owner]))
	for id, e := range m.state.carts[owner] {
		out[id] = e.Quantity
	}
	return out
}

func (m *MemoryStore) Refunds() []model.RefundRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RefundRequest, 0, len(m.state.refunds))
	for _, r := range m.state.refunds {
		out = append(out, r)
	}
	return out
}

func (m *MemoryStore) Activity() []model.ActivityLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ActivityLogEntry(nil), m.state.activity...)
}

func (m *MemoryStore) PutCustomer(customerID, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.customers[customerID] = email
}

// CustomerEmail implements CustomerDirectory.
func (m *MemoryStore) CustomerEmail(_ context.Context, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.state.customers[customerID]
	if !ok {
		return "", ErrNotFound
	}
	return email, nil
}

type memoryTx struct {
	state  *memoryState
	faults map[string]error
}

func (t *memoryTx) fault(method string) error {
	return t.faults[method]
}

func (t *memoryTx) GetProduct(_ context.Context, id string, _ bool) (*model.Product, error) {
	if err := t.fault("GetProduct"); err != nil {
		return nil, err
	}
	p, ok := t.state.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memoryTx) IncrementStock(_ context.Context, id string, qty int) error {
	if err := t.fault("IncrementStock"); err != nil {
		return err
	}
	p, ok := t.state.products[id]
	if !ok {
		return ErrNotFound
	}
	p.StockQuantity += qty
	p.UpdatedAt = time.Now()
	t.state.products[id] = p
	return nil
}

func (t *memoryTx) GetCartEntry(_ context.Context, owner model.OwnerKey, productID string) (*model.CartEntry, error) {
	if err := t.fault("GetCartEntry"); err != nil {
		return nil, err
	}
	e, ok := t.state.carts[owner][productID]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (t *memoryTx) ListCartEntries(_ context.Context, owner model.OwnerKey) ([]model.CartEntry, error) {
	if err := t.fault("ListCartEntries"); err != nil {
		return nil, err
	}
	entries := make([]model.CartEntry, 0, len(t.state.carts[owner]))
	for _, e := range t.state.carts[owner] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ProductID < entries[j].ProductID
	})
	return entries, nil
}

func (t *memoryTx) UpsertCartEntry(_ context.Context, owner model.OwnerKey, productID string, qty int, now time.Time) error {
	if err := t.fault("UpsertCartEntry"); err != nil {
		return err
	}
	if t.state.carts[owner] == nil {
		t.state.carts[owner] = make(map[string]model.CartEntry)
	}
	e, ok := t.state.carts[owner][productID]
	if !ok {
		e = model.CartEntry{Owner: owner, ProductID: productID, CreatedAt: now}
	}
	e.Quantity = qty
	e.UpdatedAt = now
	t.state.carts[owner][productID] = e
	return nil
}

func (t *memoryTx) DeleteCartEntry(_ context.Context, owner model.OwnerKey, productID string) (bool, error) {
	if err := t.fault("DeleteCartEntry"); err != nil {
		return false, err
	}
	if _, ok := t.state.carts[owner][productID]; !ok {
		return false, nil
	}
	delete(t.state.carts[owner], productID)
	return true, nil
}

func (t *memoryTx) DeleteCartEntries(_ context.Context, owner model.OwnerKey) (int, error) {
	if err := t.fault("DeleteCartEntries"); err != nil {
		return 0, err
	}
	n := len(t.state.carts[owner])
	delete(t.state.carts, owner)
	return n, nil
}

func (t *memoryTx) GetOrder(_ context.Context, id string, _ bool) (*model.Order, error) {
	if err := t.fault("GetOrder"); err != nil {
		return nil, err
	}
	o, ok := t.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memoryTx) ListOrderItems(_ context.Context, orderID string) ([]model.OrderItem, error) {
	if err := t.fault("ListOrderItems"); err != nil {
		return nil, err
	}
	return append([]model.OrderItem(nil), t.state.items[orderID]...), nil
}

func (t *memoryTx) TransitionOrderStatus(_ context.Context, id string, from []model.OrderStatus, to model.OrderStatus, now time.Time) (bool, error) {
	if err := t.fault("TransitionOrderStatus"); err != nil {
		return false, err
	}
	o, ok := t.state.orders[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if o.Status == s {
			o.Status = to
			o.UpdatedAt = now
			t.state.orders[id] = o
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) CreateRefund(_ context.Context, refund *model.RefundRequest) error {
	if err := t.fault("CreateRefund"); err != nil {
		return err
	}
	if _, exists := t.state.refunds[refund.OrderID]; exists {
		return ErrDuplicate
	}
	t.state.refunds[refund.OrderID] = *refund
	return nil
}

func (t *memoryTx) GetRefundByOrder(_ context.Context, orderID string) (*model.RefundRequest, error) {
	if err := t.fault("GetRefundByOrder"); err != nil {
		return nil, err
	}
	r, ok := t.state.refunds[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t *memoryTx) AppendActivity(_ context.Context, entry *model.ActivityLogEntry) error {
	if err := t.fault("AppendActivity"); err != nil {
		return err
	}
	t.state.activity = append(t.state.activity, *entry)
	return nil
}
