package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ec-cart-consistency/internal/infrastructure/store"
)

// ErrUnknownCustomer is returned by MockDirectory for unknown ids
var ErrUnknownCustomer = errors.New("unknown customer")

// MockStore wraps a MemoryStore and records every unit of work
type MockStore struct {
	*store.MemoryStore

	mu sync.Mutex

	// For tracking calls in tests
	WithinTxCalls int
	// BeginErr makes WithinTx fail before fn runs
	BeginErr error
}

// NewMockStore creates a new MockStore
func NewMockStore() *MockStore {
	return &MockStore{MemoryStore: store.NewMemoryStore()}
}

// WithinTx records the call and delegates to the memory store
func (m *MockStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	m.mu.Lock()
	m.WithinTxCalls++
	beginErr := m.BeginErr
	m.mu.Unlock()

	if beginErr != nil {
		return beginErr
	}
	return m.MemoryStore.WithinTx(ctx, fn)
}

// Calls returns the number of units of work opened so far
func (m *MockStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.WithinTxCalls
}
