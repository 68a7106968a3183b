package mocks

import (
	"context"
	"sync"
)

// MockSender is a mock implementation of notification.Sender for testing
type MockSender struct {
	mu sync.Mutex

	// For tracking calls in tests
	SendCalls []SendCall
	SendErr   error
}

// SendCall records parameters passed to Send
type SendCall struct {
	Recipient string
	Subject   string
	Body      string
}

// NewMockSender creates a new MockSender
func NewMockSender() *MockSender {
	return &MockSender{
		SendCalls: make([]SendCall, 0),
	}
}

// Send records the notice and returns SendErr
func (m *MockSender) Send(ctx context.Context, recipient, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SendCalls = append(m.SendCalls, SendCall{
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	})
	return m.SendErr
}

// Calls returns a copy of the recorded calls
func (m *MockSender) Calls() []SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SendCall(nil), m.SendCalls...)
}

// MockDirectory is a mock implementation of store.CustomerDirectory
type MockDirectory struct {
	Emails map[string]string
	Err    error
}

// CustomerEmail returns the configured email or Err
func (m *MockDirectory) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	email, ok := m.Emails[customerID]
	if !ok {
		return "", ErrUnknownCustomer
	}
	return email, nil
}
