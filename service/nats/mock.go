package nats

import (
	"context"
	"sync"

	"github.com/brojonat/goldium/service/poller"
)

// MockPublisher records published events in memory.
type MockPublisher struct {
	mu                sync.RWMutex
	transactions      []*TransactionEvent
	balances          []*BalanceEvent
	publishError      error
	publishBatchError error
	closed            bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.transactions = append(m.transactions, event)
	return nil
}

func (m *MockPublisher) PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishBatchError != nil {
		return m.publishBatchError
	}
	m.transactions = append(m.transactions, events...)
	return nil
}

func (m *MockPublisher) PublishBalance(ctx context.Context, event *BalanceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.balances = append(m.balances, event)
	return nil
}

// PublishSnapshot lets the mock stand in as a poller sink.
func (m *MockPublisher) PublishSnapshot(ctx context.Context, snap *poller.BalanceSnapshot) error {
	return m.PublishBalance(ctx, FromSnapshot(snap))
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Transactions returns a copy of the published transaction events.
func (m *MockPublisher) Transactions() []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*TransactionEvent(nil), m.transactions...)
}

// Balances returns a copy of the published balance events.
func (m *MockPublisher) Balances() []*BalanceEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*BalanceEvent(nil), m.balances...)
}

// TransactionsForWallet returns events published for one wallet.
func (m *MockPublisher) TransactionsForWallet(address string) []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []*TransactionEvent
	for _, event := range m.transactions {
		if event.WalletAddress == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError makes single publishes fail.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetPublishBatchError makes batch publishes fail.
func (m *MockPublisher) SetPublishBatchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishBatchError = err
}

func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
