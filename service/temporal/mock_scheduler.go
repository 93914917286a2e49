package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is an in-memory Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	inputs    map[string]SyncWalletInput
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
		inputs:    make(map[string]SyncWalletInput),
	}
}

func (m *MockScheduler) UpsertWalletSchedule(ctx context.Context, input SyncWalletInput, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	id := ScheduleID(input.Address, input.Network)
	m.schedules[id] = interval
	m.inputs[id] = input
	return nil
}

func (m *MockScheduler) DeleteWalletSchedule(ctx context.Context, address, network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	id := ScheduleID(address, network)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(m.schedules, id)
	delete(m.inputs, id)
	return nil
}

// SetCreateError makes UpsertWalletSchedule fail.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeleteWalletSchedule fail.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// ScheduleExists reports whether a wallet has a schedule.
func (m *MockScheduler) ScheduleExists(address, network string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.schedules[ScheduleID(address, network)]
	return exists
}

// GetSchedule returns the interval and input of a wallet's schedule.
func (m *MockScheduler) GetSchedule(address, network string) (time.Duration, SyncWalletInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ScheduleID(address, network)
	interval, exists := m.schedules[id]
	return interval, m.inputs[id], exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}
