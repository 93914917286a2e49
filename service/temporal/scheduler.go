package temporal

import (
	"context"
	"time"
)

// Scheduler manages the per-wallet schedules that run SyncWalletWorkflow.
type Scheduler interface {
	// UpsertWalletSchedule creates the schedule, or updates its interval and
	// input if it already exists.
	UpsertWalletSchedule(ctx context.Context, input SyncWalletInput, interval time.Duration) error

	// DeleteWalletSchedule stops syncing a wallet.
	DeleteWalletSchedule(ctx context.Context, address, network string) error
}

const scheduleIDPrefix = "sync-wallet-"

// ScheduleID returns the Temporal schedule ID for a wallet.
func ScheduleID(address, network string) string {
	return scheduleIDPrefix + network + "-" + address
}
