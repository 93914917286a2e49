package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/goldium/service/poller"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SyncWalletWorkflow refreshes one watched wallet: balances, new history,
// persistence and event publishing. A schedule runs it every poll interval.
//
// Balance read failures and publishing failures are logged and do not fail
// the run. Failing to read or write history does.
func SyncWalletWorkflow(ctx workflow.Context, input SyncWalletInput) (*SyncWalletResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SyncWalletWorkflow started", "address", input.Address, "network", input.Network)

	result := &SyncWalletResult{
		Address:  input.Address,
		Network:  input.Network,
		SyncTime: workflow.Now(ctx),
	}
	fail := func(step string, err error) (*SyncWalletResult, error) {
		msg := fmt.Sprintf("%s: %v", step, err)
		result.Error = &msg
		return result, fmt.Errorf("%s: %w", step, err)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 120 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	// Step 1: balances
	var snap *poller.BalanceSnapshot
	if err := workflow.ExecuteActivity(ctx, a.FetchBalances, input).Get(ctx, &snap); err != nil {
		return fail("failed to fetch balances", err)
	}
	result.NativeAmount = snap.NativeAmount
	result.TokenUIAmount = snap.TokenUIAmount
	result.BalancesOK = snap.OK()

	// Step 2: signatures already stored
	var existing *GetExistingSignaturesResult
	err := workflow.ExecuteActivity(ctx, a.GetExistingSignatures, GetExistingSignaturesInput{
		Address: input.Address,
		Network: input.Network,
	}).Get(ctx, &existing)
	if err != nil {
		return fail("failed to get existing signatures", err)
	}

	// Step 3: new history
	var history *FetchHistoryResult
	err = workflow.ExecuteActivity(ctx, a.FetchHistory, FetchHistoryInput{
		Address:            input.Address,
		Network:            input.Network,
		TokenMint:          input.TokenMint,
		Limit:              input.HistoryLimit,
		ExistingSignatures: existing.Signatures,
	}).Get(ctx, &history)
	if err != nil {
		return fail("failed to fetch history", err)
	}
	result.TransactionCount = len(history.Transactions)
	result.NewestSignature = history.NewestSignature

	// Step 4: persist
	if len(history.Transactions) > 0 {
		var written *WriteTransactionsResult
		err = workflow.ExecuteActivity(ctx, a.WriteTransactions, WriteTransactionsInput{
			Address:      input.Address,
			Network:      input.Network,
			Transactions: history.Transactions,
		}).Get(ctx, &written)
		if err != nil {
			return fail("failed to write transactions", err)
		}
		result.Written = written.Written
		result.Skipped = written.Skipped
	}

	if err := workflow.ExecuteActivity(ctx, a.WriteBalanceSnapshot, snap).Get(ctx, nil); err != nil {
		logger.Warn("failed to write balance snapshot", "address", input.Address, "error", err)
	}

	// Step 5: publish, once; a retried publish would duplicate events
	publishCtx := workflow.WithRetryPolicy(ctx, temporalsdk.RetryPolicy{MaximumAttempts: 1})
	var published *PublishEventsResult
	err = workflow.ExecuteActivity(publishCtx, a.PublishEvents, PublishEventsInput{
		Address:      input.Address,
		Transactions: history.Transactions,
		Snapshot:     snap,
	}).Get(ctx, &published)
	if err != nil {
		logger.Warn("failed to publish events", "address", input.Address, "error", err)
	} else {
		result.Published = published.Transactions
	}

	logger.Info("SyncWalletWorkflow completed",
		"address", input.Address,
		"transactions", result.TransactionCount,
		"written", result.Written,
		"published", result.Published,
	)
	return result, nil
}
