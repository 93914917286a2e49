package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func newWorkflowEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.FetchBalances)
	env.RegisterActivity(activities.GetExistingSignatures)
	env.RegisterActivity(activities.FetchHistory)
	env.RegisterActivity(activities.WriteTransactions)
	env.RegisterActivity(activities.WriteBalanceSnapshot)
	env.RegisterActivity(activities.PublishEvents)
	return env, activities
}

func syncInput() SyncWalletInput {
	return SyncWalletInput{Address: testWallet, Network: "devnet", TokenMint: testMint, TokenDecimals: 9}
}

func okSnapshot() *poller.BalanceSnapshot {
	return &poller.BalanceSnapshot{
		Address:       testWallet,
		Network:       "devnet",
		NativeAmount:  2,
		TokenMint:     testMint,
		TokenUIAmount: 10,
		FetchedAt:     time.Now(),
	}
}

func TestSyncWalletWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		mockActivities func(*testsuite.TestWorkflowEnvironment, *Activities)
		expectedError  bool
		validateResult func(*testing.T, *SyncWalletResult)
	}{
		{
			name: "new transactions are written and published",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.FetchBalances, mock.Anything, mock.Anything).Return(okSnapshot(), nil)
				env.OnActivity(a.GetExistingSignatures, mock.Anything, mock.Anything).
					Return(&GetExistingSignaturesResult{Signatures: []string{"old"}}, nil)
				env.OnActivity(a.FetchHistory, mock.Anything, mock.MatchedBy(func(in FetchHistoryInput) bool {
					return len(in.ExistingSignatures) == 1 && in.TokenMint == testMint
				})).Return(&FetchHistoryResult{
					Transactions:    sampleTransactions(),
					NewestSignature: stringPtr("sig1"),
					OldestSignature: stringPtr("sig2"),
				}, nil)
				env.OnActivity(a.WriteTransactions, mock.Anything, mock.Anything).
					Return(&WriteTransactionsResult{Written: 2}, nil)
				env.OnActivity(a.WriteBalanceSnapshot, mock.Anything, mock.Anything).Return(nil)
				env.OnActivity(a.PublishEvents, mock.Anything, mock.Anything).
					Return(&PublishEventsResult{Transactions: 2, Balance: true}, nil)
			},
			validateResult: func(t *testing.T, result *SyncWalletResult) {
				assert.Equal(t, testWallet, result.Address)
				assert.Equal(t, 2, result.TransactionCount)
				assert.Equal(t, 2, result.Written)
				assert.Equal(t, 2, result.Published)
				require.NotNil(t, result.NewestSignature)
				assert.Equal(t, "sig1", *result.NewestSignature)
				assert.InDelta(t, 10.0, result.TokenUIAmount, 1e-9)
				assert.True(t, result.BalancesOK)
				assert.Nil(t, result.Error)
			},
		},
		{
			name: "no new transactions skips the write",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.FetchBalances, mock.Anything, mock.Anything).Return(okSnapshot(), nil)
				env.OnActivity(a.GetExistingSignatures, mock.Anything, mock.Anything).
					Return(&GetExistingSignaturesResult{}, nil)
				env.OnActivity(a.FetchHistory, mock.Anything, mock.Anything).
					Return(&FetchHistoryResult{}, nil)
				env.OnActivity(a.WriteBalanceSnapshot, mock.Anything, mock.Anything).Return(nil)
				env.OnActivity(a.PublishEvents, mock.Anything, mock.Anything).
					Return(&PublishEventsResult{Balance: true}, nil)
			},
			validateResult: func(t *testing.T, result *SyncWalletResult) {
				assert.Zero(t, result.TransactionCount)
				assert.Zero(t, result.Written)
				assert.Nil(t, result.NewestSignature)
			},
		},
		{
			name: "publish failure does not fail the workflow",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.FetchBalances, mock.Anything, mock.Anything).Return(okSnapshot(), nil)
				env.OnActivity(a.GetExistingSignatures, mock.Anything, mock.Anything).
					Return(&GetExistingSignaturesResult{}, nil)
				env.OnActivity(a.FetchHistory, mock.Anything, mock.Anything).
					Return(&FetchHistoryResult{Transactions: sampleTransactions()}, nil)
				env.OnActivity(a.WriteTransactions, mock.Anything, mock.Anything).
					Return(&WriteTransactionsResult{Written: 2}, nil)
				env.OnActivity(a.WriteBalanceSnapshot, mock.Anything, mock.Anything).Return(nil)
				env.OnActivity(a.PublishEvents, mock.Anything, mock.Anything).
					Return(nil, errors.New("nats unavailable"))
			},
			validateResult: func(t *testing.T, result *SyncWalletResult) {
				assert.Equal(t, 2, result.Written)
				assert.Zero(t, result.Published)
				assert.Nil(t, result.Error)
			},
		},
		{
			name: "snapshot write failure does not fail the workflow",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.FetchBalances, mock.Anything, mock.Anything).Return(okSnapshot(), nil)
				env.OnActivity(a.GetExistingSignatures, mock.Anything, mock.Anything).
					Return(&GetExistingSignaturesResult{}, nil)
				env.OnActivity(a.FetchHistory, mock.Anything, mock.Anything).
					Return(&FetchHistoryResult{}, nil)
				env.OnActivity(a.WriteBalanceSnapshot, mock.Anything, mock.Anything).
					Return(errors.New("db down"))
				env.OnActivity(a.PublishEvents, mock.Anything, mock.Anything).
					Return(&PublishEventsResult{Balance: true}, nil)
			},
			validateResult: func(t *testing.T, result *SyncWalletResult) {
				assert.Nil(t, result.Error)
			},
		},
		{
			name: "history failure fails the workflow",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.FetchBalances, mock.Anything, mock.Anything).Return(okSnapshot(), nil)
				env.OnActivity(a.GetExistingSignatures, mock.Anything, mock.Anything).
					Return(&GetExistingSignaturesResult{}, nil)
				env.OnActivity(a.FetchHistory, mock.Anything, mock.Anything).
					Return(nil, errors.New("rpc down"))
			},
			expectedError: true,
		},
		{
			name: "write failure fails the workflow",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.FetchBalances, mock.Anything, mock.Anything).Return(okSnapshot(), nil)
				env.OnActivity(a.GetExistingSignatures, mock.Anything, mock.Anything).
					Return(&GetExistingSignaturesResult{}, nil)
				env.OnActivity(a.FetchHistory, mock.Anything, mock.Anything).
					Return(&FetchHistoryResult{Transactions: sampleTransactions()}, nil)
				env.OnActivity(a.WriteTransactions, mock.Anything, mock.Anything).
					Return(nil, errors.New("constraint violation"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, activities := newWorkflowEnv(t)
			tt.mockActivities(env, activities)

			env.ExecuteWorkflow(SyncWalletWorkflow, syncInput())

			require.True(t, env.IsWorkflowCompleted())
			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}
			require.NoError(t, env.GetWorkflowError())

			var result SyncWalletResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)
		})
	}
}

func TestSyncWalletWorkflow_ActivityRetries(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.FetchBalances, mock.Anything, mock.Anything).Return(okSnapshot(), nil)
	env.OnActivity(activities.GetExistingSignatures, mock.Anything, mock.Anything).
		Return(&GetExistingSignaturesResult{}, nil)

	callCount := 0
	env.OnActivity(activities.FetchHistory, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callCount++
		if callCount < 3 {
			panic("transient error")
		}
	}).Return(&FetchHistoryResult{
		Transactions:    []*solana.Transaction{sampleTransactions()[0]},
		NewestSignature: stringPtr("sig1"),
	}, nil)
	env.OnActivity(activities.WriteTransactions, mock.Anything, mock.Anything).
		Return(&WriteTransactionsResult{Written: 1}, nil)
	env.OnActivity(activities.WriteBalanceSnapshot, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(activities.PublishEvents, mock.Anything, mock.Anything).
		Return(&PublishEventsResult{Transactions: 1}, nil)

	env.ExecuteWorkflow(SyncWalletWorkflow, syncInput())

	require.NoError(t, env.GetWorkflowError())
	var result SyncWalletResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.TransactionCount)
	assert.Equal(t, 3, callCount)
}

func TestScheduleID(t *testing.T) {
	assert.Equal(t, "sync-wallet-devnet-abc", ScheduleID("abc", "devnet"))
	assert.NotEqual(t, ScheduleID("abc", "devnet"), ScheduleID("abc", "mainnet"))
}

func TestMockScheduler(t *testing.T) {
	s := NewMockScheduler()
	ctx := t.Context()

	require.NoError(t, s.UpsertWalletSchedule(ctx, syncInput(), time.Minute))
	require.NoError(t, s.UpsertWalletSchedule(ctx, syncInput(), 2*time.Minute))
	assert.Equal(t, 1, s.ScheduleCount())

	interval, input, ok := s.GetSchedule(testWallet, "devnet")
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, interval)
	assert.Equal(t, testMint, input.TokenMint)

	require.NoError(t, s.DeleteWalletSchedule(ctx, testWallet, "devnet"))
	assert.False(t, s.ScheduleExists(testWallet, "devnet"))
	assert.Error(t, s.DeleteWalletSchedule(ctx, testWallet, "devnet"))
}
