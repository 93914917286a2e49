package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func TestSubjects(t *testing.T) {
	assert.Equal(t, "goldium.txns."+testWallet, TransactionSubject(testWallet))
	assert.Equal(t, "goldium.balances."+testWallet, BalanceSubject(testWallet))
	assert.Equal(t, []string{TransactionSubject(testWallet), BalanceSubject(testWallet)}, WalletSubjects(testWallet))
	assert.Equal(t, []string{"goldium.txns.*", "goldium.balances.*"}, StreamSubjects)
}

func TestFromTransaction(t *testing.T) {
	amount := 2.5
	mint := "APkBg8kzMBpVKxvgrw67vkd5KuGWqSu2GVb19eK4pump"
	memo := "rent"
	from := "sender"
	txn := &solana.Transaction{
		Signature:   "sig1",
		Slot:        42,
		BlockTime:   time.Unix(1_700_000_000, 0).UTC(),
		Network:     "devnet",
		Type:        solana.TypeReceive,
		Status:      solana.StatusConfirmed,
		Amount:      &amount,
		Token:       "GOLD",
		TokenMint:   &mint,
		FromAddress: &from,
		Memo:        &memo,
		Description: "Received 2.5 GOLD",
		FeeLamports: 5000,
	}

	event := FromTransaction(testWallet, txn)

	assert.Equal(t, KindTransaction, event.Kind)
	assert.Equal(t, testWallet, event.WalletAddress)
	assert.Equal(t, "sig1", event.Signature)
	assert.Equal(t, uint64(42), event.Slot)
	assert.Equal(t, "receive", event.Type)
	assert.Equal(t, "rent", event.Memo)
	assert.Equal(t, &mint, event.TokenMint)
	assert.Equal(t, txn.BlockTime, event.BlockTime)
	assert.False(t, event.PublishedAt.IsZero())

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"transaction"`)
	assert.NotContains(t, string(data), "to_address")
}

func TestFromSnapshot(t *testing.T) {
	snap := &poller.BalanceSnapshot{
		Address:       testWallet,
		Network:       "devnet",
		NativeAmount:  1.25,
		TokenMint:     "mint",
		TokenUIAmount: 10,
		TokenErr:      "rate limited",
		FetchedAt:     time.Now().UTC(),
	}

	event := FromSnapshot(snap)
	assert.Equal(t, KindBalance, event.Kind)
	assert.Equal(t, testWallet, event.WalletAddress)
	assert.Equal(t, 1.25, event.NativeAmount)
	assert.Equal(t, 10.0, event.TokenUIAmount)
	assert.Equal(t, "rate limited", event.TokenErr)
	assert.Empty(t, event.NativeErr)
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	pub := NewMockPublisher()

	require.NoError(t, pub.PublishTransaction(ctx, &TransactionEvent{WalletAddress: testWallet, Signature: "a"}))
	require.NoError(t, pub.PublishTransactionBatch(ctx, []*TransactionEvent{
		{WalletAddress: testWallet, Signature: "b"},
		{WalletAddress: "other", Signature: "c"},
	}))
	require.NoError(t, pub.PublishSnapshot(ctx, &poller.BalanceSnapshot{Address: testWallet}))

	assert.Len(t, pub.Transactions(), 3)
	assert.Len(t, pub.TransactionsForWallet(testWallet), 2)
	require.Len(t, pub.Balances(), 1)
	assert.Equal(t, testWallet, pub.Balances()[0].WalletAddress)

	pub.SetPublishError(errors.New("down"))
	assert.Error(t, pub.PublishBalance(ctx, &BalanceEvent{}))
	assert.Len(t, pub.Balances(), 1)

	require.NoError(t, pub.Close())
	assert.True(t, pub.IsClosed())
}

// The publisher must satisfy both interfaces it is wired into.
var (
	_ Publisher          = (*JetStreamPublisher)(nil)
	_ Publisher          = (*MockPublisher)(nil)
	_ poller.BalanceSink = (*JetStreamPublisher)(nil)
	_ poller.BalanceSink = (*MockPublisher)(nil)
)
