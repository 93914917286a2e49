package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func watchParams(addr string) CreateWalletParams {
	return CreateWalletParams{
		Address:      addr,
		Network:      "devnet",
		TokenMint:    testMint,
		PollInterval: 30 * time.Second,
	}
}

func TestCreateWallet(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	wallet, err := store.CreateWallet(ctx, watchParams(testWallet))
	require.NoError(t, err)

	assert.Equal(t, testWallet, wallet.Address)
	assert.Equal(t, 30*time.Second, wallet.PollInterval)
	assert.Equal(t, WalletStatusActive, wallet.Status, "status defaults to active")
	assert.Nil(t, wallet.LastPollTime)
	assert.False(t, wallet.CreatedAt.IsZero())
}

func TestCreateWallet_RewatchUpdates(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	_, err := store.CreateWallet(ctx, watchParams(testWallet))
	require.NoError(t, err)

	p := watchParams(testWallet)
	p.PollInterval = 2 * time.Minute
	wallet, err := store.CreateWallet(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, wallet.PollInterval)

	all, err := store.ListWallets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetWallet(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	_, err := store.CreateWallet(ctx, watchParams(testWallet))
	require.NoError(t, err)

	wallet, err := store.GetWallet(ctx, testWallet, "devnet")
	require.NoError(t, err)
	assert.Equal(t, testMint, wallet.TokenMint)

	_, err = store.GetWallet(ctx, testWallet, "mainnet")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := store.WalletExists(ctx, testWallet, "devnet")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListActiveWallets(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	for _, addr := range []string{"wallet1", "wallet2", "wallet3"} {
		_, err := store.CreateWallet(ctx, watchParams(addr))
		require.NoError(t, err)
	}

	_, err := store.UpdateWalletStatus(ctx, "wallet2", "devnet", WalletStatusPaused)
	require.NoError(t, err)
	_, err = store.UpdateWalletPollTime(ctx, "wallet1", "devnet", time.Now())
	require.NoError(t, err)

	active, err := store.ListActiveWallets(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "wallet3", active[0].Address, "never-polled wallets come first")
	assert.Equal(t, "wallet1", active[1].Address)
	require.NotNil(t, active[1].LastPollTime)
}

func TestDeleteWallet(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	_, err := store.CreateWallet(ctx, watchParams(testWallet))
	require.NoError(t, err)

	require.NoError(t, store.DeleteWallet(ctx, testWallet, "devnet"))
	assert.ErrorIs(t, store.DeleteWallet(ctx, testWallet, "devnet"), ErrNotFound)

	exists, err := store.WalletExists(ctx, testWallet, "devnet")
	require.NoError(t, err)
	assert.False(t, exists)
}
