package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMint = solanago.MustPublicKeyFromBase58("APkBg8kzMBpVKxvgrw67vkd5KuGWqSu2GVb19eK4pump")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockFetcher returns configured balances per address.
type mockFetcher struct {
	mu        sync.Mutex
	lamports  map[string]uint64
	tokens    map[string]uint64
	nativeErr error
	tokenErr  error
	// block, when set, holds fetches for the given address until closed
	block     chan struct{}
	blockAddr string
	calls     int
}

func (m *mockFetcher) GetNativeBalance(ctx context.Context, owner solanago.PublicKey) (uint64, error) {
	m.mu.Lock()
	m.calls++
	block := m.block
	blockAddr := m.blockAddr
	err := m.nativeErr
	v := m.lamports[owner.String()]
	m.mu.Unlock()

	if block != nil && owner.String() == blockAddr {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return v, err
}

func (m *mockFetcher) GetTokenBalance(ctx context.Context, owner, mint solanago.PublicKey) (solana.TokenBalance, error) {
	m.mu.Lock()
	err := m.tokenErr
	v := m.tokens[owner.String()]
	m.mu.Unlock()
	if err != nil {
		return solana.TokenBalance{Mint: mint.String()}, err
	}
	accounts := 0
	if v > 0 {
		accounts = 1
	}
	return solana.TokenBalance{Mint: mint.String(), Amount: v, Decimals: 9, Accounts: accounts}, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockSink records published snapshots.
type mockSink struct {
	mu    sync.Mutex
	snaps []*BalanceSnapshot
	err   error
}

func (s *mockSink) PublishSnapshot(ctx context.Context, snap *BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return s.err
}

func (s *mockSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func testConfig() Config {
	return Config{Network: "devnet", TokenMint: testMint, TokenDecimals: 9, Interval: time.Hour}
}

func TestFetchBalances(t *testing.T) {
	ctx := context.Background()
	owner := solanago.NewWallet().PublicKey()

	t.Run("both balances", func(t *testing.T) {
		f := &mockFetcher{
			lamports: map[string]uint64{owner.String(): 1_500_000_000},
			tokens:   map[string]uint64{owner.String(): 42_000_000_000},
		}
		snap := FetchBalances(ctx, f, owner, testConfig(), testLogger(), nil)

		assert.True(t, snap.OK())
		assert.Equal(t, owner.String(), snap.Address)
		assert.Equal(t, uint64(1_500_000_000), snap.NativeLamports)
		assert.InDelta(t, 1.5, snap.NativeAmount, 1e-9)
		assert.Equal(t, uint64(42_000_000_000), snap.TokenAmount)
		assert.InDelta(t, 42.0, snap.TokenUIAmount, 1e-9)
		assert.Equal(t, testMint.String(), snap.TokenMint)
		assert.False(t, snap.FetchedAt.IsZero())
	})

	t.Run("native failure is zero, token still read", func(t *testing.T) {
		f := &mockFetcher{
			lamports:  map[string]uint64{owner.String(): 1_500_000_000},
			tokens:    map[string]uint64{owner.String(): 7_000_000_000},
			nativeErr: errors.New("rpc timeout"),
		}
		snap := FetchBalances(ctx, f, owner, testConfig(), testLogger(), nil)

		assert.False(t, snap.OK())
		assert.Zero(t, snap.NativeLamports)
		assert.Zero(t, snap.NativeAmount)
		assert.Equal(t, "rpc timeout", snap.NativeErr)
		assert.InDelta(t, 7.0, snap.TokenUIAmount, 1e-9)
		assert.Empty(t, snap.TokenErr)
	})

	t.Run("token failure is zero", func(t *testing.T) {
		f := &mockFetcher{tokenErr: errors.New("429")}
		snap := FetchBalances(ctx, f, owner, testConfig(), testLogger(), nil)

		assert.Zero(t, snap.TokenAmount)
		assert.Zero(t, snap.TokenUIAmount)
		assert.Equal(t, "429", snap.TokenErr)
	})

	t.Run("no token account is zero without error", func(t *testing.T) {
		snap := FetchBalances(ctx, &mockFetcher{}, owner, testConfig(), testLogger(), nil)
		assert.True(t, snap.OK())
		assert.Zero(t, snap.TokenAmount)
		assert.Equal(t, uint8(9), snap.TokenDecimals)
	})
}

func TestBalancePoller_RefreshWithoutAddress(t *testing.T) {
	f := &mockFetcher{}
	p := New(f, testConfig(), testLogger())

	assert.Nil(t, p.Refresh(context.Background()))
	assert.Nil(t, p.Snapshot())
	assert.Zero(t, f.callCount())
}

func TestBalancePoller_RefreshPublishes(t *testing.T) {
	owner := solanago.NewWallet().PublicKey()
	f := &mockFetcher{lamports: map[string]uint64{owner.String(): 2_000_000_000}}
	sink := &mockSink{err: errors.New("nats down")}
	p := New(f, testConfig(), testLogger(), WithSink(sink))

	var got []*BalanceSnapshot
	p.Subscribe(func(s *BalanceSnapshot) { got = append(got, s) })

	p.SetAddress(&owner)
	snap := p.Refresh(context.Background())

	require.NotNil(t, snap)
	assert.InDelta(t, 2.0, snap.NativeAmount, 1e-9)
	assert.Equal(t, 1, sink.count(), "sink errors do not stop publishing")
	require.Len(t, got, 1)
	require.NotNil(t, p.Snapshot())
	assert.Equal(t, owner.String(), p.Snapshot().Address)
}

func TestBalancePoller_StaleAddressIsDiscarded(t *testing.T) {
	first := solanago.NewWallet().PublicKey()
	second := solanago.NewWallet().PublicKey()

	f := &mockFetcher{
		lamports:  map[string]uint64{first.String(): 1, second.String(): 2},
		block:     make(chan struct{}),
		blockAddr: first.String(),
	}
	p := New(f, testConfig(), testLogger())
	p.SetAddress(&first)

	result := make(chan *BalanceSnapshot, 1)
	go func() { result <- p.Refresh(context.Background()) }()

	// wait until the first fetch is in flight
	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, time.Millisecond)

	p.SetAddress(&second)
	fresh := p.Refresh(context.Background())
	require.NotNil(t, fresh)
	assert.Equal(t, second.String(), fresh.Address)

	close(f.block)
	assert.Nil(t, <-result, "result for the old address is dropped")

	snap := p.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, second.String(), snap.Address)
	assert.Equal(t, uint64(2), snap.NativeLamports)
}

func TestBalancePoller_ClearAddress(t *testing.T) {
	owner := solanago.NewWallet().PublicKey()
	f := &mockFetcher{lamports: map[string]uint64{owner.String(): 5}}
	p := New(f, testConfig(), testLogger())

	var cleared bool
	p.Subscribe(func(s *BalanceSnapshot) {
		if s == nil {
			cleared = true
		}
	})

	p.SetAddress(&owner)
	require.NotNil(t, p.Refresh(context.Background()))

	p.SetAddress(nil)
	assert.Nil(t, p.Snapshot())
	assert.True(t, cleared)
	_, ok := p.Address()
	assert.False(t, ok)
}

func TestBalancePoller_TickerRefreshes(t *testing.T) {
	owner := solanago.NewWallet().PublicKey()
	f := &mockFetcher{lamports: map[string]uint64{owner.String(): 5}}
	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond
	p := New(f, cfg, testLogger())

	p.Start(context.Background())
	defer p.Stop()
	p.SetAddress(&owner)

	require.Eventually(t, func() bool { return f.callCount() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestBalancePoller_StopCancelsInFlightFetch(t *testing.T) {
	owner := solanago.NewWallet().PublicKey()
	f := &mockFetcher{block: make(chan struct{}), blockAddr: owner.String()}
	p := New(f, testConfig(), testLogger())

	p.Start(context.Background())
	p.SetAddress(&owner)
	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while a fetch was blocked")
	}
}

// TestConnectPollDisconnect walks the full lifecycle: a wallet connects,
// its balances appear without waiting for the timer, and disconnecting
// resets them to nil.
func TestConnectPollDisconnect(t *testing.T) {
	ctx := context.Background()

	provider := wallet.NewMockProvider(wallet.KindPhantom)
	owner := provider.Key.PublicKey()
	mgr := wallet.NewManager(testLogger(), nil, provider)

	f := &mockFetcher{
		lamports: map[string]uint64{owner.String(): 3_000_000_000},
		tokens:   map[string]uint64{owner.String(): 125_000_000_000},
	}
	p := New(f, testConfig(), testLogger())
	p.Start(ctx)
	defer p.Stop()
	p.Follow(mgr)

	assert.Nil(t, p.Snapshot())

	res, err := mgr.Connect(ctx, wallet.KindPhantom)
	require.NoError(t, err)
	require.True(t, res.Success)

	// the configured interval is an hour, so this must come from the connect
	require.Eventually(t, func() bool { return p.Snapshot() != nil }, time.Second, 5*time.Millisecond)
	snap := p.Snapshot()
	assert.Equal(t, owner.String(), snap.Address)
	assert.InDelta(t, 3.0, snap.NativeAmount, 1e-9)
	assert.InDelta(t, 125.0, snap.TokenUIAmount, 1e-9)

	require.NoError(t, mgr.Disconnect(ctx))
	assert.Nil(t, p.Snapshot())
	_, ok := p.Address()
	assert.False(t, ok)
}

func TestFollow_PicksUpExistingSession(t *testing.T) {
	ctx := context.Background()
	provider := wallet.NewMockProvider(wallet.KindSolflare)
	mgr := wallet.NewManager(testLogger(), nil, provider)
	_, err := mgr.Connect(ctx, wallet.KindSolflare)
	require.NoError(t, err)

	p := New(&mockFetcher{}, testConfig(), testLogger())
	p.Follow(mgr)

	addr, ok := p.Address()
	require.True(t, ok)
	assert.Equal(t, provider.Key.PublicKey(), addr)

	provider.SimulateDisconnect()
	_, ok = p.Address()
	assert.False(t, ok)
}
