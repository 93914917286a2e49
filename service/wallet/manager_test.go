package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventRecorder collects session events.
type eventRecorder struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (r *eventRecorder) record(ev SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SessionEvent(nil), r.events...)
}

func TestManager_ConnectSuccess(t *testing.T) {
	ctx := context.Background()
	phantom := NewMockProvider(KindPhantom)
	mgr := NewManager(testLogger(), nil, phantom)

	rec := &eventRecorder{}
	mgr.Subscribe(rec.record)

	res, err := mgr.Connect(ctx, KindPhantom)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Rejected)
	require.NotNil(t, res.Session)
	assert.Equal(t, phantom.Key.PublicKey(), res.Session.Address)
	assert.True(t, res.Session.Connected)

	assert.True(t, mgr.Connected())
	assert.Equal(t, phantom.Key.PublicKey().String(), mgr.Address())
	assert.Equal(t, 1, phantom.Listeners(), "listener registered while connected")

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, SessionConnected, events[0].Type)
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	phantom := NewMockProvider(KindPhantom)
	mgr := NewManager(testLogger(), nil, phantom)

	_, err := mgr.Connect(ctx, KindPhantom)
	require.NoError(t, err)
	res, err := mgr.Connect(ctx, KindPhantom)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, phantom.ConnectCalls())
}

func TestManager_RejectedConnect(t *testing.T) {
	ctx := context.Background()
	phantom := NewMockProvider(KindPhantom)
	phantom.ConnectErr = ErrUserRejected

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	mgr := NewManager(testLogger(), m, phantom)

	rec := &eventRecorder{}
	mgr.Subscribe(rec.record)

	res, err := mgr.Connect(ctx, KindPhantom)

	require.NoError(t, err, "rejection is not an error")
	assert.False(t, res.Success)
	assert.True(t, res.Rejected)
	assert.Nil(t, res.Session)
	assert.False(t, mgr.Connected())
	assert.Empty(t, mgr.Address())
	assert.Empty(t, rec.all())
	assert.Zero(t, phantom.Listeners())
	count, err := testutil.GatherAndCount(reg, "wallet_connect_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestManager_RejectedConnectKeepsExistingSession(t *testing.T) {
	ctx := context.Background()
	phantom := NewMockProvider(KindPhantom)
	mgr := NewManager(testLogger(), nil, phantom)

	_, err := mgr.Connect(ctx, KindPhantom)
	require.NoError(t, err)

	solflare := NewMockProvider(KindSolflare)
	solflare.ConnectErr = ErrUserRejected
	mgr.Register(solflare)

	res, err := mgr.Connect(ctx, KindSolflare)
	require.NoError(t, err)
	assert.True(t, res.Rejected)

	s, ok := mgr.Session()
	require.True(t, ok)
	assert.Equal(t, KindPhantom, s.Kind)
	assert.True(t, phantom.Connected())
}

func TestManager_NotInstalled(t *testing.T) {
	ctx := context.Background()

	t.Run("provider reports not installed", func(t *testing.T) {
		solflare := NewMockProvider(KindSolflare)
		solflare.NotInstalled = true
		mgr := NewManager(testLogger(), nil, solflare)

		res, err := mgr.Connect(ctx, KindSolflare)
		require.NoError(t, err)
		assert.True(t, res.NotInstalled)
		assert.Equal(t, "https://solflare.com/", res.InstallURL)
		assert.False(t, mgr.IsInstalled(KindSolflare))
		assert.Zero(t, solflare.ConnectCalls())
	})

	t.Run("no provider registered", func(t *testing.T) {
		mgr := NewManager(testLogger(), nil)

		res, err := mgr.Connect(ctx, KindPhantom)
		require.NoError(t, err)
		assert.True(t, res.NotInstalled)
		assert.Equal(t, "https://phantom.app/", res.InstallURL)
	})
}

func TestManager_ConnectError(t *testing.T) {
	phantom := NewMockProvider(KindPhantom)
	phantom.ConnectErr = errors.New("extension crashed")
	mgr := NewManager(testLogger(), nil, phantom)

	res, err := mgr.Connect(context.Background(), KindPhantom)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extension crashed")
	assert.False(t, res.Success)
	assert.False(t, mgr.Connected())
}

func TestManager_Disconnect(t *testing.T) {
	ctx := context.Background()
	phantom := NewMockProvider(KindPhantom)
	mgr := NewManager(testLogger(), nil, phantom)

	_, err := mgr.Connect(ctx, KindPhantom)
	require.NoError(t, err)

	rec := &eventRecorder{}
	mgr.Subscribe(rec.record)

	require.NoError(t, mgr.Disconnect(ctx))

	assert.False(t, mgr.Connected())
	assert.Empty(t, mgr.Address())
	assert.Zero(t, phantom.Listeners(), "listener removed on disconnect")
	assert.False(t, phantom.Connected())

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, SessionDisconnected, events[0].Type)
	assert.Equal(t, ReasonUser, events[0].Reason)
	assert.False(t, events[0].Session.Connected)

	// disconnecting again is a no-op
	require.NoError(t, mgr.Disconnect(ctx))
	assert.Len(t, rec.all(), 1)
}

func TestManager_DisconnectClearsSessionOnProviderError(t *testing.T) {
	ctx := context.Background()
	phantom := NewMockProvider(KindPhantom)
	phantom.DisconnectErr = errors.New("provider gone")
	mgr := NewManager(testLogger(), nil, phantom)

	_, err := mgr.Connect(ctx, KindPhantom)
	require.NoError(t, err)

	err = mgr.Disconnect(ctx)
	require.Error(t, err)
	assert.False(t, mgr.Connected())
}

func TestManager_ProviderOriginatedDisconnect(t *testing.T) {
	ctx := context.Background()
	phantom := NewMockProvider(KindPhantom)
	mgr := NewManager(testLogger(), nil, phantom)

	_, err := mgr.Connect(ctx, KindPhantom)
	require.NoError(t, err)

	rec := &eventRecorder{}
	mgr.Subscribe(rec.record)

	phantom.SimulateDisconnect()

	assert.False(t, mgr.Connected())
	assert.Zero(t, phantom.Listeners())
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonProvider, events[0].Reason)
}

func TestManager_SwitchingProviders(t *testing.T) {
	ctx := context.Background()
	phantom := NewMockProvider(KindPhantom)
	solflare := NewMockProvider(KindSolflare)
	mgr := NewManager(testLogger(), nil, phantom, solflare)

	rec := &eventRecorder{}
	mgr.Subscribe(rec.record)

	_, err := mgr.Connect(ctx, KindPhantom)
	require.NoError(t, err)
	res, err := mgr.Connect(ctx, KindSolflare)
	require.NoError(t, err)
	require.True(t, res.Success)

	s, ok := mgr.Session()
	require.True(t, ok)
	assert.Equal(t, KindSolflare, s.Kind)
	assert.Equal(t, solflare.Key.PublicKey(), s.Address)
	assert.False(t, phantom.Connected())
	assert.Zero(t, phantom.Listeners())

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, SessionConnected, events[0].Type)
	assert.Equal(t, SessionDisconnected, events[1].Type)
	assert.Equal(t, ReasonReplaced, events[1].Reason)
	assert.Equal(t, SessionConnected, events[2].Type)
}

func TestManager_ConcurrentConnectsKeepOneSession(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	phantom := NewMockProvider(KindPhantom)
	solflare := NewMockProvider(KindSolflare)
	phantom.ConnectGate = gate
	solflare.ConnectGate = gate
	mgr := NewManager(testLogger(), nil, phantom, solflare)

	rec := &eventRecorder{}
	mgr.Subscribe(rec.record)

	var wg sync.WaitGroup
	for _, kind := range []Kind{KindPhantom, KindSolflare} {
		wg.Add(1)
		go func(kind Kind) {
			defer wg.Done()
			res, err := mgr.Connect(ctx, kind)
			assert.NoError(t, err)
			assert.True(t, res.Success)
		}(kind)
	}
	close(gate)
	wg.Wait()

	session, ok := mgr.Session()
	require.True(t, ok)

	connected := 0
	for _, p := range []*MockProvider{phantom, solflare} {
		if p.Connected() {
			connected++
			assert.Equal(t, p.Kind(), session.Kind)
			assert.Equal(t, 1, p.Listeners())
		} else {
			assert.Equal(t, 0, p.Listeners())
		}
	}
	assert.Equal(t, 1, connected)

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, SessionConnected, events[0].Type)
	assert.Equal(t, SessionDisconnected, events[1].Type)
	assert.Equal(t, ReasonReplaced, events[1].Reason)
	assert.Equal(t, SessionConnected, events[2].Type)
	assert.Equal(t, session.Kind, events[2].Session.Kind)
}

func TestManager_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(testLogger(), nil, NewMockProvider(KindPhantom))

	rec := &eventRecorder{}
	unsubscribe := mgr.Subscribe(rec.record)
	unsubscribe()

	_, err := mgr.Connect(ctx, KindPhantom)
	require.NoError(t, err)
	assert.Empty(t, rec.all())
}

func TestManager_SignTransactionRequiresSession(t *testing.T) {
	mgr := NewManager(testLogger(), nil, NewMockProvider(KindPhantom))
	err := mgr.SignTransaction(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Phantom ")
	require.NoError(t, err)
	assert.Equal(t, KindPhantom, k)

	k, err = ParseKind("solflare")
	require.NoError(t, err)
	assert.Equal(t, KindSolflare, k)

	_, err = ParseKind("metamask")
	assert.Error(t, err)
}
