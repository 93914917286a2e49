// Package poller keeps the connected wallet's SOL and GOLD balances fresh.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is how often balances are refreshed.
const DefaultInterval = 30 * time.Second

// BalanceSnapshot is one poll result for one address. A failed fetch
// leaves that balance at zero with the error recorded.
type BalanceSnapshot struct {
	Address string `json:"address"`
	Network string `json:"network"`

	NativeLamports uint64  `json:"native_lamports"`
	NativeAmount   float64 `json:"native_amount"`

	TokenMint     string  `json:"token_mint"`
	TokenAmount   uint64  `json:"token_amount"`
	TokenDecimals uint8   `json:"token_decimals"`
	TokenUIAmount float64 `json:"token_ui_amount"`

	FetchedAt time.Time `json:"fetched_at"`

	NativeErr string `json:"native_error,omitempty"`
	TokenErr  string `json:"token_error,omitempty"`
}

// OK reports whether both balances were fetched.
func (s *BalanceSnapshot) OK() bool {
	return s.NativeErr == "" && s.TokenErr == ""
}

// BalanceFetcher is implemented by *solana.Client.
type BalanceFetcher interface {
	GetNativeBalance(ctx context.Context, owner solanago.PublicKey) (uint64, error)
	GetTokenBalance(ctx context.Context, owner, mint solanago.PublicKey) (solana.TokenBalance, error)
}

// BalanceSink receives every snapshot the poller keeps.
type BalanceSink interface {
	PublishSnapshot(ctx context.Context, snap *BalanceSnapshot) error
}

// SessionSource is implemented by *wallet.Manager.
type SessionSource interface {
	Session() (wallet.Session, bool)
	Subscribe(fn func(wallet.SessionEvent)) func()
}

// Config holds what the poller needs to know about the token.
type Config struct {
	Network       string
	TokenMint     solanago.PublicKey
	TokenDecimals uint8
	Interval      time.Duration
}

// FetchBalances reads the native and token balances of owner concurrently.
// It never fails: each balance that cannot be read is zero and its error
// is kept on the snapshot.
func FetchBalances(ctx context.Context, fetcher BalanceFetcher, owner solanago.PublicKey, cfg Config, logger *slog.Logger, m *metrics.Metrics) *BalanceSnapshot {
	snap := &BalanceSnapshot{
		Address:       owner.String(),
		Network:       cfg.Network,
		TokenMint:     cfg.TokenMint.String(),
		TokenDecimals: cfg.TokenDecimals,
	}

	var g errgroup.Group
	g.Go(func() error {
		lamports, err := fetcher.GetNativeBalance(ctx, owner)
		if m != nil {
			m.RecordBalanceFetch(solana.NativeSymbol, err)
		}
		if err != nil {
			logger.WarnContext(ctx, "native balance fetch failed, using zero",
				"wallet", owner.String(),
				"error", err,
			)
			snap.NativeErr = err.Error()
			return nil
		}
		snap.NativeLamports = lamports
		snap.NativeAmount = solana.FromBaseUnits(lamports, solana.NativeDecimals)
		return nil
	})
	g.Go(func() error {
		bal, err := fetcher.GetTokenBalance(ctx, owner, cfg.TokenMint)
		if m != nil {
			m.RecordBalanceFetch("GOLD", err)
		}
		if err != nil {
			logger.WarnContext(ctx, "token balance fetch failed, using zero",
				"wallet", owner.String(),
				"mint", cfg.TokenMint.String(),
				"error", err,
			)
			snap.TokenErr = err.Error()
			return nil
		}
		snap.TokenAmount = bal.Amount
		if bal.Accounts > 0 {
			snap.TokenDecimals = bal.Decimals
		}
		snap.TokenUIAmount = solana.FromBaseUnits(bal.Amount, snap.TokenDecimals)
		return nil
	})
	_ = g.Wait()

	snap.FetchedAt = time.Now().UTC()
	return snap
}

// BalancePoller refreshes balances for the current address on a timer and
// on demand. A result fetched for an address that is no longer current is
// dropped. Clearing the address clears the snapshot.
type BalancePoller struct {
	fetcher BalanceFetcher
	cfg     Config
	sinks   []BalanceSink
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	address  *solanago.PublicKey
	gen      uint64
	snapshot *BalanceSnapshot

	subMu  sync.Mutex
	subs   map[int]func(*BalanceSnapshot)
	nextID int

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	unsub  func()
}

// Option customizes a BalancePoller.
type Option func(*BalancePoller)

// WithSink adds a destination for snapshots.
func WithSink(s BalanceSink) Option {
	return func(p *BalancePoller) {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *BalancePoller) { p.metrics = m }
}

// New creates a BalancePoller. It does nothing until an address is set.
func New(fetcher BalanceFetcher, cfg Config, logger *slog.Logger, opts ...Option) *BalancePoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &BalancePoller{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.With("component", "balance_poller"),
		subs:    make(map[int]func(*BalanceSnapshot)),
		kick:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetAddress switches the poller to addr, or clears it when addr is nil.
// Any snapshot for a different address is dropped immediately.
func (p *BalancePoller) SetAddress(addr *solanago.PublicKey) {
	p.mu.Lock()
	prev := p.address
	same := prev != nil && addr != nil && prev.Equals(*addr)
	if same {
		p.mu.Unlock()
		return
	}
	p.gen++
	if addr != nil {
		a := *addr
		p.address = &a
	} else {
		p.address = nil
	}
	p.snapshot = nil
	p.mu.Unlock()

	if prev != nil && p.metrics != nil {
		p.metrics.ClearWalletBalance(prev.String())
	}
	if prev != nil {
		p.notify(nil)
	}
	if addr != nil {
		p.logger.Info("polling balances", "wallet", addr.String())
		p.requestRefresh()
	} else if prev != nil {
		p.logger.Info("stopped polling balances", "wallet", prev.String())
	}
}

// Address returns the address being polled, if any.
func (p *BalancePoller) Address() (solanago.PublicKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.address == nil {
		return solanago.PublicKey{}, false
	}
	return *p.address, true
}

// Refresh fetches balances for the current address now. It returns nil
// when there is no address or the address changed while fetching.
func (p *BalancePoller) Refresh(ctx context.Context) *BalanceSnapshot {
	p.mu.Lock()
	if p.address == nil {
		p.mu.Unlock()
		return nil
	}
	addr, gen := *p.address, p.gen
	p.mu.Unlock()

	start := time.Now()
	snap := FetchBalances(ctx, p.fetcher, addr, p.cfg, p.logger, p.metrics)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		p.logger.DebugContext(ctx, "discarding balances for stale address", "wallet", addr.String())
		return nil
	}
	p.snapshot = snap
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordBalanceRefresh(p.cfg.Network, time.Since(start).Seconds())
		p.metrics.SetWalletBalance(snap.Address, solana.NativeSymbol, snap.NativeAmount)
		p.metrics.SetWalletBalance(snap.Address, "GOLD", snap.TokenUIAmount)
	}

	p.logger.DebugContext(ctx, "balances refreshed",
		"wallet", snap.Address,
		"sol", snap.NativeAmount,
		"gold", snap.TokenUIAmount,
		"duration", time.Since(start),
	)

	p.notify(snap)
	for _, sink := range p.sinks {
		if err := sink.PublishSnapshot(ctx, snap); err != nil {
			p.logger.WarnContext(ctx, "failed to publish balance snapshot",
				"wallet", snap.Address,
				"error", err,
			)
		}
	}
	return snap
}

// Snapshot returns a copy of the latest snapshot, or nil when there is none.
func (p *BalancePoller) Snapshot() *BalanceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshot == nil {
		return nil
	}
	s := *p.snapshot
	return &s
}

// Subscribe registers fn for every snapshot change. A nil snapshot means
// the balances were cleared.
func (p *BalancePoller) Subscribe(fn func(*BalanceSnapshot)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.nextID++
	id := p.nextID
	p.subs[id] = fn
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subs, id)
	}
}

// Follow tracks the session of src: connecting starts polling the new
// address and disconnecting clears the balances.
func (p *BalancePoller) Follow(src SessionSource) {
	unsub := src.Subscribe(func(ev wallet.SessionEvent) {
		switch ev.Type {
		case wallet.SessionConnected:
			addr := ev.Session.Address
			p.SetAddress(&addr)
		case wallet.SessionDisconnected:
			p.mu.Lock()
			current := p.address
			p.mu.Unlock()
			if current != nil && current.Equals(ev.Session.Address) {
				p.SetAddress(nil)
			}
		}
	})

	p.mu.Lock()
	prev := p.unsub
	p.unsub = unsub
	p.mu.Unlock()
	if prev != nil {
		prev()
	}

	if s, ok := src.Session(); ok {
		addr := s.Address
		p.SetAddress(&addr)
	}
}

// Start runs the polling loop until ctx is cancelled or Stop is called.
func (p *BalancePoller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.run(ctx, done)
}

// Stop ends the polling loop, cancelling any fetch in flight, and stops
// following the session.
func (p *BalancePoller) Stop() {
	p.mu.Lock()
	cancel, done, unsub := p.cancel, p.done, p.unsub
	p.cancel, p.done, p.unsub = nil, nil, nil
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *BalancePoller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.InfoContext(ctx, "balance poller started", "interval", p.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("balance poller stopped")
			return
		case <-ticker.C:
			p.Refresh(ctx)
		case <-p.kick:
			p.Refresh(ctx)
		}
	}
}

// requestRefresh asks the loop for an immediate refresh without blocking.
func (p *BalancePoller) requestRefresh() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *BalancePoller) notify(snap *BalanceSnapshot) {
	p.subMu.Lock()
	fns := make([]func(*BalanceSnapshot), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()

	for _, fn := range fns {
		if snap == nil {
			fn(nil)
			continue
		}
		s := *snap
		fn(&s)
	}
}
