package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/gagliardetto/solana-go"
)

// Session is the currently connected wallet.
type Session struct {
	Address     solana.PublicKey
	Kind        Kind
	Connected   bool
	ConnectedAt time.Time
}

// SessionEventType says whether a session started or ended.
type SessionEventType string

const (
	SessionConnected    SessionEventType = "connected"
	SessionDisconnected SessionEventType = "disconnected"
)

// Reasons a session ended.
const (
	ReasonUser     = "user"
	ReasonProvider = "provider"
	ReasonReplaced = "replaced"
)

// SessionEvent is delivered to Manager subscribers.
type SessionEvent struct {
	Type    SessionEventType
	Session Session
	Reason  string // set on disconnect
}

// ConnectResult is the outcome of a connect attempt. Rejected and
// NotInstalled are expected outcomes and come with a nil error.
type ConnectResult struct {
	Success      bool
	Rejected     bool
	NotInstalled bool
	InstallURL   string
	Session      *Session
}

// Manager owns the single active wallet session.
type Manager struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	// connectMu allows one Connect at a time so two approvals cannot both
	// install a session.
	connectMu sync.Mutex

	mu         sync.Mutex
	providers  map[Kind]Provider
	active     Provider
	session    *Session
	listenerID ListenerID

	subMu  sync.Mutex
	subs   map[int]func(SessionEvent)
	nextID int
}

// NewManager creates a Manager for the given providers.
// If metrics is nil, no metrics will be recorded.
func NewManager(logger *slog.Logger, m *metrics.Metrics, providers ...Provider) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	mgr := &Manager{
		logger:    logger.With("component", "wallet_manager"),
		metrics:   m,
		providers: make(map[Kind]Provider),
		subs:      make(map[int]func(SessionEvent)),
	}
	for _, p := range providers {
		mgr.providers[p.Kind()] = p
	}
	return mgr
}

// Register adds or replaces the provider for its kind.
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Kind()] = p
}

// IsInstalled reports whether the provider for kind is available.
func (m *Manager) IsInstalled(kind Kind) bool {
	m.mu.Lock()
	p, ok := m.providers[kind]
	m.mu.Unlock()
	return ok && p.Installed()
}

// InstallURL returns the install link for kind.
func (m *Manager) InstallURL(kind Kind) string {
	return InstallURL(kind)
}

// Connect asks the provider for kind to connect. A session on another
// provider is replaced once the new provider approves; a rejected or
// failed attempt leaves it untouched.
func (m *Manager) Connect(ctx context.Context, kind Kind) (ConnectResult, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	p, ok := m.providers[kind]
	current := m.session
	m.mu.Unlock()

	if !ok || !p.Installed() {
		m.logger.InfoContext(ctx, "wallet not installed", "wallet", string(kind))
		m.recordConnect(kind, "not_installed")
		return ConnectResult{NotInstalled: true, InstallURL: InstallURL(kind)}, nil
	}

	if current != nil && current.Kind == kind {
		s := *current
		return ConnectResult{Success: true, Session: &s}, nil
	}

	pub, err := p.Connect(ctx)
	switch {
	case errors.Is(err, ErrUserRejected):
		m.logger.DebugContext(ctx, "user rejected wallet connection", "wallet", string(kind))
		m.recordConnect(kind, "rejected")
		return ConnectResult{Rejected: true}, nil

	case errors.Is(err, ErrNotInstalled):
		m.recordConnect(kind, "not_installed")
		return ConnectResult{NotInstalled: true, InstallURL: InstallURL(kind)}, nil

	case err != nil:
		m.logger.ErrorContext(ctx, "wallet connection failed",
			"wallet", string(kind),
			"error", err,
		)
		m.recordConnect(kind, "error")
		return ConnectResult{}, fmt.Errorf("connect %s: %w", kind, err)
	}

	// the old session ends only once the new provider has approved
	if current != nil {
		m.logger.InfoContext(ctx, "switching wallets",
			"from", string(current.Kind),
			"to", string(kind),
		)
		if err := m.disconnect(ctx, ReasonReplaced); err != nil {
			m.logger.WarnContext(ctx, "previous wallet did not disconnect cleanly", "error", err)
		}
	}

	session := Session{
		Address:     pub,
		Kind:        kind,
		Connected:   true,
		ConnectedAt: time.Now(),
	}

	m.mu.Lock()
	m.active = p
	m.session = &session
	m.listenerID = p.On(m.providerListener(p))
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "wallet connected",
		"wallet", string(kind),
		"address", pub.String(),
	)
	m.recordConnect(kind, "success")
	if m.metrics != nil {
		m.metrics.SetActiveSessions(1)
	}

	m.notify(SessionEvent{Type: SessionConnected, Session: session})

	s := session
	return ConnectResult{Success: true, Session: &s}, nil
}

// Disconnect ends the active session. The session is cleared even if the
// provider reports an error.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.disconnect(ctx, ReasonUser)
}

func (m *Manager) disconnect(ctx context.Context, reason string) error {
	m.mu.Lock()
	p, session, id := m.active, m.session, m.listenerID
	m.active, m.session, m.listenerID = nil, nil, 0
	m.mu.Unlock()

	if session == nil {
		return nil
	}

	p.Off(id)
	err := p.Disconnect(ctx)

	m.logger.InfoContext(ctx, "wallet disconnected",
		"wallet", string(session.Kind),
		"address", session.Address.String(),
		"reason", reason,
	)
	if m.metrics != nil {
		m.metrics.SetActiveSessions(0)
	}

	ended := *session
	ended.Connected = false
	m.notify(SessionEvent{Type: SessionDisconnected, Session: ended, Reason: reason})

	if err != nil {
		return fmt.Errorf("disconnect %s: %w", session.Kind, err)
	}
	return nil
}

// providerListener clears the session when the provider disconnects on
// its own.
func (m *Manager) providerListener(p Provider) Listener {
	return func(ev Event) {
		if ev.Type != EventDisconnect {
			return
		}

		m.mu.Lock()
		if m.active != p || m.session == nil {
			m.mu.Unlock()
			return
		}
		session, id := m.session, m.listenerID
		m.active, m.session, m.listenerID = nil, nil, 0
		m.mu.Unlock()

		p.Off(id)

		m.logger.Info("wallet disconnected by provider",
			"wallet", string(session.Kind),
			"address", session.Address.String(),
		)
		if m.metrics != nil {
			m.metrics.SetActiveSessions(0)
		}

		ended := *session
		ended.Connected = false
		m.notify(SessionEvent{Type: SessionDisconnected, Session: ended, Reason: ReasonProvider})
	}
}

// Session returns a copy of the active session.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Address returns the connected address, or "" when disconnected.
func (m *Manager) Address() string {
	s, ok := m.Session()
	if !ok {
		return ""
	}
	return s.Address.String()
}

// Connected reports whether a session is active.
func (m *Manager) Connected() bool {
	_, ok := m.Session()
	return ok
}

// SignTransaction asks the active provider to sign tx.
func (m *Manager) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	m.mu.Lock()
	p := m.active
	m.mu.Unlock()
	if p == nil {
		return ErrNotConnected
	}
	return p.SignTransaction(ctx, tx)
}

// Subscribe registers fn for session events and returns a function that
// removes it. Callbacks run synchronously on the goroutine that changed
// the session.
func (m *Manager) Subscribe(fn func(SessionEvent)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Manager) notify(ev SessionEvent) {
	m.subMu.Lock()
	fns := make([]func(SessionEvent), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Manager) recordConnect(kind Kind, outcome string) {
	if m.metrics != nil {
		m.metrics.RecordWalletConnect(string(kind), outcome)
	}
}
