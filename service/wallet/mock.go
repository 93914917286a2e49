package wallet

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MockProvider is an in-memory Provider for tests.
type MockProvider struct {
	mu sync.Mutex

	ProviderKind  Kind
	Key           solana.PrivateKey
	NotInstalled  bool
	ConnectErr    error
	DisconnectErr error
	SignErr       error
	// ConnectGate, when set, holds Connect until it is closed.
	ConnectGate chan struct{}

	connected    bool
	connectCalls int
	listeners    map[ListenerID]Listener
	nextID       ListenerID
}

// NewMockProvider returns an installed provider with a fresh key.
func NewMockProvider(kind Kind) *MockProvider {
	return &MockProvider{
		ProviderKind: kind,
		Key:          solana.NewWallet().PrivateKey,
		listeners:    make(map[ListenerID]Listener),
	}
}

func (p *MockProvider) Kind() Kind { return p.ProviderKind }

func (p *MockProvider) Installed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.NotInstalled
}

func (p *MockProvider) Connect(ctx context.Context) (solana.PublicKey, error) {
	if p.ConnectGate != nil {
		select {
		case <-p.ConnectGate:
		case <-ctx.Done():
			return solana.PublicKey{}, ctx.Err()
		}
	}

	p.mu.Lock()
	p.connectCalls++
	if p.ConnectErr != nil {
		err := p.ConnectErr
		p.mu.Unlock()
		return solana.PublicKey{}, err
	}
	p.connected = true
	pub := p.Key.PublicKey()
	p.mu.Unlock()

	p.emit(Event{Type: EventConnect, PublicKey: pub})
	return pub, nil
}

func (p *MockProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	err := p.DisconnectErr
	p.mu.Unlock()
	return err
}

func (p *MockProvider) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	p.mu.Lock()
	connected, err := p.connected, p.SignErr
	p.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	if err != nil {
		return err
	}
	key := p.Key
	_, signErr := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(key.PublicKey()) {
			return &key
		}
		return nil
	})
	return signErr
}

func (p *MockProvider) On(fn Listener) ListenerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listeners == nil {
		p.listeners = make(map[ListenerID]Listener)
	}
	p.nextID++
	p.listeners[p.nextID] = fn
	return p.nextID
}

func (p *MockProvider) Off(id ListenerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.listeners, id)
}

// Listeners returns how many listeners are registered.
func (p *MockProvider) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// ConnectCalls returns how many times Connect was called.
func (p *MockProvider) ConnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCalls
}

// Connected reports the provider-side connection state.
func (p *MockProvider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// SimulateDisconnect emits a provider-originated disconnect, as when the
// user locks the wallet.
func (p *MockProvider) SimulateDisconnect() {
	p.mu.Lock()
	p.connected = false
	pub := p.Key.PublicKey()
	p.mu.Unlock()
	p.emit(Event{Type: EventDisconnect, PublicKey: pub})
}

func (p *MockProvider) emit(ev Event) {
	p.mu.Lock()
	fns := make([]Listener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
