package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// KeypairProvider is a Provider backed by a keypair file. The file is
// either a Solana CLI keypair (a JSON array of 64 bytes) or a base58
// encoded secret key. A missing file means the wallet is not installed.
type KeypairProvider struct {
	kind    Kind
	path    string
	approve Approver
	logger  *slog.Logger

	mu        sync.Mutex
	key       *solana.PrivateKey
	listeners map[ListenerID]Listener
	nextID    ListenerID
}

// NewKeypairProvider creates a provider reading its key from path.
// If approve is nil every request is approved.
func NewKeypairProvider(kind Kind, path string, approve Approver, logger *slog.Logger) *KeypairProvider {
	if approve == nil {
		approve = AlwaysApprove
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeypairProvider{
		kind:      kind,
		path:      path,
		approve:   approve,
		logger:    logger.With("component", "keypair_provider", "wallet", string(kind)),
		listeners: make(map[ListenerID]Listener),
	}
}

func (p *KeypairProvider) Kind() Kind { return p.kind }

// Path returns the keypair file location.
func (p *KeypairProvider) Path() string { return p.path }

func (p *KeypairProvider) Installed() bool {
	if p.path == "" {
		return false
	}
	info, err := os.Stat(p.path)
	return err == nil && !info.IsDir()
}

// Connect loads the key and asks the user to approve exposing its address.
func (p *KeypairProvider) Connect(ctx context.Context) (solana.PublicKey, error) {
	if !p.Installed() {
		return solana.PublicKey{}, ErrNotInstalled
	}

	key, err := LoadKeypair(p.path)
	if err != nil {
		return solana.PublicKey{}, err
	}
	pub := key.PublicKey()

	ok, err := p.approve(ctx, ApprovalRequest{
		Kind:    p.kind,
		Action:  ActionConnect,
		Address: pub,
		Summary: fmt.Sprintf("Connect %s to goldium", pub),
	})
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("approval prompt: %w", err)
	}
	if !ok {
		return solana.PublicKey{}, ErrUserRejected
	}

	p.mu.Lock()
	p.key = &key
	p.mu.Unlock()

	p.emit(Event{Type: EventConnect, PublicKey: pub})
	return pub, nil
}

func (p *KeypairProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	key := p.key
	p.key = nil
	p.mu.Unlock()

	if key != nil {
		p.emit(Event{Type: EventDisconnect, PublicKey: key.PublicKey()})
	}
	return nil
}

// Lock drops the key without a request from goldium, the way a browser
// wallet does when the user locks it or switches accounts.
func (p *KeypairProvider) Lock() {
	p.mu.Lock()
	key := p.key
	p.key = nil
	p.mu.Unlock()

	if key != nil {
		p.logger.Info("wallet locked")
		p.emit(Event{Type: EventDisconnect, PublicKey: key.PublicKey()})
	}
}

// SignTransaction signs tx after the user approves it.
func (p *KeypairProvider) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	p.mu.Lock()
	key := p.key
	p.mu.Unlock()
	if key == nil {
		return ErrNotConnected
	}

	pub := key.PublicKey()
	ok, err := p.approve(ctx, ApprovalRequest{
		Kind:    p.kind,
		Action:  ActionSign,
		Address: pub,
		Summary: fmt.Sprintf("Sign transaction with %d instruction(s)", len(tx.Message.Instructions)),
	})
	if err != nil {
		return fmt.Errorf("approval prompt: %w", err)
	}
	if !ok {
		return ErrUserRejected
	}

	_, err = tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(pub) {
			return key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}

func (p *KeypairProvider) On(fn Listener) ListenerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.listeners[p.nextID] = fn
	return p.nextID
}

func (p *KeypairProvider) Off(id ListenerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.listeners, id)
}

// emit calls listeners outside the lock so they may call back into p.
func (p *KeypairProvider) emit(ev Event) {
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

// LoadKeypair reads a private key from a Solana CLI keypair file or a
// file holding a base58 secret key.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	return ParseKeypair(data)
}

// ParseKeypair decodes a JSON byte array or base58 secret key.
func ParseKeypair(data []byte) (solana.PrivateKey, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("keypair is empty")
	}

	var raw []byte
	if data[0] == '[' {
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return nil, fmt.Errorf("parse keypair json: %w", err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("keypair byte %d out of range: %d", i, v)
			}
			raw[i] = byte(v)
		}
	} else {
		decoded, err := base58.Decode(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode base58 secret: %w", err)
		}
		raw = decoded
	}

	if len(raw) != 64 {
		return nil, fmt.Errorf("keypair must be 64 bytes, got %d", len(raw))
	}
	return solana.PrivateKey(raw), nil
}

// WriteKeypair saves key in Solana CLI format with owner-only permissions.
func WriteKeypair(path string, key solana.PrivateKey) error {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("encode keypair: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create keypair dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keypair: %w", err)
	}
	return nil
}
