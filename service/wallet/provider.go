// Package wallet manages the connection between goldium and a user's
// wallet provider. A provider holds the keys and approves requests; the
// Manager tracks the single active session and tells listeners when it
// starts and ends.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrUserRejected is returned when the user declines a connect or sign
	// request. It is an expected outcome, not a failure.
	ErrUserRejected = errors.New("user rejected the request")

	// ErrNotInstalled is returned when the wallet provider is not available.
	ErrNotInstalled = errors.New("wallet not installed")

	// ErrNotConnected is returned when an operation needs an active session.
	ErrNotConnected = errors.New("wallet not connected")
)

// Kind identifies a wallet provider.
type Kind string

const (
	KindPhantom  Kind = "phantom"
	KindSolflare Kind = "solflare"
)

// Kinds lists the supported providers.
var Kinds = []Kind{KindPhantom, KindSolflare}

// ParseKind validates a provider name from user input.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindPhantom, KindSolflare:
		return k, nil
	}
	return "", fmt.Errorf("unknown wallet %q (expected phantom or solflare)", s)
}

// InstallURL returns where the user can get the provider.
func InstallURL(kind Kind) string {
	switch kind {
	case KindPhantom:
		return "https://phantom.app/"
	case KindSolflare:
		return "https://solflare.com/"
	}
	return ""
}

// EventType names a provider-originated event.
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
)

// Event is emitted by a provider when its connection state changes on
// its own side, for example when the wallet is locked.
type Event struct {
	Type      EventType
	PublicKey solana.PublicKey
}

// Listener receives provider events.
type Listener func(Event)

// ListenerID identifies a registered Listener so it can be removed.
type ListenerID uint64

// Provider is a wallet that can expose an account and sign for it.
type Provider interface {
	Kind() Kind
	Installed() bool
	Connect(ctx context.Context) (solana.PublicKey, error)
	Disconnect(ctx context.Context) error
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
	On(fn Listener) ListenerID
	Off(id ListenerID)
}

// Action is what the provider asks the user to approve.
type Action string

const (
	ActionConnect Action = "connect"
	ActionSign    Action = "sign"
)

// ApprovalRequest describes a pending prompt.
type ApprovalRequest struct {
	Kind    Kind
	Action  Action
	Address solana.PublicKey
	Summary string
}

// Approver asks the user to approve a request. Returning false means the
// user declined.
type Approver func(ctx context.Context, req ApprovalRequest) (bool, error)

// AlwaysApprove approves every request.
func AlwaysApprove(context.Context, ApprovalRequest) (bool, error) {
	return true, nil
}
