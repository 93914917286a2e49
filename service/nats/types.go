package nats

import (
	"time"

	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/solana"
)

// Event kinds carried in the Kind field so SSE and CLI consumers can
// tell messages apart without looking at the subject.
const (
	KindTransaction = "transaction"
	KindBalance     = "balance"
)

// TransactionEvent is published to "goldium.txns.{wallet_address}".
type TransactionEvent struct {
	Kind string `json:"kind"`

	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Network   string `json:"network"`

	// Wallet the history was fetched for
	WalletAddress string  `json:"wallet_address"`
	FromAddress   *string `json:"from_address,omitempty"`
	ToAddress     *string `json:"to_address,omitempty"`

	Type        string   `json:"type"`
	Status      string   `json:"status"`
	Amount      *float64 `json:"amount,omitempty"`
	Token       string   `json:"token"`
	TokenMint   *string  `json:"token_mint,omitempty"`
	Memo        string   `json:"memo,omitempty"`
	Description string   `json:"description"`
	FeeLamports uint64   `json:"fee_lamports"`

	BlockTime   time.Time `json:"block_time"`
	PublishedAt time.Time `json:"published_at"`
}

// FromTransaction converts a classified transaction into an event for the
// wallet it was fetched for.
func FromTransaction(wallet string, txn *solana.Transaction) *TransactionEvent {
	event := &TransactionEvent{
		Kind:          KindTransaction,
		Signature:     txn.Signature,
		Slot:          txn.Slot,
		Network:       txn.Network,
		WalletAddress: wallet,
		FromAddress:   txn.FromAddress,
		ToAddress:     txn.ToAddress,
		Type:          string(txn.Type),
		Status:        string(txn.Status),
		Amount:        txn.Amount,
		Token:         txn.Token,
		TokenMint:     txn.TokenMint,
		Description:   txn.Description,
		FeeLamports:   txn.FeeLamports,
		BlockTime:     txn.BlockTime,
		PublishedAt:   time.Now().UTC(),
	}
	if txn.Memo != nil {
		event.Memo = *txn.Memo
	}
	return event
}

// BalanceEvent is published to "goldium.balances.{wallet_address}".
type BalanceEvent struct {
	Kind string `json:"kind"`

	WalletAddress string `json:"wallet_address"`
	Network       string `json:"network"`

	NativeAmount  float64 `json:"native_amount"`
	TokenMint     string  `json:"token_mint"`
	TokenUIAmount float64 `json:"token_ui_amount"`

	NativeErr string `json:"native_error,omitempty"`
	TokenErr  string `json:"token_error,omitempty"`

	FetchedAt   time.Time `json:"fetched_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromSnapshot converts a balance snapshot into an event.
func FromSnapshot(snap *poller.BalanceSnapshot) *BalanceEvent {
	return &BalanceEvent{
		Kind:          KindBalance,
		WalletAddress: snap.Address,
		Network:       snap.Network,
		NativeAmount:  snap.NativeAmount,
		TokenMint:     snap.TokenMint,
		TokenUIAmount: snap.TokenUIAmount,
		NativeErr:     snap.NativeErr,
		TokenErr:      snap.TokenErr,
		FetchedAt:     snap.FetchedAt,
		PublishedAt:   time.Now().UTC(),
	}
}
