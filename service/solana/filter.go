package solana

import (
	"strings"
	"time"
)

// HistoryFilter narrows a transaction list. Zero-valued fields match
// everything. Date bounds only apply to records with a block time and amount
// bounds only to records that have an amount.
type HistoryFilter struct {
	Type      TransactionType
	From      *time.Time // inclusive
	To        *time.Time // inclusive
	MinAmount *float64
	MaxAmount *float64
	Token     string // "SOL", "GOLD", a mint address, or "all"
}

// IsZero reports whether the filter matches everything.
func (f HistoryFilter) IsZero() bool {
	return (f.Type == "" || f.Type == TypeAll) &&
		f.From == nil && f.To == nil &&
		f.MinAmount == nil && f.MaxAmount == nil &&
		(f.Token == "" || strings.EqualFold(f.Token, "all"))
}

// Match reports whether txn passes the filter.
func (f HistoryFilter) Match(txn *Transaction) bool {
	if txn == nil {
		return false
	}
	if f.Type != "" && f.Type != TypeAll && txn.Type != f.Type {
		return false
	}
	if !txn.BlockTime.IsZero() {
		if f.From != nil && txn.BlockTime.Before(*f.From) {
			return false
		}
		if f.To != nil && txn.BlockTime.After(*f.To) {
			return false
		}
	}
	if txn.Amount != nil {
		if f.MinAmount != nil && *txn.Amount < *f.MinAmount {
			return false
		}
		if f.MaxAmount != nil && *txn.Amount > *f.MaxAmount {
			return false
		}
	}
	if f.Token != "" && !strings.EqualFold(f.Token, "all") {
		mint := ""
		if txn.TokenMint != nil {
			mint = *txn.TokenMint
		}
		if !strings.EqualFold(txn.Token, f.Token) && mint != f.Token {
			return false
		}
	}
	return true
}

// Apply returns the transactions that pass the filter, preserving order.
func (f HistoryFilter) Apply(txns []*Transaction) []*Transaction {
	if f.IsZero() {
		return txns
	}
	out := make([]*Transaction, 0, len(txns))
	for _, txn := range txns {
		if f.Match(txn) {
			out = append(out, txn)
		}
	}
	return out
}
