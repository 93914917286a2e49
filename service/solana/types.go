package solana

import (
	"time"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// NativeDecimals is the decimal precision of SOL.
const NativeDecimals = 9

// NativeSymbol labels native SOL amounts.
const NativeSymbol = "SOL"

// TransactionType is the best-effort label assigned to a transaction.
type TransactionType string

const (
	TypeSend    TransactionType = "send"
	TypeReceive TransactionType = "receive"
	TypeSwap    TransactionType = "swap"
	TypeNFT     TransactionType = "nft"
	TypeStake   TransactionType = "stake"
	TypeUnstake TransactionType = "unstake"
	TypeClaim   TransactionType = "claim"
	TypeUnknown TransactionType = "unknown"
)

// TypeAll matches every TransactionType in a HistoryFilter.
const TypeAll TransactionType = "all"

// ParseTransactionType validates a type name from user input.
func ParseTransactionType(s string) (TransactionType, bool) {
	switch t := TransactionType(s); t {
	case TypeSend, TypeReceive, TypeSwap, TypeNFT, TypeStake, TypeUnstake, TypeClaim, TypeUnknown, TypeAll:
		return t, true
	}
	return "", false
}

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	StatusConfirmed TransactionStatus = "confirmed"
	StatusFailed    TransactionStatus = "failed"
	StatusPending   TransactionStatus = "pending"
)

// Classification methods reported on Transaction.ClassifiedBy.
const (
	ClassifiedByInstructions = "instructions"
	ClassifiedByLogs         = "logs"
	ClassifiedByNone         = "none"
)

// Transaction is a classified, read-only view of an on-chain transaction
// relative to one wallet. It is rebuilt from the chain on every refresh.
type Transaction struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	Network   string

	Type   TransactionType
	Status TransactionStatus

	// Amount is in UI units (already divided by 10^decimals).
	// nil when no amount could be determined.
	Amount    *float64
	AmountRaw uint64
	Decimals  uint8
	Token     string  // "SOL", "GOLD", or the mint address for other tokens
	TokenMint *string // nil for native SOL

	FeeLamports uint64
	FromAddress *string
	ToAddress   *string
	ProgramID   *string
	Memo        *string
	Err         *string // nil if the transaction succeeded

	ClassifiedBy string
	Description  string
}

// Fee returns the network fee in SOL.
func (t *Transaction) Fee() float64 {
	return float64(t.FeeLamports) / LamportsPerSOL
}

// TimestampMs returns the block time in Unix milliseconds, or 0 when unknown.
func (t *Transaction) TimestampMs() int64 {
	if t.BlockTime.IsZero() {
		return 0
	}
	return t.BlockTime.UnixMilli()
}

// TokenBalance is an SPL token balance aggregated over all token
// accounts an owner holds for one mint.
type TokenBalance struct {
	Mint     string
	Amount   uint64 // base units
	Decimals uint8
	Accounts int
}

// UIAmount returns the balance in UI units.
func (b TokenBalance) UIAmount() float64 {
	return FromBaseUnits(b.Amount, b.Decimals)
}

// TokenInfo describes a token for display.
type TokenInfo struct {
	Address  string
	Symbol   string
	Name     string
	Decimals uint8
	URI      string
	Valid    bool // mint account exists and is owned by the SPL Token program
}
