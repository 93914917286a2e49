package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/goldium/service/db"
	"github.com/brojonat/goldium/service/metrics"
	natspkg "github.com/brojonat/goldium/service/nats"
	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// maxExistingSignatures bounds how many stored signatures are passed back
// to the history fetch for de-duplication.
const maxExistingSignatures = 1000

// SyncWalletInput identifies the wallet a schedule keeps in sync.
type SyncWalletInput struct {
	Address       string `json:"address"`
	Network       string `json:"network"`
	TokenMint     string `json:"token_mint"`
	TokenDecimals uint8  `json:"token_decimals"`
	HistoryLimit  int    `json:"history_limit"`
}

// SyncWalletResult summarizes one sync run.
type SyncWalletResult struct {
	Address          string    `json:"address"`
	Network          string    `json:"network"`
	NativeAmount     float64   `json:"native_amount"`
	TokenUIAmount    float64   `json:"token_ui_amount"`
	BalancesOK       bool      `json:"balances_ok"`
	TransactionCount int       `json:"transaction_count"`
	Written          int       `json:"written"`
	Skipped          int       `json:"skipped"`
	Published        int       `json:"published"`
	NewestSignature  *string   `json:"newest_signature,omitempty"`
	SyncTime         time.Time `json:"sync_time"`
	Error            *string   `json:"error,omitempty"`
}

// GetExistingSignaturesInput contains parameters for GetExistingSignatures.
type GetExistingSignaturesInput struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// GetExistingSignaturesResult lists signatures already stored.
type GetExistingSignaturesResult struct {
	Signatures []string `json:"signatures"`
}

// FetchHistoryInput contains parameters for FetchHistory.
type FetchHistoryInput struct {
	Address            string   `json:"address"`
	Network            string   `json:"network"`
	TokenMint          string   `json:"token_mint"`
	Limit              int      `json:"limit"`
	ExistingSignatures []string `json:"existing_signatures"`
}

// FetchHistoryResult holds newly seen transactions, newest first.
type FetchHistoryResult struct {
	Transactions    []*solana.Transaction `json:"transactions"`
	NewestSignature *string               `json:"newest_signature,omitempty"`
	OldestSignature *string               `json:"oldest_signature,omitempty"`
}

// WriteTransactionsInput contains parameters for WriteTransactions.
type WriteTransactionsInput struct {
	Address      string                `json:"address"`
	Network      string                `json:"network"`
	Transactions []*solana.Transaction `json:"transactions"`
}

// WriteTransactionsResult contains the result of writing transactions.
type WriteTransactionsResult struct {
	Written int `json:"written"`
	Skipped int `json:"skipped"` // already stored
}

// PublishEventsInput contains what PublishEvents sends.
type PublishEventsInput struct {
	Address      string                  `json:"address"`
	Transactions []*solana.Transaction   `json:"transactions"`
	Snapshot     *poller.BalanceSnapshot `json:"snapshot,omitempty"`
}

// PublishEventsResult counts what was published.
type PublishEventsResult struct {
	Transactions int  `json:"transactions"`
	Balance      bool `json:"balance"`
}

// StoreInterface defines the database operations needed by activities.
type StoreInterface interface {
	GetTransactionSignaturesByWallet(ctx context.Context, walletAddress, network string, limit int32) ([]string, error)
	UpsertTransactions(ctx context.Context, params []db.CreateTransactionParams) (int, error)
	CreateBalanceSnapshot(ctx context.Context, snap *poller.BalanceSnapshot) error
	UpdateWalletPollTime(ctx context.Context, address, network string, pollTime time.Time) (*db.Wallet, error)
}

// SolanaClientInterface defines the Solana operations needed by activities.
// *solana.Client satisfies it.
type SolanaClientInterface interface {
	poller.BalanceFetcher
	GetTransactionHistory(ctx context.Context, params solana.HistoryParams) ([]*solana.Transaction, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishTransactionBatch(ctx context.Context, events []*natspkg.TransactionEvent) error
	PublishBalance(ctx context.Context, event *natspkg.BalanceEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store     StoreInterface
	clients   map[string]SolanaClientInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance. clients is keyed by
// network name. publisher and metrics may be nil.
func NewActivities(
	store StoreInterface,
	clients map[string]SolanaClientInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		clients:   clients,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) client(network string) (SolanaClientInterface, error) {
	c, ok := a.clients[network]
	if !ok || c == nil {
		return nil, fmt.Errorf("no solana client for network %q", network)
	}
	return c, nil
}

func (a *Activities) recordDuration(activity, address string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, address, time.Since(start).Seconds())
	}
}

// FetchBalances reads the wallet's SOL and GOLD balances. Balance read
// failures are recorded on the snapshot rather than failing the activity.
func (a *Activities) FetchBalances(ctx context.Context, input SyncWalletInput) (*poller.BalanceSnapshot, error) {
	start := time.Now()
	defer a.recordDuration("FetchBalances", input.Address, start)

	owner, err := solanago.PublicKeyFromBase58(input.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address: %w", err)
	}
	mint, err := solanago.PublicKeyFromBase58(input.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint: %w", err)
	}
	c, err := a.client(input.Network)
	if err != nil {
		return nil, err
	}

	snap := poller.FetchBalances(ctx, c, owner, poller.Config{
		Network:       input.Network,
		TokenMint:     mint,
		TokenDecimals: input.TokenDecimals,
	}, a.logger, a.metrics)

	a.logger.InfoContext(ctx, "fetched balances",
		"address", input.Address,
		"sol", snap.NativeAmount,
		"gold", snap.TokenUIAmount,
		"ok", snap.OK(),
	)
	return snap, nil
}

// GetExistingSignatures returns the most recent signatures already stored.
func (a *Activities) GetExistingSignatures(ctx context.Context, input GetExistingSignaturesInput) (*GetExistingSignaturesResult, error) {
	start := time.Now()
	defer a.recordDuration("GetExistingSignatures", input.Address, start)

	signatures, err := a.store.GetTransactionSignaturesByWallet(ctx, input.Address, input.Network, maxExistingSignatures)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to get existing transaction signatures",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get existing transaction signatures: %w", err)
	}

	a.logger.DebugContext(ctx, "fetched existing transaction signatures",
		"address", input.Address,
		"network", input.Network,
		"count", len(signatures),
	)
	return &GetExistingSignaturesResult{Signatures: signatures}, nil
}

// FetchHistory fetches and classifies the wallet's recent transactions,
// skipping signatures that are already stored.
func (a *Activities) FetchHistory(ctx context.Context, input FetchHistoryInput) (*FetchHistoryResult, error) {
	start := time.Now()
	defer a.recordDuration("FetchHistory", input.Address, start)

	wallet, err := solanago.PublicKeyFromBase58(input.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address: %w", err)
	}
	mint, err := solanago.PublicKeyFromBase58(input.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint: %w", err)
	}
	c, err := a.client(input.Network)
	if err != nil {
		return nil, err
	}

	txns, err := c.GetTransactionHistory(ctx, solana.HistoryParams{
		Wallet:             wallet,
		GoldMint:           mint,
		Network:            input.Network,
		Limit:              input.Limit,
		ExistingSignatures: input.ExistingSignatures,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch history",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	result := &FetchHistoryResult{Transactions: txns}
	if len(txns) > 0 {
		newest := txns[0].Signature
		oldest := txns[len(txns)-1].Signature
		result.NewestSignature = &newest
		result.OldestSignature = &oldest
	}

	if a.metrics != nil {
		a.metrics.RecordTransactionsFetched(input.Address, "chain", len(txns))
	}
	a.logger.InfoContext(ctx, "fetched history",
		"address", input.Address,
		"count", len(txns),
		"newest_signature", result.NewestSignature,
	)
	return result, nil
}

// WriteTransactions stores transactions, skipping ones already stored.
func (a *Activities) WriteTransactions(ctx context.Context, input WriteTransactionsInput) (*WriteTransactionsResult, error) {
	start := time.Now()
	defer a.recordDuration("WriteTransactions", input.Address, start)

	if len(input.Transactions) == 0 {
		return &WriteTransactionsResult{}, nil
	}

	params := make([]db.CreateTransactionParams, 0, len(input.Transactions))
	for _, txn := range input.Transactions {
		params = append(params, db.TransactionParamsFrom(input.Address, txn))
	}

	written, err := a.store.UpsertTransactions(ctx, params)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to write transactions",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to write transactions: %w", err)
	}
	skipped := len(params) - written

	if a.metrics != nil {
		a.metrics.RecordTransactionsWritten(input.Address, written)
		a.metrics.RecordTransactionsSkipped(input.Address, "already_exists", skipped)
	}
	a.logger.InfoContext(ctx, "wrote transactions to database",
		"address", input.Address,
		"written", written,
		"skipped", skipped,
	)
	return &WriteTransactionsResult{Written: written, Skipped: skipped}, nil
}

// WriteBalanceSnapshot stores the snapshot and marks the wallet as synced.
func (a *Activities) WriteBalanceSnapshot(ctx context.Context, snap *poller.BalanceSnapshot) error {
	start := time.Now()
	defer a.recordDuration("WriteBalanceSnapshot", snap.Address, start)

	if err := a.store.CreateBalanceSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to write balance snapshot: %w", err)
	}

	if _, err := a.store.UpdateWalletPollTime(ctx, snap.Address, snap.Network, time.Now()); err != nil {
		a.logger.WarnContext(ctx, "failed to update wallet last poll time",
			"address", snap.Address,
			"network", snap.Network,
			"error", err,
		)
	}
	return nil
}

// PublishEvents sends new transactions and the balance snapshot to NATS.
// It is a no-op without a publisher.
func (a *Activities) PublishEvents(ctx context.Context, input PublishEventsInput) (*PublishEventsResult, error) {
	start := time.Now()
	defer a.recordDuration("PublishEvents", input.Address, start)

	result := &PublishEventsResult{}
	if a.publisher == nil {
		return result, nil
	}

	if len(input.Transactions) > 0 {
		events := make([]*natspkg.TransactionEvent, 0, len(input.Transactions))
		for _, txn := range input.Transactions {
			events = append(events, natspkg.FromTransaction(input.Address, txn))
		}
		if err := a.publisher.PublishTransactionBatch(ctx, events); err != nil {
			return nil, fmt.Errorf("failed to publish transactions: %w", err)
		}
		result.Transactions = len(events)
	}

	if input.Snapshot != nil {
		if err := a.publisher.PublishBalance(ctx, natspkg.FromSnapshot(input.Snapshot)); err != nil {
			return result, fmt.Errorf("failed to publish balance: %w", err)
		}
		result.Balance = true
	}

	a.logger.DebugContext(ctx, "published events",
		"address", input.Address,
		"transactions", result.Transactions,
		"balance", result.Balance,
	)
	return result, nil
}
