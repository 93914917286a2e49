// Package db persists classified transactions, balance snapshots and the
// wallets the background sync watches.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/solana"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithMetrics records query durations.
func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewPool connects to Postgres and verifies the connection.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) observe(op, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(op, table, time.Since(start).Seconds(), err)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Transaction is a classified transaction stored for one wallet.
type Transaction struct {
	Signature     string
	WalletAddress string
	Network       string
	Slot          int64
	BlockTime     time.Time
	Type          string
	Status        string
	Amount        *float64
	AmountRaw     int64
	Decimals      int16
	Token         string
	TokenMint     *string // nil for native SOL
	FeeLamports   int64
	FromAddress   *string
	ToAddress     *string
	ProgramID     *string
	Memo          *string
	Err           *string
	ClassifiedBy  string
	Description   string
	CreatedAt     time.Time
}

// CreateTransactionParams contains the columns written for a transaction.
type CreateTransactionParams struct {
	Signature     string
	WalletAddress string
	Network       string
	Slot          int64
	BlockTime     time.Time
	Type          string
	Status        string
	Amount        *float64
	AmountRaw     int64
	Decimals      int16
	Token         string
	TokenMint     *string
	FeeLamports   int64
	FromAddress   *string
	ToAddress     *string
	ProgramID     *string
	Memo          *string
	Err           *string
	ClassifiedBy  string
	Description   string
}

// TransactionParamsFrom maps a classified transaction to insert params.
func TransactionParamsFrom(wallet string, txn *solana.Transaction) CreateTransactionParams {
	return CreateTransactionParams{
		Signature:     txn.Signature,
		WalletAddress: wallet,
		Network:       txn.Network,
		Slot:          int64(txn.Slot),
		BlockTime:     txn.BlockTime,
		Type:          string(txn.Type),
		Status:        string(txn.Status),
		Amount:        txn.Amount,
		AmountRaw:     int64(txn.AmountRaw),
		Decimals:      int16(txn.Decimals),
		Token:         txn.Token,
		TokenMint:     txn.TokenMint,
		FeeLamports:   int64(txn.FeeLamports),
		FromAddress:   txn.FromAddress,
		ToAddress:     txn.ToAddress,
		ProgramID:     txn.ProgramID,
		Memo:          txn.Memo,
		Err:           txn.Err,
		ClassifiedBy:  txn.ClassifiedBy,
		Description:   txn.Description,
	}
}

// ToSolana converts a stored row back to the domain type.
func (t *Transaction) ToSolana() *solana.Transaction {
	return &solana.Transaction{
		Signature:    t.Signature,
		Slot:         uint64(t.Slot),
		BlockTime:    t.BlockTime,
		Network:      t.Network,
		Type:         solana.TransactionType(t.Type),
		Status:       solana.TransactionStatus(t.Status),
		Amount:       t.Amount,
		AmountRaw:    uint64(t.AmountRaw),
		Decimals:     uint8(t.Decimals),
		Token:        t.Token,
		TokenMint:    t.TokenMint,
		FeeLamports:  uint64(t.FeeLamports),
		FromAddress:  t.FromAddress,
		ToAddress:    t.ToAddress,
		ProgramID:    t.ProgramID,
		Memo:         t.Memo,
		Err:          t.Err,
		ClassifiedBy: t.ClassifiedBy,
		Description:  t.Description,
	}
}

const transactionColumns = `signature, wallet_address, network, slot, block_time, type, status,
	amount, amount_raw, decimals, token, token_mint, fee_lamports, from_address, to_address,
	program_id, memo, error, classified_by, description, created_at`

const insertTransaction = `
	INSERT INTO transactions (signature, wallet_address, network, slot, block_time, type, status,
		amount, amount_raw, decimals, token, token_mint, fee_lamports, from_address, to_address,
		program_id, memo, error, classified_by, description)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

func insertArgs(p CreateTransactionParams) []any {
	return []any{
		p.Signature, p.WalletAddress, p.Network, p.Slot, p.BlockTime, p.Type, p.Status,
		p.Amount, p.AmountRaw, p.Decimals, p.Token, p.TokenMint, p.FeeLamports, p.FromAddress, p.ToAddress,
		p.ProgramID, p.Memo, p.Err, p.ClassifiedBy, p.Description,
	}
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.Signature, &t.WalletAddress, &t.Network, &t.Slot, &t.BlockTime, &t.Type, &t.Status,
		&t.Amount, &t.AmountRaw, &t.Decimals, &t.Token, &t.TokenMint, &t.FeeLamports, &t.FromAddress, &t.ToAddress,
		&t.ProgramID, &t.Memo, &t.Err, &t.ClassifiedBy, &t.Description, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]*Transaction, error) {
	defer rows.Close()
	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTransaction inserts a transaction. Inserting the same signature for
// the same wallet and network twice is an error.
func (s *Store) CreateTransaction(ctx context.Context, params CreateTransactionParams) (*Transaction, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, insertTransaction+" RETURNING "+transactionColumns, insertArgs(params)...)
	txn, err := scanTransaction(row)
	s.observe("create_transaction", "transactions", start, err)
	if err != nil {
		return nil, fmt.Errorf("insert transaction %s: %w", params.Signature, err)
	}
	return txn, nil
}

// UpsertTransactions writes a batch, skipping signatures that are already
// stored. It returns how many rows were inserted.
func (s *Store) UpsertTransactions(ctx context.Context, params []CreateTransactionParams) (int, error) {
	if len(params) == 0 {
		return 0, nil
	}

	start := time.Now()
	batch := &pgx.Batch{}
	for _, p := range params {
		batch.Queue(insertTransaction+" ON CONFLICT (signature, wallet_address, network) DO NOTHING", insertArgs(p)...)
	}

	results := s.pool.SendBatch(ctx, batch)
	inserted := 0
	var err error
	for range params {
		tag, execErr := results.Exec()
		if execErr != nil {
			err = execErr
			break
		}
		inserted += int(tag.RowsAffected())
	}
	if closeErr := results.Close(); err == nil {
		err = closeErr
	}

	s.observe("upsert_transactions", "transactions", start, err)
	if err != nil {
		return inserted, fmt.Errorf("upsert transactions: %w", err)
	}
	return inserted, nil
}

// GetTransaction retrieves a transaction by signature for one wallet.
func (s *Store) GetTransaction(ctx context.Context, signature, walletAddress, network string) (*Transaction, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE signature = $1 AND wallet_address = $2 AND network = $3`,
		signature, walletAddress, network)
	txn, err := scanTransaction(row)
	s.observe("get_transaction", "transactions", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	return txn, nil
}

// GetTransactionSignaturesByWallet returns the newest stored signatures for
// a wallet, most recent first.
func (s *Store) GetTransactionSignaturesByWallet(ctx context.Context, walletAddress, network string, limit int32) ([]string, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT signature FROM transactions
		WHERE wallet_address = $1 AND network = $2
		ORDER BY block_time DESC
		LIMIT $3`, walletAddress, network, limit)
	if err != nil {
		s.observe("get_signatures", "transactions", start, err)
		return nil, err
	}
	sigs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	s.observe("get_signatures", "transactions", start, err)
	return sigs, err
}

// ListTransactionsParams selects a page of a wallet's transactions.
type ListTransactionsParams struct {
	WalletAddress string
	Network       string
	Limit         int32
	// Before, when set, only returns transactions older than this time.
	Before *time.Time
}

// ListTransactionsByWallet returns transactions newest first.
func (s *Store) ListTransactionsByWallet(ctx context.Context, params ListTransactionsParams) ([]*Transaction, error) {
	before := time.Now().Add(time.Hour)
	if params.Before != nil {
		before = *params.Before
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE wallet_address = $1 AND network = $2 AND block_time < $3
		ORDER BY block_time DESC
		LIMIT $4`, params.WalletAddress, params.Network, before, params.Limit)
	if err != nil {
		s.observe("list_transactions", "transactions", start, err)
		return nil, err
	}
	txns, err := collectTransactions(rows)
	s.observe("list_transactions", "transactions", start, err)
	return txns, err
}

// CountTransactionsByWallet counts a wallet's stored transactions.
func (s *Store) CountTransactionsByWallet(ctx context.Context, walletAddress, network string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions
		WHERE wallet_address = $1 AND network = $2`, walletAddress, network).Scan(&n)
	return n, err
}

// DeleteTransactionsOlderThan removes transactions older than before.
func (s *Store) DeleteTransactionsOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE block_time < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateBalanceSnapshot records one poll result.
func (s *Store) CreateBalanceSnapshot(ctx context.Context, snap *poller.BalanceSnapshot) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `INSERT INTO balance_snapshots
		(wallet_address, network, native_lamports, token_mint, token_amount, token_decimals,
		 native_error, token_error, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		snap.Address, snap.Network, int64(snap.NativeLamports), snap.TokenMint,
		int64(snap.TokenAmount), int16(snap.TokenDecimals),
		nullString(snap.NativeErr), nullString(snap.TokenErr), snap.FetchedAt)
	s.observe("create_balance_snapshot", "balance_snapshots", start, err)
	if err != nil {
		return fmt.Errorf("insert balance snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `wallet_address, network, native_lamports, token_mint, token_amount,
	token_decimals, native_error, token_error, fetched_at`

func scanSnapshot(row pgx.Row) (*poller.BalanceSnapshot, error) {
	var (
		snap                poller.BalanceSnapshot
		lamports, amount    int64
		decimals            int16
		nativeErr, tokenErr *string
	)
	if err := row.Scan(&snap.Address, &snap.Network, &lamports, &snap.TokenMint, &amount,
		&decimals, &nativeErr, &tokenErr, &snap.FetchedAt); err != nil {
		return nil, err
	}
	snap.NativeLamports = uint64(lamports)
	snap.NativeAmount = solana.FromBaseUnits(snap.NativeLamports, solana.NativeDecimals)
	snap.TokenAmount = uint64(amount)
	snap.TokenDecimals = uint8(decimals)
	snap.TokenUIAmount = solana.FromBaseUnits(snap.TokenAmount, snap.TokenDecimals)
	if nativeErr != nil {
		snap.NativeErr = *nativeErr
	}
	if tokenErr != nil {
		snap.TokenErr = *tokenErr
	}
	return &snap, nil
}

// GetLatestBalanceSnapshot returns the most recent snapshot for a wallet.
func (s *Store) GetLatestBalanceSnapshot(ctx context.Context, walletAddress, network string) (*poller.BalanceSnapshot, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM balance_snapshots
		WHERE wallet_address = $1 AND network = $2
		ORDER BY fetched_at DESC
		LIMIT 1`, walletAddress, network)
	snap, err := scanSnapshot(row)
	s.observe("get_latest_balance_snapshot", "balance_snapshots", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	return snap, nil
}

// ListBalanceSnapshots returns a wallet's snapshots newest first.
func (s *Store) ListBalanceSnapshots(ctx context.Context, walletAddress, network string, limit int32) ([]*poller.BalanceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM balance_snapshots
		WHERE wallet_address = $1 AND network = $2
		ORDER BY fetched_at DESC
		LIMIT $3`, walletAddress, network, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*poller.BalanceSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
