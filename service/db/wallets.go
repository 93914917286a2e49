package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Wallet statuses.
const (
	WalletStatusActive = "active"
	WalletStatusPaused = "paused"
)

// Wallet is an address the background sync keeps up to date.
type Wallet struct {
	Address      string
	Network      string
	TokenMint    string
	PollInterval time.Duration
	LastPollTime *time.Time
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateWalletParams contains the parameters for watching a wallet.
type CreateWalletParams struct {
	Address      string
	Network      string
	TokenMint    string
	PollInterval time.Duration
	Status       string
}

const walletColumns = `address, network, token_mint, poll_interval, last_poll_time, status, created_at, updated_at`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var (
		w        Wallet
		interval pgtype.Interval
	)
	if err := row.Scan(&w.Address, &w.Network, &w.TokenMint, &interval,
		&w.LastPollTime, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.PollInterval = durationFromPgInterval(interval)
	return &w, nil
}

func collectWallets(rows pgx.Rows) ([]*Wallet, error) {
	defer rows.Close()
	var out []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CreateWallet starts watching a wallet. Watching the same address on the
// same network again updates its mint and interval.
func (s *Store) CreateWallet(ctx context.Context, params CreateWalletParams) (*Wallet, error) {
	status := params.Status
	if status == "" {
		status = WalletStatusActive
	}

	start := time.Now()
	row := s.pool.QueryRow(ctx, `INSERT INTO watched_wallets (address, network, token_mint, poll_interval, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address, network) DO UPDATE
			SET token_mint = EXCLUDED.token_mint,
			    poll_interval = EXCLUDED.poll_interval,
			    status = EXCLUDED.status,
			    updated_at = NOW()
		RETURNING `+walletColumns,
		params.Address, params.Network, params.TokenMint, pgIntervalFromDuration(params.PollInterval), status)
	w, err := scanWallet(row)
	s.observe("create_wallet", "watched_wallets", start, err)
	if err != nil {
		return nil, fmt.Errorf("watch wallet %s: %w", params.Address, err)
	}
	return w, nil
}

// GetWallet returns a watched wallet.
func (s *Store) GetWallet(ctx context.Context, address, network string) (*Wallet, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM watched_wallets
		WHERE address = $1 AND network = $2`, address, network)
	w, err := scanWallet(row)
	s.observe("get_wallet", "watched_wallets", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

// ListWallets returns every watched wallet.
func (s *Store) ListWallets(ctx context.Context) ([]*Wallet, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+walletColumns+` FROM watched_wallets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectWallets(rows)
}

// ListActiveWallets returns active wallets, least recently polled first.
func (s *Store) ListActiveWallets(ctx context.Context) ([]*Wallet, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+walletColumns+` FROM watched_wallets
		WHERE status = $1
		ORDER BY last_poll_time NULLS FIRST`, WalletStatusActive)
	if err != nil {
		return nil, err
	}
	return collectWallets(rows)
}

// UpdateWalletPollTime records a completed sync.
func (s *Store) UpdateWalletPollTime(ctx context.Context, address, network string, pollTime time.Time) (*Wallet, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `UPDATE watched_wallets
		SET last_poll_time = $3, updated_at = NOW()
		WHERE address = $1 AND network = $2
		RETURNING `+walletColumns, address, network, pollTime)
	w, err := scanWallet(row)
	s.observe("update_wallet_poll_time", "watched_wallets", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

// UpdateWalletStatus pauses or resumes a wallet.
func (s *Store) UpdateWalletStatus(ctx context.Context, address, network, status string) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, `UPDATE watched_wallets
		SET status = $3, updated_at = NOW()
		WHERE address = $1 AND network = $2
		RETURNING `+walletColumns, address, network, status)
	w, err := scanWallet(row)
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

// DeleteWallet stops watching a wallet. It returns ErrNotFound if the
// wallet was not watched.
func (s *Store) DeleteWallet(ctx context.Context, address, network string) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM watched_wallets WHERE address = $1 AND network = $2`, address, network)
	s.observe("delete_wallet", "watched_wallets", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// WalletExists reports whether a wallet is watched.
func (s *Store) WalletExists(ctx context.Context, address, network string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM watched_wallets WHERE address = $1 AND network = $2)`,
		address, network).Scan(&exists)
	return exists, err
}

func pgIntervalFromDuration(d time.Duration) pgtype.Interval {
	return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}
}

func durationFromPgInterval(i pgtype.Interval) time.Duration {
	if !i.Valid {
		return 0
	}
	return time.Duration(i.Microseconds)*time.Microsecond +
		time.Duration(i.Days)*24*time.Hour
}
