package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	// DefaultHistoryLimit is how many signatures are fetched when no limit is given.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit is the largest page getSignaturesForAddress will return.
	MaxHistoryLimit = 1000
)

// HistoryParams contains parameters for fetching transaction history.
type HistoryParams struct {
	Wallet   solana.PublicKey
	GoldMint solana.PublicKey
	Network  string
	Limit    int

	// Before pages backwards from a signature (exclusive).
	Before *solana.Signature
	// Until stops at a signature (exclusive); used for incremental sync.
	Until *solana.Signature
	// ExistingSignatures are skipped without fetching details.
	ExistingSignatures []string

	Filter *HistoryFilter
}

// GetTransactionHistory fetches up to Limit of the wallet's most recent
// signatures, fetches each transaction's details and classifies it.
// Results are newest first. Transactions whose details cannot be fetched
// after retries are returned with signature metadata only; transactions
// the node no longer has are dropped.
func (c *Client) GetTransactionHistory(ctx context.Context, params HistoryParams) ([]*Transaction, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	}
	if params.Before != nil {
		opts.Before = *params.Before
	}
	if params.Until != nil {
		opts.Until = *params.Until
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"wallet", params.Wallet.String(),
		"limit", limit,
		"before", params.Before,
		"until", params.Until,
		"existing_sigs_count", len(params.ExistingSignatures),
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, params.Wallet, opts)
	c.observe("GetSignaturesForAddress", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"wallet", params.Wallet.String(),
			"error", err,
		)
		return nil, fmt.Errorf("get signatures for %s: %w", params.Wallet, err)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(signatures)))
	}

	existing := make(map[string]struct{}, len(params.ExistingSignatures))
	for _, sig := range params.ExistingSignatures {
		existing[sig] = struct{}{}
	}

	transactions := make([]*Transaction, 0, len(signatures))
	for i, sig := range signatures {
		if sig == nil {
			continue
		}
		if _, ok := existing[sig.Signature.String()]; ok {
			c.logger.DebugContext(ctx, "skipping already processed transaction",
				"signature", sig.Signature.String(),
			)
			if c.metrics != nil {
				c.metrics.RecordTransactionsSkipped(params.Wallet.String(), "already_fetched", 1)
			}
			continue
		}

		if i > 0 && c.requestDelay > 0 {
			if err := sleepContext(ctx, c.requestDelay); err != nil {
				return nil, err
			}
		}

		result, err := c.fetchTransaction(ctx, sig.Signature)
		switch {
		case errors.Is(err, rpc.ErrNotFound) || (err == nil && result == nil):
			c.logger.DebugContext(ctx, "transaction not available, skipping",
				"signature", sig.Signature.String(),
			)
			if c.metrics != nil {
				c.metrics.RecordTransactionsSkipped(params.Wallet.String(), "not_found", 1)
			}
			continue

		case ctx.Err() != nil:
			return nil, ctx.Err()

		case err != nil:
			c.logger.WarnContext(ctx, "failed to get transaction details after retries, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			txn := signatureToDomain(sig)
			txn.Network = params.Network
			txn.ClassifiedBy = ClassifiedByNone
			txn.Token = NativeSymbol
			txn.Description = describe(txn)
			transactions = append(transactions, txn)
			continue
		}

		txn, err := parseTransactionFromResult(sig, result, params.Wallet, params.GoldMint)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to parse transaction, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			txn = signatureToDomain(sig)
			txn.ClassifiedBy = ClassifiedByNone
			txn.Token = NativeSymbol
			txn.Description = describe(txn)
		}
		txn.Network = params.Network

		if c.metrics != nil {
			c.metrics.RecordTransactionClassified(string(txn.Type), txn.ClassifiedBy)
		}

		transactions = append(transactions, txn)
	}

	if c.metrics != nil {
		c.metrics.RecordTransactionsFetched(params.Wallet.String(), "rpc", len(transactions))
	}

	if params.Filter != nil {
		transactions = params.Filter.Apply(transactions)
	}

	c.logger.InfoContext(ctx, "fetched transaction history",
		"wallet", params.Wallet.String(),
		"signatures", len(signatures),
		"count", len(transactions),
	)

	return transactions, nil
}

// fetchTransaction gets one transaction's details, retrying transient
// failures with exponential backoff.
func (c *Client) fetchTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	op := func() (*rpc.GetTransactionResult, error) {
		start := time.Now()
		result, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		})
		c.observe("GetTransaction", start, err)
		if err == nil {
			return result, nil
		}

		if errors.Is(err, rpc.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}

		// older nodes reject the version option for legacy transactions
		if strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") {
			c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
				"signature", sig.String(),
			)
			if c.metrics != nil {
				c.metrics.RecordRPCRetry("GetTransaction", "parse_error")
			}
			legacyStart := time.Now()
			result, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: rpc.CommitmentConfirmed,
			})
			c.observe("GetTransaction", legacyStart, err)
			if err == nil {
				return result, nil
			}
		}

		if strings.Contains(err.Error(), "429") {
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(c.endpoint)
			}
		}
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.MaxInterval = 16 * c.retryInterval

	notify := func(err error, next time.Duration) {
		reason := "timeout_or_error"
		if strings.Contains(err.Error(), "429") {
			reason = "rate_limit"
		}
		c.logger.WarnContext(ctx, "failed to get transaction, retrying",
			"signature", sig.String(),
			"error", err,
			"backoff", next,
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("GetTransaction", reason)
		}
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(notify),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
