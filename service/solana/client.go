package solana

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is the subset of the Solana JSON-RPC API goldium uses.
// It lets tests swap the network out for a mock.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetTokenAccountsByOwner(
		ctx context.Context,
		owner solana.PublicKey,
		conf *rpc.GetTokenAccountsConfig,
		opts *rpc.GetTokenAccountsOpts,
	) (*rpc.GetTokenAccountsResult, error)

	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
	) (*rpc.GetAccountInfoResult, error)

	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransaction(
		ctx context.Context,
		tx *solana.Transaction,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// Client wraps an RPCClient with goldium's domain operations:
// balances, history, token info and transfer submission.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // metrics label, usually the network name

	// requestDelay spaces out GetTransaction calls to stay under
	// public RPC rate limits.
	requestDelay  time.Duration
	retryInterval time.Duration
	maxAttempts   uint
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithRequestDelay sets the pause between per-signature detail fetches.
func WithRequestDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.requestDelay = d }
}

// WithRetryInterval sets the first backoff interval for retried RPC calls.
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithMaxAttempts sets how many times a transaction detail fetch is tried.
func WithMaxAttempts(n uint) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g. "mainnet", "devnet").
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		rpc:           rpcClient,
		logger:        logger,
		metrics:       m,
		endpoint:      endpoint,
		requestDelay:  600 * time.Millisecond,
		retryInterval: time.Second,
		maxAttempts:   3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the label this client reports metrics under.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// observe records a single RPC call outcome.
func (c *Client) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}
