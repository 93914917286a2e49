package solana

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

var testGoldMint = solana.MustPublicKeyFromBase58("APkBg8kzMBpVKxvgrw67vkd5KuGWqSu2GVb19eK4pump")

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu sync.Mutex

	balance    uint64
	balanceErr error

	tokenAccounts    *rpc.GetTokenAccountsResult
	tokenAccountsErr error

	// accounts missing from the map are reported as rpc.ErrNotFound
	accounts   map[string]*rpc.Account
	accountErr error

	signatures      []*rpc.TransactionSignature
	transactions    map[string]*rpc.GetTransactionResult
	transactionErrs map[string]error
	err             error

	blockhash solana.Hash
	sendErr   error
	// statuses are returned in order, the last one repeating
	statuses []*rpc.SignatureStatusesResult

	lastSigOpts *rpc.GetSignaturesForAddressOpts
	getTxCalls  int
	statusCalls int
	sent        []*solana.Transaction
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return &rpc.GetBalanceResult{Value: m.balance}, nil
}

func (m *mockRPCClient) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error) {
	if m.tokenAccountsErr != nil {
		return nil, m.tokenAccountsErr
	}
	if m.tokenAccounts == nil {
		return &rpc.GetTokenAccountsResult{}, nil
	}
	return m.tokenAccounts, nil
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	acct, ok := m.accounts[account.String()]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acct}, nil
}

func (m *mockRPCClient) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	m.mu.Lock()
	m.lastSigOpts = opts
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	m.mu.Lock()
	m.getTxCalls++
	m.mu.Unlock()
	if err, ok := m.transactionErrs[signature.String()]; ok {
		return nil, err
	}
	if m.transactions == nil {
		return nil, nil
	}
	return m.transactions[signature.String()], nil
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: m.blockhash},
	}, nil
}

func (m *mockRPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.mu.Lock()
	m.sent = append(m.sent, tx)
	m.mu.Unlock()
	if len(tx.Signatures) > 0 {
		return tx.Signatures[0], nil
	}
	return testSignature(0xAA), nil
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.statuses) == 0 {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	idx := m.statusCalls
	if idx >= len(m.statuses) {
		idx = len(m.statuses) - 1
	}
	m.statusCalls++
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{m.statuses[idx]}}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(mock *mockRPCClient) *Client {
	return NewClient(mock, "test", nil, testLogger(),
		WithRequestDelay(0),
		WithRetryInterval(time.Millisecond),
		WithMaxAttempts(2),
	)
}

// testSignature returns a deterministic signature distinct per seed.
func testSignature(seed byte) solana.Signature {
	var sig solana.Signature
	for i := range sig {
		sig[i] = seed
	}
	return sig
}

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	return solana.NewWallet().PublicKey()
}

// Helper function to create a TransactionResultEnvelope from a Transaction.
// Since TransactionResultEnvelope has unexported fields, we use JSON marshaling.
func makeTransactionEnvelope(tx *solana.Transaction) (*rpc.TransactionResultEnvelope, error) {
	txJSON, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	var temp struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	temp.Transaction = txJSON

	envelopeJSON, err := json.Marshal(temp)
	if err != nil {
		return nil, err
	}

	var result rpc.GetTransactionResult
	if err := json.Unmarshal(envelopeJSON, &result); err != nil {
		return nil, err
	}

	return result.Transaction, nil
}

func makeResult(t *testing.T, keys []solana.PublicKey, ixs []solana.CompiledInstruction, meta *rpc.TransactionMeta) *rpc.GetTransactionResult {
	t.Helper()
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys:  keys,
			Instructions: ixs,
		},
	}
	envelope, err := makeTransactionEnvelope(tx)
	require.NoError(t, err)
	return &rpc.GetTransactionResult{
		Transaction: envelope,
		Meta:        meta,
	}
}
