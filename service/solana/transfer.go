package solana

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/cenkalti/backoff/v5"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrTransactionFailed is returned when a submitted transaction lands with an error.
var ErrTransactionFailed = errors.New("transaction failed on chain")

// errNotConfirmed signals the confirmation loop to keep polling.
var errNotConfirmed = errors.New("transaction not yet confirmed")

// TransferPlan is the ordered instruction list for one transfer plus
// what the caller needs to show the user before signing.
type TransferPlan struct {
	Instructions []solana.Instruction

	Asset     string // "SOL" or the mint address
	Sender    solana.PublicKey
	Recipient solana.PublicKey
	Amount    uint64 // base units
	Decimals  uint8

	// Set for SPL transfers only.
	SenderTokenAccount      *solana.PublicKey
	RecipientTokenAccount   *solana.PublicKey
	CreatesRecipientAccount bool
}

// TokenTransferParams describes an SPL token transfer in base units.
type TokenTransferParams struct {
	Mint      solana.PublicKey
	Sender    solana.PublicKey
	Recipient solana.PublicKey
	Amount    uint64
	Decimals  uint8
}

// TransferBuilder assembles native and SPL token transfers. It never signs:
// signing belongs to the wallet provider.
type TransferBuilder struct {
	rpc            RPCClient
	logger         *slog.Logger
	metrics        *metrics.Metrics
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// TransferBuilderOption customizes a TransferBuilder.
type TransferBuilderOption func(*TransferBuilder)

// WithConfirmation sets how long SendAndConfirm waits and how often it polls.
func WithConfirmation(timeout, pollInterval time.Duration) TransferBuilderOption {
	return func(b *TransferBuilder) {
		if timeout > 0 {
			b.confirmTimeout = timeout
		}
		if pollInterval > 0 {
			b.pollInterval = pollInterval
		}
	}
}

// NewTransferBuilder creates a TransferBuilder sharing the client's RPC handle.
func NewTransferBuilder(c *Client, opts ...TransferBuilderOption) *TransferBuilder {
	b := &TransferBuilder{
		rpc:            c.rpc,
		logger:         c.logger.With("component", "transfer_builder"),
		metrics:        c.metrics,
		confirmTimeout: 60 * time.Second,
		pollInterval:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildNativeTransfer returns a single System Program transfer.
func (b *TransferBuilder) BuildNativeTransfer(sender, recipient solana.PublicKey, lamports uint64) (*TransferPlan, error) {
	if lamports == 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	ix := system.NewTransferInstruction(lamports, sender, recipient).Build()

	if b.metrics != nil {
		b.metrics.RecordTransferBuilt("native", false)
	}

	return &TransferPlan{
		Instructions: []solana.Instruction{ix},
		Asset:        NativeSymbol,
		Sender:       sender,
		Recipient:    recipient,
		Amount:       lamports,
		Decimals:     NativeDecimals,
	}, nil
}

// BuildTokenTransfer returns the instructions for an SPL token transfer:
// a create-associated-token-account instruction when the recipient has no
// token account for the mint yet, followed by TransferChecked.
func (b *TransferBuilder) BuildTokenTransfer(ctx context.Context, p TokenTransferParams) (*TransferPlan, error) {
	if p.Amount == 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	senderATA, _, err := solana.FindAssociatedTokenAddress(p.Sender, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive sender token account: %w", err)
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(p.Recipient, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive recipient token account: %w", err)
	}

	exists, err := b.accountExists(ctx, recipientATA)
	if err != nil {
		return nil, fmt.Errorf("check recipient token account: %w", err)
	}

	var instructions []solana.Instruction
	if !exists {
		b.logger.InfoContext(ctx, "recipient has no token account, adding create instruction",
			"recipient", p.Recipient.String(),
			"token_account", recipientATA.String(),
		)
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(p.Sender, p.Recipient, p.Mint).Build(),
		)
	}

	instructions = append(instructions,
		token.NewTransferCheckedInstruction(
			p.Amount,
			p.Decimals,
			senderATA,
			p.Mint,
			recipientATA,
			p.Sender,
			[]solana.PublicKey{},
		).Build(),
	)

	if b.metrics != nil {
		b.metrics.RecordTransferBuilt("token", !exists)
	}

	return &TransferPlan{
		Instructions:            instructions,
		Asset:                   p.Mint.String(),
		Sender:                  p.Sender,
		Recipient:               p.Recipient,
		Amount:                  p.Amount,
		Decimals:                p.Decimals,
		SenderTokenAccount:      &senderATA,
		RecipientTokenAccount:   &recipientATA,
		CreatesRecipientAccount: !exists,
	}, nil
}

// BuildTransaction wraps a plan in an unsigned transaction with a recent
// blockhash. The sender pays the fee.
func (b *TransferBuilder) BuildTransaction(ctx context.Context, plan *TransferPlan) (*solana.Transaction, error) {
	recent, err := b.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return nil, fmt.Errorf("get latest blockhash: empty response")
	}

	tx, err := solana.NewTransaction(
		plan.Instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(plan.Sender),
	)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return tx, nil
}

// SendAndConfirm submits a signed transaction and polls its status until it
// is confirmed, fails, or the confirmation timeout passes.
func (b *TransferBuilder) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := b.rpc.SendTransaction(ctx, tx)
	if err != nil {
		if b.metrics != nil {
			b.metrics.RecordTransferSubmitted("rejected")
		}
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	b.logger.InfoContext(ctx, "transaction submitted", "signature", sig.String())

	op := func() (struct{}, error) {
		res, err := b.rpc.GetSignatureStatuses(ctx, sig)
		if err != nil {
			return struct{}{}, err
		}
		if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
			return struct{}{}, errNotConfirmed
		}
		status := res.Value[0]
		if status.Err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err))
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return struct{}{}, nil
		}
		return struct{}{}, errNotConfirmed
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.pollInterval
	policy.MaxInterval = 4 * b.pollInterval

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(b.confirmTimeout),
	)
	if err != nil {
		status := "timeout"
		if errors.Is(err, ErrTransactionFailed) {
			status = "failed"
		}
		if b.metrics != nil {
			b.metrics.RecordTransferSubmitted(status)
		}
		b.logger.WarnContext(ctx, "transaction did not confirm",
			"signature", sig.String(),
			"error", err,
		)
		return sig, fmt.Errorf("confirm %s: %w", sig, err)
	}

	if b.metrics != nil {
		b.metrics.RecordTransferSubmitted("confirmed")
	}
	b.logger.InfoContext(ctx, "transaction confirmed", "signature", sig.String())
	return sig, nil
}

func (b *TransferBuilder) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	res, err := b.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res != nil && res.Value != nil, nil
}

// EncodeTransaction serializes a transaction as base64 wire format, the
// form wallets accept for signing. An unsigned transaction is encoded with
// zeroed signature slots.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	if len(tx.Signatures) == 0 {
		unsigned := *tx
		unsigned.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
		tx = &unsigned
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransaction parses a base64 wire-format transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}
