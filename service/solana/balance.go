package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// GetNativeBalance returns the SOL balance of owner in lamports.
func (c *Client) GetNativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	start := time.Now()
	res, err := c.rpc.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	c.observe("GetBalance", start, err)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to get native balance",
			"wallet", owner.String(),
			"error", err,
		)
		return 0, fmt.Errorf("get balance for %s: %w", owner, err)
	}
	if res == nil {
		return 0, nil
	}
	return res.Value, nil
}

// parsedTokenAccount is the jsonParsed shape of an SPL token account.
type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			Mint        string `json:"mint"`
			Owner       string `json:"owner"`
			TokenAmount struct {
				Amount   string   `json:"amount"`
				Decimals uint8    `json:"decimals"`
				UIAmount *float64 `json:"uiAmount"`
			} `json:"tokenAmount"`
		} `json:"info"`
		Type string `json:"type"`
	} `json:"parsed"`
}

// GetTokenBalance sums the balances of every token account owner holds for
// mint. An owner with no token account for the mint has a zero balance.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (TokenBalance, error) {
	balance := TokenBalance{Mint: mint.String()}

	start := time.Now()
	res, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{Mint: &mint},
		&rpc.GetTokenAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
			Encoding:   solana.EncodingJSONParsed,
		},
	)
	c.observe("GetTokenAccountsByOwner", start, err)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to get token accounts",
			"wallet", owner.String(),
			"mint", mint.String(),
			"error", err,
		)
		return balance, fmt.Errorf("get token accounts for %s: %w", owner, err)
	}
	if res == nil {
		return balance, nil
	}

	for _, acct := range res.Value {
		if acct == nil || acct.Account.Data == nil {
			continue
		}
		raw := acct.Account.Data.GetRawJSON()
		if raw == nil {
			c.logger.DebugContext(ctx, "token account has no parsed data",
				"token_account", acct.Pubkey.String(),
			)
			continue
		}

		var parsed parsedTokenAccount
		if err := json.Unmarshal(raw, &parsed); err != nil {
			c.logger.WarnContext(ctx, "failed to decode token account",
				"token_account", acct.Pubkey.String(),
				"error", err,
			)
			continue
		}
		info := parsed.Parsed.Info
		if info.Mint != mint.String() {
			continue
		}

		amount, err := strconv.ParseUint(info.TokenAmount.Amount, 10, 64)
		if err != nil {
			c.logger.WarnContext(ctx, "token account has malformed amount",
				"token_account", acct.Pubkey.String(),
				"amount", info.TokenAmount.Amount,
			)
			continue
		}
		balance.Amount += amount
		balance.Decimals = info.TokenAmount.Decimals
		balance.Accounts++
	}

	c.logger.DebugContext(ctx, "fetched token balance",
		"wallet", owner.String(),
		"mint", mint.String(),
		"amount", balance.Amount,
		"accounts", balance.Accounts,
	)

	return balance, nil
}
