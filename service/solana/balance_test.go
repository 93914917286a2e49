package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenAccountsFixture builds a jsonParsed getTokenAccountsByOwner response.
func tokenAccountsFixture(t *testing.T, mint string, amounts ...string) *rpc.GetTokenAccountsResult {
	t.Helper()
	value := "["
	for i, amount := range amounts {
		if i > 0 {
			value += ","
		}
		value += fmt.Sprintf(`{
			"pubkey": %q,
			"account": {
				"lamports": 2039280,
				"owner": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
				"executable": false,
				"rentEpoch": 0,
				"data": {
					"program": "spl-token",
					"space": 165,
					"parsed": {
						"type": "account",
						"info": {
							"mint": %q,
							"owner": %q,
							"state": "initialized",
							"tokenAmount": {"amount": %q, "decimals": 9, "uiAmount": null}
						}
					}
				}
			}
		}`, newKey(t).String(), mint, newKey(t).String(), amount)
	}
	value += "]"

	var res rpc.GetTokenAccountsResult
	require.NoError(t, json.Unmarshal([]byte(`{"context":{"slot":1},"value":`+value+`}`), &res))
	return &res
}

func TestGetNativeBalance(t *testing.T) {
	t.Run("returns lamports", func(t *testing.T) {
		client := newTestClient(&mockRPCClient{balance: 1_250_000_000})
		lamports, err := client.GetNativeBalance(context.Background(), newKey(t))
		require.NoError(t, err)
		assert.Equal(t, uint64(1_250_000_000), lamports)
	})

	t.Run("propagates rpc error", func(t *testing.T) {
		client := newTestClient(&mockRPCClient{balanceErr: errors.New("timeout")})
		_, err := client.GetNativeBalance(context.Background(), newKey(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})
}

func TestGetTokenBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("sums every account for the mint", func(t *testing.T) {
		mock := &mockRPCClient{
			tokenAccounts: tokenAccountsFixture(t, testGoldMint.String(), "1500000000", "500000000"),
		}
		client := newTestClient(mock)

		bal, err := client.GetTokenBalance(ctx, newKey(t), testGoldMint)
		require.NoError(t, err)
		assert.Equal(t, uint64(2_000_000_000), bal.Amount)
		assert.Equal(t, uint8(9), bal.Decimals)
		assert.Equal(t, 2, bal.Accounts)
		assert.InDelta(t, 2.0, bal.UIAmount(), 1e-9)
	})

	t.Run("no token account is zero", func(t *testing.T) {
		client := newTestClient(&mockRPCClient{})

		bal, err := client.GetTokenBalance(ctx, newKey(t), testGoldMint)
		require.NoError(t, err)
		assert.Zero(t, bal.Amount)
		assert.Zero(t, bal.Accounts)
		assert.Equal(t, testGoldMint.String(), bal.Mint)
	})

	t.Run("ignores accounts for other mints", func(t *testing.T) {
		mock := &mockRPCClient{
			tokenAccounts: tokenAccountsFixture(t, newKey(t).String(), "999"),
		}
		client := newTestClient(mock)

		bal, err := client.GetTokenBalance(ctx, newKey(t), testGoldMint)
		require.NoError(t, err)
		assert.Zero(t, bal.Amount)
	})

	t.Run("skips accounts without data", func(t *testing.T) {
		res := tokenAccountsFixture(t, testGoldMint.String(), "700")
		res.Value = append(res.Value, nil, &rpc.TokenAccount{Pubkey: newKey(t)})
		client := newTestClient(&mockRPCClient{tokenAccounts: res})

		bal, err := client.GetTokenBalance(ctx, newKey(t), testGoldMint)
		require.NoError(t, err)
		assert.Equal(t, uint64(700), bal.Amount)
		assert.Equal(t, 1, bal.Accounts)
	})

	t.Run("propagates rpc error", func(t *testing.T) {
		client := newTestClient(&mockRPCClient{tokenAccountsErr: errors.New("429 Too Many Requests")})

		_, err := client.GetTokenBalance(ctx, newKey(t), testGoldMint)
		require.Error(t, err)
	})
}
