package solana

import (
	"bytes"
	"context"
	"errors"
	"testing"

	bin "github.com/gagliardetto/binary"
	tokenmetadata "github.com/gagliardetto/metaplex-go/clients/token-metadata"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mintAccountData lays out an SPL mint account: mint authority option,
// supply, decimals, initialized flag and freeze authority option.
func mintAccountData(decimals uint8) []byte {
	data := make([]byte, 82)
	data[44] = decimals
	data[45] = 1
	return data
}

func metadataAccountData(t *testing.T, mint solana.PublicKey, name, symbol, uri string) []byte {
	t.Helper()
	meta := tokenmetadata.Metadata{
		Mint: mint,
		Data: tokenmetadata.Data{
			// on-chain strings are padded to fixed widths
			Name:   name + "\x00\x00\x00",
			Symbol: symbol + "\x00",
			Uri:    uri,
		},
	}
	var buf bytes.Buffer
	require.NoError(t, bin.NewBorshEncoder(&buf).Encode(meta))
	return buf.Bytes()
}

func TestValidateMint(t *testing.T) {
	ctx := context.Background()
	notAMint := newKey(t)

	mock := &mockRPCClient{
		accounts: map[string]*rpc.Account{
			testGoldMint.String(): {Owner: TokenProgramID, Data: rpc.DataBytesOrJSONFromBytes(mintAccountData(9))},
			notAMint.String():     {Owner: SystemProgramID},
		},
	}
	client := newTestClient(mock)

	ok, err := client.ValidateMint(ctx, testGoldMint)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.ValidateMint(ctx, notAMint)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = client.ValidateMint(ctx, newKey(t))
	require.NoError(t, err)
	assert.False(t, ok, "missing account is not a mint")

	_, err = newTestClient(&mockRPCClient{accountErr: errors.New("boom")}).ValidateMint(ctx, testGoldMint)
	assert.Error(t, err)
}

func TestGetTokenInfo(t *testing.T) {
	ctx := context.Background()
	fallback := GoldTokenInfo(testGoldMint.String(), 9)

	t.Run("metadata overrides fallback", func(t *testing.T) {
		pda, err := MetadataAddress(testGoldMint)
		require.NoError(t, err)

		mock := &mockRPCClient{
			accounts: map[string]*rpc.Account{
				testGoldMint.String(): {Owner: TokenProgramID, Data: rpc.DataBytesOrJSONFromBytes(mintAccountData(6))},
				pda.String(): {
					Owner: TokenMetadataProgramID,
					Data:  rpc.DataBytesOrJSONFromBytes(metadataAccountData(t, testGoldMint, "Goldium", "GLD", "https://example.com/gold.json")),
				},
			},
		}
		info, err := newTestClient(mock).GetTokenInfo(ctx, testGoldMint, fallback)
		require.NoError(t, err)
		assert.True(t, info.Valid)
		assert.Equal(t, "Goldium", info.Name)
		assert.Equal(t, "GLD", info.Symbol)
		assert.Equal(t, "https://example.com/gold.json", info.URI)
		assert.Equal(t, uint8(6), info.Decimals)
	})

	t.Run("no metadata uses fallback names", func(t *testing.T) {
		mock := &mockRPCClient{
			accounts: map[string]*rpc.Account{
				testGoldMint.String(): {Owner: TokenProgramID, Data: rpc.DataBytesOrJSONFromBytes(mintAccountData(9))},
			},
		}
		info, err := newTestClient(mock).GetTokenInfo(ctx, testGoldMint, fallback)
		require.NoError(t, err)
		assert.True(t, info.Valid)
		assert.Equal(t, "Goldium Token", info.Name)
		assert.Equal(t, "GOLD", info.Symbol)
		assert.Equal(t, uint8(9), info.Decimals)
	})

	t.Run("missing mint is invalid", func(t *testing.T) {
		info, err := newTestClient(&mockRPCClient{}).GetTokenInfo(ctx, testGoldMint, fallback)
		require.NoError(t, err)
		assert.False(t, info.Valid)
		assert.Equal(t, testGoldMint.String(), info.Address)
	})
}

func TestNativeTokenInfo(t *testing.T) {
	info := NativeTokenInfo()
	assert.Equal(t, "SOL", info.Symbol)
	assert.Equal(t, uint8(9), info.Decimals)
	assert.True(t, info.Valid)
}
