package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	tokenmetadata "github.com/gagliardetto/metaplex-go/clients/token-metadata"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// GoldTokenInfo is the static display metadata for GOLD, used when the
// chain has no Metaplex metadata for the configured mint.
func GoldTokenInfo(mint string, decimals uint8) TokenInfo {
	return TokenInfo{
		Address:  mint,
		Symbol:   "GOLD",
		Name:     "Goldium Token",
		Decimals: decimals,
	}
}

// NativeTokenInfo is the display metadata for SOL.
func NativeTokenInfo() TokenInfo {
	return TokenInfo{
		Address:  solana.SolMint.String(),
		Symbol:   NativeSymbol,
		Name:     "Solana",
		Decimals: NativeDecimals,
		Valid:    true,
	}
}

// ValidateMint reports whether mint exists and is owned by the SPL Token program.
func (c *Client) ValidateMint(ctx context.Context, mint solana.PublicKey) (bool, error) {
	acct, err := c.getMintAccount(ctx, mint)
	return acct != nil, err
}

// getMintAccount returns the mint account, or nil when the account is
// missing or not owned by the SPL Token program.
func (c *Client) getMintAccount(ctx context.Context, mint solana.PublicKey) (*rpc.Account, error) {
	acct, err := c.getAccount(ctx, mint)
	if err != nil || acct == nil || !acct.Owner.Equals(TokenProgramID) {
		return nil, err
	}
	return acct, nil
}

// GetTokenInfo reads decimals from the mint account and name, symbol and
// URI from Metaplex metadata. Fields the chain does not provide are taken
// from fallback. A missing or foreign-owned mint yields Valid=false.
func (c *Client) GetTokenInfo(ctx context.Context, mint solana.PublicKey, fallback TokenInfo) (TokenInfo, error) {
	info := fallback
	info.Address = mint.String()
	info.Valid = false

	acct, err := c.getMintAccount(ctx, mint)
	if err != nil {
		return info, err
	}
	if acct == nil {
		return info, nil
	}
	info.Valid = true

	if data := accountBinary(acct); data != nil {
		var m token.Mint
		if err := bin.NewBinDecoder(data).Decode(&m); err != nil {
			c.logger.WarnContext(ctx, "failed to decode mint account",
				"mint", mint.String(),
				"error", err,
			)
		} else {
			info.Decimals = m.Decimals
		}
	}

	meta, err := c.getTokenMetadata(ctx, mint)
	if err != nil {
		c.logger.DebugContext(ctx, "no token metadata, using fallback",
			"mint", mint.String(),
			"error", err,
		)
		return info, nil
	}
	if name := strings.TrimRight(meta.Data.Name, "\x00"); name != "" {
		info.Name = name
	}
	if symbol := strings.TrimRight(meta.Data.Symbol, "\x00"); symbol != "" {
		info.Symbol = symbol
	}
	if uri := strings.TrimRight(meta.Data.Uri, "\x00"); uri != "" {
		info.URI = uri
	}
	return info, nil
}

// MetadataAddress derives the Metaplex metadata PDA for a mint.
func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("metadata"),
			TokenMetadataProgramID.Bytes(),
			mint.Bytes(),
		},
		TokenMetadataProgramID,
	)
	return addr, err
}

func (c *Client) getTokenMetadata(ctx context.Context, mint solana.PublicKey) (*tokenmetadata.Metadata, error) {
	pda, err := MetadataAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("derive metadata address: %w", err)
	}
	acct, err := c.getAccount(ctx, pda)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("metadata account %s not found", pda)
	}
	if !acct.Owner.Equals(TokenMetadataProgramID) {
		return nil, fmt.Errorf("metadata account %s has wrong owner %s", pda, acct.Owner)
	}
	data := accountBinary(acct)
	if data == nil {
		return nil, fmt.Errorf("metadata account %s has no data", pda)
	}

	var meta tokenmetadata.Metadata
	if err := bin.NewBorshDecoder(data).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// getAccount returns nil without error when the account does not exist.
func (c *Client) getAccount(ctx context.Context, account solana.PublicKey) (*rpc.Account, error) {
	start := time.Now()
	res, err := c.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		c.observe("GetAccountInfo", start, nil)
		return nil, nil
	}
	c.observe("GetAccountInfo", start, err)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", account, err)
	}
	if res == nil {
		return nil, nil
	}
	return res.Value, nil
}

func accountBinary(acct *rpc.Account) []byte {
	if acct == nil || acct.Data == nil {
		return nil
	}
	return acct.Data.GetBinary()
}
