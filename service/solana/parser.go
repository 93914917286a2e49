package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.TokenProgramID

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// AssociatedTokenProgramID derives and creates associated token accounts
	AssociatedTokenProgramID = solana.SPLAssociatedTokenAccountProgramID

	// StakeProgramID is the native stake program
	StakeProgramID = solana.MustPublicKeyFromBase58("Stake11111111111111111111111111111111111111")

	// TokenMetadataProgramID is the Metaplex token metadata program (NFTs)
	TokenMetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Stake Program instruction types
const (
	StakeProgramInitializeInstruction = uint32(0)
	StakeProgramDelegateInstruction   = uint32(2)
	StakeProgramWithdrawInstruction   = uint32(4)
	StakeProgramDeactivateInstruction = uint32(5)
)

// transferLeg is one decoded System or SPL Token transfer instruction.
// For SOL, source and destination are wallets. For SPL tokens they are
// token accounts and authority is the signing wallet.
type transferLeg struct {
	program     solana.PublicKey
	amount      uint64
	source      solana.PublicKey
	destination solana.PublicKey
	authority   *solana.PublicKey
	mint        *solana.PublicKey
	decimals    *uint8

	sourceIndex      uint16
	destinationIndex uint16
}

func (l transferLeg) native() bool {
	return l.program.Equals(SystemProgramID)
}

// signatureToDomain converts an RPC TransactionSignature to a Transaction
// carrying only signature-list metadata.
func signatureToDomain(sig *rpc.TransactionSignature) *Transaction {
	txn := &Transaction{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
		Type:      TypeUnknown,
		Status:    StatusConfirmed,
	}

	if sig.BlockTime != nil {
		txn.BlockTime = sig.BlockTime.Time()
	} else {
		txn.BlockTime = time.Time{}
	}

	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		txn.Err = &errMsg
		txn.Status = StatusFailed
	}

	if sig.ConfirmationStatus == rpc.ConfirmationStatusProcessed {
		txn.Status = StatusPending
	}

	if sig.Memo != nil && *sig.Memo != "" {
		memo := *sig.Memo
		txn.Memo = &memo
	}

	return txn
}

// parseTransactionFromResult decodes a full GetTransactionResult and
// classifies it relative to wallet.
func parseTransactionFromResult(
	sig *rpc.TransactionSignature,
	result *rpc.GetTransactionResult,
	wallet, goldMint solana.PublicKey,
) (*Transaction, error) {
	txn := signatureToDomain(sig)

	if result == nil || result.Transaction == nil {
		return txn, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	if result.BlockTime != nil && txn.BlockTime.IsZero() {
		txn.BlockTime = result.BlockTime.Time()
	}

	meta := result.Meta
	if meta != nil {
		txn.FeeLamports = meta.Fee
		if meta.Err != nil && txn.Err == nil {
			errMsg := fmt.Sprintf("transaction failed: %v", meta.Err)
			txn.Err = &errMsg
			txn.Status = StatusFailed
		}
	}

	keys := accountKeys(tx, meta)
	for _, ix := range tx.Message.Instructions {
		programID, ok := keyAt(keys, ix.ProgramIDIndex)
		if !ok {
			continue
		}
		if programID.Equals(MemoProgramIDSPL) || programID.Equals(MemoProgramIDLegacy) {
			if memo := parseMemo(ix.Data); memo != "" {
				txn.Memo = &memo
			}
		}
	}

	c := classifyTransaction(classifyInput{
		wallet:       wallet,
		goldMint:     goldMint,
		keys:         keys,
		instructions: tx.Message.Instructions,
		meta:         meta,
	})
	c.apply(txn, goldMint)

	return txn, nil
}

// accountKeys returns the static account keys followed by any keys loaded
// from address lookup tables, matching the indexes used in token balances.
func accountKeys(tx *solana.Transaction, meta *rpc.TransactionMeta) []solana.PublicKey {
	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}
	return keys
}

func keyAt(keys []solana.PublicKey, idx uint16) (solana.PublicKey, bool) {
	if int(idx) >= len(keys) {
		return solana.PublicKey{}, false
	}
	return keys[idx], true
}

// parseSystemTransfer decodes a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (transferLeg, error) {
	// [0..4]  = instruction type (u32, 2 = Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return transferLeg{}, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return transferLeg{}, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	// accounts: [from, to]
	if len(instruction.Accounts) < 2 {
		return transferLeg{}, fmt.Errorf("transfer missing accounts")
	}
	from, okFrom := keyAt(accountKeys, instruction.Accounts[0])
	to, okTo := keyAt(accountKeys, instruction.Accounts[1])
	if !okFrom || !okTo {
		return transferLeg{}, fmt.Errorf("transfer account index out of bounds")
	}

	return transferLeg{
		program:          SystemProgramID,
		amount:           binary.LittleEndian.Uint64(instruction.Data[4:12]),
		source:           from,
		destination:      to,
		authority:        &from,
		sourceIndex:      instruction.Accounts[0],
		destinationIndex: instruction.Accounts[1],
	}, nil
}

// parseTokenTransfer decodes an SPL Token Transfer or TransferChecked instruction.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, programID solana.PublicKey) (transferLeg, error) {
	if len(instruction.Data) == 0 {
		return transferLeg{}, fmt.Errorf("empty instruction data")
	}

	leg := transferLeg{program: programID}

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		// [0] = 3, [1..9] = amount
		// accounts: [source, destination, authority]
		if len(instruction.Data) < 9 {
			return transferLeg{}, fmt.Errorf("transfer instruction data too short")
		}
		if len(instruction.Accounts) < 3 {
			return transferLeg{}, fmt.Errorf("transfer missing accounts")
		}
		leg.amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
		leg.sourceIndex = instruction.Accounts[0]
		leg.destinationIndex = instruction.Accounts[1]
		if auth, ok := keyAt(accountKeys, instruction.Accounts[2]); ok {
			leg.authority = &auth
		}

	case TokenProgramTransferCheckedInstruction:
		// [0] = 12, [1..9] = amount, [9] = decimals
		// accounts: [source, mint, destination, authority]
		if len(instruction.Data) < 10 {
			return transferLeg{}, fmt.Errorf("transferChecked instruction data too short")
		}
		if len(instruction.Accounts) < 4 {
			return transferLeg{}, fmt.Errorf("transferChecked missing accounts")
		}
		leg.amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
		decimals := instruction.Data[9]
		leg.decimals = &decimals
		mint, ok := keyAt(accountKeys, instruction.Accounts[1])
		if !ok {
			return transferLeg{}, fmt.Errorf("mint account index out of bounds")
		}
		leg.mint = &mint
		leg.sourceIndex = instruction.Accounts[0]
		leg.destinationIndex = instruction.Accounts[2]
		if auth, ok := keyAt(accountKeys, instruction.Accounts[3]); ok {
			leg.authority = &auth
		}

	default:
		return transferLeg{}, fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}

	src, okSrc := keyAt(accountKeys, leg.sourceIndex)
	dst, okDst := keyAt(accountKeys, leg.destinationIndex)
	if !okSrc || !okDst {
		return transferLeg{}, fmt.Errorf("token account index out of bounds")
	}
	leg.source = src
	leg.destination = dst

	return leg, nil
}

// parseStakeInstruction returns the stake instruction kind and, for
// withdrawals, the lamports withdrawn.
func parseStakeInstruction(data []byte) (kind uint32, lamports uint64, err error) {
	if len(data) < 4 {
		return 0, 0, fmt.Errorf("stake instruction data too short")
	}
	kind = binary.LittleEndian.Uint32(data[0:4])
	if kind == StakeProgramWithdrawInstruction && len(data) >= 12 {
		lamports = binary.LittleEndian.Uint64(data[4:12])
	}
	return kind, lamports, nil
}

// parseMemo extracts the memo text from a Memo Program instruction.
func parseMemo(data []byte) string {
	memo := string(data)

	// some clients base64 the memo
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && isPrintableUTF8(decoded) {
		return string(decoded)
	}

	return memo
}

func isPrintableUTF8(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return true
}
