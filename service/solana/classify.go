package solana

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// transferLogPattern pulls a lamport amount out of program logs.
var transferLogPattern = regexp.MustCompile(`Transfer: (\d+)`)

type classifyInput struct {
	wallet       solana.PublicKey
	goldMint     solana.PublicKey
	keys         []solana.PublicKey
	instructions []solana.CompiledInstruction
	meta         *rpc.TransactionMeta
}

// classification is the outcome of labeling a transaction.
type classification struct {
	txType    TransactionType
	method    string
	amount    uint64
	hasAmount bool
	decimals  uint8
	mint      *solana.PublicKey // nil for SOL
	from      *solana.PublicKey
	to        *solana.PublicKey
	programID *solana.PublicKey
}

func (c classification) apply(txn *Transaction, goldMint solana.PublicKey) {
	txn.Type = c.txType
	txn.ClassifiedBy = c.method
	txn.Token = tokenLabel(c.mint, goldMint)
	if c.mint != nil {
		m := c.mint.String()
		txn.TokenMint = &m
	}
	if c.hasAmount {
		amount := FromBaseUnits(c.amount, c.decimals)
		txn.Amount = &amount
		txn.AmountRaw = c.amount
		txn.Decimals = c.decimals
	}
	if c.from != nil {
		s := c.from.String()
		txn.FromAddress = &s
	}
	if c.to != nil {
		s := c.to.String()
		txn.ToAddress = &s
	}
	if c.programID != nil {
		s := c.programID.String()
		txn.ProgramID = &s
	}
	txn.Description = describe(txn)
}

// classifyTransaction labels a transaction relative to the wallet. A
// structural decode of the instructions is tried first. When it finds
// nothing the program logs are matched by substring.
func classifyTransaction(in classifyInput) classification {
	if c, ok := classifyInstructions(in); ok {
		return c
	}

	var logs []string
	if in.meta != nil {
		logs = in.meta.LogMessages
	}
	var feePayer solana.PublicKey
	if len(in.keys) > 0 {
		feePayer = in.keys[0]
	}
	if c, ok := classifyLogs(logs, in.wallet, feePayer); ok {
		if c.txType == TypeSwap {
			mint := in.goldMint
			c.mint = &mint
		}
		return c
	}

	return classification{txType: TypeUnknown, method: ClassifiedByNone, decimals: NativeDecimals}
}

func classifyInstructions(in classifyInput) (classification, bool) {
	var tokenLegs, nativeLegs []transferLeg

	for _, ix := range in.instructions {
		programID, ok := keyAt(in.keys, ix.ProgramIDIndex)
		if !ok {
			continue
		}

		switch {
		case programID.Equals(TokenMetadataProgramID):
			pid := programID
			return classification{
				txType:    TypeNFT,
				method:    ClassifiedByInstructions,
				decimals:  NativeDecimals,
				programID: &pid,
			}, true

		case programID.Equals(StakeProgramID):
			kind, lamports, err := parseStakeInstruction(ix.Data)
			if err != nil {
				continue
			}
			pid := programID
			c := classification{
				method:    ClassifiedByInstructions,
				decimals:  NativeDecimals,
				programID: &pid,
			}
			switch kind {
			case StakeProgramDeactivateInstruction:
				c.txType = TypeUnstake
			case StakeProgramWithdrawInstruction:
				c.txType = TypeClaim
				c.amount, c.hasAmount = lamports, lamports > 0
			default:
				c.txType = TypeStake
			}
			return c, true

		case programID.Equals(SystemProgramID):
			if leg, err := parseSystemTransfer(ix, in.keys); err == nil {
				nativeLegs = append(nativeLegs, leg)
			}

		case programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID):
			if leg, err := parseTokenTransfer(ix, in.keys, programID); err == nil {
				tokenLegs = append(tokenLegs, leg)
			}
		}
	}

	if c, ok := classifySwap(in); ok {
		return c, true
	}

	owners := tokenAccountIndex(in.meta)

	for _, leg := range tokenLegs {
		resolveTokenLeg(&leg, owners)
		if c, ok := tokenLegClassification(leg, in.wallet, owners); ok {
			return c, true
		}
	}

	for _, leg := range nativeLegs {
		pid := SystemProgramID
		from, to := leg.source, leg.destination
		c := classification{
			method:    ClassifiedByInstructions,
			amount:    leg.amount,
			hasAmount: true,
			decimals:  NativeDecimals,
			from:      &from,
			to:        &to,
			programID: &pid,
		}
		switch {
		case leg.source.Equals(in.wallet):
			c.txType = TypeSend
		case leg.destination.Equals(in.wallet):
			c.txType = TypeReceive
		default:
			continue
		}
		return c, true
	}

	return classification{}, false
}

// tokenAccountInfo is what pre/post token balances tell us about one account.
type tokenAccountInfo struct {
	owner    *solana.PublicKey
	mint     solana.PublicKey
	decimals uint8
}

func tokenAccountIndex(meta *rpc.TransactionMeta) map[uint16]tokenAccountInfo {
	out := make(map[uint16]tokenAccountInfo)
	if meta == nil {
		return out
	}
	for _, balances := range [][]rpc.TokenBalance{meta.PreTokenBalances, meta.PostTokenBalances} {
		for _, b := range balances {
			info := tokenAccountInfo{owner: b.Owner, mint: b.Mint}
			if b.UiTokenAmount != nil {
				info.decimals = b.UiTokenAmount.Decimals
			}
			out[b.AccountIndex] = info
		}
	}
	return out
}

// resolveTokenLeg fills in mint and decimals for plain Transfer
// instructions, which do not name the mint.
func resolveTokenLeg(leg *transferLeg, owners map[uint16]tokenAccountInfo) {
	for _, idx := range []uint16{leg.sourceIndex, leg.destinationIndex} {
		info, ok := owners[idx]
		if !ok {
			continue
		}
		if leg.mint == nil {
			mint := info.mint
			leg.mint = &mint
		}
		if leg.decimals == nil {
			d := info.decimals
			leg.decimals = &d
		}
		return
	}
}

func tokenLegClassification(leg transferLeg, wallet solana.PublicKey, owners map[uint16]tokenAccountInfo) (classification, bool) {
	pid := leg.program
	c := classification{
		method:    ClassifiedByInstructions,
		amount:    leg.amount,
		hasAmount: true,
		mint:      leg.mint,
		programID: &pid,
	}
	if leg.decimals != nil {
		c.decimals = *leg.decimals
	}

	from := leg.authority
	if info, ok := owners[leg.sourceIndex]; ok && info.owner != nil {
		from = info.owner
	}
	var to *solana.PublicKey
	if info, ok := owners[leg.destinationIndex]; ok && info.owner != nil {
		to = info.owner
	} else {
		dst := leg.destination
		to = &dst
	}
	c.from, c.to = from, to

	switch {
	case from != nil && from.Equals(wallet):
		c.txType = TypeSend
	case to != nil && to.Equals(wallet):
		c.txType = TypeReceive
	default:
		return classification{}, false
	}
	return c, true
}

// classifySwap detects a swap from the wallet's balance changes: the wallet
// gives up one asset and receives another in the same transaction.
func classifySwap(in classifyInput) (classification, bool) {
	deltas := walletDeltas(in)
	if len(deltas) < 2 {
		return classification{}, false
	}

	var gave, got []string
	for asset, d := range deltas {
		switch {
		case d.amount < 0:
			gave = append(gave, asset)
		case d.amount > 0:
			got = append(got, asset)
		}
	}
	if len(gave) == 0 || len(got) == 0 {
		return classification{}, false
	}
	slices.Sort(got)

	// report the GOLD leg when there is one, otherwise what was received
	pick := got[0]
	if _, ok := deltas[in.goldMint.String()]; ok {
		pick = in.goldMint.String()
	}
	d := deltas[pick]
	amount := d.amount
	if amount < 0 {
		amount = -amount
	}

	c := classification{
		txType:    TypeSwap,
		method:    ClassifiedByInstructions,
		amount:    uint64(amount),
		hasAmount: true,
		decimals:  d.decimals,
		from:      &in.wallet,
	}
	if pick != NativeSymbol {
		mint := solana.MustPublicKeyFromBase58(pick)
		c.mint = &mint
	}
	return c, true
}

type assetDelta struct {
	amount   int64
	decimals uint8
}

// walletDeltas returns the wallet's net change per asset keyed by mint,
// with SOL under NativeSymbol. The fee is excluded from the SOL change.
func walletDeltas(in classifyInput) map[string]assetDelta {
	out := make(map[string]assetDelta)
	meta := in.meta
	if meta == nil {
		return out
	}

	for i, key := range in.keys {
		if !key.Equals(in.wallet) || i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			continue
		}
		delta := int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
		if i == 0 {
			delta += int64(meta.Fee)
		}
		// ignore dust such as rent for newly created token accounts
		if delta > rentDustLamports || delta < -rentDustLamports {
			out[NativeSymbol] = assetDelta{amount: delta, decimals: NativeDecimals}
		}
		break
	}

	type acc struct {
		pre, post int64
		decimals  uint8
	}
	perMint := make(map[string]*acc)
	collect := func(balances []rpc.TokenBalance, post bool) {
		for _, b := range balances {
			if b.Owner == nil || !b.Owner.Equals(in.wallet) || b.UiTokenAmount == nil {
				continue
			}
			v, err := strconv.ParseInt(b.UiTokenAmount.Amount, 10, 64)
			if err != nil {
				continue
			}
			key := b.Mint.String()
			a, ok := perMint[key]
			if !ok {
				a = &acc{decimals: b.UiTokenAmount.Decimals}
				perMint[key] = a
			}
			if post {
				a.post += v
			} else {
				a.pre += v
			}
		}
	}
	collect(meta.PreTokenBalances, false)
	collect(meta.PostTokenBalances, true)

	for mint, a := range perMint {
		if d := a.post - a.pre; d != 0 {
			out[mint] = assetDelta{amount: d, decimals: a.decimals}
		}
	}
	return out
}

// rentDustLamports is roughly the rent-exempt minimum of a token account.
const rentDustLamports = 2_100_000

// classifyLogs is the substring fallback used when no instruction could be
// decoded. Order matters: the first keyword found wins.
func classifyLogs(logs []string, wallet, feePayer solana.PublicKey) (classification, bool) {
	if len(logs) == 0 {
		return classification{}, false
	}
	joined := strings.Join(logs, "\n")
	c := classification{method: ClassifiedByLogs, decimals: NativeDecimals}

	switch {
	case strings.Contains(joined, "Transfer"):
		if feePayer.Equals(wallet) {
			c.txType = TypeSend
		} else {
			c.txType = TypeReceive
		}
		if m := transferLogPattern.FindStringSubmatch(joined); m != nil {
			if v, err := strconv.ParseUint(m[1], 10, 64); err == nil {
				c.amount, c.hasAmount = v, true
			}
		}
	case strings.Contains(joined, "Swap"):
		c.txType = TypeSwap
	case strings.Contains(joined, "Mint"):
		c.txType = TypeNFT
	case strings.Contains(joined, "Unstake"):
		c.txType = TypeUnstake
	case strings.Contains(joined, "Stake"):
		c.txType = TypeStake
	case strings.Contains(joined, "Claim"):
		c.txType = TypeClaim
	default:
		return classification{}, false
	}
	return c, true
}

func tokenLabel(mint *solana.PublicKey, goldMint solana.PublicKey) string {
	switch {
	case mint == nil:
		return NativeSymbol
	case mint.Equals(goldMint):
		return "GOLD"
	default:
		return mint.String()
	}
}

func describe(txn *Transaction) string {
	amount := ""
	if txn.Amount != nil {
		amount = fmt.Sprintf(" %s %s", FormatBaseUnits(txn.AmountRaw, txn.Decimals), shortToken(txn.Token))
	}
	switch txn.Type {
	case TypeSend:
		return "Sent" + amount
	case TypeReceive:
		return "Received" + amount
	case TypeSwap:
		return "Swapped" + amount
	case TypeNFT:
		return "NFT activity"
	case TypeStake:
		return "Staked" + amount
	case TypeUnstake:
		return "Unstaked" + amount
	case TypeClaim:
		return "Claimed" + amount
	default:
		return "Transaction"
	}
}

func shortToken(token string) string {
	if len(token) > 12 {
		return token[:4] + "..." + token[len(token)-4:]
	}
	return token
}
