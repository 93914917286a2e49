package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/brojonat/goldium/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// transferRequest describes a transfer in UI units.
type transferRequest struct {
	Network   string `json:"network"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Asset     string `json:"asset"` // "SOL" or "GOLD"

	// CheckBalance rejects amounts above the sender's current balance.
	CheckBalance bool `json:"check_balance"`
}

type instructionResponse struct {
	ProgramID string   `json:"program_id"`
	Accounts  []string `json:"accounts"`
}

type transferResponse struct {
	Transaction             string                `json:"transaction"` // base64, unsigned
	Asset                   string                `json:"asset"`
	Sender                  string                `json:"sender"`
	Recipient               string                `json:"recipient"`
	Amount                  string                `json:"amount"`
	AmountRaw               uint64                `json:"amount_raw"`
	Decimals                uint8                 `json:"decimals"`
	SenderTokenAccount      *string               `json:"sender_token_account,omitempty"`
	RecipientTokenAccount   *string               `json:"recipient_token_account,omitempty"`
	CreatesRecipientAccount bool                  `json:"creates_recipient_account"`
	Instructions            []instructionResponse `json:"instructions"`
}

// handleBuildTransfer builds an unsigned SOL or GOLD transfer for the
// sender's wallet to sign.
// POST /api/v1/transfers
func handleBuildTransfer(s *Server, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if !decodeBody(w, r, &req) {
			return
		}
		network, err := s.network(req.Network)
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid network")
			return
		}
		sender, err := solana.ValidateAddress(req.Sender)
		if err != nil {
			writeError(w, "invalid sender: "+reason(err), http.StatusBadRequest)
			return
		}
		recipient, err := solana.ValidateAddress(req.Recipient)
		if err != nil {
			writeError(w, "invalid recipient: "+reason(err), http.StatusBadRequest)
			return
		}

		native := strings.EqualFold(req.Asset, solana.NativeSymbol)
		if !native && !strings.EqualFold(req.Asset, "GOLD") {
			writeError(w, "invalid asset: must be 'SOL' or 'GOLD'", http.StatusBadRequest)
			return
		}

		decimals := uint8(solana.NativeDecimals)
		if !native {
			decimals = network.GoldDecimals
		}

		var balance *uint64
		if req.CheckBalance {
			var b uint64
			if native {
				lamports, err := network.Chain.GetNativeBalance(r.Context(), sender)
				if err != nil {
					writeFailure(w, r, logger, err, http.StatusBadGateway, "failed to read sender balance")
					return
				}
				b = lamports
			} else {
				tb, err := network.Chain.GetTokenBalance(r.Context(), sender, network.GoldMint)
				if err != nil {
					writeFailure(w, r, logger, err, http.StatusBadGateway, "failed to read sender balance")
					return
				}
				b = tb.Amount
			}
			balance = &b
		}
		raw, err := solana.ValidateTransferBaseUnits(req.Amount, decimals, balance)
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid amount")
			return
		}

		var plan *solana.TransferPlan
		if native {
			plan, err = network.Transfers.BuildNativeTransfer(sender, recipient, raw)
		} else {
			plan, err = network.Transfers.BuildTokenTransfer(r.Context(), solana.TokenTransferParams{
				Mint:      network.GoldMint,
				Sender:    sender,
				Recipient: recipient,
				Amount:    raw,
				Decimals:  decimals,
			})
		}
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadGateway, "failed to build transfer")
			return
		}

		tx, err := network.Transfers.BuildTransaction(r.Context(), plan)
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadGateway, "failed to build transaction")
			return
		}
		encoded, err := solana.EncodeTransaction(tx)
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusInternalServerError, "failed to encode transaction")
			return
		}

		resp := transferResponse{
			Transaction:             encoded,
			Asset:                   strings.ToUpper(req.Asset),
			Sender:                  sender.String(),
			Recipient:               recipient.String(),
			Amount:                  solana.FormatBaseUnits(raw, decimals),
			AmountRaw:               raw,
			Decimals:                decimals,
			CreatesRecipientAccount: plan.CreatesRecipientAccount,
		}
		if plan.SenderTokenAccount != nil {
			v := plan.SenderTokenAccount.String()
			resp.SenderTokenAccount = &v
		}
		if plan.RecipientTokenAccount != nil {
			v := plan.RecipientTokenAccount.String()
			resp.RecipientTokenAccount = &v
		}
		for _, ix := range plan.Instructions {
			summary := instructionResponse{ProgramID: ix.ProgramID().String()}
			for _, acct := range ix.Accounts() {
				summary.Accounts = append(summary.Accounts, acct.PublicKey.String())
			}
			resp.Instructions = append(resp.Instructions, summary)
		}

		logger.InfoContext(r.Context(), "transfer built",
			"asset", resp.Asset,
			"sender", resp.Sender,
			"recipient", resp.Recipient,
			"amount", resp.Amount,
			"creates_recipient_account", resp.CreatesRecipientAccount,
		)
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleSubmitTransfer sends a signed transaction and waits for confirmation.
// POST /api/v1/transfers/submit
func handleSubmitTransfer(s *Server, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Network     string `json:"network"`
			Transaction string `json:"transaction"` // base64, signed
		}
		if !decodeBody(w, r, &req) {
			return
		}
		network, err := s.network(req.Network)
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid network")
			return
		}
		tx, err := solana.DecodeTransaction(req.Transaction)
		if err != nil {
			writeError(w, "invalid transaction: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(tx.Signatures) == 0 || tx.Signatures[0] == (solanago.Signature{}) {
			writeError(w, "transaction is not signed", http.StatusBadRequest)
			return
		}

		sig, err := network.Transfers.SendAndConfirm(r.Context(), tx)
		if err != nil {
			logger.WarnContext(r.Context(), "transfer did not confirm", "error", err)
			writeJSON(w, map[string]string{
				"error":        err.Error(),
				"signature":    sig.String(),
				"explorer_url": network.Explorer.Transaction(sig.String()),
			}, http.StatusBadGateway)
			return
		}

		writeJSON(w, map[string]string{
			"signature":    sig.String(),
			"status":       string(solana.StatusConfirmed),
			"explorer_url": network.Explorer.Transaction(sig.String()),
		}, http.StatusOK)
	})
}
