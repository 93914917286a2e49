package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/goldium/service/db"
	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

const maxRequestBodySize = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}

// writeFailure reports validation errors as 400 with their message and
// anything else as status with a generic message.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, status int, message string) {
	if solana.IsValidationError(err) {
		logger.DebugContext(r.Context(), "invalid request", "path", r.URL.Path, "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.ErrorContext(r.Context(), message, "path", r.URL.Path, "error", err)
	writeError(w, message, status)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

type balanceResponse struct {
	*poller.BalanceSnapshot
	Source      string `json:"source"`
	ExplorerURL string `json:"explorer_url"`
}

// handleGetBalance returns SOL and GOLD balances for a wallet.
// GET /api/v1/wallets/{address}/balance?network=devnet&source=chain|db
func handleGetBalance(s *Server, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		owner, err := solana.ValidateAddress(r.PathValue("address"))
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid address")
			return
		}
		network, err := s.network(query.Get("network"))
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid network")
			return
		}

		source := query.Get("source")
		var snap *poller.BalanceSnapshot
		switch source {
		case "", "chain":
			source = "chain"
			snap = poller.FetchBalances(r.Context(), network.Chain, owner, poller.Config{
				Network:       network.Name,
				TokenMint:     network.GoldMint,
				TokenDecimals: network.GoldDecimals,
			}, logger, s.metrics)
		case "db":
			if s.store == nil {
				writeError(w, "stored balances are not available", http.StatusNotImplemented)
				return
			}
			snap, err = s.store.GetLatestBalanceSnapshot(r.Context(), owner.String(), network.Name)
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "no stored balance for wallet", http.StatusNotFound)
				return
			}
			if err != nil {
				writeFailure(w, r, logger, err, http.StatusInternalServerError, "failed to read stored balance")
				return
			}
		default:
			writeError(w, "invalid source: must be 'chain' or 'db'", http.StatusBadRequest)
			return
		}

		writeJSON(w, balanceResponse{
			BalanceSnapshot: snap,
			Source:          source,
			ExplorerURL:     network.Explorer.Address(owner.String()),
		}, http.StatusOK)
	})
}

// transactionResponse is the JSON response format for a transaction.
type transactionResponse struct {
	Signature    string     `json:"signature"`
	Slot         uint64     `json:"slot"`
	BlockTime    *time.Time `json:"block_time,omitempty"`
	TimestampMs  int64      `json:"timestamp_ms"`
	Network      string     `json:"network"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Amount       *float64   `json:"amount,omitempty"`
	AmountRaw    uint64     `json:"amount_raw"`
	Decimals     uint8      `json:"decimals"`
	Token        string     `json:"token"`
	TokenMint    *string    `json:"token_mint,omitempty"`
	Fee          float64    `json:"fee"`
	FromAddress  *string    `json:"from_address,omitempty"`
	ToAddress    *string    `json:"to_address,omitempty"`
	ProgramID    *string    `json:"program_id,omitempty"`
	Memo         *string    `json:"memo,omitempty"`
	Error        *string    `json:"error,omitempty"`
	ClassifiedBy string     `json:"classified_by"`
	Description  string     `json:"description"`
	ExplorerURL  string     `json:"explorer_url"`
}

func transactionToResponse(t *solana.Transaction, explorer solana.Explorer) transactionResponse {
	resp := transactionResponse{
		Signature:    t.Signature,
		Slot:         t.Slot,
		TimestampMs:  t.TimestampMs(),
		Network:      t.Network,
		Type:         string(t.Type),
		Status:       string(t.Status),
		Amount:       t.Amount,
		AmountRaw:    t.AmountRaw,
		Decimals:     t.Decimals,
		Token:        t.Token,
		TokenMint:    t.TokenMint,
		Fee:          t.Fee(),
		FromAddress:  t.FromAddress,
		ToAddress:    t.ToAddress,
		ProgramID:    t.ProgramID,
		Memo:         t.Memo,
		Error:        t.Err,
		ClassifiedBy: t.ClassifiedBy,
		Description:  t.Description,
		ExplorerURL:  explorer.Transaction(t.Signature),
	}
	if !t.BlockTime.IsZero() {
		bt := t.BlockTime
		resp.BlockTime = &bt
	}
	return resp
}

// parseFilter reads type, from, to, min, max and token query parameters.
func parseFilter(r *http.Request) (solana.HistoryFilter, error) {
	query := r.URL.Query()
	var f solana.HistoryFilter

	if raw := query.Get("type"); raw != "" {
		t, ok := solana.ParseTransactionType(raw)
		if !ok {
			return f, &solana.ValidationError{Field: "type", Reason: "unknown transaction type"}
		}
		f.Type = t
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
		end  bool
	}{{"from", &f.From, false}, {"to", &f.To, true}} {
		raw := query.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw, p.end)
		if err != nil {
			return f, &solana.ValidationError{Field: p.name, Reason: "must be RFC3339 or YYYY-MM-DD"}
		}
		*p.dst = &t
	}
	for _, p := range []struct {
		name string
		dst  **float64
	}{{"min", &f.MinAmount}, {"max", &f.MaxAmount}} {
		raw := query.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return f, &solana.ValidationError{Field: p.name, Reason: "must be a number"}
		}
		*p.dst = &v
	}
	f.Token = query.Get("token")
	return f, nil
}

// parseTime accepts RFC3339 or a bare date. A bare end date covers the whole day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// handleListTransactions returns a wallet's classified history, newest first.
// GET /api/v1/wallets/{address}/transactions?limit&before&type&from&to&min&max&token&source=chain|db
//
// With source=chain, before is a signature. With source=db it is a time.
func handleListTransactions(s *Server, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		wallet, err := solana.ValidateAddress(r.PathValue("address"))
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid address")
			return
		}
		network, err := s.network(query.Get("network"))
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid network")
			return
		}
		limit, err := parseLimit(query.Get("limit"), s.historyLimit)
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid limit")
			return
		}
		filter, err := parseFilter(r)
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid filter")
			return
		}

		var txns []*solana.Transaction
		var historyErr string
		source := query.Get("source")
		switch source {
		case "", "chain":
			source = "chain"
			params := solana.HistoryParams{
				Wallet:   wallet,
				GoldMint: network.GoldMint,
				Network:  network.Name,
				Limit:    limit,
				Filter:   &filter,
			}
			if raw := query.Get("before"); raw != "" {
				sig, err := solanago.SignatureFromBase58(raw)
				if err != nil {
					writeError(w, "invalid before: must be a transaction signature", http.StatusBadRequest)
					return
				}
				params.Before = &sig
			}
			txns, err = network.Chain.GetTransactionHistory(r.Context(), params)
			if err != nil {
				// history degrades to an empty list when the node is unreachable
				logger.WarnContext(r.Context(), "failed to fetch transaction history",
					"wallet", wallet.String(),
					"network", network.Name,
					"error", err,
				)
				historyErr = err.Error()
				txns = nil
			}
		case "db":
			if s.store == nil {
				writeError(w, "stored history is not available", http.StatusNotImplemented)
				return
			}
			params := db.ListTransactionsParams{
				WalletAddress: wallet.String(),
				Network:       network.Name,
				Limit:         int32(limit),
			}
			if raw := query.Get("before"); raw != "" {
				before, err := parseTime(raw, false)
				if err != nil {
					writeError(w, "invalid before: must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest)
					return
				}
				params.Before = &before
			}
			rows, err := s.store.ListTransactionsByWallet(r.Context(), params)
			if err != nil {
				writeFailure(w, r, logger, err, http.StatusInternalServerError, "failed to list transactions")
				return
			}
			txns = make([]*solana.Transaction, 0, len(rows))
			for _, row := range rows {
				txns = append(txns, row.ToSolana())
			}
			txns = filter.Apply(txns)
		default:
			writeError(w, "invalid source: must be 'chain' or 'db'", http.StatusBadRequest)
			return
		}

		if s.metrics != nil {
			s.metrics.RecordTransactionsFetched(wallet.String(), source, len(txns))
		}
		logger.DebugContext(r.Context(), "transactions listed",
			"wallet", wallet.String(),
			"source", source,
			"count", len(txns),
		)

		resp := make([]transactionResponse, len(txns))
		for i, t := range txns {
			resp[i] = transactionToResponse(t, network.Explorer)
		}
		body := map[string]interface{}{
			"wallet":       wallet.String(),
			"network":      network.Name,
			"source":       source,
			"transactions": resp,
			"count":        len(resp),
			"limit":        limit,
		}
		if historyErr != "" {
			body["error"] = historyErr
		}
		writeJSON(w, body, http.StatusOK)
	})
}

// tokenResponse is the JSON response format for token info.
type tokenResponse struct {
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Decimals    uint8  `json:"decimals"`
	URI         string `json:"uri,omitempty"`
	Valid       bool   `json:"valid"`
	ExplorerURL string `json:"explorer_url"`
}

// handleGetToken returns display metadata and mint validity.
// GET /api/v1/tokens/{mint}?network=devnet
func handleGetToken(s *Server, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("mint")
		network, err := s.network(r.URL.Query().Get("network"))
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid network")
			return
		}

		var info solana.TokenInfo
		if strings.EqualFold(raw, solana.NativeSymbol) {
			info = solana.NativeTokenInfo()
		} else {
			mint, err := solana.ValidateAddress(raw)
			if err != nil {
				writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid mint")
				return
			}
			fallback := solana.TokenInfo{}
			if mint.Equals(network.GoldMint) {
				fallback = solana.GoldTokenInfo(mint.String(), network.GoldDecimals)
			}
			info, err = network.Chain.GetTokenInfo(r.Context(), mint, fallback)
			if err != nil {
				writeFailure(w, r, logger, err, http.StatusBadGateway, "failed to fetch token info")
				return
			}
		}

		writeJSON(w, tokenResponse{
			Address:     info.Address,
			Symbol:      info.Symbol,
			Name:        info.Name,
			Decimals:    info.Decimals,
			URI:         info.URI,
			Valid:       info.Valid,
			ExplorerURL: network.Explorer.Token(info.Address),
		}, http.StatusOK)
	})
}

// validateRequest checks an address, an amount, or both.
type validateRequest struct {
	Address *string  `json:"address,omitempty"`
	Amount  *string  `json:"amount,omitempty"`
	Balance *float64 `json:"balance,omitempty"`
}

type fieldResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// handleValidate runs the address and amount checks used by the transfer form.
// POST /api/v1/validate
func handleValidate(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Address == nil && req.Amount == nil {
			writeError(w, "address or amount is required", http.StatusBadRequest)
			return
		}

		resp := map[string]fieldResult{}
		if req.Address != nil {
			resp["address"] = toFieldResult(solana.ValidateAddress(*req.Address))
		}
		if req.Amount != nil {
			resp["amount"] = toFieldResult(solana.ValidateTransferAmount(*req.Amount, req.Balance))
		}
		logger.DebugContext(r.Context(), "validated input", "result", resp)
		writeJSON(w, resp, http.StatusOK)
	})
}

func toFieldResult[T any](_ T, err error) fieldResult {
	if err == nil {
		return fieldResult{Valid: true}
	}
	return fieldResult{Reason: reason(err)}
}

// reason returns the user-facing part of a validation error.
func reason(err error) string {
	var ve *solana.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}
