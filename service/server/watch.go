package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/goldium/service/db"
	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/temporal"
)

const maxPollInterval = 24 * time.Hour

// walletResponse is the JSON response format for a watched wallet.
type walletResponse struct {
	Address      string     `json:"address"`
	Network      string     `json:"network"`
	TokenMint    string     `json:"token_mint"`
	PollInterval string     `json:"poll_interval"`
	LastPollTime *time.Time `json:"last_poll_time,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func walletToResponse(w *db.Wallet) walletResponse {
	return walletResponse{
		Address:      w.Address,
		Network:      w.Network,
		TokenMint:    w.TokenMint,
		PollInterval: w.PollInterval.String(),
		LastPollTime: w.LastPollTime,
		Status:       w.Status,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

// handleWatch registers a wallet for background sync. Watching an already
// watched wallet updates its interval.
// POST /api/v1/watch
func handleWatch(s *Server, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Address      string `json:"address"`
			Network      string `json:"network"`
			PollInterval string `json:"poll_interval"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		addr, err := solana.ValidateAddress(req.Address)
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid address")
			return
		}
		network, err := s.network(req.Network)
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid network")
			return
		}

		interval := poller.DefaultInterval
		if req.PollInterval != "" {
			interval, err = time.ParseDuration(req.PollInterval)
			if err != nil {
				writeError(w, "invalid poll_interval: must be a valid duration (e.g. '30s', '1m')", http.StatusBadRequest)
				return
			}
		}
		if interval < s.minPoll {
			writeError(w, "poll_interval must be at least "+s.minPoll.String(), http.StatusBadRequest)
			return
		}
		if interval > maxPollInterval {
			writeError(w, "poll_interval cannot exceed "+maxPollInterval.String(), http.StatusBadRequest)
			return
		}

		wallet, err := s.store.CreateWallet(r.Context(), db.CreateWalletParams{
			Address:      addr.String(),
			Network:      network.Name,
			TokenMint:    network.GoldMint.String(),
			PollInterval: interval,
			Status:       db.WalletStatusActive,
		})
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusInternalServerError, "failed to watch wallet")
			return
		}

		err = s.scheduler.UpsertWalletSchedule(r.Context(), temporal.SyncWalletInput{
			Address:       wallet.Address,
			Network:       wallet.Network,
			TokenMint:     wallet.TokenMint,
			TokenDecimals: network.GoldDecimals,
			HistoryLimit:  s.historyLimit,
		}, interval)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to schedule wallet sync, rolling back",
				"address", wallet.Address,
				"network", wallet.Network,
				"error", err,
			)
			if delErr := s.store.DeleteWallet(r.Context(), wallet.Address, wallet.Network); delErr != nil {
				logger.ErrorContext(r.Context(), "failed to roll back watched wallet",
					"address", wallet.Address,
					"error", delErr,
				)
			}
			writeError(w, "failed to schedule wallet sync", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "wallet watched",
			"address", wallet.Address,
			"network", wallet.Network,
			"poll_interval", interval,
		)
		writeJSON(w, walletToResponse(wallet), http.StatusCreated)
	})
}

// handleListWatched lists watched wallets.
// GET /api/v1/watch
func handleListWatched(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallets, err := store.ListWallets(r.Context())
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusInternalServerError, "failed to list wallets")
			return
		}
		resp := make([]walletResponse, len(wallets))
		for i, wallet := range wallets {
			resp[i] = walletToResponse(wallet)
		}
		writeJSON(w, map[string]interface{}{
			"wallets": resp,
			"count":   len(resp),
		}, http.StatusOK)
	})
}

// handleUnwatch stops background sync for a wallet.
// DELETE /api/v1/watch/{address}?network=devnet
func handleUnwatch(s *Server, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := solana.ValidateAddress(r.PathValue("address"))
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid address")
			return
		}
		network, err := s.network(r.URL.Query().Get("network"))
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid network")
			return
		}

		// schedule first so no sync runs after the row is gone
		if err := s.scheduler.DeleteWalletSchedule(r.Context(), addr.String(), network.Name); err != nil {
			logger.WarnContext(r.Context(), "failed to delete wallet schedule",
				"address", addr.String(),
				"network", network.Name,
				"error", err,
			)
		}

		err = s.store.DeleteWallet(r.Context(), addr.String(), network.Name)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusInternalServerError, "failed to unwatch wallet")
			return
		}

		logger.InfoContext(r.Context(), "wallet unwatched", "address", addr.String(), "network", network.Name)
		w.WriteHeader(http.StatusNoContent)
	})
}
