package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brojonat/goldium/service/db"
	"github.com/brojonat/goldium/service/metrics"
	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChainReader is the read access the API needs for one network.
// *solana.Client implements it.
type ChainReader interface {
	poller.BalanceFetcher
	GetTransactionHistory(ctx context.Context, params solana.HistoryParams) ([]*solana.Transaction, error)
	GetTokenInfo(ctx context.Context, mint solanago.PublicKey, fallback solana.TokenInfo) (solana.TokenInfo, error)
}

// TransferPlanner builds and submits transfers. *solana.TransferBuilder
// implements it.
type TransferPlanner interface {
	BuildNativeTransfer(sender, recipient solanago.PublicKey, lamports uint64) (*solana.TransferPlan, error)
	BuildTokenTransfer(ctx context.Context, p solana.TokenTransferParams) (*solana.TransferPlan, error)
	BuildTransaction(ctx context.Context, plan *solana.TransferPlan) (*solanago.Transaction, error)
	SendAndConfirm(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
}

// Network is everything the API serves for one Solana cluster.
type Network struct {
	Name         string
	Chain        ChainReader
	Transfers    TransferPlanner
	GoldMint     solanago.PublicKey
	GoldDecimals uint8
	Explorer     solana.Explorer
}

// Store is the persistence the API reads and writes. *db.Store implements it.
type Store interface {
	ListTransactionsByWallet(ctx context.Context, params db.ListTransactionsParams) ([]*db.Transaction, error)
	GetLatestBalanceSnapshot(ctx context.Context, walletAddress, network string) (*poller.BalanceSnapshot, error)
	CreateWallet(ctx context.Context, params db.CreateWalletParams) (*db.Wallet, error)
	ListWallets(ctx context.Context) ([]*db.Wallet, error)
	DeleteWallet(ctx context.Context, address, network string) error
	Ping(ctx context.Context) error
}

// Server is the goldium HTTP API.
type Server struct {
	addr           string
	networks       map[string]*Network
	defaultNetwork string
	store          Store
	scheduler      temporal.Scheduler
	events         EventSource
	minPoll        time.Duration
	historyLimit   int
	metrics        *metrics.Metrics
	logger         *slog.Logger
	server         *http.Server
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore enables stored history and the watch endpoints (with a scheduler).
func WithStore(store Store) Option {
	return func(s *Server) { s.store = store }
}

// WithScheduler enables background sync registration.
func WithScheduler(scheduler temporal.Scheduler) Option {
	return func(s *Server) { s.scheduler = scheduler }
}

// WithEvents enables the SSE stream endpoint.
func WithEvents(events EventSource) Option {
	return func(s *Server) { s.events = events }
}

// WithMetrics enables /metrics and request instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMinPollInterval sets the smallest accepted watch interval.
func WithMinPollInterval(d time.Duration) Option {
	return func(s *Server) { s.minPoll = d }
}

// WithHistoryLimit sets the default number of transactions returned.
func WithHistoryLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// New creates a server. defaultNetwork is used when a request names none
// and must be a key of networks.
func New(addr string, networks map[string]*Network, defaultNetwork string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:           addr,
		networks:       networks,
		defaultNetwork: defaultNetwork,
		minPoll:        10 * time.Second,
		historyLimit:   solana.DefaultHistoryLimit,
		logger:         logger.With("component", "http_server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /api/v1/wallets/{address}/balance", handleGetBalance(s, s.logger))
	s.route(mux, "GET /api/v1/wallets/{address}/transactions", handleListTransactions(s, s.logger))
	s.route(mux, "POST /api/v1/transfers", handleBuildTransfer(s, s.logger))
	s.route(mux, "POST /api/v1/transfers/submit", handleSubmitTransfer(s, s.logger))
	s.route(mux, "POST /api/v1/validate", handleValidate(s.logger))
	s.route(mux, "GET /api/v1/tokens/{mint}", handleGetToken(s, s.logger))

	if s.store != nil && s.scheduler != nil {
		s.route(mux, "POST /api/v1/watch", handleWatch(s, s.logger))
		s.route(mux, "GET /api/v1/watch", handleListWatched(s.store, s.logger))
		s.route(mux, "DELETE /api/v1/watch/{address}", handleUnwatch(s, s.logger))
	} else {
		s.logger.Warn("store or scheduler not configured, watch endpoints disabled")
	}

	if s.events != nil {
		s.route(mux, "GET /api/v1/stream/{address}", handleStream(s.events, s.metrics, s.logger))
	} else {
		s.logger.Warn("event source not configured, streaming endpoint disabled")
	}

	mux.HandleFunc("GET /health", s.handleHealth)

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// route registers h under pattern, recording request metrics labeled by pattern.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, metricsMiddleware(s.metrics, pattern, h))
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: SSE responses are long-lived
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr, "networks", len(s.networks))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if c, ok := s.events.(interface{ Close() error }); ok {
		c.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// network resolves the ?network= parameter (or body field) to a Network.
func (s *Server) network(name string) (*Network, error) {
	if name == "" {
		name = s.defaultNetwork
	}
	n, ok := s.networks[name]
	if !ok {
		return nil, &solana.ValidationError{Field: "network", Reason: fmt.Sprintf("unsupported network %q", name)}
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "health check: database unreachable", "error", err)
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, code)
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func metricsMiddleware(m *metrics.Metrics, pattern string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(pattern, r.Method, rec.status, time.Since(start).Seconds())
	})
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &solana.ValidationError{Field: "limit", Reason: "must be an integer"}
	}
	if n < 1 {
		return 0, &solana.ValidationError{Field: "limit", Reason: "must be at least 1"}
	}
	if n > solana.MaxHistoryLimit {
		return 0, &solana.ValidationError{Field: "limit", Reason: fmt.Sprintf("cannot exceed %d", solana.MaxHistoryLimit)}
	}
	return n, nil
}
