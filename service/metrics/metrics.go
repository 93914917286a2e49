package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for goldium.
// A single instance is built at startup and handed to every component
// that records metrics. Components treat a nil *Metrics as "disabled".
type Metrics struct {
	// Solana RPC
	solanaRPCCallsTotal        *prometheus.CounterVec
	solanaRPCCallDuration      *prometheus.HistogramVec
	solanaRPCRateLimitHits     *prometheus.CounterVec
	solanaRPCRetries           *prometheus.CounterVec
	solanaRPCSignaturesPerCall *prometheus.HistogramVec

	// Wallet sessions
	walletConnectAttempts *prometheus.CounterVec
	walletSessionsActive  prometheus.Gauge

	// Balances
	balanceFetchesTotal *prometheus.CounterVec
	balanceFetchLatency *prometheus.HistogramVec
	walletBalance       *prometheus.GaugeVec

	// Transaction history
	transactionsFetchedTotal    *prometheus.CounterVec
	transactionsClassifiedTotal *prometheus.CounterVec
	transactionsWrittenTotal    *prometheus.CounterVec
	transactionsSkippedTotal    *prometheus.CounterVec

	// Transfers
	transfersBuiltTotal     *prometheus.CounterVec
	transfersSubmittedTotal *prometheus.CounterVec

	// Sync workflow
	syncWorkflowDuration        *prometheus.HistogramVec
	syncWorkflowExecutionsTotal *prometheus.CounterVec
	syncActivityDuration        *prometheus.HistogramVec

	// Database
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		solanaRPCSignaturesPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_signatures_per_call",
				Help:    "Number of signatures fetched per GetSignaturesForAddress call",
				Buckets: []float64{1, 10, 20, 50, 100, 250, 500, 1000},
			},
			[]string{"endpoint"},
		),

		walletConnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_connect_attempts_total",
				Help: "Wallet connect attempts by provider and outcome (success, rejected, not_installed, error)",
			},
			[]string{"provider", "outcome"},
		),
		walletSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wallet_sessions_active",
				Help: "Number of active wallet sessions",
			},
		),

		balanceFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_fetches_total",
				Help: "Balance fetches by asset (native, token) and status",
			},
			[]string{"asset", "status"},
		),
		balanceFetchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "balance_refresh_duration_seconds",
				Help:    "Duration of a full balance refresh in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"network"},
		),
		walletBalance: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wallet_balance",
				Help: "Most recent balance in UI units by wallet and asset",
			},
			[]string{"wallet_address", "asset"},
		),

		transactionsFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_fetched_total",
				Help: "Total number of transactions fetched from Solana",
			},
			[]string{"wallet_address", "source"},
		),
		transactionsClassifiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_classified_total",
				Help: "Transactions classified by type and classification method",
			},
			[]string{"type", "method"},
		),
		transactionsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_written_total",
				Help: "Total number of transactions written to database",
			},
			[]string{"wallet_address"},
		),
		transactionsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_skipped_total",
				Help: "Total number of transactions skipped",
			},
			[]string{"wallet_address", "reason"},
		),

		transfersBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_built_total",
				Help: "Transfers built by asset and whether a token account had to be created",
			},
			[]string{"asset", "creates_account"},
		),
		transfersSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_submitted_total",
				Help: "Transfers submitted to the network by final status",
			},
			[]string{"status"},
		),

		syncWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_workflow_duration_seconds",
				Help:    "Duration of wallet sync workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"wallet_address", "status"},
		),
		syncWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_workflow_executions_total",
				Help: "Total number of wallet sync workflow executions",
			},
			[]string{"wallet_address", "status"},
		),
		syncActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_activity_duration_seconds",
				Help:    "Duration of wallet sync activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "wallet_address"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"wallet_address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"wallet_address", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordRPCSignaturesPerCall records the number of signatures fetched.
func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	m.solanaRPCSignaturesPerCall.WithLabelValues(endpoint).Observe(count)
}

// Wallet metric helpers

// RecordWalletConnect records the outcome of a connect attempt.
func (m *Metrics) RecordWalletConnect(provider, outcome string) {
	m.walletConnectAttempts.WithLabelValues(provider, outcome).Inc()
}

// SetActiveSessions sets the number of active wallet sessions.
func (m *Metrics) SetActiveSessions(n int) {
	m.walletSessionsActive.Set(float64(n))
}

// Balance metric helpers

// RecordBalanceFetch records a single native or token balance lookup.
func (m *Metrics) RecordBalanceFetch(asset string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.balanceFetchesTotal.WithLabelValues(asset, status).Inc()
}

// RecordBalanceRefresh records the duration of a full refresh.
func (m *Metrics) RecordBalanceRefresh(network string, duration float64) {
	m.balanceFetchLatency.WithLabelValues(network).Observe(duration)
}

// SetWalletBalance records the latest balance for a wallet.
func (m *Metrics) SetWalletBalance(walletAddress, asset string, amount float64) {
	m.walletBalance.WithLabelValues(walletAddress, asset).Set(amount)
}

// ClearWalletBalance drops the balance series for a wallet after disconnect.
func (m *Metrics) ClearWalletBalance(walletAddress string) {
	m.walletBalance.DeletePartialMatch(prometheus.Labels{"wallet_address": walletAddress})
}

// Transaction metric helpers

// RecordTransactionsFetched records transactions fetched from Solana.
func (m *Metrics) RecordTransactionsFetched(walletAddress, source string, count int) {
	m.transactionsFetchedTotal.WithLabelValues(walletAddress, source).Add(float64(count))
}

// RecordTransactionClassified records the label assigned to a transaction
// and whether it came from instruction decoding or log matching.
func (m *Metrics) RecordTransactionClassified(txType, method string) {
	m.transactionsClassifiedTotal.WithLabelValues(txType, method).Inc()
}

// RecordTransactionsWritten records transactions written to database.
func (m *Metrics) RecordTransactionsWritten(walletAddress string, count int) {
	m.transactionsWrittenTotal.WithLabelValues(walletAddress).Add(float64(count))
}

// RecordTransactionsSkipped records transactions skipped.
func (m *Metrics) RecordTransactionsSkipped(walletAddress, reason string, count int) {
	m.transactionsSkippedTotal.WithLabelValues(walletAddress, reason).Add(float64(count))
}

// Transfer metric helpers

// RecordTransferBuilt records a transfer instruction set being built.
func (m *Metrics) RecordTransferBuilt(asset string, createsAccount bool) {
	creates := "false"
	if createsAccount {
		creates = "true"
	}
	m.transfersBuiltTotal.WithLabelValues(asset, creates).Inc()
}

// RecordTransferSubmitted records the final status of a submitted transfer.
func (m *Metrics) RecordTransferSubmitted(status string) {
	m.transfersSubmittedTotal.WithLabelValues(status).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(walletAddress, status string, duration float64) {
	m.syncWorkflowDuration.WithLabelValues(walletAddress, status).Observe(duration)
	m.syncWorkflowExecutionsTotal.WithLabelValues(walletAddress, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, walletAddress string, duration float64) {
	m.syncActivityDuration.WithLabelValues(activity, walletAddress).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(walletAddress string, delta float64) {
	m.sseActiveConnections.WithLabelValues(walletAddress).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(walletAddress, eventType string) {
	m.sseEventsSent.WithLabelValues(walletAddress, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
