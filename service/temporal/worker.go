package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/goldium/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	Store     StoreInterface
	Clients   map[string]SolanaClientInterface // keyed by network
	Publisher PublisherInterface               // optional
	Metrics   *metrics.Metrics                 // optional
	Logger    *slog.Logger
}

// Worker wraps a Temporal worker.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker connects to Temporal and registers SyncWalletWorkflow and its
// activities on the task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "temporal_worker")

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(SyncWalletWorkflow)

	activities := NewActivities(config.Store, config.Clients, config.Publisher, config.Metrics, logger)
	w.RegisterActivity(activities.FetchBalances)
	w.RegisterActivity(activities.GetExistingSignatures)
	w.RegisterActivity(activities.FetchHistory)
	w.RegisterActivity(activities.WriteTransactions)
	w.RegisterActivity(activities.WriteBalanceSnapshot)
	w.RegisterActivity(activities.PublishEvents)

	logger.Info("registered workflow and activities",
		"task_queue", config.TaskQueue,
		"networks", len(config.Clients),
	)

	return &Worker{client: c, worker: w, logger: logger}, nil
}

// Start blocks processing tasks until interrupted.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	if err := w.worker.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop stops the worker and closes its client.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
}
