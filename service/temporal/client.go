package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"go.temporal.io/sdk/client"
)

// Client is the Temporal-backed Scheduler.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithClientMetrics records SyncNow durations.
func WithClientMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient dials Temporal.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "temporal_client")

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	tc := &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc, nil
}

func (c *Client) workflowAction(input SyncWalletInput) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        "sync-wallet-" + input.Network + "-" + input.Address,
		Workflow:  SyncWalletWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{input},
	}
}

// UpsertWalletSchedule creates the wallet's schedule, or replaces the
// interval and workflow input of an existing one.
func (c *Client) UpsertWalletSchedule(ctx context.Context, input SyncWalletInput, interval time.Duration) error {
	id := ScheduleID(input.Address, input.Network)
	spec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
	}

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.DebugContext(ctx, "schedule not found, creating",
			"schedule_id", id,
			"error", err,
		)
		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID:     id,
			Spec:   spec,
			Action: c.workflowAction(input),
			Memo: map[string]interface{}{
				"wallet_address": input.Address,
				"network":        input.Network,
				"token_mint":     input.TokenMint,
				"created_by":     "goldium",
			},
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to create schedule",
				"schedule_id", id,
				"error", err,
			)
			return fmt.Errorf("failed to create schedule %q: %w", id, err)
		}
		c.logger.InfoContext(ctx, "wallet schedule created",
			"schedule_id", id,
			"interval", interval,
		)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			in.Description.Schedule.Spec = &spec
			in.Description.Schedule.Action = c.workflowAction(input)
			return &client.ScheduleUpdate{Schedule: &in.Description.Schedule}, nil
		},
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to update schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "wallet schedule updated",
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteWalletSchedule removes the wallet's schedule.
func (c *Client) DeleteWalletSchedule(ctx context.Context, address, network string) error {
	id := ScheduleID(address, network)
	if err := c.client.ScheduleClient().GetHandle(ctx, id).Delete(ctx); err != nil {
		c.logger.ErrorContext(ctx, "failed to delete schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}
	c.logger.InfoContext(ctx, "wallet schedule deleted", "schedule_id", id)
	return nil
}

// SyncNow runs SyncWalletWorkflow once outside the schedule and waits for
// the result.
func (c *Client) SyncNow(ctx context.Context, input SyncWalletInput) (*SyncWalletResult, error) {
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("sync-wallet-now-%s-%s-%d", input.Network, input.Address, time.Now().UnixNano()),
		TaskQueue: c.taskQueue,
	}, SyncWalletWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start sync workflow: %w", err)
	}

	start := time.Now()
	var result SyncWalletResult
	err = run.Get(ctx, &result)
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		c.metrics.RecordWorkflowDuration(input.Address, status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("sync workflow failed: %w", err)
	}
	return &result, nil
}

// ListWalletSchedules returns the IDs of all wallet sync schedules.
func (c *Client) ListWalletSchedules(ctx context.Context) ([]string, error) {
	iter, err := c.client.ScheduleClient().List(ctx, client.ScheduleListOptions{PageSize: 100})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	var ids []string
	for iter.HasNext() {
		entry, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate schedules: %w", err)
		}
		if strings.HasPrefix(entry.ID, scheduleIDPrefix) {
			ids = append(ids, entry.ID)
		}
	}
	return ids, nil
}

// DescribeWalletSchedule returns the schedule for a wallet.
func (c *Client) DescribeWalletSchedule(ctx context.Context, address, network string) (*client.ScheduleDescription, error) {
	id := ScheduleID(address, network)
	desc, err := c.client.ScheduleClient().GetHandle(ctx, id).Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to describe schedule %q: %w", id, err)
	}
	return desc, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) { l.logger.Debug(msg, keyvals...) }
func (l *temporalLogger) Info(msg string, keyvals ...interface{})  { l.logger.Info(msg, keyvals...) }
func (l *temporalLogger) Warn(msg string, keyvals ...interface{})  { l.logger.Warn(msg, keyvals...) }
func (l *temporalLogger) Error(msg string, keyvals ...interface{}) { l.logger.Error(msg, keyvals...) }
