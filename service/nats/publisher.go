package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/brojonat/goldium/service/poller"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes wallet events to NATS.
type Publisher interface {
	// PublishTransaction publishes to "goldium.txns.{wallet_address}".
	PublishTransaction(ctx context.Context, event *TransactionEvent) error

	// PublishTransactionBatch publishes each event, continuing past
	// individual failures.
	PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error

	// PublishBalance publishes to "goldium.balances.{wallet_address}".
	PublishBalance(ctx context.Context, event *BalanceEvent) error

	Close() error
}

const (
	// StreamName is the JetStream stream holding all goldium events.
	StreamName = "GOLDIUM"

	// SubjectPrefix is shared by every subject in the stream.
	SubjectPrefix = "goldium"

	// StreamRetention is how long messages are retained.
	StreamRetention = 7 * 24 * time.Hour
)

// StreamSubjects lists the subject patterns captured by the stream.
var StreamSubjects = []string{SubjectPrefix + ".txns.*", SubjectPrefix + ".balances.*"}

// TransactionSubject returns the subject for a wallet's transactions.
func TransactionSubject(address string) string {
	return fmt.Sprintf("%s.txns.%s", SubjectPrefix, address)
}

// BalanceSubject returns the subject for a wallet's balance snapshots.
func BalanceSubject(address string) string {
	return fmt.Sprintf("%s.balances.%s", SubjectPrefix, address)
}

// WalletSubjects returns both subjects for a wallet.
func WalletSubjects(address string) []string {
	return []string{TransactionSubject(address), BalanceSubject(address)}
}

// JetStreamPublisher publishes events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPublisher connects to NATS and ensures the stream exists.
// If metrics is nil, no metrics will be recorded.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("goldium-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger.With("component", "nats_publisher"),
		metrics: m,
	}

	if err := EnsureStream(context.Background(), js, publisher.logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// EnsureStream creates the GOLDIUM stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		if info, err := stream.Info(ctx); err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "GOLD wallet transactions and balance snapshots",
		Subjects:    StreamSubjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishTransaction publishes a single transaction event.
func (p *JetStreamPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	subject := TransactionSubject(event.WalletAddress)
	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish transaction: %w", err)
	}

	p.logger.DebugContext(ctx, "published transaction event",
		"subject", subject,
		"signature", event.Signature,
		"type", event.Type,
	)
	return nil
}

// PublishTransactionBatch publishes each event and logs the ones that fail.
func (p *JetStreamPublisher) PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error {
	if len(events) == 0 {
		return nil
	}

	failed := 0
	for _, event := range events {
		if err := p.PublishTransaction(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish transaction in batch",
				"signature", event.Signature,
				"wallet", event.WalletAddress,
				"error", err,
			)
			failed++
		}
	}

	p.logger.DebugContext(ctx, "published transaction batch",
		"count", len(events),
		"failed", failed,
	)
	return nil
}

// PublishBalance publishes a balance event.
func (p *JetStreamPublisher) PublishBalance(ctx context.Context, event *BalanceEvent) error {
	subject := BalanceSubject(event.WalletAddress)
	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish balance: %w", err)
	}
	return nil
}

// PublishSnapshot lets the publisher act as a poller sink.
func (p *JetStreamPublisher) PublishSnapshot(ctx context.Context, snap *poller.BalanceSnapshot) error {
	return p.PublishBalance(ctx, FromSnapshot(snap))
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
