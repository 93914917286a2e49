package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	natspkg "github.com/brojonat/goldium/service/nats"
	"github.com/brojonat/goldium/service/solana"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const keepaliveInterval = 10 * time.Second

// StreamEvent is one message for an SSE client. Data is the JSON payload
// as published.
type StreamEvent struct {
	Kind string
	Data []byte
}

// EventSource delivers new events for one wallet until ctx is done, then
// closes the channel.
type EventSource interface {
	Subscribe(ctx context.Context, address string) (<-chan StreamEvent, error)
}

// JetStreamEvents reads wallet events from the GOLDIUM stream.
type JetStreamEvents struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewJetStreamEvents connects to NATS for SSE fan-out.
func NewJetStreamEvents(natsURL string, logger *slog.Logger) (*JetStreamEvents, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("goldium-sse"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
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

	logger.Info("SSE event source initialized", "nats_url", natsURL)
	return &JetStreamEvents{nc: nc, js: js, logger: logger}, nil
}

// Subscribe creates an ephemeral consumer delivering only messages
// published after the call.
func (e *JetStreamEvents) Subscribe(ctx context.Context, address string) (<-chan StreamEvent, error) {
	cons, err := e.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubjects:    natspkg.WalletSubjects(address),
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	out := make(chan StreamEvent, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		event := StreamEvent{Kind: natspkg.KindTransaction, Data: msg.Data()}
		if strings.HasPrefix(msg.Subject(), natspkg.SubjectPrefix+".balances.") {
			event.Kind = natspkg.KindBalance
		}
		select {
		case out <- event:
			msg.Ack()
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
		<-cc.Closed()
		close(out)
	}()
	return out, nil
}

// Close closes the NATS connection.
func (e *JetStreamEvents) Close() error {
	if e.nc != nil {
		e.nc.Close()
	}
	return nil
}

// handleStream streams a wallet's transaction and balance events as SSE.
// GET /api/v1/stream/{address}
func handleStream(events EventSource, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := solana.ValidateAddress(r.PathValue("address"))
		if err != nil {
			writeFailure(w, r, logger, err, http.StatusBadRequest, "invalid address")
			return
		}
		address := addr.String()
		connID := uuid.NewString()
		log := logger.With("wallet", address, "connection_id", connID)

		ch, err := events.Subscribe(r.Context(), address)
		if err != nil {
			log.ErrorContext(r.Context(), "failed to subscribe", "error", err)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}

		if m != nil {
			m.RecordSSEConnectionChange(address, 1)
			defer m.RecordSSEConnectionChange(address, -1)
		}
		log.DebugContext(r.Context(), "SSE client connected", "remote_addr", r.RemoteAddr)

		fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":%q,\"connection_id\":%q}\n\n", address, connID)
		flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case event, ok := <-ch:
				if !ok {
					log.DebugContext(r.Context(), "event source closed")
					return
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, event.Data)
				flush()
				if m != nil {
					m.RecordSSEEventSent(address, event.Kind)
				}

			case <-r.Context().Done():
				log.DebugContext(r.Context(), "SSE client disconnected")
				return
			}
		}
	})
}
