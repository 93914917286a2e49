package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/goldium/service/config"
	"github.com/brojonat/goldium/service/db"
	"github.com/brojonat/goldium/service/metrics"
	"github.com/brojonat/goldium/service/server"
	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"default_network", cfg.Network,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil)

	networks, err := buildNetworks(cfg, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to configure networks", "error", err)
		os.Exit(1)
	}

	opts := []server.Option{
		server.WithMetrics(metricsCollector),
		server.WithMinPollInterval(cfg.MinPollInterval),
		server.WithHistoryLimit(cfg.HistoryLimit),
	}

	// Persistence is optional; without it the server only proxies the chain.
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := db.NewStore(pool, db.WithMetrics(metricsCollector))
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		opts = append(opts, server.WithStore(store))
		logger.Info("connected to database")

		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
			temporal.WithClientMetrics(metricsCollector),
		)
		if err != nil {
			logger.Warn("temporal unavailable, watch endpoints disabled", "error", err)
		} else {
			defer temporalClient.Close()
			opts = append(opts, server.WithScheduler(temporalClient))
			logger.Info("connected to temporal",
				"host", cfg.TemporalHost,
				"namespace", cfg.TemporalNamespace,
			)
		}
	} else {
		logger.Info("DATABASE_URL not set, running without persistence")
	}

	events, err := server.NewJetStreamEvents(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("nats unavailable, stream endpoint disabled", "error", err)
	} else {
		defer events.Close()
		opts = append(opts, server.WithEvents(events))
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	srv := server.New(cfg.ServerAddr, networks, cfg.Network, logger, opts...)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			os.Exit(1)
		}
		logger.Info("shutdown complete")
	}
}

// buildNetworks wires an RPC client, transfer builder and explorer for
// every configured cluster.
func buildNetworks(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (map[string]*server.Network, error) {
	networks := make(map[string]*server.Network)
	for _, name := range []string{config.NetworkMainnet, config.NetworkDevnet, config.NetworkTestnet} {
		rpcURL, err := cfg.RPCURL(name)
		if err != nil {
			return nil, err
		}
		endpoint, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(rpcURL))
		if err != nil {
			return nil, err
		}
		mintStr, err := cfg.GoldMint(name)
		if err != nil {
			return nil, err
		}
		mint, err := solanago.PublicKeyFromBase58(mintStr)
		if err != nil {
			return nil, err
		}

		chain := solana.NewClient(solana.NewRPCClient(endpoint), name, m, logger,
			solana.WithRequestDelay(cfg.RPCRequestDelay),
		)
		networks[name] = &server.Network{
			Name:         name,
			Chain:        chain,
			Transfers:    solana.NewTransferBuilder(chain),
			GoldMint:     mint,
			GoldDecimals: uint8(cfg.GoldDecimals),
			Explorer:     solana.NewExplorer(cfg.ExplorerBaseURL, name),
		}
		logger.Info("initialized solana client", "network", name, "gold_mint", mintStr)
	}
	return networks, nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
