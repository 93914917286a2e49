package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/brojonat/goldium/service/config"
	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// chainEnv is everything a chain command needs for one network.
type chainEnv struct {
	cfg          *config.Config
	network      string
	client       *solana.Client
	goldMint     solanago.PublicKey
	goldDecimals uint8
	explorer     solana.Explorer
	logger       *slog.Logger
}

func setupLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the environment and applies the global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if n := strings.ToLower(c.String("network")); n != "" {
		cfg.Network = n
	}
	if _, err := cfg.RPCURL(cfg.Network); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newChainEnv(c *cli.Context) (*chainEnv, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(c)

	rpcURL := c.String("rpc-url")
	if rpcURL == "" {
		rpcURL, _ = cfg.RPCURL(cfg.Network)
	}
	endpoint, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(rpcURL))
	if err != nil {
		return nil, err
	}

	mintStr, _ := cfg.GoldMint(cfg.Network)
	mint, err := solanago.PublicKeyFromBase58(mintStr)
	if err != nil {
		return nil, fmt.Errorf("invalid GOLD mint for %s: %w", cfg.Network, err)
	}

	client := solana.NewClient(solana.NewRPCClient(endpoint), endpoint, nil, logger,
		solana.WithRequestDelay(cfg.RPCRequestDelay),
	)

	return &chainEnv{
		cfg:          cfg,
		network:      cfg.Network,
		client:       client,
		goldMint:     mint,
		goldDecimals: uint8(cfg.GoldDecimals),
		explorer:     solana.NewExplorer(cfg.ExplorerBaseURL, cfg.Network),
		logger:       logger,
	}, nil
}

// newWalletManager registers both keypair-backed providers, prompting on
// in/out for every approval.
func newWalletManager(cfg *config.Config, in io.Reader, out io.Writer, logger *slog.Logger) *wallet.Manager {
	approve := promptApprover(in, out)
	return wallet.NewManager(logger, nil,
		wallet.NewKeypairProvider(wallet.KindPhantom, cfg.PhantomKeypairPath, approve, logger),
		wallet.NewKeypairProvider(wallet.KindSolflare, cfg.SolflareKeypairPath, approve, logger),
	)
}

// promptApprover asks on out and reads a y/n answer from in. Anything but
// yes is a rejection.
func promptApprover(in io.Reader, out io.Writer) wallet.Approver {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, req wallet.ApprovalRequest) (bool, error) {
		switch req.Action {
		case wallet.ActionConnect:
			fmt.Fprintf(out, "%s wants to connect account %s.\n", req.Kind, req.Address)
		case wallet.ActionSign:
			fmt.Fprintf(out, "%s asks you to sign: %s\n", req.Kind, req.Summary)
		}
		fmt.Fprint(out, "Approve? [y/N] ")

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, fmt.Errorf("failed to read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isTruthy checks if a jq result value is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func formatOptional(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatAmount(amount *float64, token string) string {
	if amount == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s", strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.9f", *amount), "0"), "."), token)
}
