package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/wallet"
	"github.com/urfave/cli/v2"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Connect a wallet provider and follow its balances",
		Subcommands: []*cli.Command{
			walletConnectCommand(),
			walletWatchCommand(),
		},
	}
}

var walletFlag = &cli.StringFlag{
	Name:    "wallet",
	Aliases: []string{"w"},
	Usage:   "Wallet provider (phantom, solflare)",
	Value:   string(wallet.KindPhantom),
}

func walletConnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect to a wallet provider and print the session",
		Description: `Asks the provider to expose its account. The provider is backed by a keypair
file (PHANTOM_KEYPAIR or SOLFLARE_KEYPAIR); a missing file means the wallet is
not installed.`,
		Flags: []cli.Flag{walletFlag},
		Action: func(c *cli.Context) error {
			kind, err := wallet.ParseKind(c.String("wallet"))
			if err != nil {
				return err
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			manager := newWalletManager(cfg, os.Stdin, os.Stderr, setupLogger(c))
			res, err := manager.Connect(c.Context, kind)
			if err != nil {
				return err
			}
			return printConnectResult(c.App.Writer, kind, res, c.Bool("json"))
		},
	}
}

func printConnectResult(w io.Writer, kind wallet.Kind, res wallet.ConnectResult, jsonOutput bool) error {
	if jsonOutput {
		out := map[string]interface{}{
			"wallet":        string(kind),
			"connected":     res.Success,
			"rejected":      res.Rejected,
			"not_installed": res.NotInstalled,
		}
		if res.InstallURL != "" {
			out["install_url"] = res.InstallURL
		}
		if res.Session != nil {
			out["address"] = res.Session.Address.String()
			out["connected_at"] = res.Session.ConnectedAt
		}
		return outputJSON(out)
	}

	switch {
	case res.NotInstalled:
		fmt.Fprintf(w, "%s is not installed. Get it at %s\n", kind, res.InstallURL)
	case res.Rejected:
		fmt.Fprintf(w, "Connection to %s was rejected.\n", kind)
	case res.Success:
		fmt.Fprintf(w, "✓ Connected to %s\n", kind)
		fmt.Fprintf(w, "  Address: %s\n", res.Session.Address)
	}
	return nil
}

func walletWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Connect, then print balances every poll interval until Ctrl-C",
		Flags: []cli.Flag{
			walletFlag,
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Balance poll interval",
				EnvVars: []string{"BALANCE_POLL_INTERVAL"},
				Value:   poller.DefaultInterval,
			},
		},
		Action: func(c *cli.Context) error {
			kind, err := wallet.ParseKind(c.String("wallet"))
			if err != nil {
				return err
			}
			env, err := newChainEnv(c)
			if err != nil {
				return err
			}
			jsonOutput := c.Bool("json")

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager := newWalletManager(env.cfg, os.Stdin, os.Stderr, env.logger)
			p := poller.New(env.client, poller.Config{
				Network:       env.network,
				TokenMint:     env.goldMint,
				TokenDecimals: env.goldDecimals,
				Interval:      c.Duration("interval"),
			}, env.logger)

			unsub := p.Subscribe(func(snap *poller.BalanceSnapshot) {
				printSnapshot(c.App.Writer, snap, jsonOutput)
			})
			defer unsub()

			p.Follow(manager)
			p.Start(ctx)
			defer p.Stop()

			res, err := manager.Connect(ctx, kind)
			if err != nil {
				return err
			}
			if !res.Success {
				return printConnectResult(c.App.Writer, kind, res, jsonOutput)
			}
			if !jsonOutput {
				fmt.Fprintf(c.App.Writer, "Watching %s on %s every %s (Ctrl-C to disconnect)\n\n",
					res.Session.Address, env.network, c.Duration("interval"))
			}

			<-ctx.Done()

			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := manager.Disconnect(disconnectCtx); err != nil {
				env.logger.Warn("wallet did not disconnect cleanly", "error", err)
			}
			return nil
		},
	}
}

// printSnapshot prints one balance update. A nil snapshot means the
// balances were cleared.
func printSnapshot(w io.Writer, snap *poller.BalanceSnapshot, jsonOutput bool) {
	if jsonOutput {
		if snap == nil {
			fmt.Fprintln(w, `{"cleared":true}`)
			return
		}
		_ = outputJSON(snap)
		return
	}
	if snap == nil {
		fmt.Fprintln(w, "Disconnected. SOL: -  GOLD: -")
		return
	}
	fmt.Fprintf(w, "[%s] SOL: %.9g  GOLD: %.9g\n",
		snap.FetchedAt.Local().Format(time.TimeOnly), snap.NativeAmount, snap.TokenUIAmount)
	if snap.NativeErr != "" {
		fmt.Fprintf(w, "  SOL balance unavailable: %s\n", snap.NativeErr)
	}
	if snap.TokenErr != "" {
		fmt.Fprintf(w, "  GOLD balance unavailable: %s\n", snap.TokenErr)
	}
}
