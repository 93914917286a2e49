package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/goldium/client"
	natspkg "github.com/brojonat/goldium/service/nats"
	"github.com/urfave/cli/v2"
)

func newAPIClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, setupLogger(c))
}

func watchCommands() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Manage wallets synced in the background by the server",
		Subcommands: []*cli.Command{
			watchAddCommand(),
			watchListCommand(),
			watchRemoveCommand(),
		},
	}
}

func watchAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Register a wallet for background sync",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Sync interval (server default when unset)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			wallet, err := newAPIClient(c).Watch(c.Context, c.Args().First(), c.String("network"), c.Duration("interval"))
			if err != nil {
				return fmt.Errorf("failed to watch wallet: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(wallet)
			}
			fmt.Fprintf(c.App.Writer, "✓ Watching %s on %s every %s\n", wallet.Address, wallet.Network, wallet.PollInterval)
			return nil
		},
	}
}

func watchListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List wallets registered for background sync",
		Action: func(c *cli.Context) error {
			wallets, err := newAPIClient(c).ListWatched(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(wallets)
			}
			if len(wallets) == 0 {
				fmt.Fprintln(c.App.Writer, "No wallets are being watched.")
				return nil
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNETWORK\tSTATUS\tINTERVAL\tLAST SYNC")
			for _, wallet := range wallets {
				lastPoll := "never"
				if wallet.LastPollTime != nil {
					lastPoll = wallet.LastPollTime.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					wallet.Address, wallet.Network, wallet.Status, wallet.PollInterval, lastPoll)
			}
			return w.Flush()
		},
	}
}

func watchRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "Stop background sync for a wallet",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()
			err := newAPIClient(c).Unwatch(c.Context, address, c.String("network"))
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("wallet %s is not being watched", address)
			}
			if err != nil {
				return fmt.Errorf("failed to unwatch wallet: %w", err)
			}
			if !c.Bool("json") {
				fmt.Fprintf(c.App.Writer, "✓ Stopped watching %s\n", address)
			}
			return nil
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream a watched wallet's transaction and balance events from the server (SSE)",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()
			jsonOutput := c.Bool("json")

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Streaming events for %s... (Ctrl-C to stop)\n\n", address)
			}
			err := newAPIClient(c).Stream(ctx, address, func(e client.Event) error {
				if e.Type == "connected" {
					return nil
				}
				return printEvent(c.App.Writer, e.Type, e.Data, jsonOutput)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// printEvent prints one transaction or balance event payload.
func printEvent(w io.Writer, kind string, data []byte, jsonOutput bool) error {
	if jsonOutput {
		fmt.Fprintln(w, string(data))
		return nil
	}

	switch kind {
	case natspkg.KindTransaction:
		var event natspkg.TransactionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("failed to parse transaction event: %w", err)
		}
		fmt.Fprintf(w, "[%s] %-8s %-9s %s  %s\n",
			event.BlockTime.Local().Format(time.DateTime),
			event.Type,
			event.Status,
			formatAmount(event.Amount, event.Token),
			event.Signature,
		)
		if event.Description != "" {
			fmt.Fprintf(w, "    %s\n", event.Description)
		}

	case natspkg.KindBalance:
		var event natspkg.BalanceEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("failed to parse balance event: %w", err)
		}
		fmt.Fprintf(w, "[%s] balance  SOL: %.9g  GOLD: %.9g\n",
			event.FetchedAt.Local().Format(time.DateTime),
			event.NativeAmount,
			event.TokenUIAmount,
		)

	default:
		fmt.Fprintf(w, "[%s] %s\n", kind, string(data))
	}
	return nil
}
