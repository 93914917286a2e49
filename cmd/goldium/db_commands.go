package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/goldium/service/db"
	"github.com/brojonat/goldium/service/solana"
	"github.com/urfave/cli/v2"
)

func listWalletsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-wallets",
		Usage:   "List watched wallets",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (active, paused)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wallets, err := store.ListWallets(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}

			if status := c.String("status"); status != "" {
				filtered := make([]*db.Wallet, 0, len(wallets))
				for _, w := range wallets {
					if w.Status == status {
						filtered = append(filtered, w)
					}
				}
				wallets = filtered
			}

			if c.Bool("json") {
				return outputJSON(wallets)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNETWORK\tSTATUS\tPOLL INTERVAL\tLAST POLL\tCREATED")
			for _, wallet := range wallets {
				lastPoll := "never"
				if wallet.LastPollTime != nil {
					lastPoll = wallet.LastPollTime.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
					wallet.Address,
					wallet.Network,
					wallet.Status,
					wallet.PollInterval,
					lastPoll,
					wallet.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d wallets\n", len(wallets))
			return nil
		},
	}
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-transactions",
		Usage:     "List stored transactions for a wallet, newest first",
		Aliases:   []string{"txns"},
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of transactions",
				Value:   50,
			},
			&cli.StringFlag{
				Name:  "before",
				Usage: "Only transactions before this time (RFC3339 or YYYY-MM-DD)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			params := db.ListTransactionsParams{
				WalletAddress: c.Args().First(),
				Network:       c.String("network"),
				Limit:         int32(c.Int("limit")),
			}
			if raw := c.String("before"); raw != "" {
				t, err := parseDate(raw, false)
				if err != nil {
					return fmt.Errorf("invalid --before: %w", err)
				}
				params.Before = &t
			}

			txns, err := store.ListTransactionsByWallet(c.Context, params)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			explorer := solana.NewExplorer("", params.Network)
			records := make([]historyRecord, len(txns))
			for i, t := range txns {
				records[i] = toHistoryRecord(t.ToSolana(), explorer)
			}
			if c.Bool("json") {
				return outputJSON(records)
			}
			printHistory(c.App.Writer, records)
			return nil
		},
	}
}

func listSnapshotsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-snapshots",
		Usage:     "List stored balance snapshots for a wallet, newest first",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of snapshots",
				Value:   20,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			snaps, err := store.ListBalanceSnapshots(c.Context, c.Args().First(), c.String("network"), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(snaps)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FETCHED\tSOL\tGOLD\tERRORS")
			for _, s := range snaps {
				errs := "-"
				if !s.OK() {
					errs = s.NativeErr
					if s.TokenErr != "" {
						errs += " " + s.TokenErr
					}
				}
				fmt.Fprintf(w, "%s\t%.9g\t%.9g\t%s\n", s.FetchedAt.Format(time.RFC3339), s.NativeAmount, s.TokenUIAmount, errs)
			}
			return w.Flush()
		},
	}
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := db.NewPool(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db.NewStore(pool), pool.Close, nil
}
