package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the SOL and GOLD balance of a wallet",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			owner, err := solana.ValidateAddress(c.Args().First())
			if err != nil {
				return err
			}
			env, err := newChainEnv(c)
			if err != nil {
				return err
			}

			snap := poller.FetchBalances(c.Context, env.client, owner, poller.Config{
				Network:       env.network,
				TokenMint:     env.goldMint,
				TokenDecimals: env.goldDecimals,
			}, env.logger, nil)

			if c.Bool("json") {
				return outputJSON(snap)
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Wallet:  %s (%s)\n", snap.Address, snap.Network)
			fmt.Fprintf(w, "SOL:     %s\n", solana.FormatBaseUnits(snap.NativeLamports, solana.NativeDecimals))
			fmt.Fprintf(w, "GOLD:    %s\n", solana.FormatBaseUnits(snap.TokenAmount, snap.TokenDecimals))
			fmt.Fprintf(w, "Explorer: %s\n", env.explorer.Address(snap.Address))
			if !snap.OK() {
				fmt.Fprintln(w)
				if snap.NativeErr != "" {
					fmt.Fprintf(w, "⚠ SOL balance unavailable: %s\n", snap.NativeErr)
				}
				if snap.TokenErr != "" {
					fmt.Fprintf(w, "⚠ GOLD balance unavailable: %s\n", snap.TokenErr)
				}
			}
			return nil
		},
	}
}

// historyRecord is the printed form of a transaction.
type historyRecord struct {
	Signature    string    `json:"signature"`
	Slot         uint64    `json:"slot"`
	BlockTime    time.Time `json:"block_time"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Amount       *float64  `json:"amount"`
	Token        string    `json:"token"`
	TokenMint    *string   `json:"token_mint"`
	Fee          float64   `json:"fee"`
	From         *string   `json:"from"`
	To           *string   `json:"to"`
	Memo         *string   `json:"memo"`
	Error        *string   `json:"error"`
	ClassifiedBy string    `json:"classified_by"`
	Description  string    `json:"description"`
	ExplorerURL  string    `json:"explorer_url"`
}

func toHistoryRecord(t *solana.Transaction, explorer solana.Explorer) historyRecord {
	return historyRecord{
		Signature:    t.Signature,
		Slot:         t.Slot,
		BlockTime:    t.BlockTime,
		Type:         string(t.Type),
		Status:       string(t.Status),
		Amount:       t.Amount,
		Token:        t.Token,
		TokenMint:    t.TokenMint,
		Fee:          t.Fee(),
		From:         t.FromAddress,
		To:           t.ToAddress,
		Memo:         t.Memo,
		Error:        t.Err,
		ClassifiedBy: t.ClassifiedBy,
		Description:  t.Description,
		ExplorerURL:  explorer.Transaction(t.Signature),
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List a wallet's classified transaction history, newest first",
		ArgsUsage: "ADDRESS",
		Description: `Fetches recent signatures from RPC, classifies each transaction and applies
the filters. --jq keeps only records for which every expression is truthy;
the input to each expression is the record as printed by --json.

Example:
  goldium history ADDRESS --type send --from 2024-01-01 --jq '.amount > 10'`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Number of signatures to fetch",
				Value:   solana.DefaultHistoryLimit,
			},
			&cli.StringFlag{
				Name:  "before",
				Usage: "Page backwards from this signature",
			},
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Transaction type (send, receive, swap, nft, stake, unstake, claim, unknown, all)",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Earliest block time (RFC3339 or YYYY-MM-DD)",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Latest block time (RFC3339 or YYYY-MM-DD, inclusive)",
			},
			&cli.Float64Flag{
				Name:  "min",
				Usage: "Minimum amount",
			},
			&cli.Float64Flag{
				Name:  "max",
				Usage: "Maximum amount",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "Token (SOL, GOLD, a mint address, or all)",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq expression to filter records (can be repeated)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			owner, err := solana.ValidateAddress(c.Args().First())
			if err != nil {
				return err
			}
			filter, err := historyFilterFromFlags(c)
			if err != nil {
				return err
			}
			jqFilters, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}
			env, err := newChainEnv(c)
			if err != nil {
				return err
			}

			params := solana.HistoryParams{
				Wallet:   owner,
				GoldMint: env.goldMint,
				Network:  env.network,
				Limit:    c.Int("limit"),
			}
			if !filter.IsZero() {
				params.Filter = &filter
			}
			if raw := c.String("before"); raw != "" {
				sig, err := solanago.SignatureFromBase58(raw)
				if err != nil {
					return fmt.Errorf("invalid --before signature: %w", err)
				}
				params.Before = &sig
			}

			txns, err := env.client.GetTransactionHistory(c.Context, params)
			if err != nil {
				fmt.Fprintf(c.App.ErrWriter, "Warning: could not fetch history: %v\n", err)
				txns = nil
			}

			records := make([]historyRecord, 0, len(txns))
			for _, t := range txns {
				rec := toHistoryRecord(t, env.explorer)
				ok, err := matchJQ(jqFilters, rec)
				if err != nil {
					return err
				}
				if ok {
					records = append(records, rec)
				}
			}

			if c.Bool("json") {
				return outputJSON(records)
			}
			printHistory(c.App.Writer, records)
			return nil
		},
	}
}

func historyFilterFromFlags(c *cli.Context) (solana.HistoryFilter, error) {
	var f solana.HistoryFilter
	if raw := c.String("type"); raw != "" {
		t, ok := solana.ParseTransactionType(strings.ToLower(raw))
		if !ok {
			return f, &solana.ValidationError{Field: "type", Reason: "unknown transaction type"}
		}
		f.Type = t
	}
	if raw := c.String("from"); raw != "" {
		t, err := parseDate(raw, false)
		if err != nil {
			return f, &solana.ValidationError{Field: "from", Reason: "must be RFC3339 or YYYY-MM-DD"}
		}
		f.From = &t
	}
	if raw := c.String("to"); raw != "" {
		t, err := parseDate(raw, true)
		if err != nil {
			return f, &solana.ValidationError{Field: "to", Reason: "must be RFC3339 or YYYY-MM-DD"}
		}
		f.To = &t
	}
	if c.IsSet("min") {
		v := c.Float64("min")
		f.MinAmount = &v
	}
	if c.IsSet("max") {
		v := c.Float64("max")
		f.MaxAmount = &v
	}
	f.Token = c.String("token")
	return f, nil
}

// parseDate accepts RFC3339 or a bare date. A bare end date covers the whole day.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func compileJQ(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// matchJQ reports whether every filter yields a truthy first result for v.
func matchJQ(filters []*gojq.Code, v interface{}) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}

	// gojq wants plain maps and slices, not structs
	raw, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return false, err
	}

	for _, code := range filters {
		iter := code.Run(input)
		out, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if _, isErr := out.(error); isErr {
			return false, nil
		}
		if !isTruthy(out) {
			return false, nil
		}
	}
	return true, nil
}

func printHistory(out io.Writer, records []historyRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tSTATUS\tAMOUNT\tCOUNTERPARTY\tSIGNATURE")
	for _, r := range records {
		counterparty := r.To
		if r.Type == string(solana.TypeReceive) {
			counterparty = r.From
		}
		sig := r.Signature
		if len(sig) > 16 {
			sig = sig[:8] + "…" + sig[len(sig)-8:]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.BlockTime.Local().Format("2006-01-02 15:04"),
			r.Type,
			r.Status,
			formatAmount(r.Amount, r.Token),
			formatOptional(counterparty),
			sig,
		)
	}
	w.Flush()
	fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(records))
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Show token metadata (defaults to GOLD; use SOL for the native token)",
		ArgsUsage: "[MINT]",
		Action: func(c *cli.Context) error {
			env, err := newChainEnv(c)
			if err != nil {
				return err
			}

			var info solana.TokenInfo
			arg := c.Args().First()
			switch {
			case strings.EqualFold(arg, solana.NativeSymbol):
				info = solana.NativeTokenInfo()
			default:
				mint := env.goldMint
				if arg != "" && !strings.EqualFold(arg, "gold") {
					mint, err = solana.ValidateAddress(arg)
					if err != nil {
						return err
					}
				}
				var fallback solana.TokenInfo
				if mint.Equals(env.goldMint) {
					fallback = solana.GoldTokenInfo(mint.String(), env.goldDecimals)
				}
				info, err = env.client.GetTokenInfo(c.Context, mint, fallback)
				if err != nil {
					return fmt.Errorf("failed to fetch token info: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"address":      info.Address,
					"symbol":       info.Symbol,
					"name":         info.Name,
					"decimals":     info.Decimals,
					"uri":          info.URI,
					"valid":        info.Valid,
					"explorer_url": env.explorer.Token(info.Address),
				})
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Symbol:   %s\n", info.Symbol)
			fmt.Fprintf(w, "Name:     %s\n", info.Name)
			fmt.Fprintf(w, "Mint:     %s\n", info.Address)
			fmt.Fprintf(w, "Decimals: %d\n", info.Decimals)
			if info.URI != "" {
				fmt.Fprintf(w, "URI:      %s\n", info.URI)
			}
			if !info.Valid {
				fmt.Fprintf(w, "⚠ %s is not an SPL token mint on %s\n", info.Address, env.network)
			}
			return nil
		},
	}
}

func explorerCommand() *cli.Command {
	link := func(kind string, fn func(solana.Explorer, string) string) *cli.Command {
		return &cli.Command{
			Name:      kind,
			Usage:     "Print the explorer URL for a " + kind,
			ArgsUsage: "VALUE",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return fmt.Errorf("a value is required")
				}
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, fn(solana.NewExplorer(cfg.ExplorerBaseURL, cfg.Network), c.Args().First()))
				return nil
			},
		}
	}
	return &cli.Command{
		Name:  "explorer",
		Usage: "Print block explorer links",
		Subcommands: []*cli.Command{
			link("tx", solana.Explorer.Transaction),
			link("address", solana.Explorer.Address),
			link("token", solana.Explorer.Token),
		},
	}
}

func validateCommands() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate addresses, amounts and token mints",
		Subcommands: []*cli.Command{
			{
				Name:      "address",
				Usage:     "Check that a string is a Solana address",
				ArgsUsage: "ADDRESS",
				Action: func(c *cli.Context) error {
					_, err := solana.ValidateAddress(c.Args().First())
					return reportValidation(c, "address", err)
				},
			},
			{
				Name:      "amount",
				Usage:     "Check a transfer amount, optionally against a balance",
				ArgsUsage: "AMOUNT",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:    "balance",
						Aliases: []string{"b"},
						Usage:   "Available balance",
					},
				},
				Action: func(c *cli.Context) error {
					var balance *float64
					if c.IsSet("balance") {
						b := c.Float64("balance")
						balance = &b
					}
					_, err := solana.ValidateTransferAmount(c.Args().First(), balance)
					return reportValidation(c, "amount", err)
				},
			},
			{
				Name:      "mint",
				Usage:     "Check on chain that an address is an SPL token mint",
				ArgsUsage: "MINT",
				Action: func(c *cli.Context) error {
					mint, err := solana.ValidateAddress(c.Args().First())
					if err != nil {
						return reportValidation(c, "mint", err)
					}
					env, err := newChainEnv(c)
					if err != nil {
						return err
					}
					ok, err := env.client.ValidateMint(c.Context, mint)
					if err != nil {
						return fmt.Errorf("failed to read mint account: %w", err)
					}
					if !ok {
						err = &solana.ValidationError{Field: "mint", Reason: "not an SPL token mint"}
					}
					return reportValidation(c, "mint", err)
				},
			},
		},
	}
}

// reportValidation prints the outcome. Invalid input is an exit error so
// scripts can test the status.
func reportValidation(c *cli.Context, field string, err error) error {
	if err != nil && !solana.IsValidationError(err) {
		return err
	}
	if c.Bool("json") {
		out := map[string]interface{}{"field": field, "valid": err == nil}
		if err != nil {
			out["reason"] = err.Error()
		}
		if encErr := outputJSON(out); encErr != nil {
			return encErr
		}
	} else if err == nil {
		fmt.Fprintf(c.App.Writer, "✓ valid %s\n", field)
	}
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}
