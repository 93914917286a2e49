package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/brojonat/goldium/service/poller"
	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/wallet"
	"github.com/urfave/cli/v2"
)

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "Send GOLD (or SOL with --sol) from a connected wallet",
		Description: `Connects the wallet, checks the amount against its balance, builds the
transfer and asks the wallet to sign it. A GOLD transfer creates the
recipient's token account when it does not exist yet.

Example:
  goldium transfer --wallet phantom --to RECIPIENT --amount 12.5
  goldium transfer --to RECIPIENT --amount 0.1 --sol --dry-run`,
		Flags: []cli.Flag{
			walletFlag,
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Recipient address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Amount in UI units",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "sol",
				Usage: "Send native SOL instead of GOLD",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Build the transaction and print it unsigned without sending",
			},
		},
		Action: func(c *cli.Context) error {
			kind, err := wallet.ParseKind(c.String("wallet"))
			if err != nil {
				return err
			}
			recipient, err := solana.ValidateAddress(c.String("to"))
			if err != nil {
				return err
			}
			env, err := newChainEnv(c)
			if err != nil {
				return err
			}
			w := c.App.Writer
			ctx := c.Context

			manager := newWalletManager(env.cfg, os.Stdin, os.Stderr, env.logger)
			res, err := manager.Connect(ctx, kind)
			if err != nil {
				return err
			}
			if !res.Success {
				return printConnectResult(w, kind, res, c.Bool("json"))
			}
			defer manager.Disconnect(ctx)
			sender := res.Session.Address

			snap := poller.FetchBalances(ctx, env.client, sender, poller.Config{
				Network:       env.network,
				TokenMint:     env.goldMint,
				TokenDecimals: env.goldDecimals,
			}, env.logger, nil)

			asset, decimals, balance, balanceErr := "GOLD", env.goldDecimals, snap.TokenAmount, snap.TokenErr
			if c.Bool("sol") {
				asset, decimals, balance, balanceErr = solana.NativeSymbol, solana.NativeDecimals, snap.NativeLamports, snap.NativeErr
			}
			if balanceErr != "" {
				return fmt.Errorf("cannot read %s balance: %s", asset, balanceErr)
			}

			amount, err := solana.ValidateTransferBaseUnits(c.String("amount"), decimals, &balance)
			if err != nil {
				return err
			}

			builder := solana.NewTransferBuilder(env.client)
			var plan *solana.TransferPlan
			if asset == solana.NativeSymbol {
				plan, err = builder.BuildNativeTransfer(sender, recipient, amount)
			} else {
				plan, err = builder.BuildTokenTransfer(ctx, solana.TokenTransferParams{
					Mint:      env.goldMint,
					Sender:    sender,
					Recipient: recipient,
					Amount:    amount,
					Decimals:  decimals,
				})
			}
			if err != nil {
				return fmt.Errorf("failed to build transfer: %w", err)
			}
			tx, err := builder.BuildTransaction(ctx, plan)
			if err != nil {
				return fmt.Errorf("failed to build transaction: %w", err)
			}

			printPlan(w, plan, asset)

			if c.Bool("dry-run") {
				encoded, err := solana.EncodeTransaction(tx)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "\nUnsigned transaction (base64):\n%s\n", encoded)
				return nil
			}

			err = manager.SignTransaction(ctx, tx)
			if errors.Is(err, wallet.ErrUserRejected) {
				fmt.Fprintln(w, "Transfer cancelled.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to sign transaction: %w", err)
			}

			sig, err := builder.SendAndConfirm(ctx, tx)
			link := env.explorer.Transaction(sig.String())
			if err != nil {
				fmt.Fprintf(w, "\n✗ Transfer failed: %v\n  %s\n", err, link)
				return cli.Exit("", 1)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{
					"signature":    sig.String(),
					"status":       string(solana.StatusConfirmed),
					"explorer_url": link,
				})
			}
			fmt.Fprintf(w, "\n✓ Transfer confirmed\n  Signature: %s\n  %s\n", sig, link)
			return nil
		},
	}
}

func printPlan(w io.Writer, plan *solana.TransferPlan, asset string) {
	fmt.Fprintf(w, "Send %s %s\n", solana.FormatBaseUnits(plan.Amount, plan.Decimals), asset)
	fmt.Fprintf(w, "  From: %s\n", plan.Sender)
	fmt.Fprintf(w, "  To:   %s\n", plan.Recipient)
	if plan.RecipientTokenAccount != nil {
		fmt.Fprintf(w, "  Recipient token account: %s", plan.RecipientTokenAccount)
		if plan.CreatesRecipientAccount {
			fmt.Fprint(w, " (will be created)")
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  Instructions: %d\n", len(plan.Instructions))
}
