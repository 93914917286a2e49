package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return temporal.NewClient(c.String("temporal-host"), c.String("temporal-namespace"), cfg.TemporalTaskQueue, setupLogger(c))
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List wallet sync schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ids, err := tc.ListWalletSchedules(c.Context)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(ids)
			}
			for _, id := range ids {
				fmt.Fprintln(c.App.Writer, id)
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", len(ids))
			return nil
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-schedule",
		Usage:     "Describe a wallet's sync schedule",
		Aliases:   []string{"desc"},
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			desc, err := tc.DescribeWalletSchedule(c.Context, address, c.String("network"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(desc)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Schedule: %s\n", temporal.ScheduleID(address, c.String("network")))
			if desc.Schedule.Spec != nil {
				for _, iv := range desc.Schedule.Spec.Intervals {
					fmt.Fprintf(w, "Interval: %s\n", iv.Every)
				}
			}
			if desc.Schedule.State != nil {
				fmt.Fprintf(w, "Paused:   %v\n", desc.Schedule.State.Paused)
			}
			fmt.Fprintf(w, "Runs:     %d (%d missed)\n", desc.Info.NumActions, desc.Info.NumActionsMissedCatchupWindow)
			if len(desc.Info.NextActionTimes) > 0 {
				fmt.Fprintf(w, "Next run: %s\n", desc.Info.NextActionTimes[0].Format(time.RFC3339))
			}
			printRecentActions(w, desc.Info.RecentActions)
			return nil
		},
	}
}

func printRecentActions(w io.Writer, actions []client.ScheduleActionResult) {
	if len(actions) == 0 {
		return
	}
	fmt.Fprintln(w, "Recent runs:")
	for _, a := range actions {
		id := "-"
		if a.StartWorkflowResult != nil {
			id = a.StartWorkflowResult.WorkflowID
		}
		fmt.Fprintf(w, "  %s  %s\n", a.ActualTime.Format(time.RFC3339), id)
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-schedule",
		Usage:     "Delete a wallet's sync schedule (the watched row is kept)",
		Aliases:   []string{"rm"},
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteWalletSchedule(c.Context, c.Args().First(), c.String("network")); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Deleted schedule %s\n", temporal.ScheduleID(c.Args().First(), c.String("network")))
			return nil
		},
	}
}

func syncNowCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync-now",
		Usage:     "Run one wallet sync immediately and wait for the result",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			addr, err := solana.ValidateAddress(c.Args().First())
			if err != nil {
				return err
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			mint, err := cfg.GoldMint(cfg.Network)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			result, err := tc.SyncNow(c.Context, temporal.SyncWalletInput{
				Address:       addr.String(),
				Network:       cfg.Network,
				TokenMint:     mint,
				TokenDecimals: uint8(cfg.GoldDecimals),
				HistoryLimit:  cfg.HistoryLimit,
			})
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(result)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Synced %s (%s)\n", result.Address, result.Network)
			fmt.Fprintf(w, "  SOL:  %.9g\n", result.NativeAmount)
			fmt.Fprintf(w, "  GOLD: %.9g\n", result.TokenUIAmount)
			fmt.Fprintf(w, "  Transactions: %d fetched, %d written, %d skipped, %d published\n",
				result.TransactionCount, result.Written, result.Skipped, result.Published)
			if !result.BalancesOK {
				fmt.Fprintln(w, "  ⚠ some balances could not be read")
			}
			if result.Error != nil {
				fmt.Fprintf(w, "  Error: %s\n", strings.TrimSpace(*result.Error))
			}
			return nil
		},
	}
}
