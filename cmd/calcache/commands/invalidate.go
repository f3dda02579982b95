package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/calcache/internal/cli/output"
	"github.com/marmos91/calcache/internal/cli/prompt"
	"github.com/marmos91/calcache/pkg/apiclient"
	"github.com/marmos91/calcache/pkg/calendar"
)

var (
	invalidateAll   bool
	invalidateForce bool
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate [YYYY-MM...]",
	Short: "Mark months of a running server out of date",
	Long: `Mark cached months out of date. Loaded months keep their days for display
and are recomputed on next access or viewport refresh.

Examples:
  # Invalidate two months
  calcache invalidate 2025-03 2025-04

  # Invalidate everything without asking
  calcache invalidate --all --force`,
	RunE: runInvalidate,
}

func init() {
	invalidateCmd.Flags().BoolVar(&invalidateAll, "all", false, "Invalidate every cached month")
	invalidateCmd.Flags().BoolVarP(&invalidateForce, "force", "f", false, "Skip confirmation for --all")
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	if invalidateAll == (len(args) > 0) {
		return errors.New("pass either one or more months or --all")
	}

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	keys := make([]calendar.MonthKey, 0, len(args))
	for _, arg := range args {
		key, err := calendar.ParseMonthKey(arg)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	client := apiclient.New(serverURL)
	ctx := cmd.Context()

	var changed []apiclient.Invalidation
	if invalidateAll {
		confirmed, err := prompt.ConfirmWithForce("Invalidate every cached month on "+client.BaseURL(), invalidateForce)
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return err
		}
		if !confirmed {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}

		res, err := client.InvalidateAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to invalidate: %w", err)
		}
		changed = res.Changed
	} else {
		for _, key := range keys {
			res, err := client.Invalidate(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to invalidate %s: %w", key, err)
			}
			changed = append(changed, *res)
		}
	}

	table := output.NewTableData("Month", "State")
	for _, c := range changed {
		table.AddRow(c.Month, c.State.String())
	}
	return printResult(cmd, format, changed, table)
}
