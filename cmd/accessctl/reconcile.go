package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memberhub/accessd/pkg/audit"
	"github.com/memberhub/accessd/pkg/reconcile"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile [userID]",
	Short: "Reconcile enrollments against the active portal catalog",
	Long: `Reconcile enrollments against the active portal catalog.

For the given user (or every known user with --all), missing enrollments
are created with the default full-access permission. Enrollments
pointing at missing or inactive portals and duplicate rows are flagged
in the report, never deleted.

Example:
  accessctl reconcile u-1042
  accessctl reconcile --all`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			fmt.Fprintln(os.Stderr, "pass exactly one of <userID> or --all")
			os.Exit(1)
		}

		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to connect to DB: %v\n", err)
			os.Exit(1)
		}
		reconciler := reconcile.New(store, newLog())

		if all {
			reports, err := reconciler.ReconcileAll(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Reconciliation failed: %v\n", err)
				os.Exit(1)
			}
			printJSON(reports)
			return
		}

		userID := args[0]
		report, err := reconciler.Reconcile(context.Background(), userID)
		ev := audit.ReconcileEvent{
			UserID:       userID,
			Success:      err == nil,
			ErrorMessage: cliErrMessage(err),
		}
		if report != nil {
			ev.Created = len(report.Created)
			ev.FlaggedOrphans = len(report.FlaggedOrphans)
			ev.FlaggedDuplicates = len(report.FlaggedDuplicates)
		}
		audit.Log(ev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Reconciliation failed: %v\n", err)
			os.Exit(1)
		}
		printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().Bool("all", false, "reconcile every user seen in any portal")
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
