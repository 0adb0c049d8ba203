package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memberhub/accessd/pkg/model"
)

// enrollmentCmd represents the enrollment command
var enrollmentCmd = &cobra.Command{
	Use:   "enrollment",
	Short: "Inspect enrollments",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'enrollment' requires a subcommand (list)")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

// enrollmentListCmd represents the enrollment list command
var enrollmentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrollments for a user or a portal",
	Long: `List enrollments for a user or a portal.

Exactly one of --user or --portal must be given.

Example:
  accessctl enrollment list --user u-1042
  accessctl enrollment list --portal springfield`,
	Run: func(cmd *cobra.Command, args []string) {
		userID, _ := cmd.Flags().GetString("user")
		portalID, _ := cmd.Flags().GetString("portal")

		if (userID == "") == (portalID == "") {
			fmt.Fprintln(os.Stderr, "exactly one of --user or --portal is required")
			os.Exit(1)
		}

		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to connect to DB: %v\n", err)
			os.Exit(1)
		}

		var rows []model.Enrollment
		if userID != "" {
			rows, err = store.ListByUser(context.Background(), userID)
		} else {
			rows, err = store.ListByPortal(context.Background(), portalID)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}

		out, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(enrollmentCmd)
	enrollmentCmd.AddCommand(enrollmentListCmd)

	enrollmentListCmd.Flags().String("user", "", "list enrollments held by this user")
	enrollmentListCmd.Flags().String("portal", "", "list enrollments for this portal")
}
