package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memberhub/accessd/pkg/audit"
	"github.com/memberhub/accessd/pkg/enrollment"
)

// revokeCmd represents the revoke command
var revokeCmd = &cobra.Command{
	Use:   "revoke <userID> <portalID>",
	Short: "Revoke a user's access to a portal",
	Long: `Revoke a user's access to a portal by deleting their enrollment.

Example:
  accessctl revoke u-1042 springfield`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		userID, portalID := args[0], args[1]
		by, _ := cmd.Flags().GetString("by")

		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to connect to DB: %v\n", err)
			os.Exit(1)
		}

		err = store.Revoke(context.Background(), userID, portalID)
		audit.Log(audit.RevokeEvent{
			Actor:        by,
			UserID:       userID,
			PortalID:     portalID,
			Success:      err == nil,
			ErrorMessage: cliErrMessage(err),
		})
		if err != nil {
			if errors.Is(err, enrollment.ErrNotFound) {
				fmt.Fprintf(os.Stderr, "No enrollment found for %s in %s\n", userID, portalID)
			} else {
				fmt.Fprintf(os.Stderr, "Revoke failed: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("Revoked %s's access to %s\n", userID, portalID)
	},
}

func init() {
	rootCmd.AddCommand(revokeCmd)

	revokeCmd.Flags().String("by", "accessctl", "actor recorded in the audit trail")
}
