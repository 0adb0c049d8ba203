package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memberhub/accessd/pkg/audit"
	"github.com/memberhub/accessd/pkg/model"
)

// grantCmd represents the grant command
var grantCmd = &cobra.Command{
	Use:   "grant <userID> <portalID>",
	Short: "Grant a user access to a portal",
	Long: `Grant a user access to a portal, creating or replacing their enrollment.

The permission object is replaced wholesale. Without flags the grant
denies everything; pass --all-modules or explicit --module/--content ids.

Example:
  accessctl grant u-1042 springfield --all-modules
  accessctl grant u-1042 springfield --module m1 --module m2 --content c5`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		userID, portalID := args[0], args[1]

		allModules, _ := cmd.Flags().GetBool("all-modules")
		moduleIDs, _ := cmd.Flags().GetStringArray("module")
		contentIDs, _ := cmd.Flags().GetStringArray("content")
		by, _ := cmd.Flags().GetString("by")

		perm := model.Permission{
			AccessAllModules: allModules,
			AllowedModules:   moduleIDs,
			AllowedContents:  contentIDs,
		}

		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to connect to DB: %v\n", err)
			os.Exit(1)
		}

		row, err := store.Upsert(context.Background(), userID, portalID, perm, by)
		audit.Log(audit.GrantEvent{
			Actor:        by,
			UserID:       userID,
			PortalID:     portalID,
			Success:      err == nil,
			ErrorMessage: cliErrMessage(err),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Grant failed: %v\n", err)
			os.Exit(1)
		}

		out, _ := json.MarshalIndent(row, "", "  ")
		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(grantCmd)

	grantCmd.Flags().Bool("all-modules", false, "grant access to every module and content item")
	grantCmd.Flags().StringArray("module", nil, "module id to allow (repeatable)")
	grantCmd.Flags().StringArray("content", nil, "content id to allow (repeatable)")
	grantCmd.Flags().String("by", "accessctl", "actor recorded as enrolled_by")
}

func cliErrMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
