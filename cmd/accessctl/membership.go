package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/memberhub/accessd/pkg/audit"
	"github.com/memberhub/accessd/pkg/batch"
)

// membershipFile is the desired-state document consumed by
// membership apply. The file is authoritative for the portal it names:
// grants lists the full membership, modules/contents list the full
// holder set for each id they mention.
type membershipFile struct {
	PortalID string        `yaml:"portalId"`
	Grants   []batch.Grant `yaml:"grants"`
	Modules  []nodeSet     `yaml:"modules"`
	Contents []nodeSet     `yaml:"contents"`
}

type nodeSet struct {
	ID      string   `yaml:"id"`
	UserIDs []string `yaml:"userIds"`
}

// membershipCmd represents the membership command
var membershipCmd = &cobra.Command{
	Use:   "membership",
	Short: "Sync portal membership from a desired-state file",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'membership' requires a subcommand (apply, watch)")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

// membershipApplyCmd represents the membership apply command
var membershipApplyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Apply a desired-state membership file",
	Long: `Apply a desired-state membership file.

The file names one portal and the full membership it should have; the
batch editor diffs it against current state and persists the changes.
Per-row failures are reported and do not roll back the rest.

Example:
  accessctl membership apply ./springfield.yml`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		by, _ := cmd.Flags().GetString("by")

		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to connect to DB: %v\n", err)
			os.Exit(1)
		}
		editor := batch.NewEditor(store, by, newLog())

		if err := applyMembershipFile(editor, by, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Apply failed: %v\n", err)
			os.Exit(1)
		}
	},
}

// membershipWatchCmd represents the membership watch command
var membershipWatchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Watch a desired-state file and re-apply it on change",
	Long: `Watch a desired-state membership file and re-apply it when it changes.

Example:
  accessctl membership watch /run/accessd/springfield.yml`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		by, _ := cmd.Flags().GetString("by")

		if err := watchMembership(by, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to watch membership file: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(membershipCmd)
	membershipCmd.AddCommand(membershipApplyCmd)
	membershipCmd.AddCommand(membershipWatchCmd)

	membershipApplyCmd.Flags().String("by", "accessctl", "actor recorded as enrolled_by")
	membershipWatchCmd.Flags().String("by", "accessctl", "actor recorded as enrolled_by")
}

func applyMembershipFile(editor *batch.Editor, by, filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	var doc membershipFile
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	if doc.PortalID == "" {
		return fmt.Errorf("%s: portalId is required", filename)
	}

	ctx := context.Background()

	res, err := editor.SyncPortal(ctx, doc.PortalID, doc.Grants)
	if err != nil {
		return err
	}
	audit.Log(audit.BatchSyncEvent{Actor: by, Scope: "portal", ScopeID: doc.PortalID, Applied: res.Applied, Failed: res.Failed})
	reportSync("portal "+doc.PortalID, res)

	for _, m := range doc.Modules {
		res, err := editor.SyncModule(ctx, doc.PortalID, m.ID, m.UserIDs)
		if err != nil {
			return err
		}
		audit.Log(audit.BatchSyncEvent{Actor: by, Scope: "allowedModules", ScopeID: m.ID, Applied: res.Applied, Failed: res.Failed})
		reportSync("module "+m.ID, res)
	}
	for _, c := range doc.Contents {
		res, err := editor.SyncContent(ctx, doc.PortalID, c.ID, c.UserIDs)
		if err != nil {
			return err
		}
		audit.Log(audit.BatchSyncEvent{Actor: by, Scope: "allowedContents", ScopeID: c.ID, Applied: res.Applied, Failed: res.Failed})
		reportSync("content "+c.ID, res)
	}
	return nil
}

func reportSync(scope string, res *batch.Result) {
	fmt.Printf("%s: %d applied, %d failed\n", scope, res.Applied, res.Failed)
	for _, row := range res.Rows {
		if row.Err != nil {
			fmt.Printf("  %s: %v\n", row.UserID, row.Err)
		}
	}
}

func watchMembership(by, filename string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	editor := batch.NewEditor(store, by, newLog())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filename); err != nil {
		return fmt.Errorf("failed to watch file %s: %w", filename, err)
	}

	fmt.Printf("Watching %s for membership changes\n", filename)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				fmt.Printf("[%s] File modified, re-applying membership...\n", time.Now().Format(time.RFC3339))
				if err := applyMembershipFile(editor, by, filename); err != nil {
					fmt.Fprintf(os.Stderr, "Error applying membership: %v\n", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Watcher error: %v\n", err)
		case <-sigChan:
			fmt.Println("Shutting down")
			return nil
		}
	}
}
