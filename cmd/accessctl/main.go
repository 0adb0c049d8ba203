// Package main implements accessctl, the CLI for the accessd access
// resolution and synchronization engine.
//
// accessd resolves "what can this user see": portals hold nested
// modules and content items, users hold per-portal enrollments carrying
// a permission object, and a change feed keeps connected sessions
// current as grants move underneath them.
//
// # Quick Start
//
//	# Run database migrations
//	accessctl db migrate
//
//	# Start the server
//	accessctl server
//
//	# Grant a user access to a portal
//	accessctl grant u-1042 springfield --all-modules
//
// # Environment Variables
//
//   - DATABASE_URL: PostgreSQL connection string
//   - AUDIT_DATABASE_URL: optional audit database (defaults to none)
//   - ACCESSD_CONFIG_PATH: config directory (default /etc/accessd/config)
//   - ACCESSD_LOG_LEVEL: log level (debug, info, warn, error)
//   - PORT / BIND_ADDRESS: server listen address
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/memberhub/accessd/pkg/db"
	"github.com/memberhub/accessd/pkg/enrollment"
)

var rootCmd = &cobra.Command{
	Use:   "accessctl",
	Short: "Manage the accessd access resolution engine",
	Long:  `accessctl runs and administers accessd: portal enrollments, membership syncs, reconciliation and the change feed.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func newLog() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("ACCESSD_LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

// openStore connects to the database and wraps it in the gorm-backed
// enrollment store.
func openStore() (*enrollment.GormStore, error) {
	database, err := db.Connect(db.Config{})
	if err != nil {
		return nil, err
	}
	return enrollment.NewGormStore(database), nil
}
