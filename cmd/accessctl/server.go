package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memberhub/accessd/pkg/access"
	"github.com/memberhub/accessd/pkg/batch"
	"github.com/memberhub/accessd/pkg/config"
	"github.com/memberhub/accessd/pkg/db"
	"github.com/memberhub/accessd/pkg/feed"
	"github.com/memberhub/accessd/pkg/reconcile"
	"github.com/memberhub/accessd/pkg/server"
	"github.com/memberhub/accessd/pkg/server/endpoints"
)

func defaultBindAddress() string {
	if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
		return addr
	}
	return "0.0.0.0"
}

func defaultPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8090"
}

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the accessd server",
	Long: `Run the accessd server.

Requires the DATABASE_URL environment variable.

By default, database migrations are run on startup. Use --no-migrate to skip.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLog()

		if os.Getenv("DATABASE_URL") == "" {
			fmt.Fprintln(os.Stderr, "DATABASE_URL environment variable is required")
			os.Exit(1)
		}

		cfg := config.Get()
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}

		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		if !noMigrate {
			log.Info("running database migrations")
			if err := runMigrations(); err != nil {
				fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
				os.Exit(1)
			}
		}

		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to connect to DB: %v\n", err)
			os.Exit(1)
		}

		accessSvc, err := access.NewService(store, cfg.SnapshotCacheSize, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to build access service: %v\n", err)
			os.Exit(1)
		}

		notifier := feed.NewNotifier(cfg.SessionBufferSize, log)
		listener := feed.NewListener(
			db.URL(),
			cfg.FeedChannel,
			cfg.FeedMinReconnect(),
			cfg.FeedMaxReconnect(),
			notifier,
			accessSvc,
			log,
		)

		reconciler := reconcile.New(store, log)
		editor := batch.NewEditor(store, "api", log)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("feed listener stopped")
			}
		}()

		if cfg.ReconcileCron != "" {
			scheduler, err := reconcile.NewScheduler(reconciler, cfg.ReconcileCron, log)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Bad reconcile_cron: %v\n", err)
				os.Exit(1)
			}
			scheduler.Start()
			defer scheduler.Stop()
		}

		host, _ := cmd.Flags().GetString("bind-address")
		port, _ := cmd.Flags().GetString("port")
		s := server.NewServer(store, accessSvc, editor, reconciler, notifier, host, port, log)

		endpoints.RegisterAll(s)

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = s.Shutdown(shutdownCtx)
		}()

		log.Infof("running server at http://%s:%s", host, port)
		if err := s.Start(); err != nil && ctx.Err() == nil {
			log.WithError(err).Fatal("server stopped")
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringP("port", "p", defaultPort(), "server listen port")
	serverCmd.Flags().StringP("bind-address", "b", defaultBindAddress(), "server bind address")
	serverCmd.Flags().Bool("no-migrate", false, "skip running database migrations on start")
}
