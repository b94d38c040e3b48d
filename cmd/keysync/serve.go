package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guildkeys/keysync/internal/config"
	"github.com/guildkeys/keysync/internal/logging"
	"github.com/guildkeys/keysync/internal/server"
	"github.com/guildkeys/keysync/internal/store"
	"github.com/guildkeys/keysync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the roster backend",
	Long: `Run the roster backend standalone.

Configuration is read from the environment:
  KEYSYNC_LISTEN_ADDR  listen address (default :8080)
  KEYSYNC_DB_PATH      SQLite database path (default keysync.db)
  KEYSYNC_API_TOKEN    bearer token required on ingest (optional)

Routes:
  POST /api/mythic/sync-addon   ingest a keystone batch
  GET  /api/guilds/{id}/roster  aggregated guild roster
  GET  /health                  health check
  GET  /metrics                 Prometheus metrics
  GET  /ws                      live feed of sync events

Examples:
  keysync serve
  KEYSYNC_API_TOKEN=secret keysync serve --listen 127.0.0.1:9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (overrides KEYSYNC_LISTEN_ADDR)")
	serveCmd.Flags().String("db", "", "Database path (overrides KEYSYNC_DB_PATH)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.DBPath = v
	}
	if cfg.Verbose && !verbose {
		if l, err := logging.New(true); err == nil {
			logger = l
		}
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	srv, err := server.New(server.Config{
		Addr:   cfg.ListenAddr,
		Store:  db,
		Token:  cfg.APIToken,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	addr := srv.Addr()
	fmt.Printf("%s Roster backend listening on http://%s\n", ui.RenderAccent("🚀"), addr)
	fmt.Printf("   Database: %s\n", db.Path())
	fmt.Printf("   Live feed: ws://%s/ws\n", addr)
	if cfg.APIToken == "" {
		fmt.Printf("   %s ingest is not protected by a token\n", ui.RenderWarn("⚠"))
	}
	fmt.Println("\nPress Ctrl+C to stop...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	fmt.Println("\nShutting down...")
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("during shutdown: %w", err)
	}
	fmt.Printf("%s Server stopped\n", ui.RenderPass("✓"))
	return nil
}
