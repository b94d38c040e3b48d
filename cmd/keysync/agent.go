package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guildkeys/keysync/internal/agent"
	"github.com/guildkeys/keysync/internal/config"
	"github.com/guildkeys/keysync/internal/logging"
	"github.com/guildkeys/keysync/internal/server"
	"github.com/guildkeys/keysync/internal/store"
	"github.com/guildkeys/keysync/internal/synclog"
	"github.com/guildkeys/keysync/internal/syncclient"
	"github.com/guildkeys/keysync/internal/ui"
)

var agentCmd = &cobra.Command{
	Use:     "agent",
	GroupID: "sync",
	Short:   "Watch SavedVariables and sync keystones (foreground)",
	Long: `Run the sync agent in the foreground.

The agent:
  1. Finds the World of Warcraft _retail_ directory (retrying every 30s)
  2. Watches WTF/Account/*/SavedVariables/<addon>.lua in every account
  3. Parses each change and POSTs the keystones to the backend
  4. Appends every outcome to the sync log

Settings come from keysync.toml, KEYSYNC_* environment variables and the
flags below. In host mode the roster backend runs in the same process and the
agent sends to it unless backend_urls is set.

Examples:
  keysync agent --backend-url https://keys.example.com
  keysync agent --mode host --listen :8080 --db keysync.db`,
	RunE: runAgent,
}

func init() {
	f := agentCmd.Flags()
	f.StringSlice("backend-url", nil, "Backend base URL; repeat for failover candidates")
	f.String("mode", string(config.ModeClient), "client or host")
	f.String("wow-path", "", "World of Warcraft install directory")
	f.String("addon", config.DefaultAddon, "Addon whose SavedVariables are watched")
	f.String("token", "", "Bearer token sent to the backend")
	f.String("sync-log", "", "Sync log file path")
	f.String("listen", ":8080", "Listen address in host mode")
	f.String("db", "keysync.db", "Database path in host mode")

	bindFlag(agentCmd, config.KeyBackendURLs, "backend-url")
	bindFlag(agentCmd, config.KeyMode, "mode")
	bindFlag(agentCmd, config.KeyWowPath, "wow-path")
	bindFlag(agentCmd, config.KeyAddonName, "addon")
	bindFlag(agentCmd, config.KeyAPIToken, "token")
	bindFlag(agentCmd, config.KeySyncLog, "sync-log")
	bindFlag(agentCmd, config.KeyListenAddr, "listen")
	bindFlag(agentCmd, config.KeyDBPath, "db")

	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAgent(agentViper)
	if err != nil {
		return err
	}

	if cfg.Verbose && !verbose {
		if l, err := logging.New(true); err == nil {
			logger = l
		}
	}

	syncLog, err := synclog.Open(cfg.SyncLog)
	if err != nil {
		return fmt.Errorf("opening sync log: %w", err)
	}
	defer syncLog.Close()

	client, err := syncclient.New(syncclient.Options{
		BaseURLs: cfg.Backends(),
		Token:    cfg.APIToken,
		Log:      syncLog,
		Logger:   logger.Named("sync"),
	})
	if err != nil {
		return err
	}

	agentConfig := agent.DefaultConfig()
	agentConfig.WowPath = cfg.WowPath
	agentConfig.AddonName = cfg.AddonName
	agentConfig.Logger = logger

	if cfg.Mode == config.ModeHost {
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
		agentConfig.Server = srv
	}

	a, err := agent.New(client, agentConfig)
	if err != nil {
		return err
	}

	fmt.Printf("%s Starting keysync agent (%s mode)...\n", ui.RenderAccent("🔑"), cfg.Mode)
	fmt.Printf("   Backend: %s\n", strings.Join(cfg.Backends(), ", "))
	fmt.Printf("   Addon: %s\n", cfg.AddonName)
	fmt.Printf("   Sync log: %s\n", syncLog.Path())
	if cfg.Mode == config.ModeHost {
		fmt.Printf("   Listening: %s\n", cfg.ListenAddr)
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	syncLog.Event("agent started", zap.String("mode", string(cfg.Mode)))
	runErr := a.Run(ctx)
	syncLog.Event("agent stopped")

	stats := a.Stats()
	fmt.Printf("\n%s Agent stopped\n", ui.RenderPass("✓"))
	fmt.Printf("   Reads: %d\n", stats.Reads)
	fmt.Printf("   Synced: %d\n", stats.Synced)
	fmt.Printf("   Failed: %d\n", stats.Failures)

	if runErr != nil {
		return fmt.Errorf("agent stopped: %w", runErr)
	}
	return nil
}
