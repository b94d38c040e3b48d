package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guildkeys/keysync/internal/config"
	"github.com/guildkeys/keysync/internal/logging"
)

var (
	// logger is replaced in PersistentPreRunE once flags are parsed.
	logger = zap.NewNop()

	// agentViper holds agent settings; command flags are bound into it.
	agentViper = config.NewViper()

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "keysync",
	Short: "Sync Mythic+ keystones from the game client to your guild roster",
	Long: `keysync watches the KeystoneSync addon's SavedVariables files, parses the
keystones they contain, and sends them to a roster backend. The same binary
can run that backend, either standalone (keysync serve) or in-process with the
agent (mode = "host").`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(verbose || agentViper.GetBool(config.KeyVerbose))
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Syncing:"},
		&cobra.Group{ID: "server", Title: "Backend:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// bindFlag binds a command flag to an agent config key.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := agentViper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
