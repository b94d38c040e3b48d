package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/guildkeys/keysync/internal/config"
	"github.com/guildkeys/keysync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage the agent configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default keysync.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")
		if path == "" {
			p, err := config.DefaultPath()
			if err != nil {
				return err
			}
			path = p
		}

		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("   Set backend_urls before running 'keysync agent'\n")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective agent configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAgent(agentViper)
		if err != nil {
			return err
		}
		if cfg.APIToken != "" {
			cfg.APIToken = "********"
		}
		if used := agentViper.ConfigFileUsed(); used != "" {
			fmt.Printf("# %s\n", used)
		}
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "Destination (default: user config dir)")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
