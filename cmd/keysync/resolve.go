package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/guildkeys/keysync/internal/config"
	"github.com/guildkeys/keysync/internal/install"
	"github.com/guildkeys/keysync/internal/ui"
)

var resolveCmd = &cobra.Command{
	Use:     "resolve",
	GroupID: "sync",
	Short:   "Show where keysync looks for the game and which files it would watch",
	RunE:    runResolve,
}

func init() {
	resolveCmd.Flags().String("wow-path", "", "World of Warcraft install directory")
	resolveCmd.Flags().String("addon", config.DefaultAddon, "Addon name")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	override, _ := cmd.Flags().GetString("wow-path")
	if override == "" {
		override = agentViper.GetString(config.KeyWowPath)
	}
	addon, _ := cmd.Flags().GetString("addon")
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "\n%s Candidate directories\n\n", ui.RenderAccent("📂"))
	for _, c := range install.Candidates(override) {
		mark := ui.RenderMuted("·")
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			mark = ui.RenderPass("✓")
		}
		fmt.Fprintf(out, "   %s %s\n", mark, c)
	}

	root, err := install.Resolve(override)
	if errors.Is(err, install.ErrNotFound) {
		fmt.Fprintf(out, "\n%s World of Warcraft not found; set wow_path or pass --wow-path\n\n", ui.RenderWarn("⚠"))
		return err
	}
	if err != nil {
		return err
	}

	accounts, err := install.AccountDirs(root)
	if err != nil {
		return err
	}
	files, err := install.SavedVariablesFiles(root, addon)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}

	fmt.Fprintf(out, "\n%s Using %s\n\n", ui.RenderPass("✓"), root)
	if len(accounts) == 0 {
		fmt.Fprintf(out, "   %s no accounts yet (log in once to create WTF/Account)\n\n", ui.RenderWarn("⚠"))
		return nil
	}
	for _, account := range accounts {
		path := install.SavedVariablesPath(account, addon)
		state := ui.RenderMuted("(not written yet)")
		if present[path] {
			state = ui.RenderPass("(present)")
		}
		fmt.Fprintf(out, "   %s %s\n", path, state)
	}
	fmt.Fprintf(out, "\n   %d of %d accounts have %s data\n\n", len(files), len(accounts), addon)
	return nil
}
