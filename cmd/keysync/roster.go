package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/guildkeys/keysync/internal/roster"
	"github.com/guildkeys/keysync/internal/store"
	"github.com/guildkeys/keysync/internal/ui"
)

var rosterCmd = &cobra.Command{
	Use:     "roster",
	GroupID: "server",
	Short:   "Inspect and seed guild rosters in the backend database",
}

var rosterShowCmd = &cobra.Command{
	Use:   "show GUILD_ID",
	Short: "Show a guild's roster grouped by player",
	Long: `Load a guild's active characters from the database and group them by
player: one row per player (main character, alt count, the main's keys) and
one row per unclaimed character.

A main marked (!) means several of that player's characters are flagged main.`,
	Args: cobra.ExactArgs(1),
	RunE: runRosterShow,
}

var rosterImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import guild members and characters from a YAML file",
	Long: `Import guild memberships, characters and keys from a YAML file.

Example file:

  members:
    - user: 1
      guild: 9
  characters:
    - name: Foo
      realm: Silvermoon
      guild: 9
      user: 1
      main: true
    - name: Bar
      realm: Area 52
      user: 1
      keys:
        - dungeon: Ara-Kara
          level: 12
          completed: true`,
	Args: cobra.ExactArgs(1),
	RunE: runRosterImport,
}

func init() {
	rosterCmd.PersistentFlags().String("db", "keysync.db", "Database path")
	rosterShowCmd.Flags().String("format", "table", "Output format: table, json or yaml")
	rosterCmd.AddCommand(rosterShowCmd)
	rosterCmd.AddCommand(rosterImportCmd)
	rootCmd.AddCommand(rosterCmd)
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	path, _ := cmd.Flags().GetString("db")
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

func runRosterShow(cmd *cobra.Command, args []string) error {
	guildID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || guildID <= 0 {
		return fmt.Errorf("invalid guild id %q", args[0])
	}
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	characters, err := db.GuildRoster(cmd.Context(), guildID)
	if err != nil {
		return err
	}
	entries := roster.Aggregate(characters)
	summary := roster.Summarize(entries)
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{"guildId": guildID, "entries": entries, "summary": summary})
	case "yaml":
		return yaml.NewEncoder(out).Encode(map[string]interface{}{"guildId": guildID, "entries": entries, "summary": summary})
	}

	fmt.Fprintf(out, "\n%s Guild %d\n\n", ui.RenderAccent("📊"), guildID)
	if len(entries) == 0 {
		fmt.Fprintf(out, "   No active characters\n\n")
		return nil
	}
	fmt.Fprintln(out, ui.RosterTable(entries))
	fmt.Fprintf(out, "\nPlayers: %d  Orphans: %d  Characters: %d  Keys: %d\n\n",
		summary.Players, summary.Orphans, summary.Characters, summary.Keys)
	return nil
}

func runRosterImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	file, err := roster.LoadImport(f)
	if err != nil {
		return err
	}

	db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.Import(cmd.Context(), file)
	if err != nil {
		return fmt.Errorf("importing %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Imported %s\n", ui.RenderPass("✓"), args[0])
	fmt.Fprintf(out, "   Members: %d\n", res.Members)
	fmt.Fprintf(out, "   Characters: %d\n", res.Characters)
	fmt.Fprintf(out, "   Keys: %d\n", res.Keys)
	return nil
}
