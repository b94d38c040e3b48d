package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/guildkeys/keysync/internal/savedvars"
	"github.com/guildkeys/keysync/internal/ui"
)

var parseCmd = &cobra.Command{
	Use:     "parse FILE",
	GroupID: "sync",
	Short:   "Parse a SavedVariables file and print its keystones",
	Long: `Parse a SavedVariables file exactly as the agent would and print the
records it would send. Skipped entries and truncation are reported on stderr.

Examples:
  keysync parse KeystoneSync.lua
  keysync parse KeystoneSync.lua --format json
  keysync parse KeystoneSync.lua --check`,
	Args: cobra.ExactArgs(1),
	Run:  runParse,
}

func init() {
	parseCmd.Flags().String("format", "text", "Output format: text, json or yaml")
	parseCmd.Flags().Bool("check", false, "Also report whether the document is syntactically complete")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) {
	format, _ := cmd.Flags().GetString("format")
	check, _ := cmd.Flags().GetBool("check")

	content, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", args[0], err)
		os.Exit(1)
	}

	report := savedvars.Scan(string(content))

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report.Records); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(report.Records); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding YAML: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Close()
	case "text":
		if len(report.Records) == 0 {
			fmt.Printf("%s No keystones found\n", ui.RenderWarn("⚠"))
		}
		for _, r := range report.Records {
			fmt.Printf("%s %-32s +%-3d %s\n", ui.RenderPass("•"), r.Identity(), r.Level, r.DungeonName)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", format)
		os.Exit(1)
	}

	if !report.TableFound {
		fmt.Fprintf(os.Stderr, "%s no %q table in document\n", ui.RenderWarn("⚠"), savedvars.KeysTable)
	}
	if report.Truncated {
		fmt.Fprintf(os.Stderr, "%s document ends before the %q table closes\n", ui.RenderWarn("⚠"), savedvars.KeysTable)
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(os.Stderr, "%s skipped %q at offset %d: %s\n", ui.RenderMuted("-"), s.Key, s.Offset, s.Reason)
	}

	if check {
		if err := savedvars.CheckComplete(string(content)); err != nil {
			fmt.Fprintf(os.Stderr, "%s incomplete: %v\n", ui.RenderFail("✗"), err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s document is complete\n", ui.RenderPass("✓"))
	}
}
