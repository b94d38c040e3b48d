package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guildkeys/keysync/internal/config"
	"github.com/guildkeys/keysync/internal/roster"
	"github.com/guildkeys/keysync/internal/store"
)

func TestCommandTree(t *testing.T) {
	want := [][]string{
		{"agent"},
		{"serve"},
		{"parse"},
		{"resolve"},
		{"roster", "show"},
		{"roster", "import"},
		{"config", "init"},
		{"config", "show"},
	}
	for _, path := range want {
		cmd, rest, err := rootCmd.Find(path)
		if err != nil {
			t.Errorf("Find(%v) failed: %v", path, err)
			continue
		}
		if len(rest) != 0 || cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %s with leftover %v", path, cmd.Name(), rest)
		}
	}
}

func TestAgentFlagsBound(t *testing.T) {
	if err := agentCmd.Flags().Set("addon", "OtherAddon"); err != nil {
		t.Fatalf("Set(addon) failed: %v", err)
	}
	t.Cleanup(func() { _ = agentCmd.Flags().Set("addon", config.DefaultAddon) })

	if got := agentViper.GetString(config.KeyAddonName); got != "OtherAddon" {
		t.Errorf("addon_name = %q, want the flag value", got)
	}
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		_ = rosterShowCmd.Flags().Set("format", "table")
		_ = resolveCmd.Flags().Set("wow-path", "")
	})
	err := rootCmd.Execute()
	return out.String(), err
}

const importYAML = `members:
  - user: 1
    guild: 9
characters:
  - name: Foo
    realm: Silvermoon
    guild: 9
    user: 1
    main: true
    keys:
      - dungeon: Ara-Kara
        level: 12
  - name: Bar
    realm: Area 52
    user: 1
  - name: Loner
    realm: Silvermoon
    guild: 9
`

func TestRosterImportThenShow(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "keysync.db")
	file := filepath.Join(dir, "roster.yaml")
	if err := os.WriteFile(file, []byte(importYAML), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	out, err := execute(t, "roster", "import", file, "--db", dbPath)
	if err != nil {
		t.Fatalf("roster import failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Characters: 3") {
		t.Errorf("import output missing character count:\n%s", out)
	}

	out, err = execute(t, "roster", "show", "9", "--db", dbPath, "--format", "json")
	if err != nil {
		t.Fatalf("roster show failed: %v\n%s", err, out)
	}
	var got struct {
		Entries []roster.Entry `json:"entries"`
		Summary roster.Summary `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got.Entries))
	}
	if p := got.Entries[0].Player; p == nil || p.MainCharacterName != "foo" || p.AltCount != 1 {
		t.Errorf("Expected player foo with one alt, got %+v", got.Entries[0])
	}
	if o := got.Entries[1].Orphan; o == nil || o.Name != "loner" {
		t.Errorf("Expected orphan loner, got %+v", got.Entries[1])
	}

	// The commands closed the database; it reopens cleanly with the data.
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	n, err := db.CharacterCount()
	if err != nil {
		t.Fatalf("CharacterCount failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 characters, got %d", n)
	}
}

func TestRosterShowErrorsAreReturned(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keysync.db")

	if _, err := execute(t, "roster", "show", "abc", "--db", dbPath); err == nil || !strings.Contains(err.Error(), "invalid guild id") {
		t.Errorf("Expected invalid guild id error, got %v", err)
	}
	if _, err := execute(t, "roster", "show", "9", "--db", dbPath, "--format", "xml"); err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("Expected unknown format error, got %v", err)
	}
	if _, err := execute(t, "roster", "import", filepath.Join(t.TempDir(), "missing.yaml"), "--db", dbPath); err == nil {
		t.Error("Expected error for a missing import file")
	}
}

func TestResolveListsAccountFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "World of Warcraft", "_retail_")
	present := filepath.Join(root, "WTF", "Account", "ONE", "SavedVariables", config.DefaultAddon+".lua")
	if err := os.MkdirAll(filepath.Dir(present), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(present, []byte("KeystoneSyncDB = {}"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "WTF", "Account", "TWO"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	out, err := execute(t, "resolve", "--wow-path", root)
	if err != nil {
		t.Fatalf("resolve failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, present+" (present)") {
		t.Errorf("Expected %s marked present:\n%s", present, out)
	}
	missing := filepath.Join(root, "WTF", "Account", "TWO", "SavedVariables", config.DefaultAddon+".lua")
	if !strings.Contains(out, missing+" (not written yet)") {
		t.Errorf("Expected %s marked not written:\n%s", missing, out)
	}
	if !strings.Contains(out, "1 of 2 accounts") {
		t.Errorf("Expected account summary:\n%s", out)
	}
}
