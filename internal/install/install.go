// Package install locates the World of Warcraft retail user-data root and
// the addon SavedVariables files beneath it.
package install

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Leaf is the directory name of the retail game root.
const Leaf = "_retail_"

// ErrNotFound is returned by Resolve when no candidate directory exists.
// The game may simply not be installed yet; callers retry.
var ErrNotFound = errors.New("install: World of Warcraft retail directory not found")

// env is what candidate generation reads from the host. Tests substitute it.
type env struct {
	goos     string
	home     string
	getenv   func(string) string
	registry func() (string, error)
}

func hostEnv() env {
	home, _ := os.UserHomeDir()
	return env{
		goos:     runtime.GOOS,
		home:     home,
		getenv:   os.Getenv,
		registry: registryInstallPath,
	}
}

// Candidates returns the directories Resolve probes, in order: the override
// (when set), the platform defaults, then on Windows the install path
// recorded in the registry. Duplicates are removed.
func Candidates(override string) []string {
	return hostEnv().candidates(override)
}

func (e env) candidates(override string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" {
			return
		}
		p = withLeaf(p)
		key := p
		if e.goos == "windows" {
			key = strings.ToLower(p)
		}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, p)
	}

	add(strings.TrimSpace(override))
	for _, p := range e.defaults() {
		add(p)
	}
	if e.goos == "windows" && e.registry != nil {
		if p, err := e.registry(); err == nil {
			add(p)
		}
	}
	return out
}

func (e env) defaults() []string {
	const game = "World of Warcraft"
	switch e.goos {
	case "windows":
		var out []string
		for _, v := range []string{"ProgramFiles(x86)", "ProgramFiles"} {
			if dir := e.getenv(v); dir != "" {
				out = append(out, filepath.Join(dir, game))
			}
		}
		return append(out,
			`C:\Program Files (x86)\World of Warcraft`,
			`C:\Program Files\World of Warcraft`,
		)
	case "darwin":
		out := []string{filepath.Join("/Applications", game)}
		if e.home != "" {
			out = append(out, filepath.Join(e.home, "Applications", game))
		}
		return out
	default:
		if e.home == "" {
			return nil
		}
		// Wine and Lutris prefixes.
		return []string{
			filepath.Join(e.home, "Games", "world-of-warcraft", "drive_c", "Program Files (x86)", game),
			filepath.Join(e.home, ".wine", "drive_c", "Program Files (x86)", game),
		}
	}
}

// withLeaf appends the retail leaf unless path already ends with it.
func withLeaf(path string) string {
	path = strings.TrimRight(path, `/\`)
	if strings.EqualFold(filepath.Base(path), Leaf) {
		return path
	}
	return filepath.Join(path, Leaf)
}

// Resolve returns the first candidate directory that exists.
func Resolve(override string) (string, error) {
	return resolve(Candidates(override))
}

func resolve(candidates []string) (string, error) {
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err == nil && info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNotFound, strings.Join(candidates, ", "))
}

// AccountDirs lists the per-account directories under root/WTF/Account,
// sorted. A missing WTF tree yields an empty list.
func AccountDirs(root string) ([]string, error) {
	base := filepath.Join(root, "WTF", "Account")
	entries, err := os.ReadDir(base)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts in %s: %w", base, err)
	}

	dirs := []string{}
	for _, e := range entries {
		// The account-wide SavedVariables directory sits next to the accounts.
		if !e.IsDir() || e.Name() == "SavedVariables" {
			continue
		}
		dirs = append(dirs, filepath.Join(base, e.Name()))
	}
	sort.Strings(dirs)
	return dirs, nil
}

// SavedVariablesPath returns where the game writes addon data for one
// account. The file need not exist.
func SavedVariablesPath(accountDir, addon string) string {
	return filepath.Join(accountDir, "SavedVariables", addon+".lua")
}

// SavedVariablesFiles returns the existing SavedVariables files for addon
// across every account under root, sorted.
func SavedVariablesFiles(root, addon string) ([]string, error) {
	if addon == "" {
		return nil, fmt.Errorf("addon name is required")
	}
	pattern := filepath.Join(root, "WTF", "Account", "*", "SavedVariables", addon+".lua")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid addon name %q: %w", addon, err)
	}
	sort.Strings(matches)
	return matches, nil
}
