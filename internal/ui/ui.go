// Package ui renders styled terminal output for the keysync CLI.
package ui

import (
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/guildkeys/keysync/internal/roster"
)

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	colorPass   = lipgloss.AdaptiveColor{Light: "#15803D", Dark: "#4ADE80"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}

	accentStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(colorPass).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(colorFail).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	headerStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// styled is false when stdout is not a terminal or NO_COLOR is set.
var styled = term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

// IsTerminal reports whether styled output is enabled.
func IsTerminal() bool {
	return styled
}

// SetStyled forces styling on or off.
func SetStyled(on bool) {
	styled = on
}

func render(s lipgloss.Style, text string) string {
	if !styled {
		return text
	}
	return s.Render(text)
}

// RenderAccent highlights headings and progress markers.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass marks success.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn marks a recoverable problem.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail marks an error.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderMuted de-emphasizes secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RosterTable renders an aggregated roster as a table, one row per entry.
func RosterTable(entries []roster.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case roster.KindPlayer:
			p := e.Player
			main := p.MainCharacterName
			if len(p.ExtraMains) > 0 {
				main += " (!)"
			}
			rows = append(rows, []string{
				"player",
				main,
				strconv.Itoa(p.AltCount),
				keyList(p.Keys),
				strconv.Itoa(p.TotalKeys),
			})
		case roster.KindOrphan:
			rows = append(rows, []string{
				"orphan",
				e.Orphan.Name,
				"-",
				keyList(e.Orphan.Keys),
				strconv.Itoa(len(e.Orphan.Keys)),
			})
		}
	}

	t := table.New().
		Headers("KIND", "MAIN", "ALTS", "KEYS", "TOTAL").
		Rows(rows...).
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow && styled {
				return headerStyle
			}
			return cellStyle
		})
	if !styled {
		t = t.BorderStyle(lipgloss.NewStyle())
	} else {
		t = t.BorderStyle(mutedStyle)
	}
	return t.Render()
}

func keyList(keys []roster.MythicKey) string {
	if len(keys) == 0 {
		return "-"
	}
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k.Dungeon + " +" + strconv.Itoa(k.Level)
	}
	return out
}
