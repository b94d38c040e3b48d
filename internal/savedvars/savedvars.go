// Package savedvars extracts keystone records from an addon SavedVariables
// file: Lua table text written by the game client, possibly mid-write or
// truncated, with unrelated tables around the one we care about.
package savedvars

import (
	"fmt"
	"math"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/guildkeys/keysync/internal/schema"
)

// KeysTable is the sentinel key of the table holding one entry per character.
const KeysTable = "keys"

const (
	fieldLevel   = "level"
	fieldDungeon = "dungeonName"
)

// Skip describes an entry that was dropped.
type Skip struct {
	Key    string
	Reason string
	// Offset is the byte offset of the entry in the input.
	Offset int
}

// Report is the full outcome of scanning one document.
type Report struct {
	Records []schema.Keystone
	// TableFound is false when the document has no keys table at all.
	TableFound bool
	// Truncated is set when input ended before the keys table closed.
	Truncated bool
	Skipped   []Skip
}

// Degraded reports whether anything in the document had to be ignored.
func (r Report) Degraded() bool {
	return r.Truncated || len(r.Skipped) > 0
}

// Parse returns the keystone records found in raw. It never fails; a
// document it cannot make sense of yields no records.
func Parse(raw string) []schema.Keystone {
	return Scan(raw).Records
}

// Scan is Parse with diagnostics.
func Scan(raw string) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			report = Report{
				Records: []schema.Keystone{},
				Skipped: []Skip{{Reason: fmt.Sprintf("parser panic: %v", r)}},
			}
		}
	}()

	p := newParser(raw)
	if !p.seekTable(KeysTable) {
		return Report{Records: []schema.Keystone{}}
	}

	report.TableFound = true
	entries, closed := p.readEntries(func(key, reason string, pos int) {
		report.Skipped = append(report.Skipped, Skip{Key: key, Reason: reason, Offset: pos})
	})
	report.Truncated = !closed

	report.Records = make([]schema.Keystone, 0, len(entries))
	index := make(map[schema.Identity]int, len(entries))
	for _, e := range entries {
		rec, reason := toRecord(e)
		if reason != "" {
			report.Skipped = append(report.Skipped, Skip{Key: e.key, Reason: reason, Offset: e.pos})
			continue
		}
		// Same character twice: the later assignment wins, as it would
		// when the game client loads the file.
		if i, dup := index[rec.Identity()]; dup {
			report.Records[i] = rec
			continue
		}
		index[rec.Identity()] = len(report.Records)
		report.Records = append(report.Records, rec)
	}
	return report
}

// toRecord validates one entry. A non-empty reason means it was rejected.
func toRecord(e entry) (schema.Keystone, string) {
	name, realm, ok := strings.Cut(e.key, "-")
	if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(realm) == "" {
		return schema.Keystone{}, "key is not Name-Realm"
	}

	level, ok := e.fields[fieldLevel]
	if !ok || level.kind != valueNumber {
		return schema.Keystone{}, "missing numeric level"
	}
	if level.num != math.Trunc(level.num) || level.num < 1 || level.num > math.MaxInt32 {
		return schema.Keystone{}, fmt.Sprintf("level %v is not a positive integer", level.num)
	}

	dungeon, ok := e.fields[fieldDungeon]
	if !ok || dungeon.kind != valueString || strings.TrimSpace(dungeon.str) == "" {
		return schema.Keystone{}, "missing dungeon name"
	}

	rec := schema.Keystone{
		CharacterName: schema.NormalizeName(name),
		RealmSlug:     schema.Slugify(realm),
		Level:         int(level.num),
		DungeonName:   dungeon.str,
		IsFromBag:     true,
	}
	if rec.RealmSlug == "" {
		return schema.Keystone{}, "realm has no slug characters"
	}
	return rec, ""
}

// CheckComplete compiles raw as a Lua chunk without running it and returns
// the syntax error, if any. The game client writes SavedVariables as a
// sequence of global assignments, so a file caught mid-write fails here even
// when Scan still recovers most entries.
func CheckComplete(raw string) error {
	l := lua.NewState()
	if err := lua.LoadString(l, raw); err != nil {
		return fmt.Errorf("savedvars: document does not compile: %w", err)
	}
	return nil
}
