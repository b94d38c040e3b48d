package savedvars

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/guildkeys/keysync/internal/schema"
)

const fullDocument = `
KeystoneSyncSettings = {
	["minimap"] = { ["hide"] = false, ["angle"] = 212.5 },
	["announce"] = true,
}
KeystoneSyncDB = {
	["version"] = 3,
	["keys"] = {
		["Foo-Silvermoon"] = {
			["level"] = 14,
			["dungeonName"] = "Ara-Kara, City of Echoes",
			["affixes"] = { 9, 10, 152 },
			["updated"] = 1760000000,
		},
		["Bar-Area 52"] = {
			["level"] = 7,
			["dungeonName"] = "The Dawnbreaker",
		},
	},
	["history"] = {
		["Foo-Silvermoon"] = { ["level"] = 20, ["dungeonName"] = "Should Not Appear" },
	},
}
`

func TestParse_SpecScenario(t *testing.T) {
	in := `["keys"] = { ["Foo-Silvermoon"] = { ["level"] = 14, ["dungeonName"] = "Ara-Kara" } }`

	want := []schema.Keystone{
		{CharacterName: "foo", RealmSlug: "silvermoon", Level: 14, DungeonName: "Ara-Kara", IsFromBag: true},
	}
	if diff := cmp.Diff(want, Parse(in)); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_FullDocument(t *testing.T) {
	report := Scan(fullDocument)

	if !report.TableFound {
		t.Fatal("expected keys table to be found")
	}
	if report.Degraded() {
		t.Errorf("expected clean report, got truncated=%v skipped=%v", report.Truncated, report.Skipped)
	}

	want := []schema.Keystone{
		{CharacterName: "foo", RealmSlug: "silvermoon", Level: 14, DungeonName: "Ara-Kara, City of Echoes", IsFromBag: true},
		{CharacterName: "bar", RealmSlug: "area-52", Level: 7, DungeonName: "The Dawnbreaker", IsFromBag: true},
	}
	if diff := cmp.Diff(want, report.Records); diff != "" {
		t.Errorf("Scan() records mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_MalformedEntriesInterleaved(t *testing.T) {
	in := `KeystoneSyncDB = {
	["keys"] = {
		["Alpha-Silvermoon"] = { ["level"] = 10, ["dungeonName"] = "The Stonevault" },
		["NoLevel-Silvermoon"] = { ["dungeonName"] = "Cinderbrew Meadery" },
		["Beta-Area 52"] = { ["level"] = 12, ["dungeonName"] = "Mists of Tirna Scithe", ["affixes"] = { 9, 10 } },
		["StringLevel-Silvermoon"] = { ["level"] = "12", ["dungeonName"] = "Ara-Kara" },
		["NoRealm"] = { ["level"] = 4, ["dungeonName"] = "Ara-Kara" },
		["Broken-Silvermoon"] = { ["level"] = 9 ["dungeonName"] = "Ara-Kara" },
		["Scalar-Silvermoon"] = 15,
		{ ["level"] = 3, ["dungeonName"] = "Anonymous" },
		["Gamma-Azjol-Nerub"] = { level = 8, dungeonName = 'City of Threads' },
	},
}`

	report := Scan(in)

	want := []schema.Keystone{
		{CharacterName: "alpha", RealmSlug: "silvermoon", Level: 10, DungeonName: "The Stonevault", IsFromBag: true},
		{CharacterName: "beta", RealmSlug: "area-52", Level: 12, DungeonName: "Mists of Tirna Scithe", IsFromBag: true},
		{CharacterName: "gamma", RealmSlug: "azjol-nerub", Level: 8, DungeonName: "City of Threads", IsFromBag: true},
	}
	if diff := cmp.Diff(want, report.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if len(report.Skipped) != 6 {
		t.Errorf("expected 6 skipped entries, got %d: %+v", len(report.Skipped), report.Skipped)
	}
	if report.Truncated {
		t.Error("document is complete, should not be truncated")
	}
}

func TestParse_RejectsBadLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"fractional", "14.5"},
		{"zero", "0"},
		{"negative", "-3"},
		{"boolean", "true"},
		{"nil", "nil"},
		{"table", "{ 14 }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := `keys = { ["Foo-Silvermoon"] = { level = ` + tt.level + `, dungeonName = "Ara-Kara" } }`
			if got := Parse(in); len(got) != 0 {
				t.Errorf("expected no records for level %s, got %+v", tt.level, got)
			}
		})
	}
}

func TestParse_AcceptsNumberForms(t *testing.T) {
	for _, level := range []string{"14", "14.0", "0xE", "1.4e1"} {
		in := `keys = { ["Foo-Silvermoon"] = { level = ` + level + `, dungeonName = "Ara-Kara" } }`
		got := Parse(in)
		if len(got) != 1 || got[0].Level != 14 {
			t.Errorf("level %s: got %+v, want one record at level 14", level, got)
		}
	}
}

func TestParse_NoKeysTable(t *testing.T) {
	for _, in := range []string{
		"",
		"KeystoneSyncDB = { [\"version\"] = 3 }",
		"keys = 5",
		"\"keys\" is mentioned only in a string",
		"\x00\xff garbage",
	} {
		report := Scan(in)
		if report.TableFound {
			t.Errorf("Scan(%q): unexpected TableFound", in)
		}
		if report.Records == nil || len(report.Records) != 0 {
			t.Errorf("Scan(%q): expected empty non-nil records, got %#v", in, report.Records)
		}
	}
}

func TestParse_Truncated(t *testing.T) {
	in := `KeystoneSyncDB = {
	["keys"] = {
		["Foo-Silvermoon"] = { ["level"] = 14, ["dungeonName"] = "Ara-Kara" },
		["Bar-Silvermoon"] = { ["level"] = 9, ["dungeonNa`

	report := Scan(in)
	if !report.Truncated {
		t.Error("expected Truncated")
	}
	if len(report.Records) != 1 || report.Records[0].CharacterName != "foo" {
		t.Errorf("expected only the complete entry, got %+v", report.Records)
	}
}

func TestParse_TruncatedInsideString(t *testing.T) {
	in := `keys = { ["Foo-Silvermoon"] = { level = 3, dungeonName = "Ara-Kara" }, ["Bar-Silvermoon"] = { level = 4, dungeonName = "Unterm`

	got := Parse(in)
	if len(got) != 1 || got[0].CharacterName != "foo" {
		t.Errorf("expected only foo, got %+v", got)
	}
}

func TestParse_DuplicateIdentityLastWins(t *testing.T) {
	in := `keys = {
		["Foo-Silvermoon"] = { level = 3, dungeonName = "Old" },
		["Bar-Silvermoon"] = { level = 5, dungeonName = "Other" },
		["FOO-Silvermoon"] = { level = 12, dungeonName = "New" },
	}`

	want := []schema.Keystone{
		{CharacterName: "foo", RealmSlug: "silvermoon", Level: 12, DungeonName: "New", IsFromBag: true},
		{CharacterName: "bar", RealmSlug: "silvermoon", Level: 5, DungeonName: "Other", IsFromBag: true},
	}
	if diff := cmp.Diff(want, Parse(in)); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_LexicalForms(t *testing.T) {
	in := `-- written by the client
--[[ block
comment with ["keys"] = { } inside ]]
keys = {
	['Zoë-Kel\'Thuzad'] = { ["level"] = 11; ["dungeonName"] = "Grim \"Batol\"\t" };
	["Qux-Argent Dawn"] = { ["level"] = 2, ["dungeonName"] = [[Siege of
Boralus]] },
}`

	want := []schema.Keystone{
		{CharacterName: "zoë", RealmSlug: "kelthuzad", Level: 11, DungeonName: "Grim \"Batol\"\t", IsFromBag: true},
		{CharacterName: "qux", RealmSlug: "argent-dawn", Level: 2, DungeonName: "Siege of\nBoralus", IsFromBag: true},
	}
	if diff := cmp.Diff(want, Parse(in)); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Deterministic(t *testing.T) {
	first := Parse(fullDocument)
	second := Parse(fullDocument)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-parsing changed the result (-first +second):\n%s", diff)
	}
}

func TestCheckComplete(t *testing.T) {
	if err := CheckComplete(fullDocument); err != nil {
		t.Errorf("CheckComplete(full) = %v, want nil", err)
	}

	cut := fullDocument[:strings.Index(fullDocument, `["history"]`)]
	if err := CheckComplete(cut); err == nil {
		t.Error("CheckComplete(truncated) = nil, want error")
	}
}

func FuzzScan(f *testing.F) {
	f.Add(fullDocument)
	f.Add(`["keys"] = { ["Foo-Silvermoon"] = { ["level"] = 14, ["dungeonName"] = "Ara-Kara" } }`)
	f.Add(`keys = { { { { [`)
	f.Add(`keys={["a-b"]={level=1,dungeonName="\`)

	f.Fuzz(func(t *testing.T, in string) {
		report := Scan(in)
		for _, rec := range report.Records {
			if err := rec.Validate(); err != nil {
				t.Fatalf("Scan produced invalid record %+v: %v", rec, err)
			}
			if !rec.IsFromBag {
				t.Fatalf("record not marked as bag key: %+v", rec)
			}
		}
	})
}
