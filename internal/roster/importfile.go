package roster

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/guildkeys/keysync/internal/schema"
)

// ImportFile is a hand-maintained roster used to seed or correct guild data.
//
//	members:
//	  - user: 1
//	    guild: 9
//	characters:
//	  - name: Foo
//	    realm: Silvermoon
//	    guild: 9
//	    user: 1
//	    main: true
//	    keys:
//	      - dungeon: Ara-Kara
//	        level: 12
//	        affixes: [Tyrannical]
type ImportFile struct {
	Members    []ImportMember    `yaml:"members"`
	Characters []ImportCharacter `yaml:"characters"`
}

// ImportMember is one guild membership.
type ImportMember struct {
	User  int64 `yaml:"user"`
	Guild int64 `yaml:"guild"`
}

// ImportCharacter is one character row. Active defaults to true.
type ImportCharacter struct {
	Name   string      `yaml:"name"`
	Realm  string      `yaml:"realm"`
	Guild  *int64      `yaml:"guild"`
	User   *int64      `yaml:"user"`
	Main   bool        `yaml:"main"`
	Active *bool       `yaml:"active"`
	Keys   []ImportKey `yaml:"keys"`
}

// ImportKey is a key recorded outside the addon, such as a completed run.
type ImportKey struct {
	Dungeon   string   `yaml:"dungeon"`
	Level     int      `yaml:"level"`
	Affixes   []string `yaml:"affixes"`
	Completed bool     `yaml:"completed"`
	FromBag   bool     `yaml:"fromBag"`
}

// LoadImport decodes and validates an import file. Unknown fields are
// rejected so typos do not silently drop data. Character names and realms
// are normalized the same way the agent normalizes them.
func LoadImport(r io.Reader) (*ImportFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f ImportFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to decode import file: %w", err)
	}

	for i := range f.Members {
		if f.Members[i].User <= 0 || f.Members[i].Guild <= 0 {
			return nil, fmt.Errorf("members[%d]: user and guild must be positive", i)
		}
	}
	for i := range f.Characters {
		c := &f.Characters[i]
		c.Name = schema.NormalizeName(c.Name)
		c.Realm = schema.Slugify(c.Realm)
		if c.Name == "" || c.Realm == "" {
			return nil, fmt.Errorf("characters[%d]: name and realm are required", i)
		}
		for j, k := range c.Keys {
			if k.Dungeon == "" || k.Level < 1 {
				return nil, fmt.Errorf("characters[%d].keys[%d]: dungeon and a level of at least 1 are required", i, j)
			}
		}
	}
	return &f, nil
}

// Character converts the row to a CanonicalCharacter without keys.
func (c ImportCharacter) Character() CanonicalCharacter {
	active := true
	if c.Active != nil {
		active = *c.Active
	}
	return CanonicalCharacter{
		Name:     c.Name,
		Realm:    c.Realm,
		GuildID:  c.Guild,
		UserID:   c.User,
		IsMain:   c.Main,
		IsActive: active,
	}
}
