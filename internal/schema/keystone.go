// Package schema provides the record types exchanged between the sync agent
// and the roster server.
package schema

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Keystone is a mythic keystone currently held by one character, as reported
// by the addon. It only lives for one parse-and-sync cycle.
type Keystone struct {
	// CharacterName is the lower-cased character name.
	CharacterName string `json:"characterName"`
	// RealmSlug is the slugified realm name (see Slugify).
	RealmSlug   string `json:"realmSlug"`
	Level       int    `json:"level"`
	DungeonName string `json:"dungeonName"`
	// IsFromBag is always true for addon records: the addon only sees the
	// keystone in the character's bags, never run history.
	IsFromBag bool `json:"isFromBag"`
}

// Identity is the join key of a keystone record.
type Identity struct {
	Name  string
	Realm string
}

// String returns the identity as "name-realm".
func (id Identity) String() string {
	return id.Name + "-" + id.Realm
}

// Identity returns the (character, realm) key of the record.
func (k Keystone) Identity() Identity {
	return Identity{Name: k.CharacterName, Realm: k.RealmSlug}
}

// Validate checks that a record is fit to be stored.
func (k Keystone) Validate() error {
	if k.CharacterName == "" {
		return fmt.Errorf("characterName is required")
	}
	if k.RealmSlug == "" {
		return fmt.Errorf("realmSlug is required")
	}
	if Slugify(k.RealmSlug) != k.RealmSlug {
		return fmt.Errorf("realmSlug %q is not a slug", k.RealmSlug)
	}
	if k.Level < 1 {
		return fmt.Errorf("level must be at least 1 (got %d)", k.Level)
	}
	if strings.TrimSpace(k.DungeonName) == "" {
		return fmt.Errorf("dungeonName is required")
	}
	return nil
}

var lower = cases.Lower(language.Und)

// NormalizeName lower-cases a character name for use as a join key.
func NormalizeName(name string) string {
	return lower.String(strings.TrimSpace(name))
}

// Slugify turns a realm display name into its slug: lower-cased, whitespace
// runs become a hyphen, anything outside [a-z0-9-] is dropped, hyphen runs
// collapse to one and leading/trailing hyphens are trimmed.
//
// Slugify is idempotent.
func Slugify(realm string) string {
	var b strings.Builder
	b.Grow(len(realm))

	lastHyphen := true // suppresses leading hyphens
	for _, r := range strings.ToLower(realm) {
		switch {
		case unicode.IsSpace(r) || r == '-':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		}
	}

	return strings.TrimSuffix(b.String(), "-")
}
