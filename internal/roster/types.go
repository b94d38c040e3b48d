// Package roster merges a guild's characters into per-player views.
package roster

import "time"

// MythicKey is one keystone held by a character.
type MythicKey struct {
	ID          int64     `json:"id" yaml:"id,omitempty"`
	CharacterID int64     `json:"characterId" yaml:"characterId,omitempty"`
	Dungeon     string    `json:"dungeon" yaml:"dungeon"`
	Level       int       `json:"level" yaml:"level"`
	Affixes     []string  `json:"affixes" yaml:"affixes,omitempty"`
	IsFromBag   bool      `json:"isFromBag" yaml:"isFromBag"`
	Completed   bool      `json:"completed" yaml:"completed"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt,omitempty"`
}

// CanonicalCharacter is the server-owned record of one in-game character.
// (Name, Realm) is globally unique. GuildID and UserID are optional.
type CanonicalCharacter struct {
	ID         int64       `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	Realm      string      `json:"realm" yaml:"realm"`
	GuildID    *int64      `json:"guildId,omitempty" yaml:"guildId,omitempty"`
	UserID     *int64      `json:"userId,omitempty" yaml:"userId,omitempty"`
	IsMain     bool        `json:"isMain" yaml:"isMain"`
	IsActive   bool        `json:"isActive" yaml:"isActive"`
	MythicKeys []MythicKey `json:"mythicKeys" yaml:"mythicKeys,omitempty"`
	LastSync   *time.Time  `json:"lastSync,omitempty" yaml:"lastSync,omitempty"`
}

// PlayerAggregate is the merged view of all characters owned by one user.
type PlayerAggregate struct {
	UserID            int64       `json:"userId"`
	MainCharacterName string      `json:"mainCharacterName"`
	AltCount          int         `json:"altCount"`
	Keys              []MythicKey `json:"keys"`
	HasAltKeys        bool        `json:"hasAltKeys"`
	TotalKeys         int         `json:"totalKeys"`

	// ExtraMains names group members that were also flagged main but lost to
	// an earlier one.
	ExtraMains []string `json:"extraMains,omitempty"`
}

// OrphanEntry is an active character that no user has claimed.
type OrphanEntry struct {
	Name string      `json:"name"`
	Keys []MythicKey `json:"keys"`
}

// Kind discriminates Entry.
type Kind string

const (
	KindPlayer Kind = "player"
	KindOrphan Kind = "orphan"
)

// Entry is one element of an aggregated roster. Exactly one of Player and
// Orphan is set, matching Kind.
type Entry struct {
	Kind   Kind             `json:"kind"`
	Player *PlayerAggregate `json:"player,omitempty"`
	Orphan *OrphanEntry     `json:"orphan,omitempty"`
}

// Summary counts an aggregated roster for logs and API responses.
type Summary struct {
	Players    int `json:"players"`
	Orphans    int `json:"orphans"`
	Characters int `json:"characters"`
	Keys       int `json:"keys"`
}

// Ptr returns a pointer to v, for optional ID fields.
func Ptr[T any](v T) *T {
	return &v
}
