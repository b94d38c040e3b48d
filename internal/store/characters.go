package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guildkeys/keysync/internal/roster"
)

// UpsertCharacter inserts or updates a character keyed by (name, realm) and
// returns its id. Ownership, guild and flags are overwritten; last_sync and
// keys are left alone.
func (s *Store) UpsertCharacter(c *roster.CanonicalCharacter) (int64, error) {
	return s.UpsertCharacterContext(context.Background(), c)
}

// UpsertCharacterContext inserts or updates a character with context support.
func (s *Store) UpsertCharacterContext(ctx context.Context, c *roster.CanonicalCharacter) (int64, error) {
	if c.Name == "" || c.Realm == "" {
		return 0, fmt.Errorf("invalid character: name and realm are required")
	}

	query := `
	INSERT INTO characters (name, realm, guild_id, user_id, is_main, is_active, last_sync)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name, realm) DO UPDATE SET
		guild_id = excluded.guild_id,
		user_id = excluded.user_id,
		is_main = excluded.is_main,
		is_active = excluded.is_active
	RETURNING id
	`

	var id int64
	err := s.conn.QueryRowContext(ctx, query,
		c.Name,
		c.Realm,
		int64ToNull(c.GuildID),
		int64ToNull(c.UserID),
		c.IsMain,
		c.IsActive,
		timeToNullString(c.LastSync),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert character %s-%s: %w", c.Name, c.Realm, err)
	}
	return id, nil
}

// AddGuildMember records that a user belongs to a guild. Adding an existing
// membership is a no-op.
func (s *Store) AddGuildMember(userID, guildID int64) error {
	return s.AddGuildMemberContext(context.Background(), userID, guildID)
}

// AddGuildMemberContext records a guild membership with context support.
func (s *Store) AddGuildMemberContext(ctx context.Context, userID, guildID int64) error {
	query := `INSERT INTO guild_members (user_id, guild_id) VALUES (?, ?) ON CONFLICT DO NOTHING`
	if _, err := s.conn.ExecContext(ctx, query, userID, guildID); err != nil {
		return fmt.Errorf("failed to add user %d to guild %d: %w", userID, guildID, err)
	}
	return nil
}

// GuildRoster returns the active characters of a guild with their keys,
// ordered by character id. A character belongs to the roster when it is
// parked in the guild or when its owner is a member of the guild, so alts
// living in other guilds are included.
func (s *Store) GuildRoster(ctx context.Context, guildID int64) ([]roster.CanonicalCharacter, error) {
	where := `
		c.is_active = 1
		AND (c.guild_id = ?
		     OR c.user_id IN (SELECT user_id FROM guild_members WHERE guild_id = ?))`

	rows, err := s.conn.QueryContext(ctx, `
		SELECT c.id, c.name, c.realm, c.guild_id, c.user_id, c.is_main, c.is_active, c.last_sync
		FROM characters c
		WHERE `+where+`
		ORDER BY c.id ASC`, guildID, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster for guild %d: %w", guildID, err)
	}
	characters, err := scanCharacters(rows)
	if err != nil {
		return nil, err
	}

	keyRows, err := s.conn.QueryContext(ctx, `
		SELECT k.id, k.character_id, k.dungeon, k.level, k.affixes, k.is_from_bag, k.completed, k.created_at
		FROM mythic_keys k
		JOIN characters c ON c.id = k.character_id
		WHERE `+where+`
		ORDER BY k.character_id ASC, k.id ASC`, guildID, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys for guild %d: %w", guildID, err)
	}
	keys, err := scanKeys(keyRows)
	if err != nil {
		return nil, err
	}

	attachKeys(characters, keys)
	return characters, nil
}

// CharacterByName looks up one character by (name, realm), keys included.
// It returns ErrNotFound when no such character exists.
func (s *Store) CharacterByName(ctx context.Context, name, realm string) (*roster.CanonicalCharacter, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, realm, guild_id, user_id, is_main, is_active, last_sync
		FROM characters
		WHERE name = ? AND realm = ?`, name, realm)
	if err != nil {
		return nil, fmt.Errorf("failed to query character %s-%s: %w", name, realm, err)
	}
	characters, err := scanCharacters(rows)
	if err != nil {
		return nil, err
	}
	if len(characters) == 0 {
		return nil, fmt.Errorf("character %s-%s: %w", name, realm, ErrNotFound)
	}

	keyRows, err := s.conn.QueryContext(ctx, `
		SELECT id, character_id, dungeon, level, affixes, is_from_bag, completed, created_at
		FROM mythic_keys
		WHERE character_id = ?
		ORDER BY id ASC`, characters[0].ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys for %s-%s: %w", name, realm, err)
	}
	keys, err := scanKeys(keyRows)
	if err != nil {
		return nil, err
	}

	attachKeys(characters, keys)
	return &characters[0], nil
}

// CharacterCount returns the number of characters in the database.
func (s *Store) CharacterCount() (int, error) {
	return s.CharacterCountContext(context.Background())
}

// CharacterCountContext returns the number of characters with context support.
func (s *Store) CharacterCountContext(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM characters").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get character count: %w", err)
	}
	return count, nil
}

// KeyCount returns the number of mythic keys in the database.
func (s *Store) KeyCount() (int, error) {
	return s.KeyCountContext(context.Background())
}

// KeyCountContext returns the number of mythic keys with context support.
func (s *Store) KeyCountContext(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM mythic_keys").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get key count: %w", err)
	}
	return count, nil
}

func scanCharacters(rows *sql.Rows) ([]roster.CanonicalCharacter, error) {
	defer rows.Close()

	characters := []roster.CanonicalCharacter{}
	for rows.Next() {
		var c roster.CanonicalCharacter
		var guildID, userID sql.NullInt64
		var lastSync sql.NullString

		if err := rows.Scan(&c.ID, &c.Name, &c.Realm, &guildID, &userID, &c.IsMain, &c.IsActive, &lastSync); err != nil {
			return nil, fmt.Errorf("failed to scan character: %w", err)
		}
		c.GuildID = nullToInt64(guildID)
		c.UserID = nullToInt64(userID)
		c.LastSync = nullStringToTime(lastSync)
		c.MythicKeys = []roster.MythicKey{}
		characters = append(characters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating characters: %w", err)
	}
	return characters, nil
}

func scanKeys(rows *sql.Rows) ([]roster.MythicKey, error) {
	defer rows.Close()

	var keys []roster.MythicKey
	for rows.Next() {
		var k roster.MythicKey
		var affixes, createdAt string

		if err := rows.Scan(&k.ID, &k.CharacterID, &k.Dungeon, &k.Level, &affixes, &k.IsFromBag, &k.Completed, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		if affixes != "" && affixes != "null" {
			if err := json.Unmarshal([]byte(affixes), &k.Affixes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal affixes: %w", err)
			}
		}
		if k.Affixes == nil {
			k.Affixes = []string{}
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			k.CreatedAt = t
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}
	return keys, nil
}

func attachKeys(characters []roster.CanonicalCharacter, keys []roster.MythicKey) {
	index := make(map[int64]int, len(characters))
	for i, c := range characters {
		index[c.ID] = i
	}
	for _, k := range keys {
		if i, ok := index[k.CharacterID]; ok {
			characters[i].MythicKeys = append(characters[i].MythicKeys, k)
		}
	}
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
