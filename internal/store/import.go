package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guildkeys/keysync/internal/roster"
)

// ImportResult counts what Import wrote.
type ImportResult struct {
	Members    int
	Characters int
	Keys       int
}

// Import applies a roster import file in one transaction. Characters are
// upserted by (name, realm); listed keys are added and existing keys are
// kept. Running the same file twice adds its keys twice.
func (s *Store) Import(ctx context.Context, f *roster.ImportFile) (ImportResult, error) {
	var res ImportResult

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, m := range f.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO guild_members (user_id, guild_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			m.User, m.Guild); err != nil {
			return res, fmt.Errorf("failed to add user %d to guild %d: %w", m.User, m.Guild, err)
		}
		res.Members++
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, row := range f.Characters {
		c := row.Character()
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO characters (name, realm, guild_id, user_id, is_main, is_active)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name, realm) DO UPDATE SET
				guild_id = excluded.guild_id,
				user_id = excluded.user_id,
				is_main = excluded.is_main,
				is_active = excluded.is_active
			RETURNING id`,
			c.Name, c.Realm, int64ToNull(c.GuildID), int64ToNull(c.UserID), c.IsMain, c.IsActive,
		).Scan(&id)
		if err != nil {
			return res, fmt.Errorf("failed to import character %s-%s: %w", c.Name, c.Realm, err)
		}
		res.Characters++

		for _, k := range row.Keys {
			affixes := k.Affixes
			if affixes == nil {
				affixes = []string{}
			}
			affixesJSON, err := json.Marshal(affixes)
			if err != nil {
				return res, fmt.Errorf("failed to marshal affixes: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO mythic_keys (character_id, dungeon, level, affixes, is_from_bag, completed, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, k.Dungeon, k.Level, string(affixesJSON), k.FromBag, k.Completed, now); err != nil {
				return res, fmt.Errorf("failed to import key for %s-%s: %w", c.Name, c.Realm, err)
			}
			res.Keys++
		}
	}

	if err := tx.Commit(); err != nil {
		return ImportResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res, nil
}
