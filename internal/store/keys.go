package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guildkeys/keysync/internal/roster"
	"github.com/guildkeys/keysync/internal/schema"
)

// ReplaceBagKeys applies one ingest batch and returns the number of records
// written.
//
// For every record the character is looked up by (name, realm) and created
// as an active, unowned character if unknown. Its bag-sourced keys are
// deleted and replaced by the record's key, and last_sync is set. Keys that
// did not come from a bag are kept. The whole batch is one transaction, and
// applying the same batch twice leaves the same state.
func (s *Store) ReplaceBagKeys(ctx context.Context, records []schema.Keystone) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO characters (name, realm, is_active, last_sync)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(name, realm) DO UPDATE SET last_sync = excluded.last_sync
		RETURNING id`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare character upsert: %w", err)
	}
	defer upsert.Close()

	drop, err := tx.PrepareContext(ctx, `DELETE FROM mythic_keys WHERE character_id = ? AND is_from_bag = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare key delete: %w", err)
	}
	defer drop.Close()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO mythic_keys (character_id, dungeon, level, affixes, is_from_bag, completed, created_at)
		VALUES (?, ?, ?, '[]', 1, 0, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare key insert: %w", err)
	}
	defer insert.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range records {
		var id int64
		if err := upsert.QueryRowContext(ctx, r.CharacterName, r.RealmSlug, now).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to upsert character %s: %w", r.Identity(), err)
		}
		if _, err := drop.ExecContext(ctx, id); err != nil {
			return 0, fmt.Errorf("failed to clear bag keys for %s: %w", r.Identity(), err)
		}
		if _, err := insert.ExecContext(ctx, id, r.DungeonName, r.Level, now); err != nil {
			return 0, fmt.Errorf("failed to insert key for %s: %w", r.Identity(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(records), nil
}

// AddKey stores a key that did not come from a bag scan, such as an imported
// or completed run.
func (s *Store) AddKey(ctx context.Context, key *roster.MythicKey) (int64, error) {
	affixes := key.Affixes
	if affixes == nil {
		affixes = []string{}
	}
	affixesJSON, err := json.Marshal(affixes)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal affixes: %w", err)
	}

	created := key.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	var id int64
	err = s.conn.QueryRowContext(ctx, `
		INSERT INTO mythic_keys (character_id, dungeon, level, affixes, is_from_bag, completed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		key.CharacterID,
		key.Dungeon,
		key.Level,
		string(affixesJSON),
		key.IsFromBag,
		key.Completed,
		created.UTC().Format(time.RFC3339Nano),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add key for character %d: %w", key.CharacterID, err)
	}
	return id, nil
}
