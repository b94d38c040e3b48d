package roster

// Aggregate groups the active characters of a roster by owning user.
//
// Characters without a user become orphan entries at their own position. A
// user's group is emitted where its first character appears. The main is the
// first character flagged IsMain, or the first member when none is flagged.
// A character repeated in the input, by ID or by (name, realm), is only
// counted the first time. Characters with a zero ID are matched by name and
// realm alone.
//
// Aggregate does no I/O and never modifies its input.
func Aggregate(characters []CanonicalCharacter) []Entry {
	type group struct {
		entry   int
		members []*CanonicalCharacter
	}

	var (
		entries = make([]Entry, 0, len(characters))
		groups  = make(map[int64]*group)
		order   []*group
		seenID  = make(map[int64]bool, len(characters))
		seen    = make(map[identity]bool, len(characters))
	)

	for i := range characters {
		c := &characters[i]
		if !c.IsActive {
			continue
		}
		id := identity{name: c.Name, realm: c.Realm}
		if seen[id] || (c.ID != 0 && seenID[c.ID]) {
			continue
		}
		seen[id] = true
		if c.ID != 0 {
			seenID[c.ID] = true
		}

		if c.UserID == nil {
			entries = append(entries, Entry{
				Kind:   KindOrphan,
				Orphan: &OrphanEntry{Name: c.Name, Keys: copyKeys(c.MythicKeys)},
			})
			continue
		}

		g, ok := groups[*c.UserID]
		if !ok {
			// Reserve the slot; filled in once every member is known.
			g = &group{entry: len(entries)}
			groups[*c.UserID] = g
			order = append(order, g)
			entries = append(entries, Entry{Kind: KindPlayer})
		}
		g.members = append(g.members, c)
	}

	for _, g := range order {
		entries[g.entry].Player = mergePlayer(g.members)
	}
	return entries
}

// identity is the globally unique (name, realm) pair of a character.
type identity struct {
	name  string
	realm string
}

func mergePlayer(members []*CanonicalCharacter) *PlayerAggregate {
	var main *CanonicalCharacter
	var extra []string
	total := 0
	for _, c := range members {
		total += len(c.MythicKeys)
		if !c.IsMain {
			continue
		}
		if main == nil {
			main = c
		} else {
			extra = append(extra, c.Name)
		}
	}
	if main == nil {
		main = members[0]
	}

	return &PlayerAggregate{
		UserID:            *main.UserID,
		MainCharacterName: main.Name,
		AltCount:          len(members) - 1,
		Keys:              copyKeys(main.MythicKeys),
		HasAltKeys:        total > len(main.MythicKeys),
		TotalKeys:         total,
		ExtraMains:        extra,
	}
}

func copyKeys(keys []MythicKey) []MythicKey {
	out := make([]MythicKey, len(keys))
	copy(out, keys)
	return out
}

// Summarize counts players, orphans, characters and keys in an aggregated
// roster.
func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		switch e.Kind {
		case KindPlayer:
			s.Players++
			s.Characters += e.Player.AltCount + 1
			s.Keys += e.Player.TotalKeys
		case KindOrphan:
			s.Orphans++
			s.Characters++
			s.Keys += len(e.Orphan.Keys)
		}
	}
	return s
}
