package deck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gosimple/slug"
)

const (
	FileEvents   = "deck_events.fr.v11.json"
	FileMisc     = "deck_misc.fr.v11.json"
	FileLogic    = "deck_logic.v11.after_duration_patches.v2.json"
	FileTools    = "tools.v2.json"
	FileProfiles = "profiles_fr.json"
)

var requiredFiles = []string{FileEvents, FileMisc, FileLogic, FileTools, FileProfiles}

// Load reads and validates the datasets in dir. Any missing file, duplicate id
// or misplaced pile is an error; callers treat it as fatal at startup.
func Load(dir string) (*Dataset, error) {
	for _, f := range requiredFiles {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			return nil, fmt.Errorf("missing required file %s in %s: %w", f, dir, err)
		}
	}

	events, err := readCards(filepath.Join(dir, FileEvents))
	if err != nil {
		return nil, err
	}
	misc, err := readCards(filepath.Join(dir, FileMisc))
	if err != nil {
		return nil, err
	}
	logic, err := os.ReadFile(filepath.Join(dir, FileLogic))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", FileLogic, err)
	}
	tools, err := os.ReadFile(filepath.Join(dir, FileTools))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", FileTools, err)
	}
	profiles, err := readProfiles(filepath.Join(dir, FileProfiles))
	if err != nil {
		return nil, err
	}

	if err := ensureUniqueIDs(cardIDs(events), "deck_events"); err != nil {
		return nil, err
	}
	if err := ensureUniqueIDs(cardIDs(misc), "deck_misc"); err != nil {
		return nil, err
	}
	if err := verifyPiles(events, "deck_events", PileEvent); err != nil {
		return nil, err
	}
	if err := verifyPiles(misc, "deck_misc", ""); err != nil {
		return nil, err
	}
	pids := make([]string, len(profiles))
	for i, p := range profiles {
		pids[i] = p.ID
	}
	if err := ensureUniqueIDs(pids, "profiles"); err != nil {
		return nil, err
	}

	fillSlugs(events)
	fillSlugs(misc)

	return &Dataset{
		Events:   events,
		Misc:     misc,
		Logic:    json.RawMessage(logic),
		Tools:    json.RawMessage(tools),
		Profiles: profiles,
	}, nil
}

// nodesOf accepts either a bare array or an object wrapping it in "nodes".
func nodesOf(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var wrapped struct {
			Nodes json.RawMessage `json:"nodes"`
		}
		if err := json.Unmarshal(b, &wrapped); err == nil && len(wrapped.Nodes) > 0 {
			return wrapped.Nodes
		}
	}
	return b
}

func readCards(path string) ([]Card, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var cards []Card
	if err := json.Unmarshal(nodesOf(b), &cards); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return cards, nil
}

func readProfiles(path string) ([]Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var profiles []Profile
	if err := json.Unmarshal(nodesOf(b), &profiles); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return profiles, nil
}

func cardIDs(cards []Card) []string {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return ids
}

func ensureUniqueIDs(ids []string, name string) error {
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%s: missing id/slug on node %d", name, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%s: duplicate id/slug: %s", name, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// verifyPiles checks pile markers. An empty expected pile means the misc deck,
// whose nodes may only be marked Bonus or Contrainte.
func verifyPiles(cards []Card, name, expected string) error {
	for _, c := range cards {
		if c.Pile == "" {
			continue
		}
		if expected == "" {
			if c.Pile != PileBonus && c.Pile != PileContrainte {
				return fmt.Errorf("%s: node %s has pile=%s, expected %s or %s", name, c.ID, c.Pile, PileBonus, PileContrainte)
			}
			continue
		}
		if c.Pile != expected {
			return fmt.Errorf("%s: node %s has pile=%s, expected %s", name, c.ID, c.Pile, expected)
		}
	}
	return nil
}

func fillSlugs(cards []Card) {
	for i := range cards {
		if cards[i].Slug == "" && cards[i].Title != "" {
			cards[i].Slug = slug.Make(cards[i].Title)
		}
	}
}
