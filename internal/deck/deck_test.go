package deck

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testDataset() *Dataset {
	return &Dataset{
		Events: []Card{
			{ID: "e1", Title: "Tempête", Category: "meteo"},
			{ID: "e2", Title: "Grève", Category: "social"},
			{ID: "e3", Title: "Audit", Category: "admin"},
		},
		Misc: []Card{
			{ID: "m1", Title: "Prime", Pile: "Bonus"},
			{ID: "m2", Title: "Retard", Pile: "Contrainte"},
			{ID: "m3", Title: "Budget serré", Tags: []string{"contrainte"}},
			{ID: "m4", Title: "Renfort"},
		},
		Profiles: []Profile{{ID: "p1", Key: "dev", Name: "Dev"}},
	}
}

func TestPartitionUsesPileThenTags(t *testing.T) {
	p := Partition(testDataset().Misc)
	if len(p.Bonus) != 2 || len(p.Contrainte) != 2 {
		t.Fatalf("expected 2/2 split, got %d/%d", len(p.Bonus), len(p.Contrainte))
	}
	if p.Bonus[0].ID != "m1" || p.Bonus[1].ID != "m4" {
		t.Fatalf("unexpected bonus pile %v", p.Bonus)
	}
	if p.Contrainte[0].ID != "m2" || p.Contrainte[1].ID != "m3" {
		t.Fatalf("unexpected contrainte pile %v", p.Contrainte)
	}
}

func TestPartitionPileIsCaseInsensitive(t *testing.T) {
	p := Partition([]Card{{ID: "a", Pile: "CONTRAINTE"}, {ID: "b", Pile: "bonus", Tags: []string{"contrainte"}}})
	if len(p.Contrainte) != 1 || p.Contrainte[0].ID != "a" {
		t.Fatalf("expected a in contrainte, got %v", p.Contrainte)
	}
	if len(p.Bonus) != 1 || p.Bonus[0].ID != "b" {
		t.Fatalf("explicit pile should beat tags, got %v", p.Bonus)
	}
}

func TestDrawOneSkipsExcluded(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pool := testDataset().Events
	ex := IDSet{"e1": {}, "e3": {}}
	for i := 0; i < 50; i++ {
		c, err := DrawOne(rng, pool, ex)
		if err != nil {
			t.Fatalf("draw: %v", err)
		}
		if c.ID != "e2" {
			t.Fatalf("expected only e2 to be drawable, got %s", c.ID)
		}
	}
}

func TestDrawOneFallsBackWhenExhausted(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	pool := testDataset().Events
	ex := IDSet{"e1": {}, "e2": {}, "e3": {}}
	c, err := DrawOne(rng, pool, ex)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if !ex.Has(c.ID) {
		t.Fatalf("expected a repeat from the full pool, got %s", c.ID)
	}
	if len(ex) != 3 {
		t.Fatal("exclusions must not be reset")
	}
}

func TestDrawOneEmptyPool(t *testing.T) {
	if _, err := DrawOne(rand.New(rand.NewSource(3)), nil, IDSet{}); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func TestDrawTurnNeverRepeatsWhileAlternativesRemain(t *testing.T) {
	d, err := NewDrawer(testDataset())
	if err != nil {
		t.Fatalf("new drawer: %v", err)
	}
	rng := rand.New(rand.NewSource(4))
	ex := NewExclusions()

	seen := map[string]bool{}
	for turn := 0; turn < 3; turn++ {
		cd, err := d.DrawTurn(rng, &ex)
		if err != nil {
			t.Fatalf("draw turn: %v", err)
		}
		if seen[cd.Evenement.ID] {
			t.Fatalf("event %s drawn twice within the first three turns", cd.Evenement.ID)
		}
		seen[cd.Evenement.ID] = true
		if !ex.EventIDs.Has(cd.Evenement.ID) || !ex.MiscBonusIDs.Has(cd.Bonus.ID) || !ex.MiscContrainteIDs.Has(cd.Contrainte.ID) {
			t.Fatal("drawn ids must be added to exclusions")
		}
	}
	if len(ex.MiscBonusIDs) != 2 || len(ex.MiscContrainteIDs) != 2 {
		t.Fatalf("expected both misc piles fully excluded, got %d/%d", len(ex.MiscBonusIDs), len(ex.MiscContrainteIDs))
	}
}

func TestNewDrawerRejectsEmptyPile(t *testing.T) {
	ds := testDataset()
	ds.Misc = ds.Misc[:1]
	if _, err := NewDrawer(ds); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func TestIDSetMarshalSorted(t *testing.T) {
	b, err := IDSet{"b": {}, "a": {}}.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `["a","b"]` {
		t.Fatalf("unexpected json %s", b)
	}
}

func writeDataDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	defaults := map[string]string{
		FileEvents:   `{"nodes":[{"id":1,"title":"Tempête","category":"meteo","pile":"Événement"}]}`,
		FileMisc:     `[{"id":"m1","title":"Prime","pile":"Bonus"},{"id":"m2","title":"Retard","slug":"retard","pile":"Contrainte"}]`,
		FileLogic:    `{}`,
		FileTools:    `[]`,
		FileProfiles: `[{"id":"p1","key":"dev","name":"Dev"}]`,
	}
	for k, v := range files {
		defaults[k] = v
	}
	for name, content := range defaults {
		if content == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadReadsAllFiles(t *testing.T) {
	ds, err := Load(writeDataDir(t, nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ds.Events) != 1 || ds.Events[0].ID != "1" {
		t.Fatalf("expected numeric id decoded as string, got %v", ds.Events)
	}
	if ds.Events[0].Slug != "tempete" {
		t.Fatalf("expected slug generated from title, got %q", ds.Events[0].Slug)
	}
	if ds.Misc[1].Slug != "retard" {
		t.Fatalf("existing slug should be kept, got %q", ds.Misc[1].Slug)
	}
	if len(ds.Profiles) != 1 || ds.Profiles[0].Key != "dev" {
		t.Fatalf("unexpected profiles %v", ds.Profiles)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(writeDataDir(t, map[string]string{FileTools: ""}))
	if err == nil || !strings.Contains(err.Error(), FileTools) {
		t.Fatalf("expected missing file error, got %v", err)
	}
}

func TestLoadDuplicateIDs(t *testing.T) {
	_, err := Load(writeDataDir(t, map[string]string{
		FileMisc: `[{"id":"m1","pile":"Bonus"},{"id":"m1","pile":"Contrainte"}]`,
	}))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestLoadWrongEventPile(t *testing.T) {
	_, err := Load(writeDataDir(t, map[string]string{
		FileEvents: `[{"id":"e1","pile":"Bonus"}]`,
	}))
	if err == nil || !strings.Contains(err.Error(), "pile=Bonus") {
		t.Fatalf("expected pile error, got %v", err)
	}
}
