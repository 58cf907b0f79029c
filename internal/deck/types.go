package deck

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

const (
	PileEvent      = "Événement"
	PileBonus      = "Bonus"
	PileContrainte = "Contrainte"
)

// Card is a drawable node of the events or misc decks. Only the fields the
// draw and its projection need are decoded.
type Card struct {
	ID       string   `json:"id"`
	Key      string   `json:"key,omitempty"`
	Title    string   `json:"title"`
	Slug     string   `json:"slug"`
	Category string   `json:"category"`
	Pile     string   `json:"pile,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (c *Card) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       flexString `json:"id"`
		UpperID  flexString `json:"ID"`
		Key      flexString `json:"key"`
		Title    string     `json:"title"`
		Slug     string     `json:"slug"`
		Category string     `json:"category"`
		Pile     string     `json:"pile"`
		Tags     []string   `json:"tags"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Card{
		ID:       firstNonEmpty(string(raw.ID), string(raw.UpperID), string(raw.Key), raw.Slug),
		Key:      string(raw.Key),
		Title:    raw.Title,
		Slug:     raw.Slug,
		Category: raw.Category,
		Pile:     raw.Pile,
		Tags:     raw.Tags,
	}
	return nil
}

// Ref is the minimal projection of a card shown to players.
type Ref struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	Category string `json:"category"`
}

func (c Card) Ref() Ref {
	return Ref{ID: c.ID, Title: c.Title, Slug: c.Slug, Category: c.Category}
}

// CommonDraw is the set of shared cards revealed for one turn.
type CommonDraw struct {
	Evenement  Ref `json:"evenement"`
	Bonus      Ref `json:"bonus"`
	Contrainte Ref `json:"contrainte"`
}

type Profile struct {
	ID   string `json:"id"`
	Key  string `json:"key,omitempty"`
	Name string `json:"name,omitempty"`
}

func (p *Profile) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID      flexString `json:"id"`
		UpperID flexString `json:"ID"`
		Key     flexString `json:"key"`
		Slug    string     `json:"slug"`
		Name    string     `json:"name"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Profile{
		ID:   firstNonEmpty(string(raw.ID), string(raw.UpperID), string(raw.Key), raw.Slug),
		Key:  string(raw.Key),
		Name: raw.Name,
	}
	return nil
}

// Dataset is the read-only card and profile data shared by every session.
type Dataset struct {
	Events   []Card
	Misc     []Card
	Logic    json.RawMessage
	Tools    json.RawMessage
	Profiles []Profile
}

// IDSet is a set of card ids. It serializes as a sorted list.
type IDSet map[string]struct{}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) { s[id] = struct{}{} }

func (s IDSet) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return json.Marshal(ids)
}

// Exclusions remembers every card already drawn in a session, per category.
// The sets only grow.
type Exclusions struct {
	EventIDs          IDSet `json:"eventIds"`
	MiscBonusIDs      IDSet `json:"miscBonusIds"`
	MiscContrainteIDs IDSet `json:"miscContrainteIds"`
}

func NewExclusions() Exclusions {
	return Exclusions{
		EventIDs:          IDSet{},
		MiscBonusIDs:      IDSet{},
		MiscContrainteIDs: IDSet{},
	}
}

// flexString accepts ids written either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
