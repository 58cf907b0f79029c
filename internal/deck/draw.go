package deck

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

var ErrEmptyPool = errors.New("deck pool is empty")

// Pools splits the misc deck into its two piles.
type Pools struct {
	Bonus      []Card
	Contrainte []Card
}

// Partition assigns every misc card to exactly one pile. An explicit pile
// marker wins; without one, a "contrainte" tag selects Contrainte and anything
// else lands in Bonus.
func Partition(misc []Card) Pools {
	var p Pools
	for _, c := range misc {
		switch strings.ToLower(c.Pile) {
		case "bonus":
			p.Bonus = append(p.Bonus, c)
		case "contrainte":
			p.Contrainte = append(p.Contrainte, c)
		default:
			if hasTag(c.Tags, "contrainte") {
				p.Contrainte = append(p.Contrainte, c)
			} else {
				p.Bonus = append(p.Bonus, c)
			}
		}
	}
	return p
}

// DrawOne picks a card uniformly among those not in excluded. When every card
// is excluded it draws from the whole pool, so repeats become possible but the
// exclusion set is never reset.
func DrawOne(rng *rand.Rand, pool []Card, excluded IDSet) (Card, error) {
	if len(pool) == 0 {
		return Card{}, ErrEmptyPool
	}
	src := make([]Card, 0, len(pool))
	for _, c := range pool {
		if !excluded.Has(c.ID) {
			src = append(src, c)
		}
	}
	if len(src) == 0 {
		src = pool
	}
	return src[rng.Intn(len(src))], nil
}

// Drawer draws the common cards of a turn.
type Drawer struct {
	events []Card
	pools  Pools
}

func NewDrawer(ds *Dataset) (*Drawer, error) {
	if ds == nil {
		return nil, errors.New("nil dataset")
	}
	d := &Drawer{events: ds.Events, pools: Partition(ds.Misc)}
	switch {
	case len(d.events) == 0:
		return nil, fmt.Errorf("events deck: %w", ErrEmptyPool)
	case len(d.pools.Bonus) == 0:
		return nil, fmt.Errorf("bonus pile: %w", ErrEmptyPool)
	case len(d.pools.Contrainte) == 0:
		return nil, fmt.Errorf("contrainte pile: %w", ErrEmptyPool)
	}
	return d, nil
}

func (d *Drawer) Pools() Pools { return d.pools }

// DrawTurn draws one event, one bonus and one contrainte against the session's
// exclusions and records the drawn ids in them.
func (d *Drawer) DrawTurn(rng *rand.Rand, ex *Exclusions) (CommonDraw, error) {
	ev, err := DrawOne(rng, d.events, ex.EventIDs)
	if err != nil {
		return CommonDraw{}, err
	}
	bo, err := DrawOne(rng, d.pools.Bonus, ex.MiscBonusIDs)
	if err != nil {
		return CommonDraw{}, err
	}
	co, err := DrawOne(rng, d.pools.Contrainte, ex.MiscContrainteIDs)
	if err != nil {
		return CommonDraw{}, err
	}

	ex.EventIDs.Add(ev.ID)
	ex.MiscBonusIDs.Add(bo.ID)
	ex.MiscContrainteIDs.Add(co.ID)

	return CommonDraw{Evenement: ev.Ref(), Bonus: bo.Ref(), Contrainte: co.Ref()}, nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
