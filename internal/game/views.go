package game

import (
	"time"

	"github.com/kiliankoe/turnwarden/internal/countdown"
	"github.com/kiliankoe/turnwarden/internal/deck"
	"github.com/kiliankoe/turnwarden/internal/journal"
)

const (
	RoleHost   = "host"
	RolePlayer = "player"
)

// HostView is the full state of a session as shown to the host.
type HostView struct {
	Code             string           `json:"code"`
	Lang             string           `json:"lang"`
	Mode             Mode             `json:"mode"`
	TotalTurns       int              `json:"totalTurns"`
	TurnIndex        int              `json:"turnIndex"`
	Phase            Phase            `json:"phase"`
	Players          []Player         `json:"players"`
	CommonDraw       *deck.CommonDraw `json:"commonDraw"`
	Timers           countdown.State  `json:"timers"`
	Journal          []journal.Entry  `json:"journal"`
	MidgameBreakDone bool             `json:"midgameBreakDone"`
	HostControls     HostControls     `json:"hostControls"`
	LastUpdateAt     time.Time        `json:"lastUpdateAt"`
}

// RosterEntry is what a player sees about everyone else.
type RosterEntry struct {
	ID     string `json:"id"`
	Ready  bool   `json:"ready"`
	Locked bool   `json:"locked"`
}

// PlayerView hides other players' profiles and decisions.
type PlayerView struct {
	You          *Player          `json:"you"`
	Code         string           `json:"code"`
	TurnIndex    int              `json:"turnIndex"`
	TotalTurns   int              `json:"totalTurns"`
	Phase        Phase            `json:"phase"`
	CommonDraw   *deck.CommonDraw `json:"commonDraw"`
	Timers       countdown.State  `json:"timers"`
	Players      []RosterEntry    `json:"players"`
	LastUpdateAt time.Time        `json:"lastUpdateAt"`
}

func hostView(s *Session) HostView {
	players := make([]Player, len(s.Players))
	for i, p := range s.Players {
		players[i] = copyPlayer(p)
	}
	return HostView{
		Code:             s.Code,
		Lang:             s.Lang,
		Mode:             s.Mode,
		TotalTurns:       s.TotalTurns,
		TurnIndex:        s.TurnIndex,
		Phase:            s.Phase,
		Players:          players,
		CommonDraw:       copyDraw(s.CommonDraw),
		Timers:           s.Timers,
		Journal:          s.Journal.Entries(),
		MidgameBreakDone: s.MidgameBreakDone,
		HostControls:     s.HostControls,
		LastUpdateAt:     s.LastUpdateAt,
	}
}

func playerView(s *Session, playerID string) PlayerView {
	var you *Player
	if p := s.player(playerID); p != nil {
		cp := copyPlayer(p)
		you = &cp
	}
	roster := make([]RosterEntry, len(s.Players))
	for i, p := range s.Players {
		roster[i] = RosterEntry{ID: p.ID, Ready: p.Ready, Locked: p.Locked}
	}
	return PlayerView{
		You:          you,
		Code:         s.Code,
		TurnIndex:    s.TurnIndex,
		TotalTurns:   s.TotalTurns,
		Phase:        s.Phase,
		CommonDraw:   copyDraw(s.CommonDraw),
		Timers:       s.Timers,
		Players:      roster,
		LastUpdateAt: s.LastUpdateAt,
	}
}

func copyPlayer(p *Player) Player {
	cp := *p
	if p.Decision != nil {
		d := *p.Decision
		cp.Decision = &d
	}
	if p.Profile != nil {
		prof := *p.Profile
		cp.Profile = &prof
	}
	return cp
}

func copyDraw(d *deck.CommonDraw) *deck.CommonDraw {
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}

// timerTick is the countdown snapshot published alongside every state update.
func timerTick(s *Session, now time.Time) countdown.Tick {
	return countdown.Tick{Now: now, ReminderAt: s.Timers.ReminderAt, EndsAt: s.Timers.GraceEndsAt}
}

// ForPlayer projects a host view down to what playerID may see. The transport
// uses it to fan out one broadcast to every connection of a session.
func (v HostView) ForPlayer(playerID string) PlayerView {
	pv := PlayerView{
		Code:         v.Code,
		TurnIndex:    v.TurnIndex,
		TotalTurns:   v.TotalTurns,
		Phase:        v.Phase,
		CommonDraw:   copyDraw(v.CommonDraw),
		Timers:       v.Timers,
		Players:      make([]RosterEntry, len(v.Players)),
		LastUpdateAt: v.LastUpdateAt,
	}
	for i := range v.Players {
		p := v.Players[i]
		pv.Players[i] = RosterEntry{ID: p.ID, Ready: p.Ready, Locked: p.Locked}
		if p.ID == playerID {
			cp := copyPlayer(&p)
			pv.You = &cp
		}
	}
	return pv
}
