package game

import (
	"time"

	"github.com/kiliankoe/turnwarden/internal/countdown"
	"github.com/kiliankoe/turnwarden/internal/deck"
	"github.com/kiliankoe/turnwarden/internal/journal"
)

type Phase string

const (
	PhaseSetup Phase = "SETUP"
	PhasePlay  Phase = "PLAY"
	PhaseEnded Phase = "ENDED"
)

type Mode string

const (
	ModeBlitz Mode = "blitz"
	ModeLong  Mode = "long"
)

const (
	blitzTurns = 10
	longTurns  = 42

	manualFirstTurns = 5
	manualLastTurns  = 5

	blitzMidgameTurn = 6
	longMidgameTurn  = 21
)

// ParseMode maps anything that is not blitz to the long game.
func ParseMode(s string) Mode {
	if Mode(s) == ModeBlitz {
		return ModeBlitz
	}
	return ModeLong
}

func (m Mode) TotalTurns() int {
	if m == ModeBlitz {
		return blitzTurns
	}
	return longTurns
}

// MidgameTurn is the 1-based turn that triggers the break notice.
func (m Mode) MidgameTurn() int {
	if m == ModeBlitz {
		return blitzMidgameTurn
	}
	return longMidgameTurn
}

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

func ParseDecision(s string) (Decision, bool) {
	switch Decision(s) {
	case DecisionAccept, DecisionReject:
		return Decision(s), true
	}
	return "", false
}

type SessionConfig struct {
	Lang string `json:"lang"`
	Mode string `json:"mode"`
}

type HostControls struct {
	ManualUntilTurn     int `json:"manualUntilTurn"`
	ManualLastTurnsFrom int `json:"manualLastTurnsFrom"`
}

func hostControlsFor(totalTurns int) HostControls {
	return HostControls{
		ManualUntilTurn:     manualFirstTurns,
		ManualLastTurnsFrom: totalTurns - manualLastTurns + 1,
	}
}

// IsManual reports whether the 1-based turn t is advanced only by the host.
func (h HostControls) IsManual(t int) bool {
	return t <= h.ManualUntilTurn || t >= h.ManualLastTurnsFrom
}

type Player struct {
	ID       string        `json:"id"`
	Profile  *deck.Profile `json:"profile"`
	Ready    bool          `json:"ready"`
	Decision *Decision     `json:"decision"`
	Locked   bool          `json:"locked"`
	JoinedAt time.Time     `json:"joinedAt"`
}

func (p *Player) resetForTurn() {
	p.Ready = false
	p.Decision = nil
	p.Locked = false
}

// Session is one game instance. Only the Engine mutates it, under its lock.
type Session struct {
	Code       string
	Lang       string
	Mode       Mode
	TotalTurns int
	TurnIndex  int
	Phase      Phase

	Players    []*Player
	CommonDraw *deck.CommonDraw
	Exclusions deck.Exclusions
	Timers     countdown.State
	Journal    *journal.Log

	MidgameBreakDone bool
	HostControls     HostControls

	CreatedAt    time.Time
	LastUpdateAt time.Time

	// token of the countdown armed for the current turn, 0 when none
	countdownToken uint64
}

// Turn is the 1-based number of the current turn.
func (s *Session) Turn() int { return s.TurnIndex + 1 }

func (s *Session) InManualPhase() bool {
	return s.HostControls.IsManual(s.Turn())
}

// AllReady is false for an empty roster.
func (s *Session) AllReady() bool {
	if len(s.Players) == 0 {
		return false
	}
	for _, p := range s.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (s *Session) player(id string) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}
