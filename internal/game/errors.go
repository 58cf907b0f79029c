package game

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrInvalidDecision    = errors.New("invalid decision")
	ErrDecisionLocked     = errors.New("decision locked")
	ErrNotInManualPhase   = errors.New("not in manual phase")
	ErrGameAlreadyStarted = errors.New("game already started")
	ErrGameEnded          = errors.New("game ended")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{ErrPlayerNotFound, "PLAYER_NOT_FOUND"},
	{ErrInvalidDecision, "INVALID_DECISION_VALUE"},
	{ErrDecisionLocked, "DECISION_LOCKED"},
	{ErrNotInManualPhase, "NOT_IN_MANUAL_PHASE"},
	{ErrGameAlreadyStarted, "GAME_ALREADY_STARTED"},
	{ErrGameEnded, "GAME_ENDED"},
}

// Code returns the machine-readable code of a game error, or "INTERNAL".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
