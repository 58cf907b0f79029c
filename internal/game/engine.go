package game

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kiliankoe/turnwarden/internal/countdown"
	"github.com/kiliankoe/turnwarden/internal/deck"
	"github.com/kiliankoe/turnwarden/internal/journal"
	"github.com/rs/zerolog/log"
)

// Outbound event names.
const (
	EventSessionUpdated = countdown.EventSessionUpdated
	EventTimerTick      = countdown.EventTimerTick
	EventTurnStarted    = "TURN_STARTED"
	EventTurnEnded      = "TURN_ENDED"
	EventMidgameBreak   = "MIDGAME_BREAK"
)

// Journal entry types.
const (
	EntrySessionCreated = "SESSION_CREATED"
	EntryPlayerJoin     = "PLAYER_JOIN"
	EntryPlayerReady    = "PLAYER_READY"
	EntryPlayerDecision = "PLAYER_DECISION_EVENT"
	EntryPlayerLock     = "PLAYER_LOCK"
	EntryHostKick       = "HOST_KICK"
	EntryGameStarted    = "GAME_STARTED"
	EntryTurnStarted    = "TURN_STARTED"
	EntryTurnEnded      = "TURN_ENDED"
	EntryGameEnded      = "GAME_ENDED"
)

// Reasons carried in turn and game entries.
const (
	ReasonHostStart    = "HOST_START"
	ReasonHostNextTurn = "HOST_NEXT_TURN"
	ReasonAllReady     = "ALL_READY"
	ReasonTimerExpired = "TIMER_EXPIRED"
	ReasonAutoNext     = "AUTO_NEXT"
	ReasonNormal       = "NORMAL"
)

const DefaultRemovalDelay = 60 * time.Second

type Notifier interface {
	Publish(code, event string, payload any)
}

// Archiver receives the journal of every finished session.
type Archiver interface {
	Archive(ctx context.Context, code string, entries []journal.Entry) error
}

type Options struct {
	Clock        clockwork.Clock
	Rand         *rand.Rand
	Notifier     Notifier
	Archiver     Archiver
	RemovalDelay time.Duration
}

// Engine runs the turn state machine of every session in the registry. A
// single lock serializes all mutations and snapshot reads, including those
// coming from countdown expiry.
type Engine struct {
	mu sync.Mutex

	reg      *Registry
	drawer   *deck.Drawer
	profiles []deck.Profile
	timers   *countdown.Scheduler

	clock        clockwork.Clock
	rng          *rand.Rand
	notify       Notifier
	archive      Archiver
	removalDelay time.Duration
}

func NewEngine(reg *Registry, ds *deck.Dataset, drawer *deck.Drawer, timers *countdown.Scheduler, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.RemovalDelay <= 0 {
		opts.RemovalDelay = DefaultRemovalDelay
	}
	e := &Engine{
		reg:          reg,
		drawer:       drawer,
		timers:       timers,
		clock:        opts.Clock,
		rng:          opts.Rand,
		notify:       opts.Notifier,
		archive:      opts.Archiver,
		removalDelay: opts.RemovalDelay,
	}
	if ds != nil {
		e.profiles = ds.Profiles
	}
	timers.OnExpire(e.expire)
	return e
}

// CreateSession registers a new session and returns its join code.
func (e *Engine) CreateSession(cfg SessionConfig) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.reg.Create(cfg)
	e.record(s, EntrySessionCreated, journal.Fields{"lang": s.Lang, "mode": s.Mode})
	log.Info().Str("code", s.Code).Str("mode", string(s.Mode)).Msg("session created")
	return s.Code
}

// Join adds a player. A nil profile picks a random one from the dataset.
func (e *Engine) Join(code string, profile *deck.Profile) (Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.reg.Get(code)
	if err != nil {
		return Player{}, err
	}
	if s.Phase == PhaseEnded {
		return Player{}, ErrGameEnded
	}
	if profile == nil {
		profile = e.randomProfile()
	}
	p := &Player{ID: uuid.NewString(), Profile: profile, JoinedAt: e.clock.Now()}
	s.Players = append(s.Players, p)
	e.record(s, EntryPlayerJoin, journal.Fields{"playerId": p.ID, "profile": profile})
	log.Info().Str("code", code).Str("playerId", p.ID).Msg("player joined")
	e.broadcast(s, EventSessionUpdated)
	return copyPlayer(p), nil
}

func (e *Engine) HostState(code string) (HostView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.reg.Get(code)
	if err != nil {
		return HostView{}, err
	}
	return hostView(s), nil
}

// PlayerState returns the player-facing view. An unknown player id yields a
// view without "you" rather than an error.
func (e *Engine) PlayerState(code, playerID string) (PlayerView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.reg.Get(code)
	if err != nil {
		return PlayerView{}, err
	}
	return playerView(s, playerID), nil
}

// State dispatches on role; anything but "player" gets the host view.
func (e *Engine) State(code, role, playerID string) (any, error) {
	if role == RolePlayer {
		return e.PlayerState(code, playerID)
	}
	return e.HostState(code)
}

func (e *Engine) Start(code string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.reg.Get(code)
	if err != nil {
		return err
	}
	switch s.Phase {
	case PhasePlay:
		return ErrGameAlreadyStarted
	case PhaseEnded:
		return ErrGameEnded
	}
	s.Phase = PhasePlay
	s.TurnIndex = 0
	e.record(s, EntryGameStarted, nil)
	log.Info().Str("code", code).Int("players", len(s.Players)).Msg("game started")
	e.startTurn(s, journal.Fields{"reason": ReasonHostStart})
	return nil
}

// NextTurn is the host's manual advance, only valid during a manual phase.
func (e *Engine) NextTurn(code string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.reg.Get(code)
	if err != nil {
		return err
	}
	switch {
	case s.Phase == PhaseEnded:
		return ErrGameEnded
	case s.Phase != PhasePlay, !s.InManualPhase():
		return ErrNotInManualPhase
	}
	e.cancelCountdown(s)
	e.endTurn(s, journal.Fields{"reason": ReasonHostNextTurn})
	return nil
}

// CorrectAction appends a correction overlay for a past journal entry. It
// never changes game state.
func (e *Engine) CorrectAction(code, actionID string, patch any) (journal.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.reg.Get(code)
	if err != nil {
		return journal.Entry{}, err
	}
	if s.Phase == PhaseEnded {
		return journal.Entry{}, ErrGameEnded
	}
	entry := s.Journal.Correct(actionID, patch)
	s.LastUpdateAt = entry.At
	log.Info().Str("code", code).Str("target", actionID).Msg("host correction")
	e.broadcast(s, EventSessionUpdated)
	return entry, nil
}

// Kick removes a player from the roster. The turn count and the current draw
// are left as they are.
func (e *Engine) Kick(code, playerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.reg.Get(code)
	if err != nil {
		return err
	}
	if s.Phase == PhaseEnded {
		return ErrGameEnded
	}
	idx := -1
	for i, p := range s.Players {
		if p.ID == playerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrPlayerNotFound
	}
	s.Players = append(s.Players[:idx:idx], s.Players[idx+1:]...)
	e.record(s, EntryHostKick, journal.Fields{"playerId": playerID})
	log.Info().Str("code", code).Str("playerId", playerID).Msg("player kicked")
	e.broadcast(s, EventSessionUpdated)
	return nil
}

func (e *Engine) Ready(code, playerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, p, err := e.playerOf(code, playerID)
	if err != nil {
		return err
	}
	p.Ready = true
	e.record(s, EntryPlayerReady, journal.Fields{"playerId": playerID})
	if !e.advanceIfAllReady(s) {
		e.broadcast(s, EventSessionUpdated)
	}
	return nil
}

// Decide records the player's decision. It does not mark the player ready.
func (e *Engine) Decide(code, playerID, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, p, err := e.playerOf(code, playerID)
	if err != nil {
		return err
	}
	if p.Locked {
		return ErrDecisionLocked
	}
	d, ok := ParseDecision(value)
	if !ok {
		return ErrInvalidDecision
	}
	p.Decision = &d
	e.record(s, EntryPlayerDecision, journal.Fields{"playerId": playerID, "decision": d})
	e.broadcast(s, EventSessionUpdated)
	return nil
}

// Lock finalizes the player's decision and marks them ready.
func (e *Engine) Lock(code, playerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, p, err := e.playerOf(code, playerID)
	if err != nil {
		return err
	}
	p.Locked = true
	e.record(s, EntryPlayerLock, journal.Fields{"playerId": playerID})
	p.Ready = true
	if !e.advanceIfAllReady(s) {
		e.broadcast(s, EventSessionUpdated)
	}
	return nil
}

// Remove drops a session right away, disarming its countdown and any pending
// deferred removal.
func (e *Engine) Remove(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remove(code)
}

func (e *Engine) remove(code string) {
	e.timers.Cancel(code)
	e.timers.CancelRemoval(code)
	e.reg.Remove(code)
	log.Info().Str("code", code).Msg("session removed")
}

func (e *Engine) playerOf(code, playerID string) (*Session, *Player, error) {
	s, err := e.reg.Get(code)
	if err != nil {
		return nil, nil, err
	}
	if s.Phase == PhaseEnded {
		return nil, nil, ErrGameEnded
	}
	p := s.player(playerID)
	if p == nil {
		return nil, nil, ErrPlayerNotFound
	}
	return s, p, nil
}

func (e *Engine) advanceIfAllReady(s *Session) bool {
	if s.Phase != PhasePlay || s.InManualPhase() || !s.AllReady() {
		return false
	}
	e.cancelCountdown(s)
	e.endTurn(s, journal.Fields{"reason": ReasonAllReady})
	return true
}

// expire is the countdown callback. Records from a cancelled or replaced
// countdown are ignored.
func (e *Engine) expire(rec countdown.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.reg.Get(rec.Code)
	if err != nil {
		return
	}
	if s.Phase != PhasePlay || s.countdownToken == 0 || s.countdownToken != rec.Token {
		log.Debug().Str("code", rec.Code).Uint64("token", rec.Token).Msg("stale countdown expiry")
		return
	}
	e.cancelCountdown(s)

	var forced []string
	for _, p := range s.Players {
		if p.Decision == nil {
			d := DecisionAccept
			if e.rng.Intn(2) == 1 {
				d = DecisionReject
			}
			p.Decision = &d
			forced = append(forced, p.ID)
		}
	}
	meta := journal.Fields{"reason": ReasonTimerExpired}
	if len(forced) > 0 {
		meta["autoDecided"] = forced
	}
	e.endTurn(s, meta)
}

func (e *Engine) startTurn(s *Session, meta journal.Fields) {
	draw, err := e.drawer.DrawTurn(e.rng, &s.Exclusions)
	if err != nil {
		log.Error().Err(err).Str("code", s.Code).Msg("draw common cards")
	} else {
		s.CommonDraw = &draw
	}
	for _, p := range s.Players {
		p.resetForTurn()
	}

	merged := journal.Fields{"reason": ReasonAutoNext}
	for k, v := range meta {
		merged[k] = v
	}
	turn := s.Turn()
	e.record(s, EntryTurnStarted, journal.Fields{"turn": turn, "meta": merged, "draw": copyDraw(s.CommonDraw)})

	if !s.MidgameBreakDone && turn == s.Mode.MidgameTurn() {
		e.publish(s.Code, EventMidgameBreak, map[string]any{"turn": turn})
		s.MidgameBreakDone = true
	}

	if s.InManualPhase() {
		e.cancelCountdown(s)
	} else {
		e.armCountdown(s)
	}
	log.Info().Str("code", s.Code).Int("turn", turn).Interface("reason", merged["reason"]).Bool("manual", s.InManualPhase()).Msg("turn started")
	e.broadcast(s, EventTurnStarted)
}

// endTurn closes the current turn and either ends the game or starts the
// next turn. Callers must have cancelled the countdown.
func (e *Engine) endTurn(s *Session, meta journal.Fields) {
	for _, p := range s.Players {
		if p.Decision != nil {
			p.Locked = true
		}
	}
	decisions := make([]map[string]any, len(s.Players))
	for i, p := range s.Players {
		var d any
		if p.Decision != nil {
			d = *p.Decision
		}
		decisions[i] = map[string]any{"id": p.ID, "decision": d}
	}
	turn := s.Turn()
	e.record(s, EntryTurnEnded, journal.Fields{"turn": turn, "meta": meta, "players": decisions})
	e.publish(s.Code, EventTurnEnded, map[string]any{"turn": turn})
	log.Info().Str("code", s.Code).Int("turn", turn).Interface("reason", meta["reason"]).Msg("turn ended")

	if turn >= s.TotalTurns {
		e.endGame(s, meta)
		return
	}
	s.TurnIndex++
	// only the reason carries over to the next turn
	e.startTurn(s, journal.Fields{"reason": meta["reason"]})
}

func (e *Engine) endGame(s *Session, meta journal.Fields) {
	reason, _ := meta["reason"].(string)
	if reason == "" {
		reason = ReasonNormal
	}
	s.Phase = PhaseEnded
	e.cancelCountdown(s)
	e.record(s, EntryGameEnded, journal.Fields{"reason": reason})
	log.Info().Str("code", s.Code).Str("reason", reason).Msg("game ended")
	e.broadcast(s, EventSessionUpdated)

	code := s.Code
	if err := e.timers.ScheduleRemoval(code, e.removalDelay, func() { e.Remove(code) }); err != nil {
		log.Error().Err(err).Str("code", code).Msg("schedule session removal")
	}
	if e.archive != nil {
		entries := s.Journal.Entries()
		go func() {
			if err := e.archive.Archive(context.Background(), code, entries); err != nil {
				log.Error().Err(err).Str("code", code).Msg("archive journal")
			}
		}()
	}
}

func (e *Engine) armCountdown(s *Session) {
	rec, st, err := e.timers.Arm(s.Code)
	if err != nil {
		log.Error().Err(err).Str("code", s.Code).Msg("arm countdown")
		s.countdownToken = 0
		s.Timers = countdown.Idle()
		return
	}
	s.countdownToken = rec.Token
	s.Timers = st
}

func (e *Engine) cancelCountdown(s *Session) {
	s.countdownToken = 0
	s.Timers = e.timers.Cancel(s.Code)
}

func (e *Engine) record(s *Session, typ string, fields journal.Fields) journal.Entry {
	entry := s.Journal.Append(typ, fields)
	s.LastUpdateAt = entry.At
	return entry
}

func (e *Engine) randomProfile() *deck.Profile {
	if len(e.profiles) == 0 {
		return nil
	}
	p := e.profiles[e.rng.Intn(len(e.profiles))]
	return &deck.Profile{ID: p.ID, Key: p.Key, Name: p.Name}
}

// broadcast publishes the host view under event, followed by the live
// countdown snapshot.
func (e *Engine) broadcast(s *Session, event string) {
	e.publish(s.Code, event, hostView(s))
	e.publish(s.Code, EventTimerTick, timerTick(s, e.clock.Now()))
}

func (e *Engine) publish(code, event string, payload any) {
	if e.notify != nil {
		e.notify.Publish(code, event, payload)
	}
}
