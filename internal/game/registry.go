package game

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiliankoe/turnwarden/internal/deck"
	"github.com/kiliankoe/turnwarden/internal/journal"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWX123456789"
	codeLength   = 5

	defaultLang = "fr"
)

// Registry owns every live session, keyed by join code.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	clock    clockwork.Clock
	rng      *rand.Rand
}

// NewRegistry creates an empty registry. rng draws the join codes; the engine
// shares its own source so that every random choice is reproducible.
func NewRegistry(clock clockwork.Clock, rng *rand.Rand) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Registry{sessions: make(map[string]*Session), clock: clock, rng: rng}
}

// Create registers a new session in SETUP with a code unique among live
// sessions.
func (r *Registry) Create(cfg SessionConfig) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.randomCode(codeLength)
	for r.sessions[code] != nil {
		code = r.randomCode(codeLength)
	}

	lang := cfg.Lang
	if lang == "" {
		lang = defaultLang
	}
	mode := ParseMode(cfg.Mode)
	total := mode.TotalTurns()
	now := r.clock.Now()

	s := &Session{
		Code:         code,
		Lang:         lang,
		Mode:         mode,
		TotalTurns:   total,
		TurnIndex:    0,
		Phase:        PhaseSetup,
		Players:      []*Player{},
		Exclusions:   deck.NewExclusions(),
		Journal:      journal.New(r.clock),
		HostControls: hostControlsFor(total),
		CreatedAt:    now,
		LastUpdateAt: now,
	}
	r.sessions[code] = s
	return s
}

func (r *Registry) Get(code string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.sessions[code]
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove forgets the session. Removing an unknown code is a no-op.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, code)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) randomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = codeAlphabet[r.rng.Intn(len(codeAlphabet))]
	}
	return string(b)
}
