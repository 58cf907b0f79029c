// Package countdown owns the per-session turn countdowns and the deferred
// removal of finished sessions.
//
// A countdown is armed once per turn. Every tick republishes the live snapshot;
// the first tick past the reminder threshold publishes a one-shot reminder and
// the first tick past the end disarms the countdown and hands its Record to the
// expiry callback. Arming always replaces the previous countdown of a session.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	EventTimerTick      = "TIMER_TICK"
	EventSessionUpdated = "SESSION_UPDATED"

	ReminderMessage = "Merci de rentrer vos décisions (rappel) !"

	DefaultReminderDelay = 3 * time.Minute
	DefaultGracePeriod   = time.Minute
	DefaultTickInterval  = time.Second
)

type Notifier interface {
	Publish(code, event string, payload any)
}

// Record identifies one armed countdown. Token is unique for the lifetime of
// the scheduler, so a Record from a replaced countdown never matches again.
type Record struct {
	Code  string
	Token uint64
}

// State is the observable projection of a countdown.
type State struct {
	Running     bool       `json:"running"`
	ReminderAt  *time.Time `json:"reminderAt"`
	GraceEndsAt *time.Time `json:"graceEndsAt"`
	EndsAt      *time.Time `json:"endsAt"`
}

type Tick struct {
	Now        time.Time  `json:"now"`
	ReminderAt *time.Time `json:"reminderAt"`
	EndsAt     *time.Time `json:"endsAt"`
}

type Reminder struct {
	Kind string `json:"kind"`
	Msg  string `json:"msg"`
}

type Config struct {
	ReminderDelay time.Duration
	GracePeriod   time.Duration
	TickInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReminderDelay: DefaultReminderDelay,
		GracePeriod:   DefaultGracePeriod,
		TickInterval:  DefaultTickInterval,
	}
}

type countdown struct {
	rec          Record
	reminderAt   time.Time
	endsAt       time.Time
	reminderSent bool
	stop         func()
}

type removal struct {
	token uint64
	stop  func()
}

type Scheduler struct {
	mu       sync.Mutex
	cfg      Config
	clock    clockwork.Clock
	runner   Runner
	notify   Notifier
	onExpire func(Record)

	seq      uint64
	armed    map[string]*countdown
	removals map[string]removal
}

func New(cfg Config, clock clockwork.Clock, runner Runner, notify Notifier) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		cfg:      cfg,
		clock:    clock,
		runner:   runner,
		notify:   notify,
		armed:    make(map[string]*countdown),
		removals: make(map[string]removal),
	}
}

// OnExpire sets the callback invoked when a countdown runs out. It is called
// without any scheduler lock held.
func (s *Scheduler) OnExpire(fn func(Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = fn
}

// Arm starts a fresh countdown for code, cancelling any previous one first.
func (s *Scheduler) Arm(code string) (Record, State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(code)

	now := s.clock.Now()
	s.seq++
	c := &countdown{
		rec:        Record{Code: code, Token: s.seq},
		reminderAt: now.Add(s.cfg.ReminderDelay),
		endsAt:     now.Add(s.cfg.ReminderDelay + s.cfg.GracePeriod),
	}
	token := c.rec.Token
	stop, err := s.runner.Every("countdown:"+code, s.cfg.TickInterval, func() { s.tick(code, token) })
	if err != nil {
		return Record{}, Idle(), err
	}
	c.stop = stop
	s.armed[code] = c
	return c.rec, c.state(), nil
}

// Cancel discards the countdown of code, if any, and returns the idle state.
func (s *Scheduler) Cancel(code string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(code)
	return Idle()
}

func (s *Scheduler) cancelLocked(code string) {
	if c, ok := s.armed[code]; ok {
		c.stop()
		delete(s.armed, code)
	}
}

// Armed reports the record of the countdown currently armed for code.
func (s *Scheduler) Armed(code string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.armed[code]
	if !ok {
		return Record{}, false
	}
	return c.rec, true
}

// Tick runs one evaluation of the countdown currently armed for code.
func (s *Scheduler) Tick(code string) {
	rec, ok := s.Armed(code)
	if !ok {
		return
	}
	s.tick(code, rec.Token)
}

func (s *Scheduler) tick(code string, token uint64) {
	s.mu.Lock()
	c, ok := s.armed[code]
	if !ok || c.rec.Token != token {
		s.mu.Unlock()
		log.Debug().Str("code", code).Uint64("token", token).Msg("stale countdown tick")
		return
	}
	now := s.clock.Now()
	reminderAt, endsAt := c.reminderAt, c.endsAt
	tick := Tick{Now: now, ReminderAt: &reminderAt, EndsAt: &endsAt}

	remind := false
	if !c.reminderSent && !now.Before(c.reminderAt) {
		c.reminderSent = true
		remind = true
	}
	expired := !now.Before(c.endsAt)
	if expired {
		c.stop()
		delete(s.armed, code)
	}
	onExpire := s.onExpire
	s.mu.Unlock()

	s.publish(code, EventTimerTick, tick)
	if remind {
		s.publish(code, EventSessionUpdated, Reminder{Kind: "REMINDER", Msg: ReminderMessage})
	}
	if expired {
		log.Info().Str("code", code).Msg("countdown expired")
		if onExpire != nil {
			onExpire(c.rec)
		}
	}
}

// ScheduleRemoval runs fn once after delay unless cancelled or replaced.
func (s *Scheduler) ScheduleRemoval(code string, delay time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.removals[code]; ok {
		r.stop()
	}
	s.seq++
	token := s.seq
	stop, err := s.runner.At("remove:"+code, s.clock.Now().Add(delay), func() {
		s.mu.Lock()
		r, ok := s.removals[code]
		if !ok || r.token != token {
			s.mu.Unlock()
			return
		}
		delete(s.removals, code)
		s.mu.Unlock()
		fn()
	})
	if err != nil {
		return err
	}
	s.removals[code] = removal{token: token, stop: stop}
	return nil
}

func (s *Scheduler) CancelRemoval(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.removals[code]; ok {
		r.stop()
		delete(s.removals, code)
	}
}

// Shutdown stops every countdown and pending removal, then the runner.
func (s *Scheduler) Shutdown() error {
	s.mu.Lock()
	for code, c := range s.armed {
		c.stop()
		delete(s.armed, code)
	}
	for code, r := range s.removals {
		r.stop()
		delete(s.removals, code)
	}
	s.mu.Unlock()
	return s.runner.Shutdown()
}

func (s *Scheduler) publish(code, event string, payload any) {
	if s.notify != nil {
		s.notify.Publish(code, event, payload)
	}
}

func (c *countdown) state() State {
	reminderAt, endsAt := c.reminderAt, c.endsAt
	return State{Running: true, ReminderAt: &reminderAt, GraceEndsAt: &endsAt, EndsAt: &endsAt}
}

func Idle() State { return State{} }
