package ws

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/jonboulle/clockwork"
	"github.com/kiliankoe/turnwarden/internal/config"
	"github.com/kiliankoe/turnwarden/internal/countdown"
	"github.com/kiliankoe/turnwarden/internal/deck"
	"github.com/kiliankoe/turnwarden/internal/game"
)

type emitted struct {
	event string
	args  []any
}

// fakeConn implements the parts of socketio.Conn the server uses.
type fakeConn struct {
	socketio.Conn
	id string

	mu    sync.Mutex
	ctx   any
	rooms map[string]bool
	out   []emitted
}

func newConn(id string) *fakeConn {
	c := &fakeConn{id: id, rooms: map[string]bool{}}
	c.ctx = &ConnCtx{}
	return c
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Context() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *fakeConn) SetContext(ctx interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
}

func (c *fakeConn) Join(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = true
}

func (c *fakeConn) Leave(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

func (c *fakeConn) Emit(event string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, emitted{event: event, args: v})
}

func (c *fakeConn) last(event string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.out) - 1; i >= 0; i-- {
		if c.out[i].event == event && len(c.out[i].args) > 0 {
			return c.out[i].args[0], true
		}
	}
	return nil, false
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = nil
}

type nopRunner struct{}

func (nopRunner) Every(string, time.Duration, func()) (func(), error) { return func() {}, nil }
func (nopRunner) At(string, time.Time, func()) (func(), error)        { return func() {}, nil }
func (nopRunner) Shutdown() error                                     { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ds := &deck.Dataset{
		Events:   []deck.Card{{ID: "e1"}, {ID: "e2"}},
		Misc:     []deck.Card{{ID: "b1", Pile: "Bonus"}, {ID: "c1", Pile: "Contrainte"}},
		Profiles: []deck.Profile{{ID: "p1", Name: "Dev"}},
	}
	drawer, err := deck.NewDrawer(ds)
	if err != nil {
		t.Fatalf("drawer: %v", err)
	}
	clock := clockwork.NewFakeClock()
	srv := New(nil, config.Config{})
	timers := countdown.New(countdown.DefaultConfig(), clock, nopRunner{}, srv)
	rng := rand.New(rand.NewSource(1))
	srv.Engine = game.NewEngine(game.NewRegistry(clock, rng), ds, drawer, timers, game.Options{
		Clock:    clock,
		Rand:     rng,
		Notifier: srv,
	})
	return srv
}

func TestCreateAttachesHost(t *testing.T) {
	srv := newTestServer(t)
	host := newConn("h")

	ack := srv.onCreate(host, game.SessionConfig{Mode: "blitz"})
	code, _ := ack["code"].(string)
	if code == "" {
		t.Fatalf("expected code in ack, got %v", ack)
	}
	ctx := host.Context().(*ConnCtx)
	if ctx.Role != game.RoleHost || ctx.Code != code || !host.rooms[code] {
		t.Fatalf("host not attached: %+v", ctx)
	}
	if _, ok := host.last(game.EventSessionUpdated); !ok {
		t.Fatal("host should receive the initial state")
	}
}

func TestJoinAndFanOut(t *testing.T) {
	srv := newTestServer(t)
	host := newConn("h")
	code := srv.onCreate(host, game.SessionConfig{Mode: "blitz"})["code"].(string)

	alice, bob := newConn("a"), newConn("b")
	ackA := srv.onJoin(alice, joinPayload{Code: code})
	ackB := srv.onJoin(bob, joinPayload{Code: code})
	pidA, _ := ackA["playerId"].(string)
	pidB, _ := ackB["playerId"].(string)
	if pidA == "" || pidB == "" || pidA == pidB {
		t.Fatalf("expected distinct player ids, got %v / %v", ackA, ackB)
	}
	if ackA["profile"] == nil {
		t.Fatal("expected a random profile")
	}

	srv.onHostStart(host, actionPayload{})
	host.reset()
	alice.reset()
	if ack := srv.onPlayerDecide(bob, actionPayload{Decision: "reject"}); ack["ok"] != true {
		t.Fatalf("decide failed: %v", ack)
	}

	got, ok := host.last(game.EventSessionUpdated)
	if !ok {
		t.Fatal("host should get the update")
	}
	hv, ok := got.(game.HostView)
	if !ok || hv.Players[1].Decision == nil {
		t.Fatalf("host should see decisions, got %T", got)
	}

	got, ok = alice.last(game.EventSessionUpdated)
	if !ok {
		t.Fatal("player should get the update")
	}
	pv, ok := got.(game.PlayerView)
	if !ok {
		t.Fatalf("player should get a player view, got %T", got)
	}
	if pv.You == nil || pv.You.ID != pidA || len(pv.Players) != 2 {
		t.Fatalf("unexpected player view %+v", pv)
	}
	if _, ok := alice.last(game.EventTimerTick); !ok {
		t.Fatal("timer snapshots go to every connection")
	}
}

func TestJoinErrors(t *testing.T) {
	srv := newTestServer(t)
	c := newConn("x")

	ack := srv.onJoin(c, joinPayload{Code: "NOPE0"})
	if ack["code"] != "SESSION_NOT_FOUND" {
		t.Fatalf("expected SESSION_NOT_FOUND, got %v", ack)
	}
	if _, ok := c.last(EventError); !ok {
		t.Fatal("errors should be emitted as ERROR")
	}

	code := srv.onCreate(newConn("h"), game.SessionConfig{})["code"].(string)
	ack = srv.onJoin(c, joinPayload{Code: code, PlayerID: "ghost"})
	if ack["code"] != "PLAYER_NOT_FOUND" {
		t.Fatalf("expected PLAYER_NOT_FOUND, got %v", ack)
	}
}

func TestRejoinKeepsPlayer(t *testing.T) {
	srv := newTestServer(t)
	code := srv.onCreate(newConn("h"), game.SessionConfig{})["code"].(string)
	first := newConn("a1")
	pid := srv.onJoin(first, joinPayload{Code: code})["playerId"].(string)

	again := newConn("a2")
	ack := srv.onJoin(again, joinPayload{Code: code, PlayerID: pid})
	if ack["playerId"] != pid {
		t.Fatalf("expected same player, got %v", ack)
	}
	hv, _ := srv.Engine.HostState(code)
	if len(hv.Players) != 1 {
		t.Fatalf("rejoin must not add a player, got %d", len(hv.Players))
	}
}

func TestActionErrorsCarryCodes(t *testing.T) {
	srv := newTestServer(t)
	host := newConn("h")
	code := srv.onCreate(host, game.SessionConfig{Mode: "long"})["code"].(string)
	p := newConn("p")
	srv.onJoin(p, joinPayload{Code: code})

	if ack := srv.onPlayerDecide(p, actionPayload{Decision: "maybe"}); ack["code"] != "INVALID_DECISION_VALUE" {
		t.Fatalf("unexpected ack %v", ack)
	}
	if ack := srv.onHostNextTurn(host, actionPayload{}); ack["code"] != "NOT_IN_MANUAL_PHASE" {
		t.Fatalf("unexpected ack %v", ack)
	}
	srv.onHostStart(host, actionPayload{})
	if ack := srv.onHostStart(host, actionPayload{}); ack["code"] != "GAME_ALREADY_STARTED" {
		t.Fatalf("unexpected ack %v", ack)
	}
	if ack := srv.onPlayerLock(p, actionPayload{}); ack["ok"] != true {
		t.Fatalf("lock failed: %v", ack)
	}
	if ack := srv.onPlayerDecide(p, actionPayload{Decision: "accept"}); ack["code"] != "DECISION_LOCKED" {
		t.Fatalf("unexpected ack %v", ack)
	}
	if ack := srv.onHostCorrect(host, actionPayload{ActionID: "1", Patch: map[string]any{"mode": "blitz"}}); ack["ok"] != true {
		t.Fatalf("correct failed: %v", ack)
	}
}

func TestKickDetachesConnection(t *testing.T) {
	srv := newTestServer(t)
	host := newConn("h")
	code := srv.onCreate(host, game.SessionConfig{})["code"].(string)
	p := newConn("p")
	pid := srv.onJoin(p, joinPayload{Code: code})["playerId"].(string)

	if ack := srv.onHostKick(host, actionPayload{}); ack["code"] != "PLAYER_NOT_FOUND" {
		t.Fatalf("kick without player id should fail, got %v", ack)
	}
	if ack := srv.onHostKick(host, actionPayload{PlayerID: pid}); ack["ok"] != true {
		t.Fatalf("kick failed: %v", ack)
	}
	if p.rooms[code] {
		t.Fatal("kicked connection should leave the room")
	}
	for _, c := range srv.conns(code) {
		if c.ID() == p.ID() {
			t.Fatal("kicked connection should stop receiving updates")
		}
	}
	if ack := srv.onPlayerReady(p, actionPayload{}); ack["code"] != "SESSION_NOT_FOUND" {
		t.Fatalf("detached connection has no session, got %v", ack)
	}
}

func TestPublishPassesThroughOtherPayloads(t *testing.T) {
	srv := New(nil, config.Config{})
	a, b := newConn("a"), newConn("b")
	srv.attach(a, &ConnCtx{Code: "ABCDE", Role: game.RoleHost})
	srv.attach(b, &ConnCtx{Code: "ABCDE", Role: game.RolePlayer, PlayerID: "p"})
	other := newConn("c")
	srv.attach(other, &ConnCtx{Code: "ZZZZZ", Role: game.RoleHost})

	srv.Publish("ABCDE", game.EventMidgameBreak, map[string]any{"turn": 6})
	for _, c := range []*fakeConn{a, b} {
		if _, ok := c.last(game.EventMidgameBreak); !ok {
			t.Fatalf("%s should receive the break notice", c.id)
		}
	}
	if _, ok := other.last(game.EventMidgameBreak); ok {
		t.Fatal("other sessions must not receive it")
	}

	srv.attach(a, &ConnCtx{Code: "ZZZZZ", Role: game.RoleHost})
	if a.rooms["ABCDE"] || len(srv.conns("ABCDE")) != 1 {
		t.Fatal("switching session should leave the previous room")
	}
}
