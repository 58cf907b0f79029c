package ws

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/kiliankoe/turnwarden/internal/config"
	"github.com/kiliankoe/turnwarden/internal/deck"
	"github.com/kiliankoe/turnwarden/internal/game"
	"github.com/rs/zerolog/log"
)

// Inbound events.
const (
	EventCreateSession = "CREATE_SESSION"
	EventJoinSession   = "JOIN_SESSION"
	EventHostStart     = "HOST_START"
	EventHostNextTurn  = "HOST_NEXT_TURN"
	EventHostCorrect   = "HOST_CORRECT_ACTION"
	EventHostKick      = "HOST_KICK"
	EventPlayerReady   = "PLAYER_READY"
	EventPlayerDecide  = "PLAYER_DECIDE_EVENT"
	EventPlayerLock    = "PLAYER_LOCK"
	EventError         = "ERROR"
)

type ConnCtx struct {
	Code     string
	PlayerID string
	Role     string // "host" | "player"
}

type Server struct {
	Engine *game.Engine
	config config.Config

	mu      sync.RWMutex
	members map[string]map[string]socketio.Conn // sessionCode -> socketID -> Conn
}

type joinPayload struct {
	Code     string        `json:"code"`
	Role     string        `json:"role"`
	PlayerID string        `json:"playerId"`
	Profile  *deck.Profile `json:"profile"`
}

// actionPayload covers every host and player action. Code and playerId fall
// back to the ones the connection joined with.
type actionPayload struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
	ActionID string `json:"actionId"`
	Patch    any    `json:"patch"`
	Decision string `json:"decision"`
}

func New(engine *game.Engine, cfg config.Config) *Server {
	return &Server{Engine: engine, config: cfg, members: make(map[string]map[string]socketio.Conn)}
}

// Mount attaches Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", EventCreateSession, srv.onCreate)
	io.OnEvent("/", EventJoinSession, srv.onJoin)
	io.OnEvent("/", EventHostStart, srv.onHostStart)
	io.OnEvent("/", EventHostNextTurn, srv.onHostNextTurn)
	io.OnEvent("/", EventHostCorrect, srv.onHostCorrect)
	io.OnEvent("/", EventHostKick, srv.onHostKick)
	io.OnEvent("/", EventPlayerReady, srv.onPlayerReady)
	io.OnEvent("/", EventPlayerDecide, srv.onPlayerDecide)
	io.OnEvent("/", EventPlayerLock, srv.onPlayerLock)

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ctx, ok := s.Context().(*ConnCtx); ok && ctx.Code != "" {
			srv.removeMember(ctx.Code, s)
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io serve")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// CORS preflight for Socket.IO polling POSTs
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		if origin := srv.config.AllowedOrigin(c.GetHeader("Origin")); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// Publish fans one engine notification out to every connection of a session.
// Host views are narrowed per player connection so that nobody sees another
// player's decision.
func (srv *Server) Publish(code, event string, payload any) {
	hv, isView := payload.(game.HostView)
	for _, c := range srv.conns(code) {
		ctx, _ := c.Context().(*ConnCtx)
		if isView && (ctx == nil || ctx.Role != game.RoleHost) {
			pid := ""
			if ctx != nil {
				pid = ctx.PlayerID
			}
			c.Emit(event, hv.ForPlayer(pid))
			continue
		}
		c.Emit(event, payload)
	}
}

func (srv *Server) onCreate(s socketio.Conn, cfg game.SessionConfig) map[string]any {
	code := srv.Engine.CreateSession(cfg)
	srv.attach(s, &ConnCtx{Code: code, Role: game.RoleHost})
	log.Info().Str("sid", s.ID()).Str("code", code).Msg(EventCreateSession)
	if hv, err := srv.Engine.HostState(code); err == nil {
		s.Emit(game.EventSessionUpdated, hv)
	}
	return map[string]any{"code": code}
}

// onJoin subscribes the connection to a session. Hosts and returning players
// (with a playerId) only subscribe; anyone else joins the roster.
func (srv *Server) onJoin(s socketio.Conn, p joinPayload) map[string]any {
	if p.Role == game.RoleHost {
		hv, err := srv.Engine.HostState(p.Code)
		if err != nil {
			return srv.fail(s, err)
		}
		srv.attach(s, &ConnCtx{Code: p.Code, Role: game.RoleHost})
		log.Info().Str("sid", s.ID()).Str("code", p.Code).Msg("host subscribed")
		s.Emit(game.EventSessionUpdated, hv)
		return map[string]any{"code": p.Code}
	}

	var player game.Player
	if p.PlayerID != "" {
		pv, err := srv.Engine.PlayerState(p.Code, p.PlayerID)
		if err != nil {
			return srv.fail(s, err)
		}
		if pv.You == nil {
			return srv.fail(s, game.ErrPlayerNotFound)
		}
		player = *pv.You
	} else {
		joined, err := srv.Engine.Join(p.Code, p.Profile)
		if err != nil {
			return srv.fail(s, err)
		}
		player = joined
	}
	srv.attach(s, &ConnCtx{Code: p.Code, PlayerID: player.ID, Role: game.RolePlayer})
	log.Info().Str("sid", s.ID()).Str("code", p.Code).Str("playerId", player.ID).Msg(EventJoinSession)
	if pv, err := srv.Engine.PlayerState(p.Code, player.ID); err == nil {
		s.Emit(game.EventSessionUpdated, pv)
	}
	return map[string]any{"playerId": player.ID, "profile": player.Profile}
}

func (srv *Server) onHostStart(s socketio.Conn, p actionPayload) map[string]any {
	code, _ := srv.target(s, p)
	return srv.ack(s, EventHostStart, srv.Engine.Start(code))
}

func (srv *Server) onHostNextTurn(s socketio.Conn, p actionPayload) map[string]any {
	code, _ := srv.target(s, p)
	return srv.ack(s, EventHostNextTurn, srv.Engine.NextTurn(code))
}

func (srv *Server) onHostCorrect(s socketio.Conn, p actionPayload) map[string]any {
	code, _ := srv.target(s, p)
	entry, err := srv.Engine.CorrectAction(code, p.ActionID, p.Patch)
	if err != nil {
		return srv.fail(s, err)
	}
	return map[string]any{"ok": true, "id": entry.ID}
}

func (srv *Server) onHostKick(s socketio.Conn, p actionPayload) map[string]any {
	code, _ := srv.target(s, p)
	// the host's own context has no player id, so the payload must name one
	if p.PlayerID == "" {
		return srv.fail(s, game.ErrPlayerNotFound)
	}
	err := srv.Engine.Kick(code, p.PlayerID)
	if err == nil {
		srv.detachPlayer(code, p.PlayerID)
	}
	return srv.ack(s, EventHostKick, err)
}

func (srv *Server) onPlayerReady(s socketio.Conn, p actionPayload) map[string]any {
	code, pid := srv.target(s, p)
	return srv.ack(s, EventPlayerReady, srv.Engine.Ready(code, pid))
}

func (srv *Server) onPlayerDecide(s socketio.Conn, p actionPayload) map[string]any {
	code, pid := srv.target(s, p)
	return srv.ack(s, EventPlayerDecide, srv.Engine.Decide(code, pid, p.Decision))
}

func (srv *Server) onPlayerLock(s socketio.Conn, p actionPayload) map[string]any {
	code, pid := srv.target(s, p)
	return srv.ack(s, EventPlayerLock, srv.Engine.Lock(code, pid))
}

// target resolves the session and player an action applies to.
func (srv *Server) target(s socketio.Conn, p actionPayload) (code, playerID string) {
	code, playerID = p.Code, p.PlayerID
	if ctx, ok := s.Context().(*ConnCtx); ok {
		if code == "" {
			code = ctx.Code
		}
		if playerID == "" {
			playerID = ctx.PlayerID
		}
	}
	return code, playerID
}

func (srv *Server) attach(s socketio.Conn, ctx *ConnCtx) {
	if old, ok := s.Context().(*ConnCtx); ok && old.Code != "" && old.Code != ctx.Code {
		s.Leave(old.Code)
		srv.removeMember(old.Code, s)
	}
	s.SetContext(ctx)
	s.Join(ctx.Code)
	srv.addMember(ctx.Code, s)
}

// detachPlayer stops fan-out to the connections of a kicked player.
func (srv *Server) detachPlayer(code, playerID string) {
	for _, c := range srv.conns(code) {
		if ctx, ok := c.Context().(*ConnCtx); ok && ctx.PlayerID == playerID {
			c.Leave(code)
			srv.removeMember(code, c)
			c.SetContext(&ConnCtx{})
		}
	}
}

func (srv *Server) addMember(code string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[code] == nil {
		srv.members[code] = make(map[string]socketio.Conn)
	}
	srv.members[code][c.ID()] = c
}

func (srv *Server) removeMember(code string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[code]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, code)
		}
	}
}

func (srv *Server) conns(code string) []socketio.Conn {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]socketio.Conn, 0, len(srv.members[code]))
	for _, c := range srv.members[code] {
		out = append(out, c)
	}
	return out
}

func (srv *Server) ack(s socketio.Conn, event string, err error) map[string]any {
	if err != nil {
		return srv.fail(s, err)
	}
	ctx, _ := s.Context().(*ConnCtx)
	if ctx != nil {
		log.Debug().Str("sid", s.ID()).Str("code", ctx.Code).Msg(event)
	}
	return map[string]any{"ok": true}
}

// fail reports a rejected action both as an ERROR event and as the ack.
func (srv *Server) fail(s socketio.Conn, err error) map[string]any {
	code := game.Code(err)
	if code == "INTERNAL" {
		log.Error().Str("sid", s.ID()).Err(err).Msg("socket action failed")
	}
	out := map[string]any{"code": code, "error": err.Error()}
	s.Emit(EventError, out)
	return out
}
