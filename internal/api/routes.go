// Package api exposes the session lifecycle over plain HTTP for clients that
// do not hold a socket.
package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiliankoe/turnwarden/internal/config"
	"github.com/kiliankoe/turnwarden/internal/deck"
	"github.com/kiliankoe/turnwarden/internal/game"
	"github.com/rs/zerolog/log"
)

type joinRequest struct {
	Profile *deck.Profile `json:"profile"`
}

// Register mounts the HTTP routes on r.
func Register(r gin.IRouter, engine *game.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	r.POST("/session", func(c *gin.Context) {
		var cfg game.SessionConfig
		if err := bindOptional(c, &cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "code": "BAD_REQUEST"})
			return
		}
		code := engine.CreateSession(cfg)
		c.JSON(http.StatusCreated, gin.H{"code": code})
	})

	r.POST("/session/:code/join", func(c *gin.Context) {
		var req joinRequest
		if err := bindOptional(c, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_profile", "code": "BAD_REQUEST"})
			return
		}
		p, err := engine.Join(c.Param("code"), req.Profile)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"playerId": p.ID, "profile": p.Profile})
	})

	r.GET("/session/:code/state", func(c *gin.Context) {
		view, err := engine.State(c.Param("code"), c.Query("role"), c.Query("playerId"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})
}

// CORS answers preflights and sets the allow-origin header from config.
func CORS(cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := cfg.AllowedOrigin(c.GetHeader("Origin")); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions && !strings.HasPrefix(c.Request.URL.Path, "/socket.io") {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Status maps a game error to its HTTP status.
func Status(err error) int {
	switch {
	case errors.Is(err, game.ErrSessionNotFound), errors.Is(err, game.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrDecisionLocked),
		errors.Is(err, game.ErrNotInManualPhase),
		errors.Is(err, game.ErrGameAlreadyStarted),
		errors.Is(err, game.ErrGameEnded):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": game.Code(err)})
}

// bindOptional decodes a JSON body when there is one.
func bindOptional(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
