package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/kiliankoe/turnwarden/internal/api"
	"github.com/kiliankoe/turnwarden/internal/archive"
	"github.com/kiliankoe/turnwarden/internal/config"
	"github.com/kiliankoe/turnwarden/internal/countdown"
	"github.com/kiliankoe/turnwarden/internal/deck"
	"github.com/kiliankoe/turnwarden/internal/game"
	"github.com/kiliankoe/turnwarden/internal/ws"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "v1.0.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`Turnwarden - Real-time turn engine for facilitated card games

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 3000 or PORT env var)

Environment Variables (also read from .env):
  PORT                Port to listen on (default: 3000)
  DATA_DIR            Directory holding the deck and profile datasets (default: data)
  CORS_ORIGINS        Comma separated allowed origins (default: all)
  LOG_LEVEL           debug, info, warn or error (default: info)
  REMINDER_DELAY      Delay before the decision reminder (default: 3m)
  GRACE_PERIOD        Time after the reminder before decisions are forced (default: 1m)
  TICK_INTERVAL       Countdown broadcast interval (default: 1s)
  REMOVAL_DELAY       How long finished sessions stay readable (default: 60s)
  EXPORT_ENABLED      Append finished session journals to a file (default: false)
  EXPORT_FILE         Journal export path (default: ./turnwarden-journal.txt)
  REDIS_ADDR          Archive finished session journals in Redis when set
  REDIS_PASSWORD      Redis password
  REDIS_DB            Redis database (default: 0)
  ARCHIVE_TTL         Expiry of archived journals in Redis (default: 168h)

Examples:
  %s                  Start server with default settings
  %s --port 8080      Start server on port 8080
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("Turnwarden %s\n", version)
		return
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = log.Output(cw)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
	}

	port := *portFlag
	if port == "" {
		port = cfg.Port
	}

	ds, err := deck.Load(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("load datasets")
	}
	drawer, err := deck.NewDrawer(ds)
	if err != nil {
		log.Fatal().Err(err).Msg("build deck pools")
	}
	pools := drawer.Pools()
	log.Info().
		Int("events", len(ds.Events)).
		Int("bonus", len(pools.Bonus)).
		Int("contrainte", len(pools.Contrainte)).
		Int("profiles", len(ds.Profiles)).
		Msg("datasets loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	runner, err := countdown.NewCronRunner(clock)
	if err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}

	// Socket server first: it is the notifier for both the countdowns and the engine
	sock := ws.New(nil, cfg)
	timers := countdown.New(countdown.Config{
		ReminderDelay: cfg.ReminderDelay,
		GracePeriod:   cfg.GracePeriod,
		TickInterval:  cfg.TickInterval,
	}, clock, runner, sock)

	var sinks archive.Multi
	if cfg.ExportEnabled {
		sinks = append(sinks, archive.NewFileSink(cfg.ExportFile, clock))
		log.Info().Str("file", cfg.ExportFile).Msg("journal export enabled")
	}
	if cfg.Redis.Addr != "" {
		rs, err := archive.NewRedisSink(ctx, archive.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			log.Error().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis archive disabled")
		} else {
			defer rs.Close()
			sinks = append(sinks, rs)
			log.Info().Str("addr", cfg.Redis.Addr).Msg("redis archive enabled")
		}
	}
	var archiver game.Archiver
	if len(sinks) > 0 {
		archiver = sinks
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	engine := game.NewEngine(game.NewRegistry(clock, rng), ds, drawer, timers, game.Options{
		Clock:        clock,
		Rand:         rng,
		Notifier:     sock,
		Archiver:     archiver,
		RemovalDelay: cfg.RemovalDelay,
	})
	sock.Engine = engine

	// Gin setup with custom logger (skip /socket.io noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		log.Info().Str("method", c.Request.Method).Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	})
	r.Use(api.CORS(cfg))

	api.Register(r, engine)
	io := sock.Mount(r)

	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		log.Info().Str("port", port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := timers.Shutdown(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown")
	}
	if err := io.Close(); err != nil {
		log.Error().Err(err).Msg("socket.io shutdown")
	}
}
