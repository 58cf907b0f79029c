package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string   `env:"PORT" envDefault:"3000"`
	DataDir     string   `env:"DATA_DIR" envDefault:"data"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	ReminderDelay time.Duration `env:"REMINDER_DELAY" envDefault:"3m"`
	GracePeriod   time.Duration `env:"GRACE_PERIOD" envDefault:"1m"`
	TickInterval  time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	RemovalDelay  time.Duration `env:"REMOVAL_DELAY" envDefault:"60s"`

	ExportEnabled bool   `env:"EXPORT_ENABLED" envDefault:"false"`
	ExportFile    string `env:"EXPORT_FILE" envDefault:"./turnwarden-journal.txt"`

	Redis RedisConfig
}

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL      time.Duration `env:"ARCHIVE_TTL" envDefault:"168h"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// a missing .env is normal outside development
		_ = godotenv.Load(f)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if c.ReminderDelay <= 0 || c.GracePeriod < 0 || c.TickInterval <= 0 {
		return Config{}, fmt.Errorf("invalid countdown timings: reminder=%s grace=%s tick=%s", c.ReminderDelay, c.GracePeriod, c.TickInterval)
	}
	return c, nil
}

// Countdown is the total time from arming a turn countdown to forced resolution.
func (c Config) Countdown() time.Duration {
	return c.ReminderDelay + c.GracePeriod
}

// AllowedOrigin returns the Access-Control-Allow-Origin value for a request
// origin, or "" when the origin is not allowed. No configured origins allows
// everyone.
func (c Config) AllowedOrigin(origin string) string {
	if len(c.CORSOrigins) == 0 {
		return "*"
	}
	for _, o := range c.CORSOrigins {
		if strings.EqualFold(strings.TrimSpace(o), origin) {
			return origin
		}
	}
	return ""
}
