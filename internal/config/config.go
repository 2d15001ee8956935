// Package config provides YAML-based server configuration loading for the
// arena, with environment overrides.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// Config contains all configuration for the arena server.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Game        GameConfig        `yaml:"game"`
	Bot         BotConfig         `yaml:"bot"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	Limits      LimitsConfig      `yaml:"limits"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the database.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

// RedisConfig points at the shared Redis instance. An empty URL keeps the
// matchmaking queue, its locks and the rate limits in memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Enabled reports whether a Redis URL is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// Options parses the URL into client options.
func (r RedisConfig) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		return nil, fmt.Errorf("config: invalid redis url: %w", err)
	}
	return opts, nil
}

// AuthConfig defines bearer token validation.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	QueryParam string        `yaml:"query_param"`
	TokenTTL   time.Duration `yaml:"token_ttl"` // lifetime of tokens minted by "arena token"
}

// GameConfig defines live game timing.
type GameConfig struct {
	TurnTimeout      time.Duration `yaml:"turn_timeout"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	ReconnectWindow  time.Duration `yaml:"reconnect_window"`
	StaleTimerSweep  time.Duration `yaml:"stale_timer_sweep"`
	UnstartedTimeout time.Duration `yaml:"unstarted_timeout"` // 0 keeps unopened PvP games forever
	Workers          uint          `yaml:"workers"`           // scheduler concurrency limit
}

// MatchmakingConfig defines queue lock and expiry timing.
type MatchmakingConfig struct {
	LockTTL        time.Duration `yaml:"lock_ttl"`
	BoardLockTTL   time.Duration `yaml:"board_lock_ttl"`
	EntryTTL       time.Duration `yaml:"entry_ttl"`
	MatchInterval  time.Duration `yaml:"match_interval"`
	ExpireInterval time.Duration `yaml:"expire_interval"`
}

// LimitsConfig bounds what one live connection may send.
type LimitsConfig struct {
	MaxPayload        int           `yaml:"max_payload"`
	MessagesPerMinute int           `yaml:"messages_per_minute"`
	MovesPerMinute    int           `yaml:"moves_per_minute"`
	PruneInterval     time.Duration `yaml:"prune_interval"`
}

// LogConfig defines the logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json or logfmt
}

// Formatter returns the charmbracelet/log formatter for the format name.
func (l LogConfig) Formatter() log.Formatter {
	switch l.Format {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// Validate checks that every value is usable.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server.addr is required")
	check(c.Storage.Driver == "sqlite" || c.Storage.Driver == "postgres",
		"storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	check(c.Storage.DSN != "", "storage.dsn is required")
	if c.Redis.Enabled() {
		_, err := c.Redis.Options()
		check(err == nil, "redis.url: %v", err)
	}
	check(c.Auth.QueryParam != "", "auth.query_param is required")

	check(c.Game.TurnTimeout > 0, "game.turn_timeout must be positive")
	check(c.Game.TickInterval > 0 && c.Game.TickInterval <= c.Game.TurnTimeout,
		"game.tick_interval must be positive and at most game.turn_timeout")
	check(c.Game.ReconnectWindow > 0, "game.reconnect_window must be positive")
	check(c.Game.StaleTimerSweep > 0, "game.stale_timer_sweep must be positive")
	check(c.Game.UnstartedTimeout >= 0, "game.unstarted_timeout must not be negative")
	check(c.Game.Workers > 0, "game.workers must be positive")

	check(c.Matchmaking.LockTTL > 0, "matchmaking.lock_ttl must be positive")
	check(c.Matchmaking.BoardLockTTL > 0, "matchmaking.board_lock_ttl must be positive")
	check(c.Matchmaking.EntryTTL > 0, "matchmaking.entry_ttl must be positive")
	check(c.Matchmaking.MatchInterval > 0, "matchmaking.match_interval must be positive")
	check(c.Matchmaking.ExpireInterval > 0, "matchmaking.expire_interval must be positive")

	check(c.Limits.MaxPayload > 0, "limits.max_payload must be positive")
	check(c.Limits.MessagesPerMinute > 0, "limits.messages_per_minute must be positive")
	check(c.Limits.MovesPerMinute > 0, "limits.moves_per_minute must be positive")
	check(c.Limits.PruneInterval > 0, "limits.prune_interval must be positive")

	if err := c.Bot.validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
