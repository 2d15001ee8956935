package config

import (
	_ "embed"
	"time"
)

//go:embed defaults/arena.yaml
var defaultArenaYAML []byte

// DefaultConfig returns the default arena configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "~/.arena/arena.db",
		},
		Auth: AuthConfig{
			QueryParam: "token",
			TokenTTL:   24 * time.Hour,
		},
		Game: GameConfig{
			TurnTimeout:      20 * time.Second,
			TickInterval:     time.Second,
			ReconnectWindow:  20 * time.Second,
			StaleTimerSweep:  60 * time.Second,
			UnstartedTimeout: 10 * time.Minute,
			Workers:          8,
		},
		Bot: BotConfig{
			DefaultDifficulty: "medium",
		},
		Matchmaking: MatchmakingConfig{
			LockTTL:        5 * time.Second,
			BoardLockTTL:   10 * time.Second,
			EntryTTL:       300 * time.Second,
			MatchInterval:  2 * time.Second,
			ExpireInterval: 30 * time.Second,
		},
		Limits: LimitsConfig{
			MaxPayload:        1024,
			MessagesPerMinute: 60,
			MovesPerMinute:    10,
			PruneInterval:     time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
