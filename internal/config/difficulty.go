package config

import (
	"fmt"
	"time"

	"github.com/vovakirdan/xo-arena/internal/core"
)

// BotConfig defines the scripted opponent.
type BotConfig struct {
	DefaultDifficulty string `yaml:"default_difficulty"` // used when a request names none
	Seed              int64  `yaml:"seed"`               // 0 = seeded from the clock
}

// Difficulty returns DefaultDifficulty, or medium if it is not a known level.
func (b BotConfig) Difficulty() core.Difficulty {
	if d, ok := core.ParseDifficulty(b.DefaultDifficulty); ok {
		return d
	}
	return core.DifficultyMedium
}

// ResolveDifficulty returns the difficulty named by v, falling back to the
// configured default for an empty value.
func (b BotConfig) ResolveDifficulty(v string) (core.Difficulty, error) {
	if v == "" {
		return b.Difficulty(), nil
	}
	d, ok := core.ParseDifficulty(v)
	if !ok {
		return "", fmt.Errorf("unknown difficulty %q (want easy, medium or hard)", v)
	}
	return d, nil
}

// PolicySeed returns the seed for the bot's random source.
func (b BotConfig) PolicySeed() int64 {
	if b.Seed != 0 {
		return b.Seed
	}
	return time.Now().UnixNano()
}

func (b BotConfig) validate() error {
	if b.DefaultDifficulty == "" {
		return nil
	}
	if _, ok := core.ParseDifficulty(b.DefaultDifficulty); !ok {
		return fmt.Errorf("bot.default_difficulty must be easy, medium or hard, got %q", b.DefaultDifficulty)
	}
	return nil
}
