package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAddr      = "ARENA_ADDR"
	EnvDBDriver  = "ARENA_DB_DRIVER"
	EnvDBDSN     = "ARENA_DB_DSN"
	EnvRedisURL  = "ARENA_REDIS_URL"
	EnvJWTSecret = "ARENA_JWT_SECRET"
	EnvLogLevel  = "ARENA_LOG_LEVEL"
)

// Load loads the arena configuration.
// Search order: customPath -> ~/.arena/arena.yaml -> ./configs/arena.yaml -> embedded default.
// Keys missing from a file keep their default. Environment overrides are
// applied last, after an optional .env file in the working directory.
func Load(customPath string) (Config, error) {
	cfg := DefaultConfig()

	// Embedded default YAML; the hardcoded config stays if it fails to parse
	if err := mergeBytes(&cfg, defaultArenaYAML); err != nil {
		cfg = DefaultConfig()
	}

	if customPath != "" {
		if err := mergeFile(&cfg, customPath); err != nil {
			return cfg, err
		}
	} else {
		for _, path := range []string{userConfigPath("arena.yaml"), filepath.Join("configs", "arena.yaml")} {
			if path == "" {
				continue
			}
			err := mergeFile(&cfg, path)
			if err == nil {
				break
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return cfg, err
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}
	applyEnv(&cfg)

	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := mergeBytes(cfg, data); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func mergeBytes(cfg *Config, data []byte) error {
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	set := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvAddr, &cfg.Server.Addr)
	set(EnvDBDriver, &cfg.Storage.Driver)
	set(EnvDBDSN, &cfg.Storage.DSN)
	set(EnvRedisURL, &cfg.Redis.URL)
	set(EnvJWTSecret, &cfg.Auth.JWTSecret)
	set(EnvLogLevel, &cfg.Log.Level)
}

// userConfigPath returns the path to user config file, or empty if home is unavailable.
func userConfigPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".arena", filename)
}
