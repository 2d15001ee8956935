// arena is a tic-tac-toe game server with matchmaking, live games over
// WebSocket and a scripted opponent.
//
// Usage:
//
//	arena serve              - Start the game server
//	arena games              - List recent games
//	arena game <id>          - Show a game's board and moves
//	arena token <player>     - Issue a bearer token for a player
//
// Global flags:
//
//	--config <path>    - Config file (default search: ~/.arena/arena.yaml, ./configs/arena.yaml)
//	--db <dsn>         - Override the database path or connection string
//	--log-level <lvl>  - Override the log level
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/xo-arena/internal/config"
	"github.com/vovakirdan/xo-arena/internal/storage"
)

var (
	// Global flags
	flagConfig   string
	flagDB       string
	flagLogLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "Tic-tac-toe arena server",
	Long: `Arena runs tic-tac-toe games between players and against a
scripted opponent, on 3x3, 4x4 and 5x5 boards.

Available commands:
  serve    - Start the HTTP/WebSocket server
  games    - List recent games
  game     - Show one game's board and moves
  token    - Issue a bearer token for testing clients

Examples:
  arena serve
  arena serve --addr :9090
  arena games --limit 5
  arena game 3f1c...`,
	SilenceUsage: true,
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Database path or DSN (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gamesCmd)
	rootCmd.AddCommand(gameCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadConfig loads the config and applies the global flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagDB != "" {
		cfg.Storage.DSN = flagDB
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *log.Logger {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "arena",
		Level:           level,
		Formatter:       cfg.Log.Formatter(),
	})
}

func openStore(cfg config.Config) (*storage.Store, error) {
	return storage.OpenDriver(cfg.Storage.Driver, cfg.Storage.DSN)
}
