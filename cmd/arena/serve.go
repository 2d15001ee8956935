package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/xo-arena/internal/server"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the arena server",
	Long: `Start the HTTP server that hosts the REST API, live game
connections on /ws/game/{gameId} and Prometheus metrics on /metrics.

Matchmaking state and rate limits live in memory unless redis.url
(or ARENA_REDIS_URL) is set. A JWT secret is required:

  ARENA_JWT_SECRET=change-me arena serve

Examples:
  arena serve                      # Listen on :8080 with SQLite
  arena serve --addr :9090         # Listen on port 9090
  arena serve --db ./arena.db      # Use a specific database`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (host:port, overrides config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Server.Addr = flagAddr
	}

	srv, err := server.New(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	return srv.ListenAndServe()
}
