package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/xo-arena/internal/auth"
	"github.com/vovakirdan/xo-arena/internal/config"
	"github.com/vovakirdan/xo-arena/internal/core"
)

var (
	flagUsername string
	flagTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <player-id>",
	Short: "Issue a bearer token for a player",
	Long: `Sign a token with the configured JWT secret. Useful for local
clients and smoke tests.

Examples:
  arena token alice
  arena token alice --username Alice --ttl 1h`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&flagUsername, "username", "", "Display name (defaults to the player id)")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set (set " + config.EnvJWTSecret + ")")
	}

	username := flagUsername
	if username == "" {
		username = args[0]
	}
	ttl := flagTTL
	if ttl == 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, err := auth.NewValidator(cfg.Auth.JWTSecret).Issue(core.PlayerID(args[0]), username, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
