package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/xo-arena/internal/core"
)

var (
	flagLimit    int
	flagStatuses []string
	flagMode     string
	flagPlayer   string
)

var gamesCmd = &cobra.Command{
	Use:   "games",
	Short: "List recent games",
	Long: `Display the most recently created games, newest first.

Examples:
  arena games
  arena games --limit 50
  arena games --status waiting --status in_progress --mode pvp
  arena games --player alice`,
	RunE: runGames,
}

func init() {
	gamesCmd.Flags().IntVar(&flagLimit, "limit", 20, "Number of games to show")
	gamesCmd.Flags().StringSliceVar(&flagStatuses, "status", nil, "Only show games with this status (repeatable)")
	gamesCmd.Flags().StringVar(&flagMode, "mode", "", "Only show games of this mode (vs_bot or pvp)")
	gamesCmd.Flags().StringVar(&flagPlayer, "player", "", "Only show games this player sits in")
}

func gameFilter() (core.GameFilter, error) {
	f := core.GameFilter{Player: core.PlayerID(flagPlayer), Limit: flagLimit}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	for _, v := range flagStatuses {
		st, ok := core.ParseStatus(v)
		if !ok {
			return f, fmt.Errorf("unknown status %q", v)
		}
		f.Statuses = append(f.Statuses, st)
	}
	if flagMode != "" {
		mode, ok := core.ParseMode(flagMode)
		if !ok {
			return f, fmt.Errorf("unknown mode %q", flagMode)
		}
		f.Mode = mode
	}
	return f, nil
}

func runGames(cmd *cobra.Command, _ []string) error {
	filter, err := gameFilter()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	games, total, err := store.ListGames(context.Background(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(games) == 0 {
		fmt.Fprintln(out, "No matching games.")
		return nil
	}

	// Print header
	fmt.Fprintf(out, "  %-36s  %-6s  %-4s  %-11s  %-12s  %-12s  %s\n", "ID", "Mode", "Size", "Status", "Player 1", "Player 2", "Created")
	fmt.Fprintf(out, "  %-36s  %-6s  %-4s  %-11s  %-12s  %-12s  %s\n", "--", "----", "----", "------", "--------", "--------", "-------")

	for _, g := range games {
		opponent := string(g.Player2)
		if g.BotDifficulty != "" {
			opponent = "bot:" + string(g.BotDifficulty)
		}
		fmt.Fprintf(out, "  %-36s  %-6s  %-4s  %-11s  %-12s  %-12s  %s\n",
			g.ID, g.Mode, fmt.Sprintf("%dx%d", g.BoardSize, g.BoardSize), g.Status,
			g.Player1, orDash(opponent), g.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if total > len(games) {
		fmt.Fprintf(out, "\n  %d of %d shown; raise --limit for more.\n", len(games), total)
	}
	return nil
}
