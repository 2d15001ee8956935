package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vovakirdan/xo-arena/internal/core"
)

var gameCmd = &cobra.Command{
	Use:   "game <id>",
	Short: "Show a game's board and moves",
	Long: `Replay a stored game and print its board, result and move list.
Output is coloured when stdout is a terminal.

Examples:
  arena game 3f1c2a9e-...`,
	Args: cobra.ExactArgs(1),
	RunE: runGame,
}

func runGame(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	g, err := store.GameByID(ctx, core.GameID(args[0]))
	if err != nil {
		return err
	}
	moves, err := store.ListMoves(ctx, g.ID)
	if err != nil {
		return err
	}
	board, err := core.BoardFromMoves(g.BoardSize, moves)
	if err != nil {
		return err
	}

	styled := term.IsTerminal(int(os.Stdout.Fd()))
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, title(fmt.Sprintf("Game %s", g.ID), styled))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Mode:     %s (%dx%d)\n", g.Mode, g.BoardSize, g.BoardSize)
	fmt.Fprintf(out, "  Status:   %s\n", g.Status)
	if g.Mode == core.ModeVsBot {
		fmt.Fprintf(out, "  Players:  %s vs bot (%s)\n", g.Player1, g.BotDifficulty)
	} else {
		fmt.Fprintf(out, "  Players:  %s vs %s\n", g.Player1, orDash(string(g.Player2)))
	}
	if g.Status.IsTerminal() {
		fmt.Fprintf(out, "  Winner:   %s\n", winnerLabel(g))
	} else if g.CurrentSymbol != core.SymbolNone {
		fmt.Fprintf(out, "  To move:  %s\n", g.CurrentSymbol)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderBoard(board, styled))
	fmt.Fprintln(out)

	if len(moves) == 0 {
		fmt.Fprintln(out, "No moves yet.")
		return nil
	}
	fmt.Fprintf(out, "  %-3s  %-6s  %-12s  %-8s  %s\n", "#", "Symbol", "Player", "Cell", "Time")
	fmt.Fprintf(out, "  %-3s  %-6s  %-12s  %-8s  %s\n", "-", "------", "------", "----", "----")
	for _, m := range moves {
		player := string(m.PlayerID)
		if player == "" {
			player = "bot"
		}
		fmt.Fprintf(out, "  %-3d  %-6s  %-12s  %-8s  %s\n",
			m.Order, m.Symbol, player, fmt.Sprintf("(%d,%d)", m.Row, m.Col), m.CreatedAt.Local().Format("15:04:05"))
	}
	return nil
}

func winnerLabel(g *core.Game) string {
	switch {
	case g.Status == core.StatusDraw:
		return "draw"
	case g.Winner != "":
		return string(g.Winner)
	case g.Mode == core.ModeVsBot && g.Status == core.StatusFinished:
		return "bot"
	default:
		return "-"
	}
}
