package main

import (
	"strings"
	"testing"

	"github.com/vovakirdan/xo-arena/internal/core"
)

func TestRenderBoardPlain(t *testing.T) {
	b := core.NewBoard(3)
	b.Set(0, 0, core.SymbolX)
	b.Set(1, 1, core.SymbolO)

	want := strings.Join([]string{
		"   0 1 2",
		"0  X . .",
		"1  . O .",
		"2  . . .",
	}, "\n")
	if got := renderBoard(b, false); got != want {
		t.Errorf("Expected\n%s\ngot\n%s", want, got)
	}
}

func TestRenderBoardStyledKeepsSymbols(t *testing.T) {
	b := core.NewBoard(4)
	b.Set(3, 3, core.SymbolO)

	out := renderBoard(b, true)
	if !strings.Contains(out, "O") {
		t.Error("Styled board lost the O")
	}
	if lines := strings.Count(out, "\n"); lines < 5 {
		t.Errorf("Expected a framed 4-row board, got %d lines", lines+1)
	}
}

func TestWinnerLabel(t *testing.T) {
	tests := []struct {
		game core.Game
		want string
	}{
		{core.Game{Status: core.StatusDraw}, "draw"},
		{core.Game{Status: core.StatusFinished, Winner: "alice"}, "alice"},
		{core.Game{Status: core.StatusFinished, Mode: core.ModeVsBot}, "bot"},
		{core.Game{Status: core.StatusAbandoned, Mode: core.ModePvP}, "-"},
	}
	for _, tt := range tests {
		if got := winnerLabel(&tt.game); got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
	}
}
