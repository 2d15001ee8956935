package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vovakirdan/xo-arena/internal/core"
)

var (
	xStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	oStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	emptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	frameStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// renderBoard draws the board with row and column indexes. Styled output
// uses colours and a frame; plain output is safe for pipes.
func renderBoard(b *core.Board, styled bool) string {
	var sb strings.Builder

	sb.WriteString("  ")
	for c := 0; c < b.Size(); c++ {
		fmt.Fprintf(&sb, " %d", c)
	}
	sb.WriteByte('\n')

	for r := 0; r < b.Size(); r++ {
		fmt.Fprintf(&sb, "%d ", r)
		for c := 0; c < b.Size(); c++ {
			sb.WriteByte(' ')
			sb.WriteString(cell(b.At(r, c), styled))
		}
		if r < b.Size()-1 {
			sb.WriteByte('\n')
		}
	}

	if !styled {
		return sb.String()
	}
	return frameStyle.Render(sb.String())
}

func cell(s core.Symbol, styled bool) string {
	switch s {
	case core.SymbolX:
		if styled {
			return xStyle.Render("X")
		}
		return "X"
	case core.SymbolO:
		if styled {
			return oStyle.Render("O")
		}
		return "O"
	default:
		if styled {
			return emptyStyle.Render("·")
		}
		return "."
	}
}

func title(s string, styled bool) string {
	if styled {
		return titleStyle.Render(s)
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
