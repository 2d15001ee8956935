// Package bot picks moves for the scripted opponent.
package bot

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/vovakirdan/xo-arena/internal/core"
	"github.com/vovakirdan/xo-arena/internal/rules"
)

// ErrNoMoves is returned when the board has no empty cell.
var ErrNoMoves = errors.New("bot: no available moves")

// Policy chooses moves by difficulty tier. Safe for concurrent use.
type Policy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy creates a policy. A zero seed uses the current time.
func NewPolicy(seed int64) *Policy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Policy{rng: rand.New(rand.NewSource(seed))}
}

// Choose returns the cell the bot plays as symbol. The board is not modified.
func (p *Policy) Choose(board *core.Board, symbol core.Symbol, difficulty core.Difficulty) (core.Cell, error) {
	free := board.EmptyCells()
	if len(free) == 0 {
		return core.Cell{}, ErrNoMoves
	}

	switch difficulty {
	case core.DifficultyMedium:
		return p.medium(board, symbol, free), nil
	case core.DifficultyHard:
		if board.Size() == 3 {
			return p.hard3(board, symbol, free), nil
		}
		return p.medium(board, symbol, free), nil
	default:
		return p.random(free), nil
	}
}

func (p *Policy) random(free []core.Cell) core.Cell {
	p.mu.Lock()
	defer p.mu.Unlock()
	return free[p.rng.Intn(len(free))]
}

// medium wins if it can, blocks if it must, otherwise plays randomly.
func (p *Policy) medium(board *core.Board, symbol core.Symbol, free []core.Cell) core.Cell {
	if c, ok := winningCell(board, symbol, free); ok {
		return c
	}
	if c, ok := winningCell(board, symbol.Opposite(), free); ok {
		return c
	}
	return p.random(free)
}

// hard3 adds the classic 3x3 opening preferences: centre, then a corner.
func (p *Policy) hard3(board *core.Board, symbol core.Symbol, free []core.Cell) core.Cell {
	if c, ok := winningCell(board, symbol, free); ok {
		return c
	}
	if c, ok := winningCell(board, symbol.Opposite(), free); ok {
		return c
	}
	if board.Empty(1, 1) {
		return core.Cell{Row: 1, Col: 1}
	}

	var corners []core.Cell
	for _, c := range []core.Cell{{Row: 0, Col: 0}, {Row: 0, Col: 2}, {Row: 2, Col: 0}, {Row: 2, Col: 2}} {
		if board.Empty(c.Row, c.Col) {
			corners = append(corners, c)
		}
	}
	if len(corners) > 0 {
		return p.random(corners)
	}
	return p.random(free)
}

// winningCell finds a free cell that completes a line for symbol.
// Candidates are tried on a scratch copy of the board.
func winningCell(board *core.Board, symbol core.Symbol, free []core.Cell) (core.Cell, bool) {
	scratch := board.Clone()
	for _, c := range free {
		scratch.Set(c.Row, c.Col, symbol)
		won := rules.CheckWin(scratch, symbol)
		scratch.Set(c.Row, c.Col, core.SymbolNone)
		if won {
			return c, true
		}
	}
	return core.Cell{}, false
}
