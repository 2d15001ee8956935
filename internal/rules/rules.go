// Package rules implements move legality and win/draw detection.
// Every function is pure: boards are read, never modified.
package rules

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/xo-arena/internal/core"
)

// Violation is the reason a move was refused.
type Violation int

const (
	ViolationGameNotActive Violation = iota + 1
	ViolationOutOfBounds
	ViolationOccupied
	ViolationNotYourTurn
	ViolationTimeout
)

// Protocol codes reported to clients for rejected moves.
const (
	CodeOccupied      = "MOVE_INVALID_OCCUPIED"
	CodeOutOfBounds   = "MOVE_INVALID_OUT_OF_BOUNDS"
	CodeNotYourTurn   = "MOVE_INVALID_NOT_YOUR_TURN"
	CodeGameNotActive = "MOVE_INVALID_GAME_NOT_ACTIVE"
	CodeTimeout       = "MOVE_INVALID_TIMEOUT"
	CodeServerError   = "MOVE_INVALID_SERVER_ERROR"
)

// Code returns the protocol code for v.
func (v Violation) Code() string {
	switch v {
	case ViolationOutOfBounds:
		return CodeOutOfBounds
	case ViolationOccupied:
		return CodeOccupied
	case ViolationNotYourTurn:
		return CodeNotYourTurn
	case ViolationGameNotActive:
		return CodeGameNotActive
	case ViolationTimeout:
		return CodeTimeout
	default:
		return CodeServerError
	}
}

// MoveError describes a refused move.
type MoveError struct {
	Violation Violation
	Reason    string
}

func (e *MoveError) Error() string {
	return e.Reason
}

// Code returns the protocol code for the error.
func (e *MoveError) Code() string {
	return e.Violation.Code()
}

// NewMoveError builds a MoveError with a formatted reason.
func NewMoveError(v Violation, format string, args ...any) *MoveError {
	return &MoveError{Violation: v, Reason: fmt.Sprintf(format, args...)}
}

// ErrNoCurrentSymbol means an in-progress game has no player to move.
// This is an invariant violation, not a client error.
var ErrNoCurrentSymbol = errors.New("rules: game in progress without a current symbol")

// ValidateMove checks a move against the game state and the reconstructed
// board. Checks run in order: game active, bounds, occupancy, turn.
// A game without a current symbol accepts any opening symbol.
func ValidateMove(g *core.Game, board *core.Board, row, col int, symbol core.Symbol) error {
	if !g.Status.IsActive() {
		return NewMoveError(ViolationGameNotActive, "game is not active (status: %s)", g.Status)
	}

	last := board.Size() - 1
	if row < 0 || row > last {
		return NewMoveError(ViolationOutOfBounds, "row %d is out of board bounds (0-%d)", row, last)
	}
	if col < 0 || col > last {
		return NewMoveError(ViolationOutOfBounds, "column %d is out of board bounds (0-%d)", col, last)
	}

	if !board.Empty(row, col) {
		return NewMoveError(ViolationOccupied, "cell (%d,%d) is already occupied", row, col)
	}

	if g.CurrentSymbol == core.SymbolNone {
		if g.Status == core.StatusInProgress {
			return ErrNoCurrentSymbol
		}
		return nil
	}
	if symbol != g.CurrentSymbol {
		return NewMoveError(ViolationNotYourTurn, "it is %s's turn", g.CurrentSymbol)
	}
	return nil
}

// CheckWin reports whether any full row, column or diagonal holds only symbol.
func CheckWin(board *core.Board, symbol core.Symbol) bool {
	if !symbol.Valid() {
		return false
	}
	n := board.Size()

	for i := 0; i < n; i++ {
		row, col := true, true
		for j := 0; j < n; j++ {
			if board.At(i, j) != symbol {
				row = false
			}
			if board.At(j, i) != symbol {
				col = false
			}
		}
		if row || col {
			return true
		}
	}

	diag, anti := true, true
	for i := 0; i < n; i++ {
		if board.At(i, i) != symbol {
			diag = false
		}
		if board.At(i, n-1-i) != symbol {
			anti = false
		}
	}
	return diag || anti
}

// Winner returns the symbol holding a completed line, or SymbolNone.
func Winner(board *core.Board) core.Symbol {
	switch {
	case CheckWin(board, core.SymbolX):
		return core.SymbolX
	case CheckWin(board, core.SymbolO):
		return core.SymbolO
	default:
		return core.SymbolNone
	}
}

// CheckDraw reports a full board on which neither symbol has won.
func CheckDraw(board *core.Board) bool {
	return board.Full() && Winner(board) == core.SymbolNone
}

// Result is the state of the game after a move.
type Result int

const (
	Continue Result = iota
	Win
	Draw
)

// Evaluate checks the board after mover placed a symbol: win first, then draw.
func Evaluate(board *core.Board, mover core.Symbol) Result {
	if CheckWin(board, mover) {
		return Win
	}
	if CheckDraw(board) {
		return Draw
	}
	return Continue
}
