// Package core provides the domain types shared by the arena packages:
// games, moves, symbols and boards. It has no external dependencies so the
// rules engine, bot and session engine can all be tested in isolation.
package core

import (
	"errors"
	"time"
)

// GameID uniquely identifies a game.
type GameID string

// PlayerID identifies a player. It is the subject of the caller's credential.
type PlayerID string

// Symbol is a mark placed on the board.
type Symbol string

const (
	SymbolNone Symbol = ""
	SymbolX    Symbol = "x"
	SymbolO    Symbol = "o"
)

// Opposite returns the other symbol. SymbolNone has no opposite.
func (s Symbol) Opposite() Symbol {
	switch s {
	case SymbolX:
		return SymbolO
	case SymbolO:
		return SymbolX
	default:
		return SymbolNone
	}
}

// Valid reports whether s is X or O.
func (s Symbol) Valid() bool {
	return s == SymbolX || s == SymbolO
}

// ParseSymbol accepts "x"/"o" in either case.
func ParseSymbol(v string) (Symbol, bool) {
	switch v {
	case "x", "X":
		return SymbolX, true
	case "o", "O":
		return SymbolO, true
	case "":
		return SymbolNone, true
	default:
		return SymbolNone, false
	}
}

// Status is the lifecycle state of a game.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusAbandoned  Status = "abandoned"
	StatusDraw       Status = "draw"
)

// IsActive reports whether moves may still be made.
func (s Status) IsActive() bool {
	return s == StatusWaiting || s == StatusInProgress
}

// IsTerminal reports whether the game is over.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusAbandoned || s == StatusDraw
}

// CanTransition reports whether moving from s to next is allowed.
// Transitions are monotonic: waiting -> in_progress -> finished|draw|abandoned.
// A game that never started may end directly by surrender or abandonment, but
// cannot be drawn.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusWaiting:
		return next == StatusInProgress || next == StatusFinished || next == StatusAbandoned
	case StatusInProgress:
		return next == StatusFinished || next == StatusDraw || next == StatusAbandoned
	default:
		return false
	}
}

// ParseStatus converts a wire status.
func ParseStatus(v string) (Status, bool) {
	switch s := Status(v); s {
	case StatusWaiting, StatusInProgress, StatusFinished, StatusAbandoned, StatusDraw:
		return s, true
	default:
		return "", false
	}
}

// Mode defines who the opponent is.
type Mode string

const (
	ModeVsBot Mode = "vs_bot"
	ModePvP   Mode = "pvp"
)

// ParseMode converts a wire game type.
func ParseMode(v string) (Mode, bool) {
	switch m := Mode(v); m {
	case ModeVsBot, ModePvP:
		return m, true
	default:
		return "", false
	}
}

// Difficulty is the scripted opponent's strength.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty returns the difficulty named by v.
func ParseDifficulty(v string) (Difficulty, bool) {
	switch Difficulty(v) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return Difficulty(v), true
	default:
		return "", false
	}
}

// Board sizes supported by the arena.
const (
	MinBoardSize = 3
	MaxBoardSize = 5
)

// BoardSizes lists every supported board size in ascending order.
var BoardSizes = []int{3, 4, 5}

// ValidBoardSize reports whether n is a supported board dimension.
func ValidBoardSize(n int) bool {
	return n >= MinBoardSize && n <= MaxBoardSize
}

// Game is one match between two symbols on a board.
type Game struct {
	ID            GameID
	BoardSize     int
	Mode          Mode
	Player1       PlayerID
	Player2       PlayerID // empty until matched, always empty for bot games
	BotDifficulty Difficulty
	Status        Status
	CurrentSymbol Symbol
	// Player1Symbol is fixed by the first move of the game. Player2 (or the
	// bot) holds the opposite symbol.
	Player1Symbol Symbol
	Winner        PlayerID
	LastMoveAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    time.Time
}

// IsParticipant reports whether p plays in this game.
func (g *Game) IsParticipant(p PlayerID) bool {
	if p == "" {
		return false
	}
	return g.Player1 == p || g.Player2 == p
}

// Opponent returns the other participant, or "" if p has none.
func (g *Game) Opponent(p PlayerID) PlayerID {
	switch p {
	case g.Player1:
		return g.Player2
	case g.Player2:
		return g.Player1
	default:
		return ""
	}
}

// SymbolOf returns the symbol held by p, or SymbolNone before the first move.
func (g *Game) SymbolOf(p PlayerID) Symbol {
	if g.Player1Symbol == SymbolNone {
		return SymbolNone
	}
	switch p {
	case g.Player1:
		return g.Player1Symbol
	case g.Player2:
		return g.Player1Symbol.Opposite()
	default:
		return SymbolNone
	}
}

// PlayerWithSymbol returns the participant holding s. In a bot game the bot's
// symbol maps to "".
func (g *Game) PlayerWithSymbol(s Symbol) PlayerID {
	if g.Player1Symbol == SymbolNone || !s.Valid() {
		return ""
	}
	if s == g.Player1Symbol {
		return g.Player1
	}
	return g.Player2
}

// AssignSymbols records the symbol of the first mover. Any mover other than
// Player1 (the second player or the bot) leaves Player1 with the opposite.
func (g *Game) AssignSymbols(mover PlayerID, s Symbol) {
	if mover != "" && mover == g.Player1 {
		g.Player1Symbol = s
		return
	}
	g.Player1Symbol = s.Opposite()
}

// Move is a single placed symbol.
type Move struct {
	ID        int64
	GameID    GameID
	PlayerID  PlayerID // empty for the scripted opponent
	Row       int
	Col       int
	Symbol    Symbol
	Order     int
	CreatedAt time.Time
}

// ErrGameNotFound is returned when a game id does not resolve.
var ErrGameNotFound = errors.New("game not found")

// GameFilter selects games for listing. Zero fields match everything.
type GameFilter struct {
	Player        PlayerID // either seat
	Statuses      []Status
	Mode          Mode
	CreatedBefore time.Time
	Limit         int
	Offset        int
}
