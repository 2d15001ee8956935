package rules

import (
	"errors"
	"testing"

	"github.com/vovakirdan/xo-arena/internal/core"
)

func newGame(status core.Status, current core.Symbol) *core.Game {
	return &core.Game{
		ID:            "g1",
		BoardSize:     3,
		Mode:          core.ModePvP,
		Player1:       "alice",
		Player2:       "bob",
		Status:        status,
		CurrentSymbol: current,
	}
}

func violationOf(t *testing.T, err error) Violation {
	t.Helper()
	var me *MoveError
	if !errors.As(err, &me) {
		t.Fatalf("Expected *MoveError, got %v", err)
	}
	return me.Violation
}

func TestValidateMoveOrder(t *testing.T) {
	board := core.NewBoard(3)
	board.Set(0, 0, core.SymbolX)

	// Out of bounds is reported before the turn check.
	err := ValidateMove(newGame(core.StatusInProgress, core.SymbolO), board, 3, 0, core.SymbolX)
	if v := violationOf(t, err); v != ViolationOutOfBounds {
		t.Errorf("Expected OutOfBounds, got %v", v)
	}

	// Occupied is reported before the turn check.
	err = ValidateMove(newGame(core.StatusInProgress, core.SymbolO), board, 0, 0, core.SymbolX)
	if v := violationOf(t, err); v != ViolationOccupied {
		t.Errorf("Expected Occupied, got %v", v)
	}

	err = ValidateMove(newGame(core.StatusInProgress, core.SymbolO), board, 1, 1, core.SymbolX)
	if v := violationOf(t, err); v != ViolationNotYourTurn {
		t.Errorf("Expected NotYourTurn, got %v", v)
	}

	err = ValidateMove(newGame(core.StatusFinished, core.SymbolO), board, 1, 1, core.SymbolO)
	if v := violationOf(t, err); v != ViolationGameNotActive {
		t.Errorf("Expected GameNotActive, got %v", v)
	}

	if err := ValidateMove(newGame(core.StatusInProgress, core.SymbolO), board, 1, 1, core.SymbolO); err != nil {
		t.Errorf("Expected valid move, got %v", err)
	}
}

func TestValidateMoveOutOfBoundsMessage(t *testing.T) {
	err := ValidateMove(newGame(core.StatusWaiting, core.SymbolNone), core.NewBoard(3), -1, 0, core.SymbolX)
	if err == nil {
		t.Fatal("Expected an error for row -1")
	}
	if err.Error() != "row -1 is out of board bounds (0-2)" {
		t.Errorf("Unexpected message: %q", err.Error())
	}
}

func TestValidateMoveOpeningAcceptsEitherSymbol(t *testing.T) {
	g := newGame(core.StatusWaiting, core.SymbolNone)
	for _, s := range []core.Symbol{core.SymbolX, core.SymbolO} {
		if err := ValidateMove(g, core.NewBoard(3), 1, 1, s); err != nil {
			t.Errorf("Opening with %s should be valid, got %v", s, err)
		}
	}
}

func TestValidateMoveMissingSymbolInProgress(t *testing.T) {
	err := ValidateMove(newGame(core.StatusInProgress, core.SymbolNone), core.NewBoard(3), 1, 1, core.SymbolX)
	if !errors.Is(err, ErrNoCurrentSymbol) {
		t.Errorf("Expected ErrNoCurrentSymbol, got %v", err)
	}
}

func TestViolationCodes(t *testing.T) {
	codes := map[Violation]string{
		ViolationOccupied:      "MOVE_INVALID_OCCUPIED",
		ViolationOutOfBounds:   "MOVE_INVALID_OUT_OF_BOUNDS",
		ViolationNotYourTurn:   "MOVE_INVALID_NOT_YOUR_TURN",
		ViolationGameNotActive: "MOVE_INVALID_GAME_NOT_ACTIVE",
		ViolationTimeout:       "MOVE_INVALID_TIMEOUT",
		Violation(0):           "MOVE_INVALID_SERVER_ERROR",
	}
	for v, want := range codes {
		if got := v.Code(); got != want {
			t.Errorf("Violation %d: expected %s, got %s", v, want, got)
		}
	}
}

// lines3 lists every winning line on a 3x3 board.
var lines3 = [][3][2]int{
	{{0, 0}, {0, 1}, {0, 2}},
	{{1, 0}, {1, 1}, {1, 2}},
	{{2, 0}, {2, 1}, {2, 2}},
	{{0, 0}, {1, 0}, {2, 0}},
	{{0, 1}, {1, 1}, {2, 1}},
	{{0, 2}, {1, 2}, {2, 2}},
	{{0, 0}, {1, 1}, {2, 2}},
	{{0, 2}, {1, 1}, {2, 0}},
}

func hasLine(b *core.Board, s core.Symbol) bool {
	for _, line := range lines3 {
		if b.At(line[0][0], line[0][1]) == s &&
			b.At(line[1][0], line[1][1]) == s &&
			b.At(line[2][0], line[2][1]) == s {
			return true
		}
	}
	return false
}

// TestCheckWinExhaustive compares CheckWin against a line table for all
// 3^9 fillings of a 3x3 board.
func TestCheckWinExhaustive(t *testing.T) {
	symbols := []core.Symbol{core.SymbolNone, core.SymbolX, core.SymbolO}
	total := 1
	for i := 0; i < 9; i++ {
		total *= 3
	}

	for n := 0; n < total; n++ {
		b := core.NewBoard(3)
		v := n
		for i := 0; i < 9; i++ {
			b.Set(i/3, i%3, symbols[v%3])
			v /= 3
		}

		for _, s := range []core.Symbol{core.SymbolX, core.SymbolO} {
			if got, want := CheckWin(b, s), hasLine(b, s); got != want {
				t.Fatalf("Board\n%sCheckWin(%s) = %v, expected %v", b, s, got, want)
			}
		}

		wantDraw := b.Full() && !hasLine(b, core.SymbolX) && !hasLine(b, core.SymbolO)
		if got := CheckDraw(b); got != wantDraw {
			t.Fatalf("Board\n%sCheckDraw = %v, expected %v", b, got, wantDraw)
		}
	}
}

func TestCheckWinLargerBoards(t *testing.T) {
	b := core.NewBoard(5)
	for i := 0; i < 5; i++ {
		b.Set(i, 4-i, core.SymbolO)
	}
	if !CheckWin(b, core.SymbolO) {
		t.Error("Expected anti-diagonal win on 5x5")
	}

	b = core.NewBoard(4)
	for c := 0; c < 3; c++ {
		b.Set(2, c, core.SymbolX)
	}
	if CheckWin(b, core.SymbolX) {
		t.Error("Three in a row must not win on 4x4")
	}
}

func TestEvaluate(t *testing.T) {
	// x o x
	// x o o
	// o x x
	b := core.NewBoard(3)
	layout := []core.Symbol{
		core.SymbolX, core.SymbolO, core.SymbolX,
		core.SymbolX, core.SymbolO, core.SymbolO,
		core.SymbolO, core.SymbolX, core.SymbolX,
	}
	for i, s := range layout {
		b.Set(i/3, i%3, s)
	}

	if got := Evaluate(b, core.SymbolX); got != Draw {
		t.Errorf("Expected Draw, got %v", got)
	}

	b.Set(2, 1, core.SymbolO)
	if got := Evaluate(b, core.SymbolO); got != Win {
		t.Errorf("Expected Win for o down the middle column, got %v", got)
	}
}
