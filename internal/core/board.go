package core

import "fmt"

// Cell is a board coordinate.
type Cell struct {
	Row int
	Col int
}

// Board is a size x size grid of symbols. The zero value is unusable; create
// boards with NewBoard or BoardFromMoves.
type Board struct {
	size  int
	cells []Symbol
}

// NewBoard returns an empty board of the given size.
func NewBoard(size int) *Board {
	if size < 1 {
		size = MinBoardSize
	}
	return &Board{
		size:  size,
		cells: make([]Symbol, size*size),
	}
}

// BoardFromMoves replays moves in order onto an empty board.
// Moves must already be sorted by Order.
func BoardFromMoves(size int, moves []Move) (*Board, error) {
	b := NewBoard(size)
	for _, m := range moves {
		if !b.InBounds(m.Row, m.Col) {
			return nil, fmt.Errorf("core: move %d at (%d,%d) is outside a %dx%d board", m.Order, m.Row, m.Col, size, size)
		}
		if !b.Empty(m.Row, m.Col) {
			return nil, fmt.Errorf("core: move %d at (%d,%d) overwrites an occupied cell", m.Order, m.Row, m.Col)
		}
		b.Set(m.Row, m.Col, m.Symbol)
	}
	return b, nil
}

// Size returns the board dimension.
func (b *Board) Size() int {
	return b.size
}

// InBounds reports whether (row, col) lies on the board.
func (b *Board) InBounds(row, col int) bool {
	return row >= 0 && row < b.size && col >= 0 && col < b.size
}

// At returns the symbol at (row, col). Out-of-bounds reads return SymbolNone.
func (b *Board) At(row, col int) Symbol {
	if !b.InBounds(row, col) {
		return SymbolNone
	}
	return b.cells[row*b.size+col]
}

// Set places s at (row, col). Out-of-bounds writes are ignored.
func (b *Board) Set(row, col int, s Symbol) {
	if !b.InBounds(row, col) {
		return
	}
	b.cells[row*b.size+col] = s
}

// Empty reports whether (row, col) is on the board and unoccupied.
func (b *Board) Empty(row, col int) bool {
	return b.InBounds(row, col) && b.cells[row*b.size+col] == SymbolNone
}

// EmptyCells lists free cells in row-major order.
func (b *Board) EmptyCells() []Cell {
	var free []Cell
	for i, s := range b.cells {
		if s == SymbolNone {
			free = append(free, Cell{Row: i / b.size, Col: i % b.size})
		}
	}
	return free
}

// Full reports whether no empty cell remains.
func (b *Board) Full() bool {
	for _, s := range b.cells {
		if s == SymbolNone {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the board.
func (b *Board) Clone() *Board {
	cells := make([]Symbol, len(b.cells))
	copy(cells, b.cells)
	return &Board{size: b.size, cells: cells}
}

// Rows returns the board as rows of strings, "" for empty cells.
func (b *Board) Rows() [][]string {
	rows := make([][]string, b.size)
	for r := 0; r < b.size; r++ {
		row := make([]string, b.size)
		for c := 0; c < b.size; c++ {
			row[c] = string(b.At(r, c))
		}
		rows[r] = row
	}
	return rows
}

// String renders the board as text, one row per line.
func (b *Board) String() string {
	out := make([]byte, 0, b.size*(b.size+1))
	for r := 0; r < b.size; r++ {
		for c := 0; c < b.size; c++ {
			switch b.At(r, c) {
			case SymbolX:
				out = append(out, 'X')
			case SymbolO:
				out = append(out, 'O')
			default:
				out = append(out, '.')
			}
		}
		out = append(out, '\n')
	}
	return string(out)
}
