// Package game defines the rule-agnostic board and player types shared by the
// search, the session engine and the protocol layer.
//
// Boards are treated as immutable once handed out: every transition returns a
// fresh Board, and consumers clone before they write.
package game

import (
	"fmt"
	"strings"
)

// Player identifies the side to move. One moves first.
type Player int8

const (
	One Player = 1
	Two Player = -1
)

// Other returns the opponent.
func (p Player) Other() Player {
	return -p
}

// Seat returns the lobby seat name of the player.
func (p Player) Seat() string {
	switch p {
	case One:
		return "p1"
	case Two:
		return "p2"
	}
	return ""
}

func (p Player) String() string {
	if s := p.Seat(); s != "" {
		return s
	}
	return fmt.Sprintf("player(%d)", int8(p))
}

// Board is a dense rows x cols grid of cell values. Cell values are owned by
// the game: by convention 0 is empty and ±1 are the players' pieces.
type Board struct {
	Rows  int
	Cols  int
	Cells []int8
}

// NewBoard returns an empty board.
func NewBoard(rows, cols int) Board {
	return Board{Rows: rows, Cols: cols, Cells: make([]int8, rows*cols)}
}

// At returns the cell at row r, column c.
func (b Board) At(r, c int) int8 {
	return b.Cells[r*b.Cols+c]
}

// Clone performs a deep copy of the board.
func (b Board) Clone() Board {
	out := Board{Rows: b.Rows, Cols: b.Cols}
	if len(b.Cells) > 0 {
		out.Cells = make([]int8, len(b.Cells))
		copy(out.Cells, b.Cells)
	}
	return out
}

// Scale multiplies every cell by p. Scaling by Two flips piece ownership,
// which is how most two-player games build their canonical form.
func (b Board) Scale(p Player) Board {
	out := b.Clone()
	if p == One {
		return out
	}
	for i, v := range out.Cells {
		out.Cells[i] = v * int8(p)
	}
	return out
}

// Equal reports whether both boards have the same shape and cells.
func (b Board) Equal(o Board) bool {
	if b.Rows != o.Rows || b.Cols != o.Cols || len(b.Cells) != len(o.Cells) {
		return false
	}
	for i := range b.Cells {
		if b.Cells[i] != o.Cells[i] {
			return false
		}
	}
	return true
}

// Rows2D returns the cells as a row-major nested slice, the shape clients expect.
func (b Board) Rows2D() [][]int {
	out := make([][]int, b.Rows)
	for r := 0; r < b.Rows; r++ {
		row := make([]int, b.Cols)
		for c := 0; c < b.Cols; c++ {
			row[c] = int(b.At(r, c))
		}
		out[r] = row
	}
	return out
}

// String renders the board as one line per row, mostly for test failures.
func (b Board) String() string {
	var sb strings.Builder
	for r := 0; r < b.Rows; r++ {
		for c := 0; c < b.Cols; c++ {
			switch b.At(r, c) {
			case 1:
				sb.WriteByte('X')
			case -1:
				sb.WriteByte('O')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
