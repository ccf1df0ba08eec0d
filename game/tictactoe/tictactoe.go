// Package tictactoe implements n x n tic-tac-toe, won by n in a row.
package tictactoe

import (
	"fmt"
	"strings"

	"github.com/brensch/pit/game"
)

const Name = "tictactoe"

// Game is the tic-tac-toe rule engine. The zero value is not usable; use New.
type Game struct {
	n int
}

func New(n int) *Game {
	if n < 3 {
		n = 3
	}
	return &Game{n: n}
}

func (g *Game) Name() string { return Name }

func (g *Game) InitBoard() game.Board { return game.NewBoard(g.n, g.n) }

func (g *Game) BoardSize() (int, int) { return g.n, g.n }

func (g *Game) ActionSize() int { return g.n*g.n + 1 }

func (g *Game) NextState(b game.Board, p game.Player, action int) (game.Board, game.Player, error) {
	mask := g.ValidMoves(b, p)
	if action < 0 || action >= len(mask) || !mask[action] {
		return game.Board{}, 0, fmt.Errorf("%w: action %d for %s", game.ErrIllegalMove, action, p)
	}
	if action == g.n*g.n {
		return b.Clone(), p.Other(), nil
	}
	next := b.Clone()
	next.Cells[action] = int8(p)
	return next, p.Other(), nil
}

func (g *Game) ValidMoves(b game.Board, _ game.Player) []bool {
	mask := make([]bool, g.ActionSize())
	open := false
	for i, v := range b.Cells {
		if v == 0 {
			mask[i] = true
			open = true
		}
	}
	if !open {
		mask[g.n*g.n] = true
	}
	return mask
}

func (g *Game) Ended(b game.Board, p game.Player) float64 {
	if g.isWin(b, p) {
		return 1
	}
	if g.isWin(b, p.Other()) {
		return -1
	}
	for _, v := range b.Cells {
		if v == 0 {
			return 0
		}
	}
	return game.Draw
}

func (g *Game) isWin(b game.Board, p game.Player) bool {
	want := int8(p)
	diag, anti := true, true
	for i := 0; i < g.n; i++ {
		row, col := true, true
		for j := 0; j < g.n; j++ {
			if b.At(i, j) != want {
				row = false
			}
			if b.At(j, i) != want {
				col = false
			}
		}
		if row || col {
			return true
		}
		if b.At(i, i) != want {
			diag = false
		}
		if b.At(i, g.n-1-i) != want {
			anti = false
		}
	}
	return diag || anti
}

func (g *Game) Canonical(b game.Board, p game.Player) game.Board {
	return b.Scale(p)
}

// Symmetries returns the eight rotations and reflections of b with pi
// permuted to match. The pass entry is carried through unchanged.
func (g *Game) Symmetries(b game.Board, pi []float32) []game.Symmetry {
	out := make([]game.Symmetry, 0, 8)
	for rot := 1; rot <= 4; rot++ {
		for _, flip := range []bool{true, false} {
			nb := game.NewBoard(g.n, g.n)
			npi := make([]float32, len(pi))
			if len(pi) > 0 {
				npi[len(pi)-1] = pi[len(pi)-1]
			}
			for r := 0; r < g.n; r++ {
				for c := 0; c < g.n; c++ {
					sr, sc := g.source(r, c, rot, flip)
					nb.Cells[r*g.n+c] = b.At(sr, sc)
					if len(pi) > g.n*g.n {
						npi[r*g.n+c] = pi[sr*g.n+sc]
					}
				}
			}
			out = append(out, game.Symmetry{Board: nb, Policy: npi})
		}
	}
	return out
}

// source maps a destination cell back to the cell it came from after rot
// counter-clockwise quarter turns followed by an optional left-right flip.
func (g *Game) source(r, c, rot int, flip bool) (int, int) {
	if flip {
		c = g.n - 1 - c
	}
	for i := 0; i < rot%4; i++ {
		r, c = c, g.n-1-r
	}
	return r, c
}

func (g *Game) Key(b game.Board) string {
	buf := make([]byte, len(b.Cells))
	for i, v := range b.Cells {
		buf[i] = byte('1' + v)
	}
	return string(buf)
}

// Render draws the board as a small text grid.
func (g *Game) Render(b game.Board, _ game.Player) ([]byte, error) {
	var sb strings.Builder
	for r := 0; r < g.n; r++ {
		for c := 0; c < g.n; c++ {
			switch b.At(r, c) {
			case 1:
				sb.WriteString(" X ")
			case -1:
				sb.WriteString(" O ")
			default:
				sb.WriteString("   ")
			}
			if c < g.n-1 {
				sb.WriteByte('|')
			}
		}
		sb.WriteByte('\n')
		if r < g.n-1 {
			sb.WriteString(strings.Repeat("-", 4*g.n-1))
			sb.WriteByte('\n')
		}
	}
	return []byte(sb.String()), nil
}
