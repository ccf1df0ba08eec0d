package game

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Draw is the terminal value of a drawn game. Ended reserves 0 for a game
// that is still running.
const Draw = 1e-4

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrBadAction   = errors.New("unparseable action")
)

// Symmetry is one equivalent orientation of a board with its matching policy.
type Symmetry struct {
	Board  Board
	Policy []float32
}

// Game is a two-player, alternating, perfect-information rule engine.
//
// Implementations must be pure: no method may mutate its Board argument.
type Game interface {
	Name() string
	InitBoard() Board
	BoardSize() (rows, cols int)
	// ActionSize is the number of distinct actions, including the pass action
	// which is always the last index.
	ActionSize() int
	// NextState applies action for player. It returns ErrIllegalMove (wrapped)
	// when the action is not in ValidMoves.
	NextState(b Board, p Player, action int) (Board, Player, error)
	// ValidMoves returns an ActionSize mask. When the player has no legal
	// placement the mask contains only the pass action.
	ValidMoves(b Board, p Player) []bool
	// Ended returns 0 while the game runs, +1 if p has won, -1 if p has lost
	// and Draw for a draw.
	Ended(b Board, p Player) float64
	// Canonical returns the board from p's point of view.
	Canonical(b Board, p Player) Board
	Symmetries(b Board, pi []float32) []Symmetry
	// Key returns a string that uniquely identifies a canonical board.
	Key(b Board) string
}

// Renderer is implemented by games that can draw a board for clients. The
// bytes are sent as a binary frame after the response announcing them.
type Renderer interface {
	Render(b Board, p Player) ([]byte, error)
}

// PassAction returns the index of the pass action.
func PassAction(g Game) int {
	return g.ActionSize() - 1
}

// Legal lists the indices set in the valid-move mask of b for p.
func Legal(g Game, b Board, p Player) []int {
	mask := g.ValidMoves(b, p)
	out := make([]int, 0, len(mask))
	for a, ok := range mask {
		if ok {
			out = append(out, a)
		}
	}
	return out
}

// Winner converts a terminal value seen from p into the absolute winner:
// One, Two, or 0 for a draw.
func Winner(ended float64, p Player) Player {
	switch v := math.Round(float64(p) * ended); {
	case v > 0:
		return One
	case v < 0:
		return Two
	}
	return 0
}

// ParseAction accepts either an action index ("4") or a row/column tuple
// ("(1,1)") and returns the action index for g.
func ParseAction(g Game, s string) (int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		parts := strings.Split(s[1:len(s)-1], ",")
		if len(parts) != 2 {
			return 0, fmt.Errorf("%w: %q", ErrBadAction, s)
		}
		r, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadAction, s)
		}
		c, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadAction, s)
		}
		rows, cols := g.BoardSize()
		if r < 0 || r >= rows || c < 0 || c >= cols {
			return 0, fmt.Errorf("%w: %q outside %dx%d board", ErrBadAction, s, rows, cols)
		}
		return r*cols + c, nil
	}
	a, err := strconv.Atoi(s)
	if err != nil || a < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadAction, s)
	}
	return a, nil
}
