package tictactoe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/pit/game"
)

func boardOf(cells ...int8) game.Board {
	b := game.NewBoard(3, 3)
	copy(b.Cells, cells)
	return b
}

func TestCenterMove(t *testing.T) {
	g := New(3)
	b := g.InitBoard()

	next, player, err := g.NextState(b, game.One, 4)
	require.NoError(t, err)
	require.Equal(t, int8(1), next.At(1, 1))
	require.Equal(t, game.Two, player)
	require.Zero(t, g.Ended(next, player))
	require.Zero(t, b.At(1, 1), "input board must not be mutated")
}

func TestEndedWin(t *testing.T) {
	g := New(3)
	b := boardOf(
		1, 1, 1,
		-1, -1, 1,
		-1, 1, -1,
	)

	require.Greater(t, g.Ended(b, game.One), 0.0)
	require.Less(t, g.Ended(b, game.Two), 0.0)
}

func TestEndedDraw(t *testing.T) {
	g := New(3)
	b := boardOf(
		1, -1, 1,
		1, -1, -1,
		-1, 1, 1,
	)

	v := g.Ended(b, game.One)
	require.NotZero(t, v)
	require.Equal(t, game.Draw, v)
	require.Equal(t, game.Draw, g.Ended(b, game.Two))
	require.Equal(t, game.Player(0), game.Winner(v, game.One))
}

func TestIllegalMoves(t *testing.T) {
	g := New(3)
	b := boardOf(1, 0, 0, 0, 0, 0, 0, 0, 0)

	for _, action := range []int{0, -1, 10, 9} {
		_, _, err := g.NextState(b, game.Two, action)
		require.Error(t, err, "action %d", action)
		require.True(t, errors.Is(err, game.ErrIllegalMove))
	}
}

func TestPassOnlyWhenFull(t *testing.T) {
	g := New(3)
	full := boardOf(1, -1, 1, 1, -1, -1, -1, 1, 1)

	require.Equal(t, []int{9}, game.Legal(g, full, game.One))
	next, p, err := g.NextState(full, game.One, 9)
	require.NoError(t, err)
	require.True(t, next.Equal(full))
	require.Equal(t, game.Two, p)

	require.NotContains(t, game.Legal(g, g.InitBoard(), game.One), 9)
}

func TestCanonical(t *testing.T) {
	g := New(3)
	b := boardOf(1, -1, 0, 0, 0, 0, 0, 0, 0)

	require.True(t, g.Canonical(b, game.One).Equal(b))
	flipped := g.Canonical(b, game.Two)
	require.Equal(t, int8(-1), flipped.Cells[0])
	require.Equal(t, int8(1), flipped.Cells[1])
	require.NotEqual(t, g.Key(b), g.Key(flipped))
}

func TestSymmetries(t *testing.T) {
	g := New(3)
	b := boardOf(1, 0, 0, 0, 0, 0, 0, 0, 0)
	pi := make([]float32, g.ActionSize())
	pi[0] = 0.7
	pi[9] = 0.3

	syms := g.Symmetries(b, pi)
	require.Len(t, syms, 8)

	corners := map[int]bool{}
	for _, s := range syms {
		idx := -1
		for i, v := range s.Board.Cells {
			if v == 1 {
				idx = i
			}
		}
		require.Contains(t, []int{0, 2, 6, 8}, idx)
		require.InDelta(t, 0.7, s.Policy[idx], 1e-6, "policy follows the piece")
		require.InDelta(t, 0.3, s.Policy[9], 1e-6)
		corners[idx] = true
	}
	require.Len(t, corners, 4)
}

func TestParseAction(t *testing.T) {
	g := New(3)

	tests := []struct {
		in   string
		want int
		err  bool
	}{
		{in: "4", want: 4},
		{in: "(1,1)", want: 4},
		{in: "(2, 0)", want: 6},
		{in: "(3,0)", err: true},
		{in: "(1)", err: true},
		{in: "x", err: true},
		{in: "-2", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := game.ParseAction(g, tt.in)
			if tt.err {
				require.ErrorIs(t, err, game.ErrBadAction)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRender(t *testing.T) {
	g := New(3)
	out, err := g.Render(boardOf(1, 0, 0, 0, -1, 0, 0, 0, 0), game.One)
	require.NoError(t, err)
	require.Contains(t, string(out), " X ")
	require.Contains(t, string(out), " O ")
}
