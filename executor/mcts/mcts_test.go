package mcts

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/brensch/pit/game"
	"github.com/brensch/pit/game/tictactoe"
	"github.com/stretchr/testify/require"
)

// uniformEvaluator returns flat priors and a neutral value.
type uniformEvaluator struct {
	size  int
	calls int
}

func (u *uniformEvaluator) Predict(b game.Board) ([]float32, float32, error) {
	u.calls++
	policy := make([]float32, u.size)
	for i := range policy {
		policy[i] = 1 / float32(u.size)
	}
	return policy, 0, nil
}

func newSearch(g game.Game) (*MCTS, *uniformEvaluator) {
	ev := &uniformEvaluator{size: g.ActionSize()}
	return &MCTS{Config: Config{Cpuct: 1.0}, Game: g, Client: ev}, ev
}

func boardOf(cells ...int8) game.Board {
	b := game.NewBoard(3, 3)
	copy(b.Cells, cells)
	return b
}

func TestSearchVisits(t *testing.T) {
	g := tictactoe.New(3)
	m, ev := newSearch(g)

	simulations := 50
	tree, err := m.Search(context.Background(), g.InitBoard(), game.One, simulations)
	require.NoError(t, err)

	total := 0
	for _, n := range tree.Root.N {
		total += n
	}
	require.Equal(t, simulations, total)
	require.Equal(t, simulations+1, tree.Root.Visits)
	require.Equal(t, len(tree.Nodes), ev.calls)

	for key, n := range tree.Nodes {
		sum := 0
		for _, c := range n.N {
			sum += c
		}
		require.Equal(t, n.Visits-1, sum, "node %s", key)
	}
}

func TestPolicyOverLegalMoves(t *testing.T) {
	g := tictactoe.New(3)
	m, _ := newSearch(g)
	b := boardOf(
		1, -1, 0,
		0, 1, 0,
		0, 0, -1,
	)

	probs, err := m.ActionProb(context.Background(), b, game.One, 40, 1)
	require.NoError(t, err)
	require.Len(t, probs, g.ActionSize())

	valid := g.ValidMoves(b, game.One)
	sum := float32(0)
	for a, p := range probs {
		if !valid[a] {
			require.Zero(t, p, "illegal action %d", a)
		}
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-5)
}

func TestSearchDeterministic(t *testing.T) {
	g := tictactoe.New(3)
	b := boardOf(
		1, 0, 0,
		0, -1, 0,
		0, 0, 0,
	)

	m1, _ := newSearch(g)
	m2, _ := newSearch(g)
	p1, err := m1.ActionProb(context.Background(), b, game.One, 80, 1)
	require.NoError(t, err)
	p2, err := m2.ActionProb(context.Background(), b, game.One, 80, 1)
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestFindsWinningMove(t *testing.T) {
	g := tictactoe.New(3)
	m, _ := newSearch(g)
	// X completes the top row at action 2.
	b := boardOf(
		1, 1, 0,
		-1, -1, 0,
		0, 0, 0,
	)

	probs, err := m.ActionProb(context.Background(), b, game.One, 200, 0)
	require.NoError(t, err)
	require.Equal(t, 2, BestAction(probs))
	require.Equal(t, float32(1), probs[2])

	// Same position from O's side: O wins at action 5.
	probs, err = m.ActionProb(context.Background(), b, game.Two, 200, 0)
	require.NoError(t, err)
	require.Equal(t, 5, BestAction(probs))
}

func TestTemperatureZeroIsOneHot(t *testing.T) {
	g := tictactoe.New(3)
	m, _ := newSearch(g)

	probs, err := m.ActionProb(context.Background(), g.InitBoard(), game.One, 30, 0)
	require.NoError(t, err)

	ones := 0
	for _, p := range probs {
		if p == 1 {
			ones++
		} else {
			require.Zero(t, p)
		}
	}
	require.Equal(t, 1, ones)
}

// passGame never offers a placement. Cell 0 counts passes and the game is
// drawn after four of them.
type passGame struct{}

func (passGame) Name() string            { return "pass" }
func (passGame) InitBoard() game.Board   { return game.NewBoard(1, 2) }
func (passGame) BoardSize() (int, int)   { return 1, 2 }
func (passGame) ActionSize() int         { return 3 }
func (passGame) Key(b game.Board) string { return fmt.Sprint(b.Cells) }

func (passGame) ValidMoves(game.Board, game.Player) []bool {
	return make([]bool, 3)
}

func (passGame) Canonical(b game.Board, _ game.Player) game.Board {
	return b.Clone()
}

func (passGame) Symmetries(game.Board, []float32) []game.Symmetry {
	return nil
}

func (g passGame) NextState(b game.Board, p game.Player, action int) (game.Board, game.Player, error) {
	if action != game.PassAction(g) {
		return b, p, fmt.Errorf("action %d: %w", action, game.ErrIllegalMove)
	}
	next := b.Clone()
	next.Cells[0]++
	return next, p.Other(), nil
}

func (passGame) Ended(b game.Board, _ game.Player) float64 {
	if b.Cells[0] >= 4 {
		return game.Draw
	}
	return 0
}

func TestNoPlacementMeansPass(t *testing.T) {
	g := passGame{}
	m, _ := newSearch(g)
	pass := game.PassAction(g)

	for _, temp := range []float32{0, 1} {
		probs, err := m.ActionProb(context.Background(), g.InitBoard(), game.One, 20, temp)
		require.NoError(t, err)
		require.Len(t, probs, g.ActionSize())
		require.Equal(t, float32(1), probs[pass], "temperature %v", temp)
	}

	simulations := 25
	tree, err := m.Search(context.Background(), g.InitBoard(), game.One, simulations)
	require.NoError(t, err)
	total := 0
	for _, n := range tree.Root.N {
		total += n
	}
	require.Equal(t, simulations, total)
	require.Equal(t, simulations, tree.Root.N[pass])
	require.Equal(t, []bool{false, false, true}, tree.Root.Valid)
}

func TestSearchErrors(t *testing.T) {
	g := tictactoe.New(3)
	m, _ := newSearch(g)

	_, err := m.Search(context.Background(), g.InitBoard(), game.One, 0)
	require.ErrorIs(t, err, ErrBudget)

	won := boardOf(
		1, 1, 1,
		-1, -1, 0,
		0, 0, 0,
	)
	_, err = m.Search(context.Background(), won, game.Two, 10)
	require.ErrorIs(t, err, ErrTerminal)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Search(ctx, g.InitBoard(), game.One, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSampleAction(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	probs := []float32{0, 0, 1, 0}
	for i := 0; i < 20; i++ {
		require.Equal(t, 2, SampleAction(rng, probs))
	}
}

func BenchmarkSearch(b *testing.B) {
	g := tictactoe.New(3)
	m, _ := newSearch(g)
	board := g.InitBoard()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Search(context.Background(), board, game.One, 100); err != nil {
			b.Fatal(err)
		}
	}
}
