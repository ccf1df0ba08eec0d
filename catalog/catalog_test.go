package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/pit/executor/mcts"
	"github.com/brensch/pit/game"
	"github.com/brensch/pit/game/tictactoe"
	"github.com/stretchr/testify/require"
)

type stubEvaluator struct{ closed bool }

func (s *stubEvaluator) Predict(b game.Board) ([]float32, float32, error) {
	return make([]float32, len(b.Cells)+1), 0, nil
}

func (s *stubEvaluator) Close() error {
	s.closed = true
	return nil
}

func writeCheckpoint(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, CheckpointName), []byte("model"), 0o644))
}

func TestCatalog(t *testing.T) {
	root := t.TempDir()
	loads := 0
	stub := &stubEvaluator{}
	c, err := New(root, Entry{
		Name: tictactoe.Name,
		New:  func() game.Game { return tictactoe.New(3) },
		NewEvaluator: func(g game.Game, checkpoint string) (mcts.Evaluator, error) {
			loads++
			require.Equal(t, filepath.Join(root, "tictactoe", CheckpointName), checkpoint)
			return stub, nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"tictactoe"}, c.Names())

	g, err := c.Game("TicTacToe")
	require.NoError(t, err)
	require.Equal(t, tictactoe.Name, g.Name())

	_, err = c.Game("chess")
	require.ErrorIs(t, err, ErrUnknownGame)

	_, err = c.Evaluator("tictactoe")
	require.ErrorIs(t, err, ErrCheckpointMissing)
	require.False(t, c.Status()[0].Available)

	writeCheckpoint(t, root, "tictactoe")
	ev1, err := c.Evaluator("tictactoe")
	require.NoError(t, err)
	ev2, err := c.Evaluator("tictactoe")
	require.NoError(t, err)
	require.Same(t, ev1, ev2)
	require.Equal(t, 1, loads)
	require.True(t, c.Status()[0].Available)

	require.NoError(t, c.Close())
	require.True(t, stub.closed)
}

func TestCatalogValidation(t *testing.T) {
	newGame := func() game.Game { return tictactoe.New(3) }
	factory := func(game.Game, string) (mcts.Evaluator, error) { return nil, errors.New("unused") }

	tests := []struct {
		name    string
		entries []Entry
	}{
		{"no name", []Entry{{New: newGame, NewEvaluator: factory}}},
		{"no factory", []Entry{{Name: "tictactoe", New: newGame}}},
		{"mismatched game", []Entry{{Name: "connect4", New: newGame, NewEvaluator: factory}}},
		{"duplicate", []Entry{
			{Name: "tictactoe", New: newGame, NewEvaluator: factory},
			{Name: "TICTACTOE", New: newGame, NewEvaluator: factory},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(t.TempDir(), tt.entries...)
			require.Error(t, err)
		})
	}
}

func TestEvaluatorLoadError(t *testing.T) {
	root := t.TempDir()
	writeCheckpoint(t, root, "tictactoe")
	c, err := New(root, Entry{
		Name: "tictactoe",
		New:  func() game.Game { return tictactoe.New(3) },
		NewEvaluator: func(game.Game, string) (mcts.Evaluator, error) {
			return nil, errors.New("corrupt")
		},
	})
	require.NoError(t, err)
	_, err = c.Evaluator("tictactoe")
	require.ErrorContains(t, err, "corrupt")
}
