package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brensch/pit/executor/arena"
	"github.com/brensch/pit/game"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func sampleHistory() []arena.Record {
	b0 := game.NewBoard(3, 3)
	b1 := b0.Clone()
	b1.Cells[4] = 1
	return []arena.Record{
		{Board: b0, Player: game.One, Ply: 0, Action: 4},
		{Board: b1, Player: game.Two, Ply: 1, Action: -1},
	}
}

func TestNewSessionRow(t *testing.T) {
	row := NewSessionRow("s1", "tictactoe", "player_vs_ai", "easy", arena.Result{Winner: game.Two, Plies: 1}, sampleHistory())
	require.Equal(t, int32(-1), row.Winner)
	require.Equal(t, int32(3), row.Rows)
	require.Len(t, row.Moves, 2)
	require.Equal(t, int32(4), row.Moves[0].Action)
	require.Equal(t, int32(1), row.Moves[1].Board[4])
	require.Equal(t, int32(-1), row.Moves[1].Player)
}

func TestWriteSessionsParquet(t *testing.T) {
	dir := t.TempDir()
	rows := []SessionRow{
		NewSessionRow("s1", "tictactoe", "player_vs_player", "easy", arena.Result{Winner: game.One, Plies: 1}, sampleHistory()),
		NewSessionRow("s2", "tictactoe", "player_vs_ai", "hard", arena.Result{Plies: 1}, sampleHistory()),
	}

	path, err := WriteSessionsParquet(dir, rows)
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))
	require.Regexp(t, `sessions_\d+\.parquet$`, path)

	got, err := ReadSessionsParquet(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "s2", got[1].SessionID)
	require.Equal(t, int32(0), got[1].Winner)
	require.Len(t, got[0].Moves, 2)

	tmp, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	require.Empty(t, tmp)
}

func TestWriterFlushesInBatchesAndOnShutdown(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 2, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, w.Add(NewSessionRow(id, "tictactoe", "player_vs_player", "easy", arena.Result{}, sampleHistory())))
	}
	require.Eventually(t, func() bool { return w.Written() == 2 }, defaultWait, pollEvery)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, int64(3), w.Written())

	files, err := filepath.Glob(filepath.Join(dir, "sessions_*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 2)
}

const (
	defaultWait = 5 * time.Second
	pollEvery   = 10 * time.Millisecond
)
