package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/pit/executor/arena"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const schemaVersion = "session_v1"

// SessionRow is one finished session.
//
// Winner is +1 or -1 for the winning seat and 0 for a draw.
type SessionRow struct {
	SessionID  string   `parquet:"session_id,dict"`
	Game       string   `parquet:"game,dict"`
	Mode       string   `parquet:"mode,dict"`
	Difficulty string   `parquet:"difficulty,dict"`
	Winner     int32    `parquet:"winner"`
	Plies      int32    `parquet:"plies"`
	Rows       int32    `parquet:"rows"`
	Cols       int32    `parquet:"cols"`
	FinishedAt int64    `parquet:"finished_at"`
	Moves      []PlyRow `parquet:"moves"`
}

// PlyRow is one history entry. Action is -1 for the final position.
type PlyRow struct {
	Ply    int32   `parquet:"ply"`
	Player int32   `parquet:"player"`
	Action int32   `parquet:"action"`
	Board  []int32 `parquet:"board"`
}

// NewSessionRow flattens a session history into an archive row.
func NewSessionRow(id, game, mode, difficulty string, r arena.Result, history []arena.Record) SessionRow {
	row := SessionRow{
		SessionID:  id,
		Game:       game,
		Mode:       mode,
		Difficulty: difficulty,
		Winner:     int32(r.Winner),
		Plies:      int32(r.Plies),
		FinishedAt: time.Now().UnixNano(),
		Moves:      make([]PlyRow, 0, len(history)),
	}
	for _, rec := range history {
		board := make([]int32, len(rec.Board.Cells))
		for i, v := range rec.Board.Cells {
			board[i] = int32(v)
		}
		row.Rows = int32(rec.Board.Rows)
		row.Cols = int32(rec.Board.Cols)
		row.Moves = append(row.Moves, PlyRow{
			Ply:    int32(rec.Ply),
			Player: int32(rec.Player),
			Action: int32(rec.Action),
			Board:  board,
		})
	}
	return row
}

// WriteSessionsParquet writes rows into outDir/tmp and then atomically moves
// the file into outDir, so readers never see a partial file.
func WriteSessionsParquet(outDir string, rows []SessionRow) (string, error) {
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("sessions_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", schemaVersion),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadSessionsParquet loads every row of an archive file.
func ReadSessionsParquet(path string) ([]SessionRow, error) {
	rows, err := parquet.ReadFile[SessionRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
