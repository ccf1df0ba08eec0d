package store

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const DefaultFlushEvery = 50

// Writer batches finished sessions and flushes them to parquet files.
type Writer struct {
	dir        string
	flushEvery int
	in         chan SessionRow
	log        zerolog.Logger

	written atomic.Int64
	dropped atomic.Int64
}

func NewWriter(dir string, flushEvery int, log zerolog.Logger) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive dir is required")
	}
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Writer{
		dir:        dir,
		flushEvery: flushEvery,
		in:         make(chan SessionRow, flushEvery*2),
		log:        log.With().Str("component", "archive").Logger(),
	}, nil
}

// Add queues a row. It never blocks; rows are dropped when the queue is full.
func (w *Writer) Add(row SessionRow) bool {
	select {
	case w.in <- row:
		return true
	default:
		w.dropped.Add(1)
		w.log.Warn().Str("session", row.SessionID).Msg("archive queue full, dropping session")
		return false
	}
}

// Written is the number of sessions flushed to disk.
func (w *Writer) Written() int64 { return w.written.Load() }

// Run flushes every flushEvery sessions until ctx ends, then writes
// whatever is still queued.
func (w *Writer) Run(ctx context.Context) error {
	pending := make([]SessionRow, 0, w.flushEvery)

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case row := <-w.in:
					pending = append(pending, row)
				default:
					break drain
				}
			}
			return w.flush(pending)
		case row := <-w.in:
			pending = append(pending, row)
			if len(pending) < w.flushEvery {
				continue
			}
			if err := w.flush(pending); err != nil {
				w.log.Error().Err(err).Int("sessions", len(pending)).Msg("parquet flush failed")
			}
			pending = pending[:0]
		}
	}
}

func (w *Writer) flush(rows []SessionRow) error {
	if len(rows) == 0 {
		return nil
	}
	path, err := WriteSessionsParquet(w.dir, rows)
	if err != nil {
		return err
	}
	w.written.Add(int64(len(rows)))
	w.log.Info().Str("path", path).Int("sessions", len(rows)).Msg("parquet flush ok")
	return nil
}
