package arena

import (
	"context"
	"errors"
	"fmt"

	"github.com/brensch/pit/executor/mcts"
	"github.com/brensch/pit/game"
)

var (
	ErrHistory  = errors.New("not enough history")
	ErrTimeline = errors.New("timeline index out of range")
)

// Record is one entry of the move history: the position before the move
// and the action taken from it. Action is -1 until the move is applied, and
// stays -1 for the final position of a finished game.
type Record struct {
	Board  game.Board
	Player game.Player
	Ply    int
	Action int
}

// Blunder is a move made without search assist, kept for review.
type Blunder struct {
	Board  game.Board
	Player game.Player
	Ply    int
	Action int
}

// Flag marks a reviewed move that differs from the search's top choice.
type Flag struct {
	Ply    int `json:"ply"`
	Action int `json:"action"`
	Best   int `json:"best"`
}

// record appends the turn-start position, or refreshes the tail when a
// resumed loop revisits the same ply. Caller holds mu.
func (e *Engine) record(b game.Board, p game.Player, ply int) {
	rec := Record{Board: b, Player: p, Ply: ply, Action: -1}
	if n := len(e.history); n > 0 && e.history[n-1].Ply == ply {
		e.history[n-1] = rec
		return
	}
	e.history = append(e.history, rec)
}

// History returns a copy of the move history.
func (e *Engine) History() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Record(nil), e.history...)
}

// Undo drops the last n history entries and makes the new tail the live
// position. The session must be stopped first.
func (e *Engine) Undo(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == Running {
		return ErrRunning
	}
	if n < 1 || n > len(e.history)-1 {
		return fmt.Errorf("%w: cannot undo %d of %d", ErrHistory, n, len(e.history))
	}

	e.history = e.history[:len(e.history)-n]
	tail := &e.history[len(e.history)-1]
	tail.Action = -1
	e.board = tail.Board
	e.player = tail.Player
	e.ply = tail.Ply

	kept := e.blunders[:0]
	for _, b := range e.blunders {
		if b.Ply < e.ply {
			kept = append(kept, b)
		}
	}
	e.blunders = kept
	e.result = nil
	e.err = nil
	e.phase = Idle
	e.resetCursors()
	return nil
}

// Timeline moves p's replay cursor to start and returns that entry. The
// live position is not touched.
func (e *Engine) Timeline(p game.Player, start int) (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == Running {
		return Record{}, ErrRunning
	}
	return e.seek(p, start)
}

// Step advances p's replay cursor by one ply.
func (e *Engine) Step(p game.Player) (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == Running {
		return Record{}, ErrRunning
	}
	return e.seek(p, e.cursors[p]+1)
}

// Unstep moves p's replay cursor back by one ply.
func (e *Engine) Unstep(p game.Player) (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == Running {
		return Record{}, ErrRunning
	}
	return e.seek(p, e.cursors[p]-1)
}

// Cursor returns p's replay cursor. After a session stops it sits one past
// the last history entry.
func (e *Engine) Cursor(p game.Player) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursors[p]
}

func (e *Engine) seek(p game.Player, idx int) (Record, error) {
	if idx < 0 || idx >= len(e.history) {
		return Record{}, fmt.Errorf("%w: %d not in [0,%d)", ErrTimeline, idx, len(e.history))
	}
	e.cursors[p] = idx
	return e.history[idx], nil
}

// Review searches every unassisted move made by p and flags the ones that
// were not the search's top choice, in ply order.
func (e *Engine) Review(ctx context.Context, p game.Player) ([]Flag, error) {
	if e.opts.Search == nil {
		return nil, ErrNoSearch
	}

	e.mu.Lock()
	moves := make([]Blunder, 0, len(e.blunders))
	for _, b := range e.blunders {
		if b.Player == p {
			moves = append(moves, b)
		}
	}
	e.mu.Unlock()

	flags := []Flag{}
	for _, b := range moves {
		probs, err := e.opts.Search.ActionProb(ctx, b.Board, b.Player, e.opts.BlunderSimulations, 0)
		if err != nil {
			return nil, fmt.Errorf("review ply %d: %w", b.Ply, err)
		}
		if best := mcts.BestAction(probs); best != b.Action {
			flags = append(flags, Flag{Ply: b.Ply, Action: b.Action, Best: best})
		}
	}
	return flags, nil
}
