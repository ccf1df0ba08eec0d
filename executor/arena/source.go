package arena

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/brensch/pit/executor/mcts"
	"github.com/brensch/pit/game"
)

var (
	ErrPending  = errors.New("a move is already pending")
	ErrNoAssist = errors.New("search assist is not enabled for this seat")
)

// Move is what a Source yields for one turn.
type Move struct {
	Action int
	// Assist asks the engine to pick the action by tree search.
	Assist bool
	// Searched marks actions produced by tree search. An illegal searched
	// action is a broken contract, not a player mistake.
	Searched bool
}

// Source produces the next action for the player to move.
type Source interface {
	Next(ctx context.Context, b game.Board, p game.Player) (Move, error)
}

// Remote buffers a move submitted by a network client.
type Remote struct {
	assist bool
	moves  chan Move
}

func NewRemote(assist bool) *Remote {
	return &Remote{assist: assist, moves: make(chan Move, 1)}
}

func (r *Remote) Assisted() bool { return r.assist }

// Submit queues a move. It never blocks.
func (r *Remote) Submit(mv Move) error {
	if mv.Assist && !r.assist {
		return ErrNoAssist
	}
	mv.Searched = false
	select {
	case r.moves <- mv:
		return nil
	default:
		return ErrPending
	}
}

func (r *Remote) Next(ctx context.Context, _ game.Board, _ game.Player) (Move, error) {
	select {
	case <-ctx.Done():
		return Move{}, ctx.Err()
	case mv := <-r.moves:
		return mv, nil
	}
}

// drain discards a move queued for a turn that no longer exists.
func (r *Remote) drain() {
	select {
	case <-r.moves:
	default:
	}
}

// Search picks moves by running the tree search. With Temperature 0 it
// plays the most visited action; otherwise it samples with Rng.
type Search struct {
	Tree        *mcts.MCTS
	Simulations int
	Temperature float32
	Rng         *rand.Rand
}

func (s *Search) Next(ctx context.Context, b game.Board, p game.Player) (Move, error) {
	probs, err := s.Tree.ActionProb(ctx, b, p, s.Simulations, s.Temperature)
	if err != nil {
		return Move{}, fmt.Errorf("search: %w", err)
	}
	action := mcts.BestAction(probs)
	if s.Temperature > 0 && s.Rng != nil {
		action = mcts.SampleAction(s.Rng, probs)
	}
	return Move{Action: action, Searched: true}, nil
}
