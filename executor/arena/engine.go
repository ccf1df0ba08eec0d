// Package arena runs a single game session between two move sources,
// keeping the full move history for undo, replay and blunder review.
package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brensch/pit/executor/mcts"
	"github.com/brensch/pit/game"
	"github.com/rs/zerolog"
)

type Phase int

const (
	Idle Phase = iota
	Running
	Finished
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

var (
	ErrRunning     = errors.New("session is running")
	ErrNotRunning  = errors.New("session is not running")
	ErrFinished    = errors.New("session is finished")
	ErrNotYourTurn = errors.New("not your turn")
	ErrNotRemote   = errors.New("seat is not played remotely")
	ErrNoSearch    = errors.New("session has no search engine")
)

// ContractViolation is returned when tree search proposes an illegal
// action. It ends the session.
type ContractViolation struct {
	Player game.Player
	Action int
	Err    error
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("search proposed illegal action %d for %s: %v", e.Action, e.Player, e.Err)
}

func (e *ContractViolation) Unwrap() error { return e.Err }

// Verdict classifies the attempt to apply one action.
type Verdict int

const (
	Applied Verdict = iota
	Rejected
	Violation
)

// Position is a resume point.
type Position struct {
	Board  game.Board
	Player game.Player
	Ply    int
}

// Result of a game that ended on the board.
type Result struct {
	// Value is the terminal outcome for the player who made the last move.
	Value  float64
	Winner game.Player
	Plies  int
}

// Observer receives session events from the game loop goroutine. It must
// not call Stop.
type Observer interface {
	Turn(p game.Player, automated bool, b game.Board)
	Applied(p game.Player, action int, b game.Board)
	Rejected(p game.Player, action int, err error)
	Finished(r Result, b game.Board, p game.Player)
	Aborted(err error)
}

type nopObserver struct{}

func (nopObserver) Turn(game.Player, bool, game.Board)       {}
func (nopObserver) Applied(game.Player, int, game.Board)     {}
func (nopObserver) Rejected(game.Player, int, error)         {}
func (nopObserver) Finished(Result, game.Board, game.Player) {}
func (nopObserver) Aborted(error)                            {}

type Options struct {
	Observer Observer
	// Search backs assisted moves and blunder review.
	Search             *mcts.MCTS
	AssistSimulations  int
	BlunderSimulations int
	Logger             zerolog.Logger
}

// State is a point-in-time copy of the live session.
type State struct {
	Phase   Phase
	Board   game.Board
	Player  game.Player
	Ply     int
	History int
	Result  *Result
	Err     error
}

type Engine struct {
	game    game.Game
	sources [2]Source
	opts    Options
	log     zerolog.Logger

	mu       sync.Mutex
	phase    Phase
	board    game.Board
	player   game.Player
	ply      int
	history  []Record
	blunders []Blunder
	cursors  map[game.Player]int
	result   *Result
	err      error

	cancel context.CancelFunc
	done   chan struct{}
}

func New(g game.Game, one, two Source, opts Options) *Engine {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Engine{
		game:    g,
		sources: [2]Source{one, two},
		opts:    opts,
		log:     opts.Logger.With().Str("game", g.Name()).Logger(),
		board:   g.InitBoard(),
		player:  game.One,
		cursors: make(map[game.Player]int),
	}
}

func seatIndex(p game.Player) int {
	if p == game.Two {
		return 1
	}
	return 0
}

func (e *Engine) Game() game.Game { return e.game }

func (e *Engine) Source(p game.Player) Source { return e.sources[seatIndex(p)] }

// Start begins a new game from at, or from the initial position when at is
// nil. Any previous history is discarded.
func (e *Engine) Start(ctx context.Context, at *Position) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == Running {
		return ErrRunning
	}
	if at == nil {
		at = &Position{Board: e.game.InitBoard(), Player: game.One}
	}
	e.board = at.Board.Clone()
	e.player = at.Player
	e.ply = at.Ply
	e.history = nil
	e.blunders = nil
	e.result = nil
	e.err = nil
	e.cursors = make(map[game.Player]int)
	e.launch(ctx)
	return nil
}

// Resume continues the live position, keeping history.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.phase {
	case Running:
		return ErrRunning
	case Finished:
		return ErrFinished
	}
	e.launch(ctx)
	return nil
}

func (e *Engine) launch(ctx context.Context) {
	for _, src := range e.sources {
		if r, ok := src.(*Remote); ok {
			r.drain()
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.phase = Running
	go func(done chan struct{}) {
		defer cancel()
		e.loop(ctx, done)
	}(e.done)
}

// Stop cancels the game loop and waits for it to exit. The live position
// and history are kept; no move is half applied.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current game loop exits.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Phase:   e.phase,
		Board:   e.board.Clone(),
		Player:  e.player,
		Ply:     e.ply,
		History: len(e.history),
		Result:  e.result,
		Err:     e.err,
	}
}

// ValidMoves lists the legal actions in the live position.
func (e *Engine) ValidMoves() (game.Player, []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.player, game.Legal(e.game, e.board, e.player)
}

// Submit hands a move to p's remote source for the current turn. The turn
// check and the queueing happen under mu, so a move can never be queued for
// a turn that apply has already committed.
func (e *Engine) Submit(p game.Player, mv Move) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != Running {
		return ErrNotRunning
	}
	if e.player != p {
		return ErrNotYourTurn
	}
	r, ok := e.Source(p).(*Remote)
	if !ok {
		return ErrNotRemote
	}
	return r.Submit(mv)
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		e.mu.Lock()
		if ctx.Err() != nil {
			e.halt()
			e.mu.Unlock()
			return
		}
		board, player, ply := e.board, e.player, e.ply
		e.record(board, player, ply)
		if ended := e.game.Ended(board, player); ended != 0 {
			r := Result{
				Value:  e.game.Ended(board, player.Other()),
				Winner: game.Winner(ended, player),
				Plies:  ply,
			}
			e.result = &r
			e.phase = Finished
			e.cancel = nil
			e.resetCursors()
			e.mu.Unlock()

			e.log.Info().Int("plies", ply).Stringer("winner", r.Winner).Msg("session finished")
			e.opts.Observer.Finished(r, board, player)
			return
		}
		e.mu.Unlock()

		src := e.Source(player)
		_, automated := src.(*Search)
		e.opts.Observer.Turn(player, automated, board)

		if err := e.turn(ctx, src, board, player); err != nil {
			e.mu.Lock()
			if ctx.Err() != nil {
				e.halt()
				e.mu.Unlock()
				return
			}
			e.err = err
			e.phase = Finished
			e.cancel = nil
			e.resetCursors()
			e.mu.Unlock()

			e.log.Error().Err(err).Int("ply", ply).Stringer("player", player).Msg("session fatal")
			e.opts.Observer.Aborted(err)
			return
		}
	}
}

// turn polls src until one action is applied. A nil error means the
// position advanced by exactly one ply.
func (e *Engine) turn(ctx context.Context, src Source, board game.Board, player game.Player) error {
	for {
		mv, err := src.Next(ctx, board, player)
		if err != nil {
			return err
		}
		if mv.Assist {
			mv.Action, err = e.assist(ctx, board, player)
			if err != nil {
				return err
			}
			mv.Searched = true
		}

		verdict, next, err := e.apply(ctx, board, player, mv)
		switch verdict {
		case Applied:
			e.opts.Observer.Applied(player, mv.Action, next)
			return nil
		case Rejected:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.opts.Observer.Rejected(player, mv.Action, err)
		case Violation:
			return err
		}
	}
}

func (e *Engine) assist(ctx context.Context, board game.Board, player game.Player) (int, error) {
	if e.opts.Search == nil {
		return 0, ErrNoSearch
	}
	probs, err := e.opts.Search.ActionProb(ctx, board, player, e.opts.AssistSimulations, 0)
	if err != nil {
		return 0, fmt.Errorf("assist: %w", err)
	}
	return mcts.BestAction(probs), nil
}

// apply commits mv atomically: either board, history and ply all advance or
// nothing changes.
func (e *Engine) apply(ctx context.Context, board game.Board, player game.Player, mv Move) (Verdict, game.Board, error) {
	next, nextPlayer, err := e.game.NextState(board, player, mv.Action)
	if err != nil {
		if mv.Searched {
			return Violation, game.Board{}, &ContractViolation{Player: player, Action: mv.Action, Err: err}
		}
		return Rejected, game.Board{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return Rejected, game.Board{}, ctx.Err()
	}
	e.history[len(e.history)-1].Action = mv.Action
	if !mv.Searched {
		e.blunders = append(e.blunders, Blunder{Board: board, Player: player, Ply: e.ply, Action: mv.Action})
	}
	e.board = next
	e.player = nextPlayer
	e.ply++
	// A move queued while this one was being applied belongs to a turn
	// that is now over.
	if r, ok := e.Source(player).(*Remote); ok {
		r.drain()
	}
	return Applied, next, nil
}

// halt marks a cancelled loop as idle. Caller holds mu.
func (e *Engine) halt() {
	e.phase = Idle
	e.cancel = nil
	e.resetCursors()
	e.log.Debug().Int("ply", e.ply).Msg("session stopped")
}

func (e *Engine) resetCursors() {
	for _, p := range []game.Player{game.One, game.Two} {
		e.cursors[p] = len(e.history)
	}
}
