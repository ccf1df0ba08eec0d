// Package protocol implements the per-lobby command state machine. It gates
// commands by session lifecycle, validates their fields and turns them into
// session engine calls, reporting every outcome as a Response.
package protocol

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/brensch/pit/catalog"
	"github.com/brensch/pit/executor/arena"
	"github.com/brensch/pit/executor/mcts"
	"github.com/brensch/pit/game"
	"github.com/rs/zerolog"
)

type State int

const (
	Waiting State = iota
	Running
	Finished
	Evaluating
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Evaluating:
		return "evaluating"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Command keys.
const (
	CmdCreate       = "create"
	CmdEvaluate     = "evaluate"
	CmdStopEvaluate = "stop_evaluate"
	CmdQuit         = "quit"
	CmdGames        = "games"
	CmdValidMoves   = "valid_moves"
	CmdMakeMove     = "make_move"
	CmdUndo         = "undo_move"
	CmdSurrender    = "surrender"
	CmdBlunder      = "blunder"
	CmdNewGame      = "new_game"
	CmdTimeline     = "timeline"
	CmdStep         = "step"
	CmdUnstep       = "unstep"
)

var admissible = map[State]map[string]bool{
	Waiting:    set(CmdCreate, CmdEvaluate, CmdQuit, CmdGames),
	Running:    set(CmdValidMoves, CmdMakeMove, CmdUndo, CmdSurrender, CmdBlunder),
	Finished:   set(CmdNewGame, CmdCreate, CmdTimeline, CmdStep, CmdUnstep, CmdBlunder, CmdQuit),
	Evaluating: set(CmdStopEvaluate),
}

func set(keys ...string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

// Admissible reports whether command may run in state s.
func Admissible(s State, command string) bool {
	return admissible[s][command]
}

var conflicts = map[State]Response{
	Waiting:    {Code: CodeNoInit, Msg: "You need to create a game first!"},
	Running:    {Code: CodeStillRunning, Msg: "Game still running. Please surrender first!"},
	Finished:   {Code: CodeGameFinished, Msg: "Game is over, you can not play anymore!"},
	Evaluating: {Code: CodeEvaluating, Msg: "Evaluation running. Stop it first!"},
}

type Config struct {
	Budgets            Budgets
	Cpuct              float32
	BlunderSimulations int
	// MinEvaluate and MaxEvaluate bound the game count of an evaluation.
	MinEvaluate int
	MaxEvaluate int
	Metrics     *Metrics
	// OnFinish is called for every session that ends on the board.
	OnFinish func(Summary)
	Logger   zerolog.Logger
}

func (c *Config) defaults() {
	if c.Budgets == (Budgets{}) {
		c.Budgets = DefaultBudgets
	}
	if c.Cpuct <= 0 {
		c.Cpuct = 1
	}
	if c.BlunderSimulations <= 0 {
		c.BlunderSimulations = c.Budgets.Hard
	}
	if c.MinEvaluate <= 0 {
		c.MinEvaluate = 2
	}
	if c.MaxEvaluate <= 0 {
		c.MaxEvaluate = 100
	}
}

type handler func(seat string, msg Message)

// Machine is the command state machine of one lobby.
type Machine struct {
	ctx     context.Context
	catalog *catalog.Catalog
	sink    Sink
	cfg     Config
	log     zerolog.Logger

	handlers map[string]handler

	// handleMu serialises commands. It may be held across engine.Stop, so
	// engine callbacks only ever take mu.
	handleMu sync.Mutex

	mu         sync.Mutex
	state      State
	session    *Session
	evalCancel context.CancelFunc
	evalDone   chan struct{}
}

func NewMachine(ctx context.Context, cat *catalog.Catalog, sink Sink, cfg Config) *Machine {
	cfg.defaults()
	m := &Machine{
		ctx:     ctx,
		catalog: cat,
		sink:    sink,
		cfg:     cfg,
		log:     cfg.Logger,
	}
	m.handlers = map[string]handler{
		CmdCreate:       m.create,
		CmdEvaluate:     m.evaluate,
		CmdStopEvaluate: m.stopEvaluate,
		CmdQuit:         m.quit,
		CmdGames:        m.games,
		CmdValidMoves:   m.validMoves,
		CmdMakeMove:     m.makeMove,
		CmdUndo:         m.undo,
		CmdSurrender:    m.surrender,
		CmdBlunder:      m.blunder,
		CmdNewGame:      m.newGame,
		CmdTimeline:     m.timeline,
		CmdStep:         m.step,
		CmdUnstep:       m.unstep,
	}
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the current session, or nil.
func (m *Machine) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Status is a snapshot for lobby listings.
type Status struct {
	State      string `json:"state"`
	SessionID  string `json:"session_id,omitempty"`
	Game       string `json:"game,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Ply        int    `json:"ply"`
	Phase      string `json:"phase,omitempty"`
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	st := Status{State: m.state.String()}
	s := m.session
	m.mu.Unlock()

	if s != nil {
		snap := s.Engine.Snapshot()
		st.SessionID = s.ID
		st.Game = s.Setup.Game
		st.Mode = string(s.Setup.Mode)
		st.Difficulty = string(s.Setup.Difficulty)
		st.Ply = snap.Ply
		st.Phase = snap.Phase.String()
	}
	return st
}

// Handle runs one command from the connection in seat. Every outcome is
// reported through the sink.
func (m *Machine) Handle(seat string, msg Message) {
	m.handleMu.Lock()
	defer m.handleMu.Unlock()

	key, _ := msg.Str("command_key")
	key = strings.ToLower(key)
	h, ok := m.handlers[key]
	if !ok {
		m.reply(seat, Response{Code: CodeUnknownCommand, Msg: fmt.Sprintf("Command: '%s' not found!", key)})
		return
	}

	state := m.State()
	if !Admissible(state, key) {
		r := conflicts[state]
		m.reply(seat, r)
		return
	}

	m.log.Debug().Str("seat", seat).Str("command", key).Stringer("state", state).Msg("command")
	h(seat, msg)
}

// Close stops any running session or evaluation.
func (m *Machine) Close() {
	m.handleMu.Lock()
	defer m.handleMu.Unlock()

	m.stopEvaluation()
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil {
		s.Engine.Stop()
	}
}

func (m *Machine) send(r Response) {
	m.sink.Send(r)
}

func (m *Machine) reply(seat string, r Response) {
	r.Pos = seat
	m.sink.Send(r)
}

func (m *Machine) fail(seat string, err error, msg string) {
	code := CodeFor(err)
	if code == CodeInternal {
		m.log.Error().Err(err).Str("seat", seat).Msg(msg)
	}
	m.reply(seat, Response{Code: code, Msg: fmt.Sprintf("%s: %v", msg, err)})
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// finish moves to Finished if s is still the live session.
func (m *Machine) finish(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s {
		return false
	}
	m.state = Finished
	return true
}

func (m *Machine) board(s *Session, b game.Board, p game.Player) Response {
	r := Response{
		Code: CodeBoard,
		Data: map[string]any{
			"game":       s.Setup.Game,
			"board":      b.Rows2D(),
			"rows":       b.Rows,
			"cols":       b.Cols,
			"cur_player": int(p),
		},
	}
	if rd, ok := s.Game.(game.Renderer); ok {
		frame, err := rd.Render(b, p)
		if err != nil {
			m.log.Warn().Err(err).Str("game", s.Setup.Game).Msg("render board")
		} else {
			r.Frame = frame
		}
	}
	return r
}

// tree builds the search used by a session of setup.
func (m *Machine) tree(setup Setup) (game.Game, *mcts.MCTS, error) {
	g, err := m.catalog.Game(setup.Game)
	if err != nil {
		return nil, nil, err
	}
	ev, err := m.catalog.Evaluator(setup.Game)
	if err != nil {
		return nil, nil, err
	}
	return g, &mcts.MCTS{Config: mcts.Config{Cpuct: m.cfg.Cpuct}, Game: g, Client: ev}, nil
}

// start replaces the current session with a fresh one for setup.
func (m *Machine) start(seat string, setup Setup) {
	if s := m.Session(); s != nil && s.Engine.Snapshot().Phase == arena.Running {
		m.reply(seat, conflicts[Running])
		return
	}

	g, tree, err := m.tree(setup)
	if err != nil {
		m.reply(seat, Response{Code: CodeFor(err), Msg: err.Error(), Data: setup.data()})
		return
	}

	sims := m.cfg.Budgets.For(setup.Difficulty)
	one, two := setup.Mode.sources(tree, sims)
	s := &Session{ID: newSessionID(), Setup: setup, Game: g}
	s.Engine = arena.New(g, one, two, arena.Options{
		Observer:           observer{m: m, s: s},
		Search:             tree,
		AssistSimulations:  sims,
		BlunderSimulations: m.cfg.BlunderSimulations,
		Logger:             m.log.With().Str("session", s.ID).Logger(),
	})

	m.mu.Lock()
	m.session = s
	m.state = Running
	m.mu.Unlock()

	data := setup.data()
	data["session"] = s.ID
	m.send(Response{Code: CodeCreated, Msg: "Game initialized", Data: data})

	if err := s.Engine.Start(m.ctx, nil); err != nil {
		m.fail(seat, err, "start session")
		m.setState(Waiting)
		return
	}
	m.log.Info().Str("session", s.ID).Str("game", setup.Game).Str("mode", string(setup.Mode)).Msg("session started")
}

// engine returns the live session engine and the mover for seat.
func (m *Machine) engine(seat string) (*arena.Engine, game.Player, bool) {
	s := m.Session()
	if s == nil {
		m.reply(seat, conflicts[Waiting])
		return nil, 0, false
	}
	p, ok := seatOf(seat)
	if !ok {
		m.reply(seat, Response{Code: CodeInvalidPos, Msg: fmt.Sprintf("Seat '%s' cannot do that!", seat)})
		return nil, 0, false
	}
	return s.Engine, p, true
}

func (m *Machine) stopEvaluation() {
	m.mu.Lock()
	cancel, done := m.evalCancel, m.evalDone
	m.evalCancel, m.evalDone = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
