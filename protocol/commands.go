package protocol

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/brensch/pit/executor/arena"
	"github.com/brensch/pit/game"
)

func (m *Machine) create(seat string, msg Message) {
	setup, ok := parseSetup(msg)
	if !ok {
		m.reply(seat, Response{Code: CodeArgs, Msg: "Arguments are missing or invalid!", Data: rawSetup(msg)})
		return
	}
	m.start(seat, setup)
}

func (m *Machine) newGame(seat string, _ Message) {
	s := m.Session()
	if s == nil {
		m.reply(seat, conflicts[Waiting])
		return
	}
	m.start(seat, s.Setup)
}

func rawSetup(msg Message) map[string]any {
	return map[string]any{"game": msg["game"], "mode": msg["mode"], "difficulty": msg["difficulty"]}
}

func (m *Machine) evaluate(seat string, msg Message) {
	num, present, err := msg.Int("num")
	if !present {
		m.reply(seat, Response{Code: CodeNoEvaluation, Msg: "Num of games at evaluation not declared!"})
		return
	}
	if err != nil {
		m.reply(seat, Response{Code: CodeInvalidEvaluation, Msg: err.Error(), Data: map[string]any{"num": msg["num"]}})
		return
	}
	if num < m.cfg.MinEvaluate || num > m.cfg.MaxEvaluate {
		m.reply(seat, Response{
			Code: CodeInvalidEvaluation,
			Msg:  fmt.Sprintf("Evaluation supports %d to %d games!", m.cfg.MinEvaluate, m.cfg.MaxEvaluate),
			Data: map[string]any{"num": num},
		})
		return
	}
	setup, ok := parseSetup(msg)
	if !ok {
		m.reply(seat, Response{Code: CodeArgs, Msg: "Arguments are missing or invalid!", Data: rawSetup(msg)})
		return
	}
	g, tree, err := m.tree(setup)
	if err != nil {
		m.reply(seat, Response{Code: CodeFor(err), Msg: err.Error(), Data: setup.data()})
		return
	}

	sims := m.cfg.Budgets.For(setup.Difficulty)
	greedy := func(int) arena.Source {
		return &arena.Search{Tree: tree, Simulations: sims}
	}
	sampling := func(i int) arena.Source {
		return &arena.Search{Tree: tree, Simulations: sims, Temperature: 1, Rng: rand.New(rand.NewSource(int64(i) + 1))}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.session = nil
	m.state = Evaluating
	m.evalCancel, m.evalDone = cancel, done
	m.mu.Unlock()

	data := setup.data()
	data["num"] = num
	m.reply(seat, Response{Code: CodeEvaluationStarted, Msg: "Evaluation runs", Data: data})

	log := m.log.With().Str("game", setup.Game).Int("games", num).Logger()
	go func() {
		defer close(done)
		tally, err := arena.Evaluate(ctx, g, greedy, sampling, num, log, nil)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("evaluation failed")
				m.send(Response{Code: CodeInternal, Msg: "evaluation failed: " + err.Error()})
			}
			return
		}
		log.Info().Int("one_won", tally.OneWon).Int("two_won", tally.TwoWon).Int("draws", tally.Draws).Msg("evaluation done")
		m.send(Response{Code: CodeEvaluationDone, Data: map[string]any{
			"one_won": tally.OneWon,
			"two_won": tally.TwoWon,
			"draws":   tally.Draws,
		}})
	}()
}

func (m *Machine) stopEvaluate(seat string, _ Message) {
	m.stopEvaluation()
	m.setState(Waiting)
	m.reply(seat, Response{Code: CodeEvaluationStopped, Msg: "Evaluation stopped"})
}

// quit ends the current session and returns the machine to Waiting.
func (m *Machine) quit(seat string, _ Message) {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.state = Waiting
	m.mu.Unlock()

	if s != nil {
		s.Engine.Stop()
	}
	m.reply(seat, Response{Code: CodeQuit, Msg: "Game quit."})
}

func (m *Machine) games(seat string, _ Message) {
	data := make(map[string]any)
	for _, st := range m.catalog.Status() {
		data[st.Name] = st.Available
	}
	m.reply(seat, Response{Code: CodeGames, Msg: "Available games.", Data: data})
}

func (m *Machine) validMoves(seat string, msg Message) {
	s := m.Session()
	if s == nil {
		m.reply(seat, conflicts[Waiting])
		return
	}
	player, moves := s.Engine.ValidMoves()

	from, present, err := msg.Int("from")
	if present {
		if err != nil || from < 0 {
			m.reply(seat, Response{Code: CodeInvalidPos, Msg: "Pos must be an integer >= 0!", Data: map[string]any{"from": msg["from"]}})
			return
		}
		legal := false
		for _, a := range moves {
			legal = legal || a == from
		}
		if !legal {
			m.reply(seat, Response{Code: CodeInvalidPos, Msg: "Invalid from_pos!", Data: map[string]any{"from": from}})
			return
		}
		moves = []int{from}
	}
	m.reply(seat, Response{Code: CodeMoves, Msg: "Valid moves:", Data: map[string]any{"moves": moves, "cur_player": int(player)}})
}

func (m *Machine) makeMove(seat string, msg Message) {
	e, p, ok := m.engine(seat)
	if !ok {
		return
	}
	raw, present := msg.Str("move")
	if !present || raw == "" {
		m.reply(seat, Response{Code: CodeNoMove, Msg: "'move' entry not set!"})
		return
	}

	var mv arena.Move
	if strings.EqualFold(raw, "ai") {
		mv.Assist = true
	} else {
		action, err := game.ParseAction(e.Game(), raw)
		if err != nil {
			m.reply(seat, Response{Code: CodeInvalidMove, Msg: "Invalid move!", Data: map[string]any{"move": raw}})
			return
		}
		mv.Action = action
	}

	if err := e.Submit(p, mv); err != nil {
		m.reply(seat, Response{Code: CodeFor(err), Msg: err.Error()})
	}
}

func (m *Machine) undo(seat string, msg Message) {
	e, _, ok := m.engine(seat)
	if !ok {
		return
	}
	num, present, err := msg.Int("num")
	if !present {
		m.reply(seat, Response{Code: CodeNoUndo, Msg: "Amount of moves to be undone not declared!"})
		return
	}
	if err != nil || num <= 0 {
		m.reply(seat, Response{Code: CodeInvalidUndo, Msg: "Amount of moves to be undone must be an integer > 0!", Data: map[string]any{"num": msg["num"]}})
		return
	}

	e.Stop()
	if e.Snapshot().Phase == arena.Finished {
		m.reply(seat, conflicts[Finished])
		return
	}
	undoErr := e.Undo(num)
	if err := e.Resume(m.ctx); err != nil && !errors.Is(err, arena.ErrFinished) {
		m.fail(seat, err, "resume session")
		return
	}
	if undoErr != nil {
		m.reply(seat, Response{Code: CodeInvalidUndo, Msg: undoErr.Error(), Data: map[string]any{"num": num}})
		return
	}
	m.setState(Running)
	m.reply(seat, Response{Code: CodeUndo, Msg: fmt.Sprintf("Undid %d moves.", num), Data: map[string]any{"num": num}})
}

func (m *Machine) surrender(seat string, _ Message) {
	e, p, ok := m.engine(seat)
	if !ok {
		return
	}
	e.Stop()
	m.setState(Finished)
	m.send(Response{Code: CodeSurrender, Msg: "Game over:", Data: map[string]any{"result": int(p.Other())}})
}

func (m *Machine) blunder(seat string, _ Message) {
	e, p, ok := m.engine(seat)
	if !ok {
		return
	}
	flags, err := e.Review(m.ctx, p)
	if err != nil {
		m.fail(seat, err, "review moves")
		return
	}
	if len(flags) == 0 {
		m.reply(seat, Response{Code: CodeBlunderNone, Msg: "No obvious blunder."})
		return
	}
	m.reply(seat, Response{Code: CodeBlunderList, Msg: "Blunder list (index, move):", Data: map[string]any{"blunder": flags}})
}

func (m *Machine) timeline(seat string, msg Message) {
	e, p, ok := m.engine(seat)
	if !ok {
		return
	}
	num, present, err := msg.Int("num")
	if !present {
		m.reply(seat, Response{Code: CodeNoTimeline, Msg: "Timeline start index not declared!"})
		return
	}
	if err != nil || num < 0 {
		m.reply(seat, Response{Code: CodeInvalidTimeline, Msg: "Index must be an integer >= 0!", Data: map[string]any{"num": msg["num"]}})
		return
	}
	rec, err := e.Timeline(p, num)
	m.replay(seat, rec, err)
}

func (m *Machine) step(seat string, _ Message) {
	e, p, ok := m.engine(seat)
	if !ok {
		return
	}
	rec, err := e.Step(p)
	m.replay(seat, rec, err)
}

func (m *Machine) unstep(seat string, _ Message) {
	e, p, ok := m.engine(seat)
	if !ok {
		return
	}
	rec, err := e.Unstep(p)
	m.replay(seat, rec, err)
}

func (m *Machine) replay(seat string, rec arena.Record, err error) {
	if err != nil {
		m.reply(seat, Response{Code: CodeFor(err), Msg: "Invalid timeline index!"})
		return
	}
	s := m.Session()
	r := m.board(s, rec.Board, rec.Player)
	r.Code = CodeTimeline
	r.Data["ply"] = rec.Ply
	r.Data["action"] = rec.Action
	m.reply(seat, r)
}
