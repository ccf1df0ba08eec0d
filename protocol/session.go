package protocol

import (
	"fmt"
	"strings"

	"github.com/brensch/pit/executor/arena"
	"github.com/brensch/pit/executor/mcts"
	"github.com/brensch/pit/game"
	"github.com/google/uuid"
)

type Mode string

const (
	PlayerVsPlayer     Mode = "player_vs_player"
	PlayerVsAI         Mode = "player_vs_ai"
	PlayerAIVsAI       Mode = "playerai_vs_ai"
	PlayerAIVsPlayerAI Mode = "playerai_vs_playerai"
)

var modes = []Mode{PlayerVsPlayer, PlayerVsAI, PlayerAIVsAI, PlayerAIVsPlayerAI}

func ParseMode(s string) (Mode, error) {
	for _, m := range modes {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// sources builds the seat sources for m. Search seats play greedily.
func (m Mode) sources(tree *mcts.MCTS, simulations int) (arena.Source, arena.Source) {
	search := func() arena.Source { return &arena.Search{Tree: tree, Simulations: simulations} }
	switch m {
	case PlayerVsAI:
		return arena.NewRemote(false), search()
	case PlayerAIVsAI:
		return arena.NewRemote(true), search()
	case PlayerAIVsPlayerAI:
		return arena.NewRemote(true), arena.NewRemote(true)
	}
	return arena.NewRemote(false), arena.NewRemote(false)
}

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, error) {
	for _, d := range []Difficulty{Easy, Medium, Hard} {
		if strings.EqualFold(s, string(d)) {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown difficulty %q", s)
}

// Budgets maps each difficulty to a simulation budget.
type Budgets struct {
	Easy   int
	Medium int
	Hard   int
}

var DefaultBudgets = Budgets{Easy: 25, Medium: 100, Hard: 400}

func (b Budgets) For(d Difficulty) int {
	switch d {
	case Easy:
		return b.Easy
	case Hard:
		return b.Hard
	}
	return b.Medium
}

// Setup is a validated create/evaluate request.
type Setup struct {
	Game       string
	Mode       Mode
	Difficulty Difficulty
}

func parseSetup(msg Message) (Setup, bool) {
	var s Setup
	name, ok := msg.Str("game")
	if !ok || name == "" {
		return s, false
	}
	mode, _ := msg.Str("mode")
	m, err := ParseMode(mode)
	if err != nil {
		return s, false
	}
	diff, _ := msg.Str("difficulty")
	d, err := ParseDifficulty(diff)
	if err != nil {
		return s, false
	}
	return Setup{Game: strings.ToLower(name), Mode: m, Difficulty: d}, true
}

func (s Setup) data() map[string]any {
	return map[string]any{"game": s.Game, "mode": string(s.Mode), "difficulty": string(s.Difficulty)}
}

// Session is one game in a lobby. It is replaced, never reused, when a new
// game starts.
type Session struct {
	ID     string
	Setup  Setup
	Game   game.Game
	Engine *arena.Engine
}

func newSessionID() string { return uuid.NewString() }

// Summary describes a session that ended on the board.
type Summary struct {
	SessionID  string
	Game       string
	Mode       Mode
	Difficulty Difficulty
	Result     arena.Result
	History    []arena.Record
}

func seatOf(s string) (game.Player, bool) {
	switch s {
	case "p1":
		return game.One, true
	case "p2":
		return game.Two, true
	}
	return 0, false
}

// observer relays engine events of one session to the lobby.
type observer struct {
	m *Machine
	s *Session
}

func (o observer) Turn(p game.Player, automated bool, b game.Board) {
	if automated {
		o.m.send(Response{Code: CodeTurnAI, Data: map[string]any{"cur_player": "AI"}})
	} else {
		o.m.send(Response{Code: CodeTurnPlayer, Data: map[string]any{"cur_player": int(p)}})
	}
	o.m.send(o.m.board(o.s, b, p))
}

func (o observer) Applied(p game.Player, action int, _ game.Board) {
	if o.m.cfg.Metrics != nil {
		o.m.cfg.Metrics.Moves.Add(1)
	}
	o.m.send(Response{Code: CodeValidMove, Pos: p.Seat(), Data: map[string]any{"move": action}})
}

func (o observer) Rejected(p game.Player, action int, err error) {
	o.m.send(Response{Code: CodeInvalidMove, Pos: p.Seat(), Msg: err.Error(), Data: map[string]any{"move": action}})
}

// Finished moves the machine to Finished before anything is broadcast, so a
// client reacting to game_over already sees the finished state.
func (o observer) Finished(r arena.Result, b game.Board, p game.Player) {
	if o.m.finish(o.s) {
		if o.m.cfg.Metrics != nil {
			o.m.cfg.Metrics.record(o.s, r)
		}
		if o.m.cfg.OnFinish != nil {
			o.m.cfg.OnFinish(Summary{
				SessionID:  o.s.ID,
				Game:       o.s.Setup.Game,
				Mode:       o.s.Setup.Mode,
				Difficulty: o.s.Setup.Difficulty,
				Result:     r,
				History:    o.s.Engine.History(),
			})
		}
	}
	o.m.send(o.m.board(o.s, b, p))
	o.m.send(Response{Code: CodeGameOver, Data: map[string]any{"result": int(r.Winner), "turn": r.Plies}})
}

func (o observer) Aborted(err error) {
	o.m.finish(o.s)
	o.m.send(Response{Code: CodeInternal, Msg: "session aborted: " + err.Error()})
}
