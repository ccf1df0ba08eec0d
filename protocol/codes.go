package protocol

import (
	"errors"
	"fmt"

	"github.com/brensch/pit/catalog"
	"github.com/brensch/pit/executor/arena"
	"github.com/brensch/pit/game"
)

// Code is the response_code of an outbound message.
type Code int

// Info codes.
const (
	CodeCreated           Code = 200
	CodeEvaluationStarted Code = 201
	CodeEvaluationStopped Code = 202
	CodeEvaluationDone    Code = 203
	CodeTurnPlayer        Code = 204
	CodeTurnAI            Code = 205
	CodeBoard             Code = 206
	CodeValidMove         Code = 207
	CodeMoves             Code = 208
	CodeUndo              Code = 209
	CodeTimeline          Code = 210
	CodeBlunderNone       Code = 211
	CodeBlunderList       Code = 212
	CodeGames             Code = 213
	CodeGameOver          Code = 214
	CodeSurrender         Code = 215
	CodeQuit              Code = 216

	CodeLobbyCreated Code = 230
	CodeLobbyJoined  Code = 231
	CodeLobbyLeft    Code = 232
	CodeLobbySwapped Code = 233
	CodeLobbyPos     Code = 234
	CodeLobbyStatus  Code = 235
)

// Structural and game-logic errors.
const (
	CodeArgs              Code = 400
	CodeInvalidMove       Code = 401
	CodeNoMove            Code = 402
	CodeNoUndo            Code = 403
	CodeInvalidUndo       Code = 404
	CodeNotFound          Code = 405
	CodeNoTimeline        Code = 406
	CodeInvalidTimeline   Code = 407
	CodeNoEvaluation      Code = 408
	CodeInvalidEvaluation Code = 409
	CodeInvalidPos        Code = 410
	CodeNotYourTurn       Code = 411
	CodeMalformed         Code = 412
	CodeUnknownCommand    Code = 413
)

// Lifecycle conflicts.
const (
	CodeNoInit       Code = 450
	CodeStillRunning Code = 451
	CodeGameFinished Code = 452
	CodeEvaluating   Code = 453
	CodeConflict     Code = 454
)

const CodeInternal Code = 500

var codeNames = map[Code]string{
	CodeCreated:           "created",
	CodeEvaluationStarted: "evaluation_started",
	CodeEvaluationStopped: "evaluation_stopped",
	CodeEvaluationDone:    "evaluation_done",
	CodeTurnPlayer:        "turn_player",
	CodeTurnAI:            "turn_ai",
	CodeBoard:             "board",
	CodeValidMove:         "valid_move",
	CodeMoves:             "moves",
	CodeUndo:              "undo",
	CodeTimeline:          "timeline",
	CodeBlunderNone:       "blunder_none",
	CodeBlunderList:       "blunder_list",
	CodeGames:             "games",
	CodeGameOver:          "game_over",
	CodeSurrender:         "surrender",
	CodeQuit:              "quit",
	CodeLobbyCreated:      "lobby_created",
	CodeLobbyJoined:       "lobby_joined",
	CodeLobbyLeft:         "lobby_left",
	CodeLobbySwapped:      "lobby_swapped",
	CodeLobbyPos:          "lobby_pos",
	CodeLobbyStatus:       "lobby_status",
	CodeArgs:              "invalid_args",
	CodeInvalidMove:       "invalid_move",
	CodeNoMove:            "no_move",
	CodeNoUndo:            "no_undo",
	CodeInvalidUndo:       "invalid_undo",
	CodeNotFound:          "not_found",
	CodeNoTimeline:        "no_timeline",
	CodeInvalidTimeline:   "invalid_timeline",
	CodeNoEvaluation:      "no_evaluation",
	CodeInvalidEvaluation: "invalid_evaluation",
	CodeInvalidPos:        "invalid_pos",
	CodeNotYourTurn:       "not_your_turn",
	CodeMalformed:         "malformed",
	CodeUnknownCommand:    "unknown_command",
	CodeNoInit:            "no_init",
	CodeStillRunning:      "still_running",
	CodeGameFinished:      "game_finished",
	CodeEvaluating:        "evaluating",
	CodeConflict:          "conflict",
	CodeInternal:          "internal_error",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// IsError reports whether c signals a failure.
func (c Code) IsError() bool { return c >= 400 }

// CodeFor maps an error from the session layer to its response code.
func CodeFor(err error) Code {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, catalog.ErrUnknownGame), errors.Is(err, catalog.ErrCheckpointMissing):
		return CodeNotFound
	case errors.Is(err, arena.ErrNotYourTurn), errors.Is(err, arena.ErrNotRemote), errors.Is(err, arena.ErrPending):
		return CodeNotYourTurn
	case errors.Is(err, arena.ErrNoAssist), errors.Is(err, game.ErrIllegalMove), errors.Is(err, game.ErrBadAction):
		return CodeInvalidMove
	case errors.Is(err, arena.ErrHistory):
		return CodeInvalidUndo
	case errors.Is(err, arena.ErrTimeline):
		return CodeInvalidTimeline
	case errors.Is(err, arena.ErrRunning):
		return CodeStillRunning
	case errors.Is(err, arena.ErrFinished), errors.Is(err, arena.ErrNotRunning):
		return CodeGameFinished
	}
	return CodeInternal
}
