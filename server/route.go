package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brensch/pit/lobby"
	"github.com/brensch/pit/protocol"
)

const (
	cmdLobby = "lobby"
	cmdGame  = "game"
	cmdExit  = "exit"
)

// route handles one inbound message. It returns false when the connection
// should close.
func (s *Server) route(c *client, msg protocol.Message) bool {
	cmd, _ := msg.Str("command")
	switch strings.ToLower(cmd) {
	case cmdLobby:
		s.lobbyCommand(c, msg)
	case cmdGame:
		if err := s.lobbies.Dispatch(c, msg); err != nil {
			c.Send(lobbyError(err))
		}
	case cmdExit:
		return false
	default:
		c.Send(protocol.Response{Code: protocol.CodeUnknownCommand, Msg: fmt.Sprintf("Command: '%s' not found!", cmd)})
	}
	return true
}

func (s *Server) lobbyCommand(c *client, msg protocol.Message) {
	key, _ := msg.Str("command_key")
	switch strings.ToLower(key) {
	case "create":
		k := s.lobbies.Create()
		seat, err := s.lobbies.Join(k, c)
		if err != nil {
			_ = s.lobbies.Remove(k)
			c.Send(lobbyError(err))
			return
		}
		c.Send(protocol.Response{Code: protocol.CodeLobbyCreated, Pos: string(seat), Data: map[string]any{"key": k}})

	case "join":
		k, ok := msg.Str("key")
		if !ok || k == "" {
			c.Send(protocol.Response{Code: protocol.CodeArgs, Msg: "join needs a key"})
			return
		}
		seat, err := s.lobbies.Join(k, c)
		if err != nil {
			c.Send(lobbyError(err))
			return
		}
		c.Send(protocol.Response{Code: protocol.CodeLobbyJoined, Pos: string(seat), Data: map[string]any{"key": k}})

	case "leave":
		if err := s.lobbies.Leave(c); err != nil {
			c.Send(lobbyError(err))
			return
		}
		c.Send(protocol.Response{Code: protocol.CodeLobbyLeft})

	case "swap":
		raw, _ := msg.Str("pos")
		seat, ok := lobby.ParseSeat(strings.ToLower(raw))
		if !ok {
			c.Send(protocol.Response{Code: protocol.CodeInvalidPos, Msg: fmt.Sprintf("unknown seat %q", raw)})
			return
		}
		if err := s.lobbies.Swap(c, seat); err != nil {
			c.Send(lobbyError(err))
			return
		}
		c.Send(protocol.Response{Code: protocol.CodeLobbySwapped, Pos: string(seat)})

	case "pos":
		k, seat, err := s.lobbies.Seat(c)
		if err != nil {
			c.Send(lobbyError(err))
			return
		}
		c.Send(protocol.Response{Code: protocol.CodeLobbyPos, Pos: string(seat), Data: map[string]any{"key": k}})

	case "list":
		k, ok := msg.Str("key")
		if !ok || k == "" {
			k, _, _ = s.lobbies.Seat(c)
		}
		st, err := s.lobbies.Status(k)
		if err != nil {
			c.Send(lobbyError(err))
			return
		}
		c.Send(protocol.Response{Code: protocol.CodeLobbyStatus, Data: map[string]any{
			"key":     st.Key,
			"p1":      st.P1,
			"p2":      st.P2,
			"sp":      st.Spectators,
			"session": st.Session,
		}})

	default:
		c.Send(protocol.Response{Code: protocol.CodeUnknownCommand, Msg: fmt.Sprintf("Command: '%s' not found!", key)})
	}
}

func lobbyError(err error) protocol.Response {
	code := protocol.CodeInternal
	switch {
	case errors.Is(err, lobby.ErrNotFound), errors.Is(err, lobby.ErrNotSeated):
		code = protocol.CodeNotFound
	case errors.Is(err, lobby.ErrBadSeat):
		code = protocol.CodeInvalidPos
	case errors.Is(err, lobby.ErrFull), errors.Is(err, lobby.ErrSeatTaken),
		errors.Is(err, lobby.ErrAlreadySeated), errors.Is(err, lobby.ErrNotEmpty):
		code = protocol.CodeConflict
	}
	return protocol.Response{Code: code, Msg: err.Error()}
}
