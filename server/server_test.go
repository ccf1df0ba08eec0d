package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brensch/pit/catalog"
	"github.com/brensch/pit/executor/mcts"
	"github.com/brensch/pit/game"
	"github.com/brensch/pit/game/tictactoe"
	"github.com/brensch/pit/lobby"
	"github.com/brensch/pit/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type uniformEvaluator struct{ size int }

func (u uniformEvaluator) Predict(b game.Board) ([]float32, float32, error) {
	policy := make([]float32, u.size)
	for i := range policy {
		policy[i] = 1
	}
	return policy, 0, nil
}

// slowEvaluator is uniformEvaluator with a fixed cost per position.
type slowEvaluator struct {
	uniformEvaluator
	delay time.Duration
}

func (s slowEvaluator) Predict(b game.Board) ([]float32, float32, error) {
	time.Sleep(s.delay)
	return s.uniformEvaluator.Predict(b)
}

type testSetup struct {
	opts    Options
	machine protocol.Config
	newEval func(g game.Game) mcts.Evaluator
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, *lobby.Manager) {
	return newTestServerWith(t, testSetup{})
}

func newTestServerWith(t *testing.T, setup testSetup) (*Server, *httptest.Server, *lobby.Manager) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, tictactoe.Name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalog.CheckpointName), []byte("stub"), 0o644))

	if setup.newEval == nil {
		setup.newEval = func(g game.Game) mcts.Evaluator { return uniformEvaluator{size: g.ActionSize()} }
	}
	cat, err := catalog.New(root, catalog.Entry{
		Name: tictactoe.Name,
		New:  func() game.Game { return tictactoe.New(3) },
		NewEvaluator: func(g game.Game, _ string) (mcts.Evaluator, error) {
			return setup.newEval(g), nil
		},
	})
	require.NoError(t, err)

	if setup.machine.Budgets == (protocol.Budgets{}) {
		setup.machine.Budgets = protocol.Budgets{Easy: 4, Medium: 4, Hard: 4}
	}
	setup.opts.Logger = zerolog.Nop()

	ctx, cancel := context.WithCancel(context.Background())
	mgr := lobby.NewManager(ctx, cat, lobby.Config{
		Machine: setup.machine,
		Logger:  zerolog.Nop(),
	})
	srv := New(mgr, cat, setup.opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		mgr.Close()
		cancel()
	})
	return srv, ts, mgr
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// expect reads until a JSON response with code arrives, skipping binary
// frames and other responses.
func expect(t *testing.T, conn *websocket.Conn, code protocol.Code) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", code)
		if kind != websocket.TextMessage {
			continue
		}
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		if int(out["response_code"].(float64)) == int(code) {
			return out
		}
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestHTTPEndpoints(t *testing.T) {
	_, ts, mgr := newTestServer(t)

	var health map[string]bool
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &health))
	require.True(t, health["ok"])

	var games []catalog.GameStatus
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/games", &games))
	require.Len(t, games, 1)
	require.Equal(t, tictactoe.Name, games[0].Name)
	require.True(t, games[0].Available)

	key := mgr.Create()
	var lobbies []lobby.Status
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/lobbies", &lobbies))
	require.Len(t, lobbies, 1)
	require.Equal(t, key, lobbies[0].Key)

	var one lobby.Status
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/lobbies/"+key, &one))
	require.Equal(t, "waiting", one.Session.State)

	var missing map[string]string
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/lobbies/nope", &missing))
	require.Contains(t, missing["error"], "not found")
}

func TestLobbyAndGameOverWebsocket(t *testing.T) {
	srv, ts, mgr := newTestServer(t)
	a := dial(t, ts)
	b := dial(t, ts)

	send(t, a, map[string]any{"command": "lobby", "command_key": "create"})
	created := expect(t, a, protocol.CodeLobbyCreated)
	require.Equal(t, "p1", created["pos"])
	key := created["key"].(string)

	send(t, b, map[string]any{"command": "lobby", "command_key": "join", "key": key})
	require.Equal(t, "p2", expect(t, b, protocol.CodeLobbyJoined)["pos"])

	send(t, b, map[string]any{"command": "lobby", "command_key": "pos"})
	require.Equal(t, key, expect(t, b, protocol.CodeLobbyPos)["key"])

	send(t, a, map[string]any{
		"command": "game", "command_key": "create",
		"game": "tictactoe", "mode": "player_vs_player", "difficulty": "easy",
	})
	expect(t, a, protocol.CodeCreated)
	expect(t, b, protocol.CodeCreated)

	send(t, b, map[string]any{"command": "game", "command_key": "make_move", "move": 4})
	expect(t, b, protocol.CodeNotYourTurn)

	send(t, a, map[string]any{"command": "game", "command_key": "make_move", "move": 4})
	require.Equal(t, "p1", expect(t, a, protocol.CodeValidMove)["pos"])

	send(t, a, map[string]any{"command": "lobby", "command_key": "list"})
	st := expect(t, a, protocol.CodeLobbyStatus)
	require.Equal(t, true, st["p1"])
	require.Equal(t, true, st["p2"])

	require.Equal(t, int64(2), srv.Connections())

	send(t, b, map[string]any{"command": "exit"})
	require.Eventually(t, func() bool {
		st, err := mgr.Status(key)
		return err == nil && !st.P2
	}, 5*time.Second, 10*time.Millisecond)

	send(t, a, map[string]any{"command": "lobby", "command_key": "leave"})
	expect(t, a, protocol.CodeLobbyLeft)
	require.Empty(t, mgr.List())
}

func TestWebsocketErrors(t *testing.T) {
	_, ts, _ := newTestServer(t)
	c := dial(t, ts)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))
	expect(t, c, protocol.CodeMalformed)

	send(t, c, map[string]any{"command": "dance"})
	expect(t, c, protocol.CodeUnknownCommand)

	send(t, c, map[string]any{"command": "game", "command_key": "games"})
	expect(t, c, protocol.CodeNotFound)

	send(t, c, map[string]any{"command": "lobby", "command_key": "join", "key": "missing"})
	expect(t, c, protocol.CodeNotFound)

	send(t, c, map[string]any{"command": "lobby", "command_key": "join"})
	expect(t, c, protocol.CodeArgs)

	send(t, c, map[string]any{"command": "lobby", "command_key": "create"})
	expect(t, c, protocol.CodeLobbyCreated)

	send(t, c, map[string]any{"command": "lobby", "command_key": "swap", "pos": "p9"})
	expect(t, c, protocol.CodeInvalidPos)

	send(t, c, map[string]any{"command": "lobby", "command_key": "swap", "pos": "sp"})
	require.Equal(t, "sp", expect(t, c, protocol.CodeLobbySwapped)["pos"])

	send(t, c, map[string]any{"command": "lobby", "command_key": "create"})
	expect(t, c, protocol.CodeConflict)
}

func TestLobbyErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code protocol.Code
	}{
		{lobby.ErrNotFound, protocol.CodeNotFound},
		{lobby.ErrNotSeated, protocol.CodeNotFound},
		{lobby.ErrBadSeat, protocol.CodeInvalidPos},
		{lobby.ErrSeatTaken, protocol.CodeConflict},
		{lobby.ErrFull, protocol.CodeConflict},
		{lobby.ErrAlreadySeated, protocol.CodeConflict},
		{context.Canceled, protocol.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.code, lobbyError(tt.err).Code)
		})
	}
}

func TestLongCommandKeepsConnectionAlive(t *testing.T) {
	_, ts, _ := newTestServerWith(t, testSetup{
		opts:    Options{PingInterval: 50 * time.Millisecond},
		machine: protocol.Config{BlunderSimulations: 100},
		newEval: func(g game.Game) mcts.Evaluator {
			return slowEvaluator{uniformEvaluator: uniformEvaluator{size: g.ActionSize()}, delay: 2 * time.Millisecond}
		},
	})
	a := dial(t, ts)
	b := dial(t, ts)

	send(t, a, map[string]any{"command": "lobby", "command_key": "create"})
	key := expect(t, a, protocol.CodeLobbyCreated)["key"].(string)
	send(t, b, map[string]any{"command": "lobby", "command_key": "join", "key": key})
	expect(t, b, protocol.CodeLobbyJoined)

	send(t, a, map[string]any{
		"command": "game", "command_key": "create",
		"game": "tictactoe", "mode": "player_vs_player", "difficulty": "easy",
	})
	expect(t, a, protocol.CodeCreated)
	expect(t, b, protocol.CodeCreated)

	for i, mv := range []int{0, 3, 1, 4} {
		conn := a
		if i%2 == 1 {
			conn = b
		}
		send(t, conn, map[string]any{"command": "game", "command_key": "make_move", "move": mv})
		expect(t, conn, protocol.CodeValidMove)
	}

	// The review runs well past the read deadline of two ping intervals.
	start := time.Now()
	send(t, a, map[string]any{"command": "game", "command_key": "blunder"})
	require.NoError(t, a.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		kind, data, err := a.ReadMessage()
		require.NoError(t, err)
		if kind != websocket.TextMessage {
			continue
		}
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		code := protocol.Code(out["response_code"].(float64))
		if code == protocol.CodeBlunderList || code == protocol.CodeBlunderNone {
			break
		}
	}
	require.True(t, time.Since(start) > 100*time.Millisecond, "review took %s", time.Since(start))

	send(t, a, map[string]any{"command": "lobby", "command_key": "pos"})
	require.Equal(t, key, expect(t, a, protocol.CodeLobbyPos)["key"])
}
