package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", FormatJSON)
	require.NoError(t, err)

	log.Debug().Str("lobby", "abc").Msg("joined")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "debug", line["level"])
	require.Equal(t, "abc", line["lobby"])
	require.Equal(t, "joined", line["message"])
	require.Contains(t, line, "time")
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "WARN", FormatJSON)
	require.NoError(t, err)

	log.Info().Msg("dropped")
	require.Zero(t, buf.Len())
	log.Warn().Msg("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info", FormatConsole)
	require.NoError(t, err)

	log.Info().Str("game", "tictactoe").Msg("session finished")
	require.Contains(t, buf.String(), "session finished")
	require.Contains(t, buf.String(), "game=")
}

func TestInvalidOptions(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", FormatJSON)
	require.Error(t, err)

	_, err = New(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
}
