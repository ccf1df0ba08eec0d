package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, 25, cfg.Easy)
	require.Equal(t, 100, cfg.Medium)
	require.Equal(t, 400, cfg.Hard)
	require.Equal(t, 2*time.Millisecond, cfg.BatchTimeout)
	require.Empty(t, cfg.ArchiveDir)
	require.False(t, cfg.TUI)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PIT_LISTEN", "127.0.0.1:9000")
	t.Setenv("PIT_HARD_SIMS", "800")
	t.Setenv("PIT_ARCHIVE_DIR", "/tmp/archive")
	t.Setenv("PIT_TUI", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Listen)
	require.Equal(t, 800, cfg.Hard)
	require.Equal(t, "/tmp/archive", cfg.ArchiveDir)
	require.True(t, cfg.TUI)
}

func TestLoadErrors(t *testing.T) {
	t.Run("parse", func(t *testing.T) {
		t.Setenv("PIT_EASY_SIMS", "not-an-int")
		_, err := Load()
		require.ErrorContains(t, err, "parse env:")
	})
	t.Run("validate", func(t *testing.T) {
		t.Setenv("PIT_MEDIUM_SIMS", "0")
		_, err := Load()
		require.ErrorContains(t, err, "budgets")
	})
}
