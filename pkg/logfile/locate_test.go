package logfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
}

func TestLatestPicksNewestTimestamp(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "output_log_2024-01-01_10-00-00.txt")
	touch(t, dir, "output_log_2024-01-02_09-00-00.txt")
	touch(t, dir, "output_log_2023-12-31_23-59-59.txt")
	// Ignored: wrong grammar, even though they sort last.
	touch(t, dir, "output_log_zzzz.txt")
	touch(t, dir, "player_prefs.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "output_log_2030-01-01_00-00-00.txt"), 0o755))

	got, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "output_log_2024-01-02_09-00-00.txt"), got)
}

func TestLatestNoMatch(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "notes.txt")

	_, err := Latest(dir)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestUnreadableDir(t *testing.T) {
	_, err := Latest(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"output_log_2024-01-01_10-00-00.txt", true},
		{"output_log_2024-01-01_10-00-00.log", false},
		{"output_log_2024-13-01_10-00-00.txt", false},
		{"output_log_2024-01-01.txt", false},
		{"xoutput_log_2024-01-01_10-00-00.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseTimestamp(tt.name)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
