package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestSetupTrimsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrcguard.log")
	writeLines(t, path, 10)

	var stderr bytes.Buffer
	logger, closeFn, err := Setup(Options{File: path, MaxLines: 3, Stderr: &stderr})
	require.NoError(t, err)
	logger.Info("started", "version", "dev")
	require.NoError(t, closeFn())

	lines := readLines(t, path)
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"line 8", "line 9", "line 10"}, lines[:3])
	assert.Contains(t, lines[3], "msg=started")
	assert.Contains(t, stderr.String(), "msg=started")
}

func TestSetupKeepsShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrcguard.log")
	writeLines(t, path, 2)

	_, closeFn, err := Setup(Options{File: path, MaxLines: 5, Stderr: &bytes.Buffer{}})
	require.NoError(t, err)
	require.NoError(t, closeFn())
	assert.Equal(t, []string{"line 1", "line 2"}, readLines(t, path))
}

func TestSetupCreatesFileAndDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "vrcguard.log")
	logger, closeFn, err := Setup(Options{File: path, Stderr: &bytes.Buffer{}, Level: slog.LevelWarn})
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, closeFn())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "msg=shown")
}

func TestSetupWithoutFile(t *testing.T) {
	var stderr bytes.Buffer
	logger, closeFn, err := Setup(Options{Stderr: &stderr})
	require.NoError(t, err)
	logger.Info("hello")
	assert.NoError(t, closeFn())
	assert.Contains(t, stderr.String(), "msg=hello")
}
