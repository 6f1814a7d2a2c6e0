package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "WARN", Out: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info().Msg("dropped")
	logger.Warn().Str("user", "alice").Msg("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"user":"alice"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"time":`)
}

func TestNew_DefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Out: &buf})
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	require.Error(t, err)
}

func TestNew_Development(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Development: true, Out: &buf})
	require.NoError(t, err)

	logger.Info().Msg("console line")
	assert.Contains(t, buf.String(), "console line")
	assert.False(t, strings.HasPrefix(buf.String(), "{"), "development output should not be JSON")
}

func TestNew_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "auth.log")
	var buf bytes.Buffer
	logger, closer, err := New(Options{File: path, Out: &buf})
	require.NoError(t, err)

	logger.Info().Msg("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}
