package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionalPath(t *testing.T) {
	cfg, exit, err := Parse([]string{"exp.yaml"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "exp.yaml", cfg.ConfigPath)
	assert.Equal(t, "yaml", cfg.Format)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestParseFlagsWin(t *testing.T) {
	cfg, exit, err := Parse([]string{
		"-config", "exp.yaml",
		"-override", "site.yaml",
		"-override", "fast.yaml",
		"-format", "hcl",
		"-resume",
		"-checkpoint", "step-000000000002.ckpt",
		"-log-level", "debug",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, []string{"site.yaml", "fast.yaml"}, cfg.Overrides)
	assert.Equal(t, "hcl", cfg.Format)
	assert.True(t, cfg.Resume)
	assert.Equal(t, "step-000000000002.ckpt", cfg.Checkpoint)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseNoPathPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	_, exit, err := Parse(nil, &out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParseInvalidLogLevel(t *testing.T) {
	_, _, err := Parse([]string{"-log-level", "loud", "exp.yaml"}, &bytes.Buffer{})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestParseCheckpointWithoutResume(t *testing.T) {
	_, _, err := Parse([]string{"-checkpoint", "step-000000000002.ckpt", "exp.yaml"}, &bytes.Buffer{})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
}
