package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	assert.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("")
	assert.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	lvl, err = ParseLevel("warning")
	assert.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	assert.NotNil(t, logger)
	logger.Info("discarded", "error", "ignored")
}
