package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/corpus/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.log")
	logger, closer, err := NewLogger(config.LoggingConfig{Level: "info", Format: "json", Output: "file", File: path})
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info("hello", "root", "egrul")
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"root":"egrul"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNewLogger_Invalid(t *testing.T) {
	_, _, err := NewLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
	_, _, err = NewLogger(config.LoggingConfig{Level: "info", Output: "printer"})
	assert.Error(t, err)
	_, _, err = NewLogger(config.LoggingConfig{Level: "info", Output: "file"})
	assert.Error(t, err)
}

func TestInitTracer_Disabled(t *testing.T) {
	cleanup, err := InitTracer(context.Background(), config.TracingConfig{}, Discard())
	require.NoError(t, err)
	cleanup()
}

func TestInitTracer_BadProtocol(t *testing.T) {
	_, err := InitTracer(context.Background(), config.TracingConfig{Enabled: true, Protocol: "carrier-pigeon"}, Discard())
	assert.Error(t, err)
}
