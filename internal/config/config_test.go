package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"!UNSORT"}, cfg.Corpus.SkipNames)
	assert.Equal(t, "./runtime/temp", cfg.Corpus.WorkspaceDir)
	assert.False(t, cfg.Ingest.ParseRecords)
	assert.Equal(t, 6*time.Hour, cfg.StaleAfter(nil))
	assert.Equal(t, 3*time.Hour, cfg.BacklogReclaimAfter(nil))
}

func TestLoad_PartialConfig(t *testing.T) {
	yamlContent := `
database:
  driver: pgx
  dsn: postgres://corpus@localhost/corpus
ingest:
  parse_records: true
lease:
  stale_after: 90m
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.True(t, cfg.Ingest.ParseRecords)
	assert.Equal(t, 90*time.Minute, cfg.StaleAfter(nil))
	// untouched defaults survive
	assert.Equal(t, "./sources", cfg.Corpus.SourcesDir)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := Load(strings.NewReader("logging:\n  level: loud\n"))
	assert.Error(t, err)

	_, err = Load(strings.NewReader("logging:\n  output: file\n"))
	assert.Error(t, err, "file output needs a file")

	_, err = Load(strings.NewReader("database: [not, a, map]\n"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CORPUS_SOURCES_DIR", "/data/sources")
	t.Setenv("CORPUS_LOG_LEVEL", "debug")

	cfg, err := Load(strings.NewReader("corpus:\n  sources_dir: ./ignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "/data/sources", cfg.Corpus.SourcesDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "corpus.db", cfg.Database.DSN)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("corpus:\n  roots: [egrul, egrip]\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"egrul", "egrip"}, cfg.Corpus.Roots)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Hour, ParseDuration("", time.Hour, nil))
	assert.Equal(t, time.Hour, ParseDuration("soon", time.Hour, nil))
	assert.Equal(t, 2*time.Second, ParseDuration("2s", time.Hour, nil))
}
