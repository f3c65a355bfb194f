package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  contamination: 0.05
  clusters: 3
pipeline:
  recency_window: 12h
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Model.Contamination)
	assert.Equal(t, 3, cfg.Model.Clusters)
	assert.Equal(t, 12*time.Hour, cfg.Pipeline.RecencyWindow)
	assert.Equal(t, 30*24*time.Hour, cfg.Pipeline.BaselineWindow)
	assert.Equal(t, 100, cfg.Model.NumTrees)
	assert.Equal(t, 0.3, cfg.MITRE.MinScore)
}

func TestLoadRejectsInvalidContamination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  contamination: 0.9\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contamination")
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  host: db.internal\n"), 0o600))
	t.Setenv("SENTINEL_DATABASE_HOST", "override.internal")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "override.internal", cfg.Database.Host)
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}
