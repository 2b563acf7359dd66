package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "GreedinessMetric", cfg.Fairness.ActiveMetric)
	assert.Equal(t, 0.5, cfg.Fairness.ResourceDecayFactor)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fairness.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fairness:
  compute_host: host-a
  resource_decay_factor: 0.2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "host-a", cfg.Fairness.ComputeHost)
	assert.Equal(t, 0.2, cfg.Fairness.ResourceDecayFactor)
}

func TestLoadRejectsOutOfRangeDecayFactor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fairness.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fairness:
  resource_decay_factor: 1.5
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
