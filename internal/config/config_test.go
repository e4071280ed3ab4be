package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(2000), cfg.Pipeline.YearMin)
	assert.Equal(t, int64(2025), cfg.Pipeline.YearMax)
	assert.Equal(t, 1_000_000.0, cfg.Pipeline.ValueFloor)
	assert.Equal(t, 10_000_000_000.0, cfg.Pipeline.ValueCeiling)
	assert.Equal(t, 150, cfg.Pipeline.ActivityThreshold)
	assert.Equal(t, 0.1, cfg.Scorer.Contamination)
	assert.Equal(t, 100, cfg.Scorer.Trees)
	assert.Equal(t, 20, cfg.Scorer.Neighbors)
	assert.InDelta(t, 0.6, cfg.Scorer.WeightIsolation, 1e-12)
	assert.InDelta(t, 0.4, cfg.Scorer.WeightDensity, 1e-12)
	assert.Equal(t, 0.7, cfg.Scorer.HighRiskThreshold)
	assert.Equal(t, 0.4, cfg.Scorer.SuspiciousThreshold)
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"year window inverted", func(c *Config) { c.Pipeline.YearMax = 1990 }},
		{"value bounds inverted", func(c *Config) { c.Pipeline.ValueCeiling = 100 }},
		{"risk thresholds inverted", func(c *Config) { c.Scorer.SuspiciousThreshold = 0.9 }},
		{"zero activity threshold", func(c *Config) { c.Pipeline.ActivityThreshold = 0 }},
		{"all weights zero", func(c *Config) {
			c.Scorer.WeightIsolation = 0
			c.Scorer.WeightDensity = 0
			c.Scorer.WeightRules = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	content := `
pipeline:
  year_min: 2010
  activity_threshold: 200
scorer:
  trees: 50
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2010), cfg.Pipeline.YearMin)
	assert.Equal(t, 200, cfg.Pipeline.ActivityThreshold)
	assert.Equal(t, 50, cfg.Scorer.Trees)
	// Untouched sections keep their defaults.
	assert.Equal(t, int64(2025), cfg.Pipeline.YearMax)
	assert.Equal(t, 20, cfg.Scorer.Neighbors)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), cfg.Pipeline.YearMin)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	content := `
pipeline:
  year_min: 2030
  year_max: 2020
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
