package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxSteps, cfg.Pipeline.MaxSteps)
	assert.Equal(t, DefaultStructureAttempts, cfg.Report.StructureAttempts)
	assert.Equal(t, DefaultModel, cfg.Model.Name)
}

func TestLoadFromPath_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  name: custom/model
pipeline:
  dimensions: [trend, comparison]
report:
  output_dir: /tmp/reports
`), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "custom/model", cfg.Model.Name)
	assert.Equal(t, []string{"trend", "comparison"}, cfg.Pipeline.Dimensions)
	assert.Equal(t, "/tmp/reports", cfg.Report.OutputDir)
	// Untouched fields keep defaults.
	assert.Equal(t, DefaultMaxSteps, cfg.Pipeline.MaxSteps)
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  name: from-file\n"), 0o644))

	t.Setenv("DECKHAND_MODEL", "from-env")
	t.Setenv("DECKHAND_MAX_STEPS", "40")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Model.Name)
	assert.Equal(t, 40, cfg.Pipeline.MaxSteps)
}

func TestLoadFromPath_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  max_steps: -1\n"), 0o644))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_steps")
}

func TestLoadFromPath_BadLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
