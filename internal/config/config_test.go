package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:5000", cfg.Server.Addr)
	assert.EqualValues(t, 512*1024, cfg.Server.MaxBodyBytes)
	assert.Equal(t, filepath.Join("data", "IRON_DATA", "locked_weeks"), cfg.Paths.LockedDir)
	assert.Equal(t, 5*time.Second, cfg.Runs.HeartbeatInterval)
}

func TestFromYAMLPartial(t *testing.T) {
	cfg, err := FromYAML([]byte(`
paths:
  output_dir: /srv/iron
notebooks:
  partial: custom.ipynb
webhooks:
  - url: https://hooks.example.com/cockpit
    events: [run.completed]
    enabled: false
`))
	require.NoError(t, err)
	assert.Equal(t, "/srv/iron/locked_weeks", cfg.Paths.LockedDir)
	assert.Equal(t, "custom.ipynb", cfg.Notebooks.Partial)
	assert.Equal(t, "AVU_ignition_1.ipynb", cfg.Notebooks.Full)
	require.Len(t, cfg.Webhooks, 1)
	assert.False(t, cfg.Webhooks[0].IsEnabled())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"notebook path": "notebooks:\n  full: ../evil.ipynb\n",
		"log level":     "log:\n  level: loud\n",
		"log format":    "log:\n  format: xml\n",
		"webhook url":   "webhooks:\n  - url: ftp://example.com\n",
		"yaml":          "server: [\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptionalAndMissingPaths(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(Path(dir))
	assert.ErrorContains(t, err, "cockpit config init")

	cfg.Paths.SourceDir = filepath.Join(dir, "src")
	cfg.Paths.OutputDir = filepath.Join(dir, "out")
	assert.Equal(t, []string{
		"SOURCE path not found: " + cfg.Paths.SourceDir,
		"OUTPUT path not found: " + cfg.Paths.OutputDir,
	}, cfg.MissingPaths())

	require.NoError(t, os.MkdirAll(cfg.Paths.SourceDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Paths.OutputDir, 0o755))
	assert.Empty(t, cfg.MissingPaths())
}

func TestYAMLRoundTrip(t *testing.T) {
	out, err := Default().YAML()
	require.NoError(t, err)
	cfg, err := FromYAML([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
