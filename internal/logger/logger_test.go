package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutToWriterAndFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	log, closer := New(Config{Level: "info", Format: "json", Dir: dir, Writer: &buf})
	log.Info("run started", "run_id", "r1")
	log.Debug("hidden")
	require.NoError(t, closer.Close())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "run started", line["msg"])
	assert.Equal(t, "r1", line["run_id"])

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"r1"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestQuietTextLogger(t *testing.T) {
	var buf bytes.Buffer
	log, closer := New(Config{Level: "debug", Format: "text", Quiet: true, Writer: &buf})
	defer closer.Close()
	log.Info("nothing")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
