package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewJob(t *testing.T) {
	job := NewJob("notebooks", "AVU_ignition_1.ipynb", nil)
	assert.Equal(t, filepath.Join("notebooks", "AVU_ignition_1.ipynb"), job.InputPath)
	assert.Equal(t, filepath.Join("notebooks", "executed_AVU_ignition_1.ipynb"), job.OutputPath)
}

func TestPapermillArgs(t *testing.T) {
	p := Papermill{Kernel: "avu-base"}
	job := NewJob("nb", "a.ipynb", map[string]any{"input_path": "/src", "output_path": "/iron", "week_number": 7})
	args, err := p.Args(job)
	require.NoError(t, err)
	require.Len(t, args, 8)
	assert.Equal(t, []string{job.InputPath, job.OutputPath, "-k", "avu-base", "--no-progress-bar", "--no-request-save-on-cell-execute", "-y"}, args[:7])

	var params map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(args[7]), &params))
	assert.Equal(t, map[string]any{"input_path": "/src", "output_path": "/iron", "week_number": 7}, params)

	args, err = Papermill{}.Args(NewJob("nb", "a.ipynb", nil))
	require.NoError(t, err)
	assert.NotContains(t, args, "-k")
	assert.NotContains(t, args, "-y")
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	path := filepath.Join(t.TempDir(), "papermill")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func notebook(t *testing.T) Job {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ipynb"), []byte("{}"), 0o644))
	return NewJob(dir, "a.ipynb", map[string]any{"week_number": 3})
}

func TestPapermillExecuteSuccess(t *testing.T) {
	bin := writeScript(t, "echo ok\ncp \"$1\" \"$2\"\n")
	job := notebook(t)
	require.NoError(t, Papermill{Bin: bin}.Execute(context.Background(), job))
	assert.FileExists(t, job.OutputPath)
}

func TestPapermillExecuteFailureCarriesStderr(t *testing.T) {
	bin := writeScript(t, "echo 'cell 4 raised KeyError' >&2\nexit 3\n")
	err := Papermill{Bin: bin}.Execute(context.Background(), notebook(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "cell 4 raised KeyError")
}

func TestPapermillMissingNotebook(t *testing.T) {
	err := Papermill{Bin: "true"}.Execute(context.Background(), NewJob(t.TempDir(), "missing.ipynb", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.ipynb")
}

func TestExecutorFunc(t *testing.T) {
	var got Job
	var ex Executor = ExecutorFunc(func(_ context.Context, job Job) error {
		got = job
		return nil
	})
	require.NoError(t, ex.Execute(context.Background(), Job{Notebook: "x"}))
	assert.Equal(t, "x", got.Notebook)
}
