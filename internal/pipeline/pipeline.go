package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Job is one notebook execution.
type Job struct {
	RunID      string
	Notebook   string
	InputPath  string
	OutputPath string
	Parameters map[string]any
}

// Executor runs a parameterized notebook to completion.
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job) error

func (f ExecutorFunc) Execute(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// NewJob resolves the input and executed-output paths of notebook inside
// dir.
func NewJob(dir, notebook string, params map[string]any) Job {
	return Job{
		Notebook:   notebook,
		InputPath:  filepath.Join(dir, notebook),
		OutputPath: filepath.Join(dir, "executed_"+notebook),
		Parameters: params,
	}
}

// Papermill runs notebooks through the papermill CLI.
type Papermill struct {
	Bin    string
	Kernel string
	Dir    string
	Logger *slog.Logger
}

const tailLines = 20

// Args builds the papermill command line for job.
func (p Papermill) Args(job Job) ([]string, error) {
	args := []string{job.InputPath, job.OutputPath}
	if p.Kernel != "" {
		args = append(args, "-k", p.Kernel)
	}
	args = append(args, "--no-progress-bar", "--no-request-save-on-cell-execute")
	if len(job.Parameters) > 0 {
		params, err := yaml.Marshal(job.Parameters)
		if err != nil {
			return nil, fmt.Errorf("encode parameters: %w", err)
		}
		args = append(args, "-y", string(params))
	}
	return args, nil
}

func (p Papermill) Execute(ctx context.Context, job Job) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(job.InputPath); err != nil {
		return fmt.Errorf("notebook %s: %w", job.Notebook, err)
	}
	args, err := p.Args(job)
	if err != nil {
		return err
	}
	bin := p.Bin
	if bin == "" {
		bin = "papermill"
	}
	// nolint: gosec
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = p.Dir
	cmd.Env = os.Environ()

	stderr := &outputLog{logger: logger, runID: job.RunID, stream: "stderr", keep: tailLines}
	cmd.Stdout = &outputLog{logger: logger, runID: job.RunID, stream: "stdout"}
	cmd.Stderr = stderr

	logger.Info("papermill starting", "run_id", job.RunID, "notebook", job.Notebook, "output", job.OutputPath)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("papermill exited with code %d: %s", exitErr.ExitCode(), stderr.Tail())
		}
		return fmt.Errorf("run papermill: %w", err)
	}
	return nil
}

// outputLog logs subprocess output line by line at debug level and keeps
// the last keep lines.
type outputLog struct {
	logger *slog.Logger
	runID  string
	stream string
	keep   int

	mu    sync.Mutex
	buf   bytes.Buffer
	lines []string
}

func (o *outputLog) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf.Write(p)
	for {
		data := o.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		o.line(strings.TrimRight(string(data[:i]), "\r"))
		o.buf.Next(i + 1)
	}
	return len(p), nil
}

func (o *outputLog) line(s string) {
	if strings.TrimSpace(s) == "" {
		return
	}
	o.logger.Debug("papermill output", "run_id", o.runID, "stream", o.stream, "line", s)
	if o.keep <= 0 {
		return
	}
	o.lines = append(o.lines, s)
	if len(o.lines) > o.keep {
		o.lines = o.lines[len(o.lines)-o.keep:]
	}
}

// Tail returns the kept lines plus any unterminated trailing output.
func (o *outputLog) Tail() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	lines := append([]string(nil), o.lines...)
	if rest := strings.TrimSpace(o.buf.String()); rest != "" {
		lines = append(lines, rest)
	}
	return strings.Join(lines, "\n")
}
