package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultBudget    = 120 * time.Second
	DefaultChartPath = "/tmp/plot.png"
)

// Config configures an Executor.
type Config struct {
	Logger *slog.Logger
	Runner Runner
	// Budget is the wall-clock limit of one execution.
	Budget time.Duration
	// ChartPath is the single well-known location of the live chart. Each success
	// overwrites it; failures never touch it.
	ChartPath string
	// WorkRoot is where per-run work directories are created. Empty means the
	// system temp directory.
	WorkRoot string
	// Harness is the wrapper script handed to the runner.
	Harness []byte

	DatasetPath   string
	DatasetEngine string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Runner == nil {
		return errors.New("runner is required")
	}
	if c.DatasetPath == "" {
		return errors.New("dataset path is required")
	}
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.ChartPath == "" {
		c.ChartPath = DefaultChartPath
	}
	if len(c.Harness) == 0 {
		c.Harness = DefaultHarness
	}
	if c.DatasetEngine == "" {
		c.DatasetEngine = "sqlite"
	}
	return nil
}

// Executor runs synthesized programs under a time budget and classifies the
// result as success, timeout or failure.
type Executor struct {
	cfg Config
	log *slog.Logger
}

func NewExecutor(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	datasetPath, err := filepath.Abs(cfg.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dataset path: %w", err)
	}
	cfg.DatasetPath = datasetPath
	return &Executor{cfg: cfg, log: cfg.Logger}, nil
}

func (e *Executor) Budget() time.Duration { return e.cfg.Budget }
func (e *Executor) ChartPath() string     { return e.cfg.ChartPath }

// Execute runs program to completion or until the budget elapses. It never
// returns nil. Timeout is reported only when the budget ran out while ctx itself
// was still live.
func (e *Executor) Execute(ctx context.Context, program string) *Outcome {
	start := time.Now()
	ExecutionsInFlight.Inc()
	out := e.execute(ctx, program)
	ExecutionsInFlight.Dec()
	out.Duration = time.Since(start)

	ExecutionsTotal.WithLabelValues(string(out.Status)).Inc()
	ExecutionDuration.WithLabelValues(string(out.Status)).Observe(out.Duration.Seconds())

	switch out.Status {
	case StatusSuccess:
		e.log.Info("sandbox: execution succeeded", "duration", out.Duration, "chart_path", out.ChartPath, "stdout_bytes", len(out.Stdout))
	case StatusTimeout:
		e.log.Warn("sandbox: execution timed out", "duration", out.Duration, "budget", e.cfg.Budget)
	default:
		e.log.Warn("sandbox: execution failed", "duration", out.Duration, "error", out.Err)
	}
	return out
}

func (e *Executor) execute(ctx context.Context, program string) *Outcome {
	dir, err := os.MkdirTemp(e.cfg.WorkRoot, "chartbot-run-*")
	if err != nil {
		return failure(fmt.Errorf("failed to create work directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			e.log.Warn("sandbox: failed to remove work directory", "dir", dir, "error", err)
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, harnessFile), e.cfg.Harness, 0o644); err != nil {
		return failure(fmt.Errorf("failed to write harness: %w", err))
	}
	if err := os.WriteFile(filepath.Join(dir, programFile), []byte(program), 0o644); err != nil {
		return failure(fmt.Errorf("failed to write program: %w", err))
	}

	job := Job{
		Dir:           dir,
		Harness:       harnessFile,
		Program:       programFile,
		Chart:         chartFile,
		DatasetPath:   e.cfg.DatasetPath,
		DatasetEngine: e.cfg.DatasetEngine,
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Budget)
	defer cancel()
	res, runErr := e.cfg.Runner.Run(runCtx, job)

	out := &Outcome{Stdout: res.Stdout, Stderr: res.Stderr}
	switch {
	case ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		out.Status = StatusTimeout
		out.Err = ErrTimeout
		return out
	case runErr != nil:
		out.Status = StatusFailure
		out.Err = runErr
		return out
	case res.ExitCode == exitNoChart:
		out.Status = StatusFailure
		out.Err = ErrNoChart
		return out
	case res.ExitCode != 0:
		out.Status = StatusFailure
		out.Err = &ExecutionError{Message: lastLine(res.Stderr), ExitCode: res.ExitCode}
		return out
	}

	chart, err := os.ReadFile(filepath.Join(dir, chartFile))
	if err != nil || len(chart) == 0 {
		out.Status = StatusFailure
		out.Err = ErrNoChart
		return out
	}
	if err := writeFileAtomic(e.cfg.ChartPath, chart); err != nil {
		out.Status = StatusFailure
		out.Err = fmt.Errorf("failed to persist chart: %w", err)
		return out
	}

	out.Status = StatusSuccess
	out.Chart = chart
	out.ChartPath = e.cfg.ChartPath
	return out
}

func failure(err error) *Outcome {
	return &Outcome{Status: StatusFailure, Err: err}
}

// lastLine returns the last non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".chart-*.png")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
