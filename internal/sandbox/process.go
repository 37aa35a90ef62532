package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	DefaultInterpreter    = "python3"
	DefaultMaxOutputBytes = 1 << 20
	defaultPath           = "/usr/local/bin:/usr/bin:/bin"
	processWaitDelay      = 2 * time.Second
)

// ProcessRunner runs the harness as a child process in its own process group with
// a scrubbed environment and a private read-only copy of the dataset. When the
// context is done the whole group is killed, so anything the program spawned is
// reclaimed too. The program still runs as the bot's user; DockerRunner is the
// isolation boundary for untrusted deployments.
type ProcessRunner struct {
	Logger *slog.Logger
	// Interpreter is invoked as: Interpreter <dir>/<harness> <dir>.
	Interpreter string
	// MemoryLimitBytes caps the address space of the program. Zero means no limit.
	MemoryLimitBytes uint64
	// CPUSeconds caps consumed CPU time. Zero means no limit.
	CPUSeconds uint64
	// MaxOutputBytes caps each of stdout and stderr.
	MaxOutputBytes int
}

func (r *ProcessRunner) Run(ctx context.Context, job Job) (RunResult, error) {
	interpreter := r.Interpreter
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	maxOutput := r.MaxOutputBytes
	if maxOutput == 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	log := r.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	dbPath, err := snapshotDataset(job.DatasetPath, job.Dir)
	if err != nil {
		return RunResult{}, err
	}

	cmd := exec.CommandContext(ctx, interpreter, filepath.Join(job.Dir, job.Harness), job.Dir)
	cmd.Dir = job.Dir
	cmd.Env = append(processEnv(job.Dir), job.env(dbPath)...)
	stdout := newLimitedBuffer(maxOutput)
	stderr := newLimitedBuffer(maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = processWaitDelay
	isolateProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("failed to start %s: %w", interpreter, err)
	}
	pid := cmd.Process.Pid
	if err := applyResourceLimits(pid, r.MemoryLimitBytes, r.CPUSeconds); err != nil {
		log.Warn("sandbox: failed to apply resource limits", "pid", pid, "error", err)
	}

	waitErr := cmd.Wait()
	// Reap anything the program left running in its group.
	killProcessGroup(pid)

	res := RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if stdout.truncated || stderr.truncated {
		log.Warn("sandbox: program output truncated", "max_bytes", maxOutput)
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if waitErr != nil {
		return res, fmt.Errorf("failed to run program: %w", waitErr)
	}
	return res, nil
}

// processEnv is the entire environment of the child besides the harness bindings.
// Nothing from the bot's own environment leaks in, credentials included.
func processEnv(dir string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = defaultPath
	}
	return []string{
		"PATH=" + path,
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"MPLBACKEND=Agg",
		"MPLCONFIGDIR=" + dir,
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
		"PYTHONNOUSERSITE=1",
		// One BLAS thread keeps numpy's reserved address space under RLIMIT_AS.
		"OPENBLAS_NUM_THREADS=1",
		"OMP_NUM_THREADS=1",
		"MKL_NUM_THREADS=1",
	}
}
