package sandbox

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/docker/go-units"
)

// Kind selects how generated programs are isolated.
type Kind string

const (
	KindProcess Kind = "process"
	KindDocker  Kind = "docker"
)

const (
	// DefaultMemoryLimitBytes caps the address space of a process-mode run.
	// pandas and BLAS reserve far more virtual memory than they touch, so the cap
	// sits well above the docker RSS limit.
	DefaultMemoryLimitBytes = 4 << 30
	DefaultCPUSeconds       = 120
)

// ParseKind validates a sandbox name. An empty name selects process.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindProcess:
		return KindProcess, nil
	case KindDocker:
		return KindDocker, nil
	default:
		return "", fmt.Errorf("unknown sandbox %q (want process or docker)", s)
	}
}

// ParseMemory parses a human readable size such as "2g" or "512m". An empty
// string yields zero.
func ParseMemory(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("memory size must be positive, got %q", s)
	}
	return uint64(n), nil
}

// ParseCPUSeconds parses a positive whole number of CPU seconds. An empty string
// yields zero.
func ParseCPUSeconds(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("cpu seconds must be a positive integer, got %q", s)
	}
	return n, nil
}

// RunnerConfig selects and sizes the runner. Zero limits select the defaults.
type RunnerConfig struct {
	Kind        Kind
	Interpreter string // process only
	Image       string // docker only
	// MemoryBytes is RLIMIT_AS for process runners and the container memory limit
	// for docker runners.
	MemoryBytes uint64
	// CPUSeconds is RLIMIT_CPU for process runners.
	CPUSeconds uint64
}

// NewRunner builds the runner described by cfg.
func NewRunner(log *slog.Logger, cfg RunnerConfig) (Runner, error) {
	switch cfg.Kind {
	case KindDocker:
		r, err := NewDockerRunner(log, cfg.Image)
		if err != nil {
			return nil, err
		}
		if cfg.MemoryBytes > 0 {
			r.MemoryBytes = int64(cfg.MemoryBytes)
		}
		return r, nil
	case "", KindProcess:
		r := &ProcessRunner{
			Logger:           log,
			Interpreter:      cfg.Interpreter,
			MemoryLimitBytes: cfg.MemoryBytes,
			CPUSeconds:       cfg.CPUSeconds,
		}
		if r.MemoryLimitBytes == 0 {
			r.MemoryLimitBytes = DefaultMemoryLimitBytes
		}
		if r.CPUSeconds == 0 {
			r.CPUSeconds = DefaultCPUSeconds
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown sandbox %q", cfg.Kind)
	}
}
