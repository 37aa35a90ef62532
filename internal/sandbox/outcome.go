package sandbox

import (
	"errors"
	"fmt"
	"time"
)

// Status is the terminal state of one bounded execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusTimeout Status = "timeout"
	StatusFailure Status = "failure"
)

var (
	// ErrTimeout reports that the program was still running when the budget ran out.
	ErrTimeout = errors.New("execution exceeded its time budget")
	// ErrNoChart reports that the program finished without rendering a chart.
	ErrNoChart = errors.New("program did not produce a chart")
)

// ExecutionError is a runtime failure raised by the program itself.
type ExecutionError struct {
	// Message is the last non-empty line the program wrote to stderr, usually the
	// exception summary.
	Message  string
	ExitCode int
}

func (e *ExecutionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("program exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("program failed (exit code %d): %s", e.ExitCode, e.Message)
}

// Outcome is the result of one execution. Chart and ChartPath are only set on
// success.
type Outcome struct {
	Status    Status
	Stdout    string
	Stderr    string
	Chart     []byte
	ChartPath string
	Err       error
	Duration  time.Duration
}

func (o *Outcome) Succeeded() bool {
	return o != nil && o.Status == StatusSuccess
}
