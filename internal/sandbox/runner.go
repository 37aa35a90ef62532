package sandbox

import (
	"bytes"
	"context"
	"sort"
)

// Environment variables understood by the harness.
const (
	EnvProgram  = "CHARTBOT_PROGRAM"
	EnvChart    = "CHARTBOT_CHART"
	EnvDBEngine = "CHARTBOT_DB_ENGINE"
	EnvDBPath   = "CHARTBOT_DB_PATH"
)

const (
	harnessFile = "harness.py"
	programFile = "program.py"
	chartFile   = "chart.png"

	// exitNoChart is the harness exit code for a program that rendered nothing.
	exitNoChart = 3
)

// Job describes one program run. Dir is a private work directory holding the
// harness and program; the harness writes the chart into it.
type Job struct {
	Dir           string
	Harness       string
	Program       string
	Chart         string
	DatasetPath   string
	DatasetEngine string
}

// env returns the harness bindings, with the dataset visible at dbPath.
func (j Job) env(dbPath string) []string {
	vars := map[string]string{
		EnvProgram:  j.Program,
		EnvChart:    j.Chart,
		EnvDBEngine: j.DatasetEngine,
		EnvDBPath:   dbPath,
	}
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// RunResult is what a runner observed. A non-zero ExitCode is not an error.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a Job in some isolated unit that can be forcibly reclaimed when
// ctx is done. Run returns ctx.Err() when it gave up because of the context.
type Runner interface {
	Run(ctx context.Context, job Job) (RunResult, error)
}

// limitedBuffer keeps the first max bytes written and silently drops the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.max > 0 {
		room := b.max - b.buf.Len()
		if room <= 0 {
			b.truncated = true
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
			b.truncated = true
		}
	}
	b.buf.Write(p)
	return n, nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
