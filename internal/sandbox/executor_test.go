//go:build unix

package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// shellHarness stands in for the python harness so these tests only need /bin/sh.
const shellHarness = `cd "$1" || exit 2
. "./$CHARTBOT_PROGRAM"
`

func newShellExecutor(t *testing.T, budget time.Duration) (*Executor, string) {
	t.Helper()
	root := t.TempDir()
	chartPath := filepath.Join(root, "out", "plot.png")
	dataset := filepath.Join(root, "data.db")
	require.NoError(t, os.WriteFile(dataset, []byte("db"), 0o644))

	workRoot := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(workRoot, 0o755))

	e, err := NewExecutor(Config{
		Logger:        testLogger(),
		Runner:        &ProcessRunner{Logger: testLogger(), Interpreter: "sh"},
		Budget:        budget,
		ChartPath:     chartPath,
		WorkRoot:      workRoot,
		Harness:       []byte(shellHarness),
		DatasetPath:   dataset,
		DatasetEngine: "sqlite",
	})
	require.NoError(t, err)
	return e, chartPath
}

func TestChartbot_Sandbox_Execute_Success(t *testing.T) {
	t.Parallel()

	e, chartPath := newShellExecutor(t, 10*time.Second)
	program := `printf 'Average price by platform\nios: 4.99\n'
printf 'PNGDATA' > "$CHARTBOT_CHART"
`
	out := e.Execute(context.Background(), program)
	require.Equal(t, StatusSuccess, out.Status, "err: %v stderr: %s", out.Err, out.Stderr)
	require.True(t, out.Succeeded())
	require.NoError(t, out.Err)
	require.Equal(t, "Average price by platform\nios: 4.99\n", out.Stdout)
	require.Equal(t, []byte("PNGDATA"), out.Chart)
	require.Equal(t, chartPath, out.ChartPath)

	onDisk, err := os.ReadFile(chartPath)
	require.NoError(t, err)
	require.Equal(t, []byte("PNGDATA"), onDisk)
}

func TestChartbot_Sandbox_Execute_OverwritesPreviousChart(t *testing.T) {
	t.Parallel()

	e, chartPath := newShellExecutor(t, 10*time.Second)
	out := e.Execute(context.Background(), `printf 'first' > "$CHARTBOT_CHART"`)
	require.Equal(t, StatusSuccess, out.Status)
	out = e.Execute(context.Background(), `printf 'second' > "$CHARTBOT_CHART"`)
	require.Equal(t, StatusSuccess, out.Status)

	onDisk, err := os.ReadFile(chartPath)
	require.NoError(t, err)
	require.Equal(t, "second", string(onDisk))
}

func TestChartbot_Sandbox_Execute_Timeout(t *testing.T) {
	t.Parallel()

	budget := 500 * time.Millisecond
	e, chartPath := newShellExecutor(t, budget)

	start := time.Now()
	out := e.Execute(context.Background(), "printf 'PNG' > \"$CHARTBOT_CHART\"\nsleep 30\n")
	elapsed := time.Since(start)

	require.Equal(t, StatusTimeout, out.Status)
	require.ErrorIs(t, out.Err, ErrTimeout)
	require.False(t, out.Succeeded())
	require.Nil(t, out.Chart)
	require.Less(t, elapsed, budget+5*time.Second, "timeout must be reported shortly after the budget")

	_, err := os.Stat(chartPath)
	require.True(t, os.IsNotExist(err), "a timed out run never publishes a chart")
}

func TestChartbot_Sandbox_Execute_RuntimeFailure(t *testing.T) {
	t.Parallel()

	e, _ := newShellExecutor(t, 10*time.Second)
	program := `echo 'Traceback (most recent call last):' >&2
echo 'ZeroDivisionError: division by zero' >&2
echo '' >&2
exit 1
`
	out := e.Execute(context.Background(), program)
	require.Equal(t, StatusFailure, out.Status)

	var execErr *ExecutionError
	require.ErrorAs(t, out.Err, &execErr)
	require.Equal(t, 1, execErr.ExitCode)
	require.Equal(t, "ZeroDivisionError: division by zero", execErr.Message)
	require.Contains(t, out.Stderr, "Traceback")
}

func TestChartbot_Sandbox_Execute_FailureKeepsStaleChartUnpublished(t *testing.T) {
	t.Parallel()

	e, chartPath := newShellExecutor(t, 10*time.Second)
	require.NoError(t, os.MkdirAll(filepath.Dir(chartPath), 0o755))
	require.NoError(t, os.WriteFile(chartPath, []byte("previous request"), 0o644))

	program := `printf 'partial' > "$CHARTBOT_CHART"
echo 'KeyError: platform' >&2
exit 1
`
	out := e.Execute(context.Background(), program)
	require.Equal(t, StatusFailure, out.Status)
	require.Nil(t, out.Chart)
	require.Empty(t, out.ChartPath)

	onDisk, err := os.ReadFile(chartPath)
	require.NoError(t, err)
	require.Equal(t, "previous request", string(onDisk), "failure must not replace the live chart")
}

func TestChartbot_Sandbox_Execute_NoChart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		program string
	}{
		{name: "clean exit without chart", program: "echo 'done'\n"},
		{name: "harness reports no figure", program: "exit 3\n"},
		{name: "empty chart file", program: ": > \"$CHARTBOT_CHART\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, _ := newShellExecutor(t, 10*time.Second)
			out := e.Execute(context.Background(), tt.program)
			require.Equal(t, StatusFailure, out.Status)
			require.ErrorIs(t, out.Err, ErrNoChart)
		})
	}
}

func TestChartbot_Sandbox_Execute_Bindings(t *testing.T) {
	t.Parallel()

	e, _ := newShellExecutor(t, 10*time.Second)
	program := `printf '%s|%s|%s' "$CHARTBOT_DB_ENGINE" "$(basename "$CHARTBOT_DB_PATH")" "$MPLBACKEND"
[ "$HOME" = "$(pwd)" ] || exit 9
printf 'x' > "$CHARTBOT_CHART"
`
	out := e.Execute(context.Background(), program)
	require.Equal(t, StatusSuccess, out.Status, "stderr: %s", out.Stderr)
	require.Equal(t, "sqlite|data.db|Agg", out.Stdout)
}

func TestChartbot_Sandbox_Execute_DatasetIsPrivateCopy(t *testing.T) {
	t.Parallel()

	e, _ := newShellExecutor(t, 10*time.Second)
	shared := e.cfg.DatasetPath
	program := `printf '%s' "$CHARTBOT_DB_PATH"
[ "$(cat "$CHARTBOT_DB_PATH")" = db ] || exit 9
printf 'DROPPED' > "$CHARTBOT_DB_PATH" 2>/dev/null
rm -f "$CHARTBOT_DB_PATH"
printf 'x' > "$CHARTBOT_CHART"
`
	out := e.Execute(context.Background(), program)
	require.Equal(t, StatusSuccess, out.Status, "stderr: %s", out.Stderr)
	require.NotEqual(t, shared, out.Stdout)
	require.True(t, strings.HasPrefix(out.Stdout, e.cfg.WorkRoot), "snapshot lives in the work dir, got %s", out.Stdout)

	data, err := os.ReadFile(shared)
	require.NoError(t, err)
	require.Equal(t, "db", string(data), "the shared dataset must survive the run")

	entries, err := os.ReadDir(e.cfg.WorkRoot)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestChartbot_Sandbox_SnapshotDataset(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "chartbot.duckdb")
	require.NoError(t, os.WriteFile(src, []byte("main"), 0o644))
	require.NoError(t, os.WriteFile(src+".wal", []byte("log"), 0o644))

	dir := t.TempDir()
	dst, err := snapshotDataset(src, dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, snapshotDir, "chartbot.duckdb"), dst)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "main", string(data))
	data, err = os.ReadFile(dst + ".wal")
	require.NoError(t, err)
	require.Equal(t, "log", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	_, err = snapshotDataset(filepath.Join(t.TempDir(), "missing.db"), t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestChartbot_Sandbox_Execute_RemovesWorkDir(t *testing.T) {
	t.Parallel()

	e, _ := newShellExecutor(t, 10*time.Second)
	out := e.Execute(context.Background(), `printf 'x' > "$CHARTBOT_CHART"`)
	require.Equal(t, StatusSuccess, out.Status)

	entries, err := os.ReadDir(e.cfg.WorkRoot)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestChartbot_Sandbox_Execute_ScrubsEnvironment(t *testing.T) {
	t.Setenv("CHARTBOT_TEST_SECRET", "do-not-leak")

	e, _ := newShellExecutor(t, 10*time.Second)
	out := e.Execute(context.Background(), "printf '%s' \"${CHARTBOT_TEST_SECRET:-unset}\"\nprintf 'x' > \"$CHARTBOT_CHART\"\n")
	require.Equal(t, StatusSuccess, out.Status)
	require.Equal(t, "unset", out.Stdout)
}

func TestChartbot_Sandbox_Execute_KillsProcessGroupOnTimeout(t *testing.T) {
	t.Parallel()

	e, _ := newShellExecutor(t, 500*time.Millisecond)
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	program := "sleep 30 &\necho $! > '" + pidFile + "'\nwait\n"

	out := e.Execute(context.Background(), program)
	require.Equal(t, StatusTimeout, out.Status)

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !processAlive(pid) }, 5*time.Second, 50*time.Millisecond,
		"background child of a timed out program must be killed")
}

// processAlive treats zombies as dead; they only wait to be reaped by init.
func processAlive(pid int) bool {
	if err := unix.Kill(pid, 0); err != nil {
		return false
	}
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return true
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) == 0 || fields[0] != "Z"
}

func TestChartbot_Sandbox_Execute_ParentCancelIsNotTimeout(t *testing.T) {
	t.Parallel()

	e, _ := newShellExecutor(t, 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out := e.Execute(ctx, "sleep 30\n")
	require.Equal(t, StatusFailure, out.Status)
	require.ErrorIs(t, out.Err, context.DeadlineExceeded)
	require.NotErrorIs(t, out.Err, ErrTimeout)
}

type fakeRunner struct {
	res RunResult
	err error
	got Job
}

func (f *fakeRunner) Run(ctx context.Context, job Job) (RunResult, error) {
	f.got = job
	return f.res, f.err
}

func TestChartbot_Sandbox_Execute_RunnerError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("exec: \"python3\": executable file not found in $PATH")}
	e, err := NewExecutor(Config{
		Logger:      testLogger(),
		Runner:      runner,
		ChartPath:   filepath.Join(t.TempDir(), "plot.png"),
		WorkRoot:    t.TempDir(),
		DatasetPath: "data.db",
	})
	require.NoError(t, err)

	out := e.Execute(context.Background(), "print('x')")
	require.Equal(t, StatusFailure, out.Status)
	require.ErrorContains(t, out.Err, "executable file not found")

	require.Equal(t, harnessFile, runner.got.Harness)
	require.Equal(t, programFile, runner.got.Program)
	require.Equal(t, chartFile, runner.got.Chart)
	require.True(t, filepath.IsAbs(runner.got.DatasetPath))
	require.Equal(t, "sqlite", runner.got.DatasetEngine)
}

func TestChartbot_Sandbox_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{Logger: testLogger(), Runner: &fakeRunner{}, DatasetPath: "data.db"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultBudget, cfg.Budget)
	require.Equal(t, 120*time.Second, cfg.Budget)
	require.Equal(t, DefaultChartPath, cfg.ChartPath)
	require.Equal(t, DefaultHarness, cfg.Harness)

	require.Error(t, (&Config{Runner: &fakeRunner{}, DatasetPath: "x"}).Validate())
	require.Error(t, (&Config{Logger: testLogger(), DatasetPath: "x"}).Validate())
	require.Error(t, (&Config{Logger: testLogger(), Runner: &fakeRunner{}}).Validate())
}

func TestChartbot_Sandbox_LastLine(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", lastLine(""))
	require.Equal(t, "b", lastLine("a\nb\n\n  \n"))
	require.Equal(t, "only", lastLine("only"))
}

func TestChartbot_Sandbox_LimitedBuffer(t *testing.T) {
	t.Parallel()

	b := newLimitedBuffer(5)
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "abcde", b.String())
	require.True(t, b.truncated)
}

func TestChartbot_Sandbox_DefaultHarnessEmbedded(t *testing.T) {
	t.Parallel()

	h := string(DefaultHarness)
	require.Contains(t, h, "CHARTBOT_PROGRAM")
	require.Contains(t, h, "matplotlib.use(\"Agg\")")
	require.Contains(t, h, "read_only=True")
	require.Contains(t, h, "mode=ro")
}
