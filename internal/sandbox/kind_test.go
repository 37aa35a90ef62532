package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChartbot_Sandbox_ParseKind(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Kind{"": KindProcess, "process": KindProcess, "docker": KindDocker} {
		got, err := ParseKind(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseKind("firecracker")
	require.ErrorContains(t, err, "unknown sandbox")
}

func TestChartbot_Sandbox_NewRunner_Process(t *testing.T) {
	t.Parallel()

	r, err := NewRunner(testLogger(), RunnerConfig{Kind: KindProcess, Interpreter: "python3.12"})
	require.NoError(t, err)
	pr, ok := r.(*ProcessRunner)
	require.True(t, ok)
	require.Equal(t, "python3.12", pr.Interpreter)
	require.Equal(t, uint64(DefaultMemoryLimitBytes), pr.MemoryLimitBytes)
	require.Equal(t, uint64(DefaultCPUSeconds), pr.CPUSeconds)

	r, err = NewRunner(testLogger(), RunnerConfig{MemoryBytes: 2 << 30, CPUSeconds: 30})
	require.NoError(t, err)
	pr = r.(*ProcessRunner)
	require.Equal(t, uint64(2<<30), pr.MemoryLimitBytes)
	require.Equal(t, uint64(30), pr.CPUSeconds)

	_, err = NewRunner(testLogger(), RunnerConfig{Kind: Kind("vm")})
	require.Error(t, err)
}

func TestChartbot_Sandbox_ParseLimits(t *testing.T) {
	t.Parallel()

	n, err := ParseMemory("2g")
	require.NoError(t, err)
	require.Equal(t, uint64(2<<30), n)
	n, err = ParseMemory("512m")
	require.NoError(t, err)
	require.Equal(t, uint64(512<<20), n)
	n, err = ParseMemory("")
	require.NoError(t, err)
	require.Zero(t, n)
	_, err = ParseMemory("lots")
	require.Error(t, err)

	s, err := ParseCPUSeconds("90")
	require.NoError(t, err)
	require.Equal(t, uint64(90), s)
	_, err = ParseCPUSeconds("0")
	require.Error(t, err)
	_, err = ParseCPUSeconds("-1")
	require.Error(t, err)
}
