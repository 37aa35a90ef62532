package logger

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChartbot_Logger_UTCMillisecondTimestamps(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 9, 7, 5, 1, 42_500_000, time.FixedZone("x", 3600))
	a := replaceAttr(nil, slog.Time(slog.TimeKey, ts))
	require.Equal(t, "2024-03-09T06:05:01.042Z", a.Value.String())
}

func TestChartbot_Logger_DropsEmptyStringAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Info("hello", "empty", "", "kept", "value")

	out := buf.String()
	require.Contains(t, out, "hello")
	require.Contains(t, out, "kept")
	require.NotContains(t, out, "empty")
}

func TestChartbot_Logger_VerboseEnablesDebug(t *testing.T) {
	t.Parallel()

	var quiet, loud bytes.Buffer
	NewWithWriter(&quiet, false).Debug("debug line")
	NewWithWriter(&loud, true).Debug("debug line")

	require.Empty(t, quiet.String())
	require.Contains(t, loud.String(), "debug line")
}
