package dataset

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChartbot_Dataset_RetryWhenBusy(t *testing.T) {
	t.Parallel()

	t.Run("retries until the lock is released", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := retryWhenBusy(context.Background(), testLogger(), "open", func() error {
			calls++
			if calls < 3 {
				return errors.New(`IO Error: Could not set lock on file "chartbot.duckdb": Conflicting lock is held`)
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		t.Parallel()
		calls := 0
		boom := errors.New("no such table: fact_sessions")
		err := retryWhenBusy(context.Background(), testLogger(), "open", func() error {
			calls++
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, calls)
	})

	t.Run("gives up after max tries", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := retryWhenBusy(context.Background(), testLogger(), "open", func() error {
			calls++
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		})
		require.Error(t, err)
		require.True(t, isBusyError(err))
		require.Equal(t, maxRetries, calls)
	})

	t.Run("stops when the context is done", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := retryWhenBusy(ctx, testLogger(), "open", func() error {
			calls++
			cancel()
			return errors.New("database is locked")
		})
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})
}
