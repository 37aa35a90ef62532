package dataset

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxRetries        = 6
	initialRetryDelay = 50 * time.Millisecond
	maxRetryDelay     = 2 * time.Second
)

// isBusyError reports whether err is a lock held by another process: a writer
// rebuilding the database, or a reader keeping a duckdb file open.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "Could not set lock on file")
}

// retryWhenBusy runs fn until it succeeds, fails with anything other than lock
// contention, or runs out of tries.
func retryWhenBusy(ctx context.Context, log *slog.Logger, operation string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info("dataset: lock released", "operation", operation, "attempts", attempt)
			}
			return struct{}{}, nil
		}
		if !isBusyError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		log.Warn("dataset: database locked, retrying", "operation", operation, "attempt", attempt, "error", err)
		return struct{}{}, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxRetries))
	return err
}
