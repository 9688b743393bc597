package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mstrella/skyfeed/pkg/config"
)

// ConnectWithRetry attempts to connect to the database with exponential
// backoff, providing resilience against a database that comes up after
// the server does.
//
// maxRetries of 0 retries forever; the context cancels the wait.
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration) (*DB, error) {
	delay := initialDelay
	if delay <= 0 {
		delay = time.Second
	}

	for attempt := 1; ; attempt++ {
		db, err := Connect(cfg)
		if err == nil {
			return db, nil
		}

		slog.Warn("database connection failed", "attempt", attempt, "error", err)

		if maxRetries > 0 && attempt >= maxRetries {
			return nil, fmt.Errorf("database unreachable after %d attempts: %w", attempt, err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
}
