package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// pingUntilReady calls ping up to attempts times, waiting backoff between
// failures.
func pingUntilReady(ctx context.Context, log zerolog.Logger, target string, attempts int, backoff time.Duration, ping func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		log.Warn().Err(err).
			Str("target", target).
			Int("attempt", attempt).
			Dur("retry_in", backoff).
			Msg("Connection not ready")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("ping %s: %w", target, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("ping %s after %d attempts: %w", target, attempts, err)
}
