package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// pingWithRetry waits for a dependency that may still be starting, e.g.
// under docker compose. The delay doubles after every failed attempt.
func pingWithRetry(ctx context.Context, log zerolog.Logger, name string, attempts int, backoff time.Duration, ping func(context.Context) error) error {
	var err error
	for i := 1; ; i++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if i >= attempts {
			return err
		}
		log.Warn().Err(err).Str("dependency", name).Int("attempt", i).Dur("retry_in", backoff).Msg("Dependency not ready")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
	}
}
