package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPingWithRetry(t *testing.T) {
	refused := errors.New("connection refused")

	t.Run("recovers", func(t *testing.T) {
		calls := 0
		err := pingWithRetry(context.Background(), zerolog.Nop(), "redis", 3, time.Millisecond, func(context.Context) error {
			calls++
			if calls < 3 {
				return refused
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := pingWithRetry(context.Background(), zerolog.Nop(), "postgres", 2, time.Millisecond, func(context.Context) error {
			calls++
			return refused
		})
		assert.ErrorIs(t, err, refused)
		assert.Equal(t, 2, calls)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := pingWithRetry(ctx, zerolog.Nop(), "postgres", 5, time.Hour, func(context.Context) error {
			return refused
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
