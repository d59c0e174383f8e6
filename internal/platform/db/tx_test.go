package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySerializable(t *testing.T) {
	conflict := &pgconn.PgError{Code: "40001"}

	t.Run("succeeds after transient conflicts", func(t *testing.T) {
		calls := 0
		err := RetrySerializable(context.Background(), SerializationRetries, func() error {
			calls++
			if calls < SerializationRetries {
				return conflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, SerializationRetries, calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		err := RetrySerializable(context.Background(), 2, func() error {
			calls++
			return conflict
		})
		assert.True(t, SerializationFailure(err))
		assert.Equal(t, 2, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := RetrySerializable(context.Background(), SerializationRetries, func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := RetrySerializable(ctx, SerializationRetries, func() error {
			calls++
			return conflict
		})
		assert.True(t, SerializationFailure(err))
		assert.Equal(t, 1, calls)
	})
}
