package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/testutil"
)

func TestLoginLimiter(t *testing.T) {
	t.Run("new defaults", func(t *testing.T) {
		l := New(nil, 0, 0)

		require.EqualValues(t, defaultMaxAttempts, l.maxAttempts)
		require.Equal(t, defaultWindow, l.window)
	})

	t.Run("allow until budget exhausted", func(t *testing.T) {
		_, client := testutil.StartRedis(t)
		l := New(client, 3, time.Minute)

		for range 3 {
			require.NoError(t, l.Check(t.Context(), "a@x.com"))
			require.NoError(t, l.Fail(t.Context(), "a@x.com"))
		}

		err := l.Check(t.Context(), "a@x.com")
		require.ErrorIs(t, err, apperrors.ErrTooManyAttempts)
	})

	t.Run("identities counted separately", func(t *testing.T) {
		_, client := testutil.StartRedis(t)
		l := New(client, 1, time.Minute)

		require.NoError(t, l.Fail(t.Context(), "a@x.com"))

		require.ErrorIs(t, l.Check(t.Context(), "a@x.com"), apperrors.ErrTooManyAttempts)
		require.NoError(t, l.Check(t.Context(), "b@x.com"))
	})

	t.Run("window expires", func(t *testing.T) {
		mr, client := testutil.StartRedis(t)
		l := New(client, 1, time.Minute)
		require.NoError(t, l.Fail(t.Context(), "a@x.com"))

		require.Equal(t, time.Minute, mr.TTL(keyPrefix+"a@x.com"), "window has to start with first failure")

		mr.FastForward(time.Minute)

		require.NoError(t, l.Check(t.Context(), "a@x.com"), "budget has to be restored after window")
	})

	t.Run("next failures do not extend window", func(t *testing.T) {
		mr, client := testutil.StartRedis(t)
		l := New(client, 5, time.Minute)
		require.NoError(t, l.Fail(t.Context(), "a@x.com"))

		mr.FastForward(30 * time.Second)
		require.NoError(t, l.Fail(t.Context(), "a@x.com"))

		require.Equal(t, 30*time.Second, mr.TTL(keyPrefix+"a@x.com"))
	})

	t.Run("counter without expiration gets window", func(t *testing.T) {
		mr, client := testutil.StartRedis(t)
		l := New(client, 5, time.Minute)
		require.NoError(t, mr.Set(keyPrefix+"a@x.com", "3"))

		require.NoError(t, l.Fail(t.Context(), "a@x.com"))

		count, err := mr.Get(keyPrefix + "a@x.com")
		require.NoError(t, err)
		require.Equal(t, "4", count)
		require.Equal(t, time.Minute, mr.TTL(keyPrefix+"a@x.com"), "counter must not live forever")
	})

	t.Run("fail on redis unavailable", func(t *testing.T) {
		mr, client := testutil.StartRedis(t)
		l := New(client, 1, time.Minute)
		mr.Close()

		require.Error(t, l.Fail(t.Context(), "a@x.com"))
	})

	t.Run("reset", func(t *testing.T) {
		_, client := testutil.StartRedis(t)
		l := New(client, 1, time.Minute)
		require.NoError(t, l.Fail(t.Context(), "a@x.com"))

		require.NoError(t, l.Reset(t.Context(), "a@x.com"))

		require.NoError(t, l.Check(t.Context(), "a@x.com"))
	})

	t.Run("redis unavailable", func(t *testing.T) {
		mr, client := testutil.StartRedis(t)
		l := New(client, 1, time.Minute)
		mr.Close()

		err := l.Check(t.Context(), "a@x.com")

		require.Error(t, err)
		require.NotErrorIs(t, err, apperrors.ErrTooManyAttempts)
	})
}
