package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelay_Bounds(t *testing.T) {
	p := Policy{Base: 10 * time.Millisecond, Max: 80 * time.Millisecond, Attempts: 10}
	for n := 0; n < 10; n++ {
		cap := p.Base << n
		if cap > p.Max || cap <= 0 {
			cap = p.Max
		}
		for i := 0; i < 50; i++ {
			d := p.Delay(n)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.LessOrEqual(t, d, cap)
		}
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	p := Policy{Base: time.Millisecond, Max: 2 * time.Millisecond, Attempts: 5}
	calls := 0
	err := p.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	p := Policy{Base: time.Millisecond, Max: time.Millisecond, Attempts: 3}
	boom := errors.New("boom")
	calls := 0
	err := p.Retry(context.Background(), func() error { calls++; return boom }, nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	p := Policy{Base: time.Millisecond, Max: time.Millisecond, Attempts: 5}
	fatal := errors.New("fatal")
	calls := 0
	err := p.Retry(context.Background(), func() error { calls++; return fatal },
		func(err error) bool { return false })
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestRetry_CanceledContext(t *testing.T) {
	p := Policy{Base: time.Hour, Max: time.Hour, Attempts: 3}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Retry(ctx, func() error { return errors.New("transient") }, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
