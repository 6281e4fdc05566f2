package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestPool_ProcessesSubmittedJobs(t *testing.T) {
	req := require.New(t)
	var sum atomic.Int64
	pool := NewPool("test", logs.GetLoggerFromLevel(slog.LevelDebug), 3, 4, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	pool.Start(context.Background())
	defer pool.Stop()

	for i := 1; i <= 10; i++ {
		req.NoError(pool.Submit(context.Background(), i))
	}
	req.Eventually(func() bool { return sum.Load() == 55 }, time.Second, 5*time.Millisecond)
}

func TestPool_FailedJobDoesNotStopWorker(t *testing.T) {
	req := require.New(t)
	var done atomic.Int32
	pool := NewPool("test", logs.GetLoggerFromLevel(slog.LevelDebug), 1, 1, func(_ context.Context, n int) error {
		done.Add(1)
		if n == 0 {
			return errors.New("boom")
		}
		return nil
	})
	pool.Start(context.Background())
	defer pool.Stop()

	req.NoError(pool.Submit(context.Background(), 0))
	req.NoError(pool.Submit(context.Background(), 1))
	req.Eventually(func() bool { return done.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPool_SubmitHonorsContext(t *testing.T) {
	pool := NewPool("test", logs.GetLoggerFromLevel(slog.LevelDebug), 1, 0, func(context.Context, int) error { return nil })
	// not started: nothing drains the unbuffered queue
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, pool.Submit(ctx, 1), context.DeadlineExceeded)
}
