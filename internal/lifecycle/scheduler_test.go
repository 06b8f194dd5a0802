package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-flashroom/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_TriggerSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32

	s := NewScheduler(testutil.TestLogger(t), clockwork.NewFakeClock(), "sweep", time.Minute, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	})

	assert.True(t, s.Trigger(context.Background()))
	assert.False(t, s.Trigger(context.Background()), "expected overlapping run to be skipped")

	close(release)
	s.Wait()
	assert.Equal(t, int32(1), runs.Load())

	assert.True(t, s.Trigger(context.Background()), "expected a new run once the previous one finished")
	s.Wait()
	assert.Equal(t, int32(2), runs.Load())
}

func TestScheduler_Run(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 10)
	var attempt atomic.Int32

	s := NewScheduler(testutil.TestLogger(t), clock, "reap", time.Hour, func(ctx context.Context) error {
		defer func() { calls <- struct{}{} }()
		if attempt.Add(1) == 1 {
			return errors.New("database unavailable")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1), "expected ticker to be registered")

	for i := range 2 {
		clock.Advance(time.Hour)
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatalf("timeout: job was not run on tick %d", i+1)
		}
		s.Wait()
	}
	assert.Equal(t, int32(2), attempt.Load(), "expected a failed run to be retried on the next tick")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout: scheduler did not stop")
	}
}

func TestRunAll(t *testing.T) {
	clock := clockwork.NewFakeClock()
	noop := func(ctx context.Context) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunAll(ctx,
			NewScheduler(testutil.TestLogger(t), clock, "a", time.Minute, noop),
			NewScheduler(testutil.TestLogger(t), clock, "b", time.Hour, noop),
		)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 2))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout: RunAll did not return")
	}
}
