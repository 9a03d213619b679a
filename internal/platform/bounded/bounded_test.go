package bounded

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_ReturnsResult(t *testing.T) {
	v, err := Call(context.Background(), "test", time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCall_PassesThroughErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := Call(context.Background(), "test", time.Second, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCall_ReturnsAtDeadlineEvenIfOperationIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Call(context.Background(), "slow_lookup", 50*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "slow_lookup")
	assert.Less(t, elapsed, time.Second)
}

func TestCall_ContextAwareOperationTimesOut(t *testing.T) {
	err := Run(context.Background(), "aware", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCall_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, "cancelled", time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCall_RecoversPanics(t *testing.T) {
	err := Run(context.Background(), "panicky", time.Second, func(context.Context) error {
		panic("bad row")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad row")
}

func TestFire_DetachesFromCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	done := make(chan struct{})

	Fire(ctx, zerolog.Nop(), "touch", time.Second, func(ctx context.Context) error {
		defer close(done)
		if ctx.Err() == nil {
			ran.Store(true)
		}
		return nil
	})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background operation did not run")
	}
	assert.True(t, ran.Load())
}
