package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	core "github.com/dagrun/dagrun/core"
	"github.com/stretchr/testify/require"
)

// TestWithCancellation_CancelsDerivedContext
// Given: a context derived via WithCancellation
// When: the backing token fires
// Then: the derived context is done with ErrCancelled as its cause
func TestWithCancellation_CancelsDerivedContext(t *testing.T) {
	token := core.NewCancellationToken()
	ctx, cancel := core.WithCancellation(context.Background(), token)
	defer cancel()

	token.Cancel()

	<-ctx.Done()
	require.ErrorIs(t, context.Cause(ctx), core.ErrCancelled)
}

// TestWithCancellation_CancelFuncDoesNotFireTokenCallback
// Given: a derived context
// When: the returned cancel func is called directly (not via the token)
// Then: the context is done but the underlying token is untouched
func TestWithCancellation_CancelFuncDoesNotFireTokenCallback(t *testing.T) {
	token := core.NewCancellationToken()
	ctx, cancel := core.WithCancellation(context.Background(), token)
	cancel()

	<-ctx.Done()
	require.False(t, token.IsCancelled())
}

// TestWithPollingCancellation_RejectsBeforeInvokingWork
// Given: a token that is already cancelled
// When: a WithPollingCancellation-wrapped callable runs
// Then: work is never invoked and the callable returns ErrCancelled
func TestWithPollingCancellation_RejectsBeforeInvokingWork(t *testing.T) {
	token := core.NewCancellationToken()
	token.Cancel()

	var invoked bool
	work := func(ctx context.Context, tok *core.CancellationToken) (int, error) {
		invoked = true
		return 1, nil
	}

	callable := core.WithPollingCancellation(work, token)
	result, err := callable(context.Background())

	require.ErrorIs(t, err, core.ErrCancelled)
	require.False(t, invoked)
	require.Zero(t, result)
}

// TestWithPollingCancellation_PassesTokenThroughForCheckpoints
// Given: a token that is not cancelled when work starts, then fires midway
// When: work polls token.ThrowIfCancelled() at its own checkpoint
// Then: work observes the token firing and can stop cooperatively
func TestWithPollingCancellation_PassesTokenThroughForCheckpoints(t *testing.T) {
	token := core.NewCancellationToken()

	work := func(ctx context.Context, tok *core.CancellationToken) (int, error) {
		tok.Cancel() // simulate some other goroutine cancelling mid-work
		if err := tok.ThrowIfCancelled(); err != nil {
			return 0, err
		}
		return 42, nil
	}

	callable := core.WithPollingCancellation(work, token)
	result, err := callable(context.Background())

	require.ErrorIs(t, err, core.ErrCancelled)
	require.Zero(t, result)
}

// TestWithTimeout_CancelsAfterDeadline
// Given: a context armed via WithTimeout for a short duration
// When: the duration elapses
// Then: the context is done and the guard can be closed cleanly afterward
func TestWithTimeout_CancelsAfterDeadline(t *testing.T) {
	ctx, _, guard := core.WithTimeout(context.Background(), 5*time.Millisecond)
	defer guard.Close()

	select {
	case <-ctx.Done():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("context was not cancelled by the deadline")
	}
}

// TestWhenAll_CompletesOnceEveryInputIsDoneRegardlessOfFailure
// Given: three tasks, one of which fails
// When: WhenAll aggregates them
// Then: the aggregate completes successfully once all three are done, and
// the failing input's own error is still visible on the input itself
func TestWhenAll_CompletesOnceEveryInputIsDoneRegardlessOfFailure(t *testing.T) {
	pool := newRunningPool(t)
	boom := errors.New("boom")

	var ranThird bool
	a := core.NewDAGTask(func(ctx context.Context) (int, error) { return 1, nil })
	b := core.NewDAGTask(func(ctx context.Context) (int, error) { return 0, boom })
	c := core.NewDAGTask(func(ctx context.Context) (int, error) { ranThird = true; return 3, nil })

	agg := core.WhenAll(pool, a, b, c)

	require.NoError(t, agg.Wait(context.Background()))
	require.True(t, ranThird)

	_, err := b.GetResult()
	require.ErrorIs(t, err, boom)
}

// TestWhenAll_EmptyCompletesImmediately
// Given: no input tasks
// When: WhenAll is called
// Then: the returned aggregate completes on its own
func TestWhenAll_EmptyCompletesImmediately(t *testing.T) {
	pool := newRunningPool(t)

	agg := core.WhenAll(pool)

	require.NoError(t, agg.Wait(context.Background()))
}

// TestWhenAllWithCancellation_SurfacesCancelledErrorWhenTokenFires
// Given: a token cancelled before the inputs finish
// When: WhenAllWithCancellation's aggregate is awaited
// Then: the aggregate's own error is ErrCancelled, even though every input
// task itself succeeded
func TestWhenAllWithCancellation_SurfacesCancelledErrorWhenTokenFires(t *testing.T) {
	pool := newRunningPool(t)
	token := core.NewCancellationToken()
	token.Cancel()

	a := core.NewDAGTask(func(ctx context.Context) (int, error) { return 1, nil })
	b := core.NewDAGTask(func(ctx context.Context) (int, error) { return 2, nil })

	agg := core.WhenAllWithCancellation(pool, token, a, b)

	err := agg.Wait(context.Background())
	require.ErrorIs(t, err, core.ErrCancelled)

	_, aErr := a.GetResult()
	require.NoError(t, aErr)
}

// TestWhenAllWithCancellation_SucceedsWhenTokenNeverFires
func TestWhenAllWithCancellation_SucceedsWhenTokenNeverFires(t *testing.T) {
	pool := newRunningPool(t)
	token := core.NewCancellationToken()

	a := core.NewDAGTask(func(ctx context.Context) (int, error) { return 1, nil })

	agg := core.WhenAllWithCancellation(pool, token, a)

	require.NoError(t, agg.Wait(context.Background()))
}
