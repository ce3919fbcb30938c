package core

import (
	"context"
	"time"
)

// WithCancellation returns a context that is cancelled, with cause
// ErrCancelled, as soon as token fires, plus a cancel func the caller must
// invoke to release the goroutine-free resources WithCancellation arms. It
// is the bridge between the package's own CancellationToken and anything
// downstream that speaks context.Context (net/http, database/sql, etc.).
func WithCancellation(parent context.Context, token *CancellationToken) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	token.RegisterCallback(func() {
		cancel(ErrCancelled)
	})
	return ctx, func() { cancel(nil) }
}

// WithPollingCancellation wraps work so that, unlike WithCancellation's
// derived context (which a callable only ever notices by selecting on
// ctx.Done()), the callable itself receives token and can poll
// token.ThrowIfCancelled() at whatever checkpoints make sense inside its own
// body. The wrapper also rejects up front: if token has already fired by the
// time the returned callable runs, work is never invoked at all.
func WithPollingCancellation[T any](work func(ctx context.Context, token *CancellationToken) (T, error), token *CancellationToken) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		if err := token.ThrowIfCancelled(); err != nil {
			var zero T
			return zero, err
		}
		return work(ctx, token)
	}
}

// WithTimeout arms a DeadlineGuard for d against a freshly created token,
// returning a context cancelled when the timeout elapses or the returned
// token is cancelled, the token itself, and the guard so the caller can
// Close it deterministically. No cancel func is returned, and Close does not
// cancel the context unless the deadline has already elapsed. The caller
// owns the guard's lifetime: forgetting to Close it leaks its polling
// goroutine until the deadline fires on its own.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, *CancellationToken, *DeadlineGuard) {
	token := NewCancellationToken()
	guard := NewDeadlineGuard(token, d)
	ctx, cancel := WithCancellation(parent, token)
	_ = cancel // not returned; ctx is released when token fires or parent is done
	return ctx, token, guard
}

// Awaitable is the non-generic face every *DAGTask[T] presents to
// WhenAll/WhenAllWithCancellation. Go has no generic methods, so a function
// cannot accept a homogeneous slice of *DAGTask[T] for varying T directly;
// every concrete *DAGTask[U] satisfies this interface structurally (the same
// workaround taskNode uses for Then/Finally), which lets the aggregate wire
// and schedule tasks of unrelated result types side by side.
type Awaitable interface {
	TrySchedule(pool ThreadPool)
	finallyTo(next taskNode)
}

func (t *DAGTask[T]) finallyTo(next taskNode) {
	t.Finally(next)
}

// WhenAll returns an aggregate task whose callable is a no-op. Every task in
// tasks is wired as an unconditional (Finally) predecessor of the aggregate
// and scheduled on pool, so the aggregate completes once every one of them
// is done — whether it succeeded, failed, or was itself skipped. WhenAll
// never surfaces an input task's error in the aggregate's own completion
// status; callers that need a result inspect each input's GetResult
// directly. WhenAll with no tasks returns an aggregate that completes
// immediately.
func WhenAll(pool ThreadPool, tasks ...Awaitable) *DAGTask[struct{}] {
	agg := NewDAGTask(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	}).Named("core.WhenAll")

	for _, t := range tasks {
		t.finallyTo(agg)
	}
	agg.TrySchedule(pool)
	for _, t := range tasks {
		t.TrySchedule(pool)
	}
	return agg
}

// WhenAllWithCancellation is WhenAll, except the aggregate's own callable
// throws ErrCancelled if token has fired by the time every input has
// finished. token firing does not stop the inputs themselves from running —
// only WhenAllWithCancellation's own completion status reflects it.
func WhenAllWithCancellation(pool ThreadPool, token *CancellationToken, tasks ...Awaitable) *DAGTask[struct{}] {
	agg := NewDAGTask(func(ctx context.Context) (struct{}, error) {
		if err := token.ThrowIfCancelled(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}).Named("core.WhenAllWithCancellation")

	for _, t := range tasks {
		t.finallyTo(agg)
	}
	agg.TrySchedule(pool)
	for _, t := range tasks {
		t.TrySchedule(pool)
	}
	return agg
}
