package core

import "context"

// Await suspends the calling goroutine until t finishes, then returns its
// result. Go has no native coroutine suspension, so "suspend" here means
// what it means everywhere else in Go: block the calling goroutine on a
// channel. The point of routing this through Await instead of calling
// t.Wait directly is uniformity — callables that await other tasks read the
// same as callables that await anything else built on this helper (timers,
// sub-DAGs, event bus round trips).
//
// Await returns ctx.Err() if ctx is cancelled before t finishes, and t's own
// error (possibly a *TaskPanicError) otherwise.
func Await[T any](ctx context.Context, t *DAGTask[T]) (T, error) {
	select {
	case <-t.Done():
		return t.GetResult()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitAll suspends the calling goroutine until every task in tasks has
// finished, in predecessor-DAG-agnostic fashion (the tasks need not be
// wired to each other at all). It returns the first error encountered, in
// slice order, or nil if every task succeeded. Every task's Wait is still
// invoked so that scheduled-but-unreachable goroutines are drained even
// after an earlier task's error is returned.
func AwaitAll(ctx context.Context, tasks ...taskWaiter) error {
	var firstErr error
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// taskWaiter is satisfied by any *DAGTask[T]; it exists so AwaitAll can accept
// a heterogeneous mix of task result types the same way taskNode lets
// Then/Finally do.
type taskWaiter interface {
	Wait(ctx context.Context) error
}
