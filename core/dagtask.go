package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// taskNode is the non-generic face every *DAGTask[T] presents to its
// predecessors. Go has no generic methods, so a DAGTask[T] cannot expose a
// method like `addSuccessor[U](*DAGTask[U])` directly; instead every concrete
// *DAGTask[U] satisfies this plain interface, and Then/Finally accept it,
// which is how a DAGTask[int] can chain into a DAGTask[string].
type taskNode interface {
	incPredecessorCount()
	notifyPredecessorFinished(pool ThreadPool, err error, conditional bool)
}

// DAGTask is a single node in a dependency DAG. It wraps a callable that
// produces a T or fails, tracks how many predecessors it is still waiting
// on, and fires its successors exactly once, in one of two ways:
//   - unconditional successors (registered via Finally) always run, whether
//     this task succeeded, failed, or was skipped because of an upstream
//     failure;
//   - conditional successors (registered via Then) run only if every
//     predecessor on their conditional edge succeeded; otherwise the first
//     failure encountered is propagated to them without ever invoking their
//     callable ("first-write-wins").
//
// A DAGTask is constructed via NewDAGTask, wired into a DAG via
// Then/Finally, and entered into the DAG via TrySchedule once all of its
// edges are in place.
type DAGTask[T any] struct {
	id       TaskID
	name     string
	callable func(ctx context.Context) (T, error)

	panicHandler PanicHandler
	logger       Logger
	metrics      Metrics

	predecessorCount atomic.Int32
	scheduled        atomic.Bool
	done             atomic.Bool
	doneCh           chan struct{}

	errMu sync.Mutex
	err   error

	result T

	succMu            sync.Mutex
	unconditionalSucc []taskNode
	conditionalSucc   []taskNode
}

// NewDAGTask creates a task wrapping callable. The task starts with zero
// predecessors; each call to Then or Finally that names this task as a
// successor increments its predecessor count by one, so all edges must be
// wired before TrySchedule is called on any task upstream of this one.
func NewDAGTask[T any](callable func(ctx context.Context) (T, error)) *DAGTask[T] {
	return &DAGTask[T]{
		id:           GenerateTaskID(),
		callable:     callable,
		panicHandler: &DefaultPanicHandler{},
		logger:       &DefaultLogger{},
		metrics:      &NilMetrics{},
		doneCh:       make(chan struct{}),
	}
}

// Named sets the task's diagnostic name, used in logs and the execution
// history. It returns the receiver for chaining and must be called before
// TrySchedule.
func (t *DAGTask[T]) Named(name string) *DAGTask[T] {
	t.name = name
	return t
}

// WithObservability attaches a panic handler, logger and metrics sink,
// overriding the defaults. It returns the receiver for chaining and must be
// called before TrySchedule.
func (t *DAGTask[T]) WithObservability(ph PanicHandler, l Logger, m Metrics) *DAGTask[T] {
	if ph != nil {
		t.panicHandler = ph
	}
	if l != nil {
		t.logger = l
	}
	if m != nil {
		t.metrics = m
	}
	return t
}

// ID returns the task's process-unique identifier.
func (t *DAGTask[T]) ID() TaskID { return t.id }

// Then registers next as a conditional successor: next runs only if t (and
// every other conditional predecessor of next) succeeds. If t fails or is
// skipped, next is skipped too, inheriting t's error. Then must be called
// before t is scheduled.
func (t *DAGTask[T]) Then(next taskNode) *DAGTask[T] {
	next.incPredecessorCount()
	t.succMu.Lock()
	t.conditionalSucc = append(t.conditionalSucc, next)
	t.succMu.Unlock()
	return t
}

// Finally registers next as an unconditional successor: next runs
// regardless of whether t succeeded, failed, or was itself skipped. This is
// the DAG engine's equivalent of a finally block — cleanup and teardown
// nodes hang off Finally edges so they always run. Finally must be called
// before t is scheduled.
func (t *DAGTask[T]) Finally(next taskNode) *DAGTask[T] {
	next.incPredecessorCount()
	t.succMu.Lock()
	t.unconditionalSucc = append(t.unconditionalSucc, next)
	t.succMu.Unlock()
	return t
}

func (t *DAGTask[T]) incPredecessorCount() {
	t.predecessorCount.Add(1)
}

// TrySchedule attempts to enter t into the DAG's root set or, when called as
// the result of a predecessor finishing, to fire t once it has no
// predecessors left outstanding. It is idempotent and safe to call multiple
// times concurrently (e.g. by several predecessors finishing at once) — the
// scheduled flag guarantees the task is submitted to pool exactly once.
func (t *DAGTask[T]) TrySchedule(pool ThreadPool) {
	if t.predecessorCount.Load() > 0 {
		return
	}
	if !t.scheduled.CompareAndSwap(false, true) {
		return
	}

	t.errMu.Lock()
	inherited := t.err
	t.errMu.Unlock()

	if inherited != nil {
		t.finish(pool, inherited)
		return
	}

	pool.PostInternal(func(ctx context.Context) {
		t.run(ctx, pool)
	}, DefaultTaskTraits())
}

// notifyPredecessorFinished is called by a predecessor once it has finished
// (successfully, with a failure, or skipped). conditional distinguishes a
// Then edge (err propagates and short-circuits t's own callable) from a
// Finally edge (err is ignored; t still runs). Once every predecessor has
// reported in, t attempts to schedule itself.
func (t *DAGTask[T]) notifyPredecessorFinished(pool ThreadPool, err error, conditional bool) {
	if conditional && err != nil {
		t.errMu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.errMu.Unlock()
	}

	if t.predecessorCount.Add(-1) == 0 {
		t.TrySchedule(pool)
	}
}

func (t *DAGTask[T]) run(ctx context.Context, pool ThreadPool) {
	var (
		result   T
		err      error
		panicked bool
	)

	startedAt := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				stack := debug.Stack()
				t.panicHandler.HandlePanic(ctx, t.diagName(), -1, r, stack)
				t.metrics.RecordTaskPanic(t.diagName(), r)
				err = &TaskPanicError{Value: r, Stack: stack}
			}
		}()
		result, err = t.callable(ctx)
	}()

	finishedAt := time.Now()
	dagHistory.Add(TaskExecutionRecord{
		TaskID:     t.id,
		Name:       t.diagName(),
		RunnerType: "dag",
		Priority:   DefaultTaskTraits().Priority,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
		Panicked:   panicked,
	})

	t.result = result
	if err != nil {
		t.logger.Warn("task failed", F("task", t.diagName()), F("error", err))
	}
	t.finish(pool, err)
}

// finish records t's outcome, marks it done, and notifies every successor:
// unconditional successors first (with a nil error, since Finally edges
// never propagate failure), then conditional successors (with t's actual
// error, possibly nil). Successors that become fully satisfied schedule
// themselves.
func (t *DAGTask[T]) finish(pool ThreadPool, err error) {
	t.errMu.Lock()
	if t.err == nil {
		t.err = err
	}
	final := t.err
	t.errMu.Unlock()

	t.succMu.Lock()
	unconditional := t.unconditionalSucc
	conditional := t.conditionalSucc
	t.succMu.Unlock()

	t.done.Store(true)
	close(t.doneCh)

	for _, succ := range unconditional {
		succ.notifyPredecessorFinished(pool, nil, false)
	}
	for _, succ := range conditional {
		succ.notifyPredecessorFinished(pool, final, true)
	}
}

// Done returns a channel that is closed once t has finished, failed, or been
// skipped. It is safe to select on from multiple goroutines.
func (t *DAGTask[T]) Done() <-chan struct{} {
	return t.doneCh
}

// IsDone reports whether t has finished, failed, or been skipped.
func (t *DAGTask[T]) IsDone() bool {
	return t.done.Load()
}

// Wait blocks until t finishes or ctx is cancelled, whichever happens
// first. It returns t's stored error (nil on success) or ctx.Err().
func (t *DAGTask[T]) Wait(ctx context.Context) error {
	select {
	case <-t.doneCh:
		_, err := t.GetResult()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetResult returns t's produced value and error. Calling it before t is
// done returns the zero value and ErrCancelled is not implied — callers
// should gate on Done()/IsDone() first; GetResult never blocks.
func (t *DAGTask[T]) GetResult() (T, error) {
	t.errMu.Lock()
	err := t.err
	t.errMu.Unlock()
	return t.result, err
}

func (t *DAGTask[T]) diagName() string {
	if t.name != "" {
		return t.name
	}
	return fmt.Sprintf("task[%s]", t.id)
}
