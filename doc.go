// Package dagrun provides a Chromium-inspired task scheduling architecture for Go.
//
// This library runs work on a fixed pool of worker goroutines (GoroutineThreadPool)
// rather than having developers manage goroutines directly. The pool and its scheduler
// are inspired by Chromium's Threading and Tasks system.
//
// # Quick Start
//
// Initialize the global thread pool at application startup:
//
//	dagrun.InitGlobalThreadPool(4) // 4 workers
//	defer dagrun.ShutdownGlobalThreadPool()
//
// Build a DAG task and schedule it onto a pool:
//
//	t := core.NewDAGTask(func(ctx context.Context) (int, error) {
//		return 42, nil
//	}).Named("answer")
//	t.TrySchedule(dagrun.GetGlobalThreadPool())
//	result, err := core.Await(context.Background(), t)
//
// # Key Concepts
//
// TaskRunner: Interface for posting tasks; DelayManager hands delayed tasks to one
// when they come due. This package ships no TaskRunner implementation.
//
// TaskTraits: Describes task attributes including priority (BestEffort, UserVisible, UserBlocking).
// A pool built with NewPriorityGoroutineThreadPool runs queued tasks in priority order;
// the default FIFO pool ignores priority.
//
// GoroutineThreadPool: The execution engine managing worker goroutines that pull
// and execute tasks from the scheduler. It is also the substrate core.DAGTask
// and eventbus.Bus post their jobs to directly, via the ThreadPool interface.
//
// # Thread Safety
//
// A DAGTask's callable runs exactly once, on whichever worker goroutine the
// pool assigns it to; its predecessor count is atomic and a one-shot flag guards scheduling, so
// concurrent predecessors finishing at once still schedule it exactly once.
// eventbus.Bus similarly guards its subscription registry with a mutex, but
// never holds that lock while invoking a handler.
//
// # Example
//
//	import (
//		"context"
//		dagrun "github.com/dagrun/dagrun"
//		"github.com/dagrun/dagrun/core"
//	)
//
//	func main() {
//		dagrun.InitGlobalThreadPool(4)
//		defer dagrun.ShutdownGlobalThreadPool()
//		pool := dagrun.GetGlobalThreadPool()
//
//		fetch := core.NewDAGTask(func(ctx context.Context) (string, error) {
//			return "payload", nil
//		}).Named("fetch")
//		process := core.NewDAGTask(func(ctx context.Context) (int, error) {
//			println("Task 1")
//			return len("payload"), nil
//		}).Named("process")
//		fetch.Then(process)
//
//		fetch.TrySchedule(pool)
//		_, _ = core.Await(context.Background(), process)
//	}
//
// # Beyond the worker pool
//
// The GoroutineThreadPool is also the execution backend for two higher-level
// subsystems built on top of it:
//
// core.DAGTask[T]: a generic DAG task node. Construct one with core.NewDAGTask,
// wire it to its successors with Then (conditional — skipped on upstream
// failure) and Finally (unconditional — always runs), then call
// TrySchedule to enter it into the DAG. core.Await and core.AwaitAll
// suspend the calling goroutine until one or more tasks finish.
// core.CancellationToken, core.DeadlineGuard and core.WithTimeout give a
// DAG cooperative cancellation and deadlines.
//
// eventbus.Bus: a typed publish/subscribe registry keyed by Go's
// reflect.Type. eventbus.Subscribe/SubscribeTargeted register handlers;
// eventbus.Emit/EmitTargeted dispatch synchronously on the caller's
// goroutine; eventbus.EmitAsync/EmitTargetedAsync fan out across the pool
// without waiting; eventbus.PublishAsync returns an awaitable
// core.DAGTask[struct{}] aggregating every handler's outcome.
// eventbus.Scope bundles a batch of subscriptions with one owned
// CancellationToken so a single Close call tears all of it down.
//
// For more details, see https://github.com/dagrun/dagrun
package dagrun
