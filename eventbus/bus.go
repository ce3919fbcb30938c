// Package eventbus implements a generic, typed publish/subscribe registry
// on top of the dagrun/core scheduling primitives. Events are keyed by
// their Go reflect.Type — "a runtime type id keyed map" rather than a
// string topic name — so two independently authored event structs never
// collide, and a handler only ever sees the event type it was registered
// for.
package eventbus

import (
	"context"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dagrun/dagrun/core"
)

// HandlerID identifies a single subscription. It is a bus-unique,
// monotonically increasing integer, not a random identifier: callers that
// log handler ids get a stable ordering for free, and the bus never needs
// an external source of randomness to hand one out.
type HandlerID uint64

// handlerEntry is the registry's internal record of one subscription.
type handlerEntry struct {
	id       HandlerID
	typeName string
	fn       func(ctx context.Context, event any) error
}

// Metrics receives dispatch counters from a Bus. Implementations must
// tolerate a nil receiver, matching core.Metrics's convention, so that a
// zero-value *prometheus.EventBusExporter can be passed around freely. A Bus
// built by NewBus needs no Metrics: NilMetrics is the default.
type Metrics interface {
	RecordHandlerInvocation(eventType string)
	RecordHandlerPanic(eventType string)
	RecordEmitAsyncDropped(eventType string)
}

// NilMetrics is the default, no-op Metrics implementation.
type NilMetrics struct{}

func (NilMetrics) RecordHandlerInvocation(eventType string) {}
func (NilMetrics) RecordHandlerPanic(eventType string)      {}
func (NilMetrics) RecordEmitAsyncDropped(eventType string)  {}

// Bus is a typed event registry. The zero value is not usable; construct
// one with NewBus. A Bus is safe for concurrent use by multiple goroutines.
type Bus struct {
	pool    core.ThreadPool
	logger  core.Logger
	metrics Metrics
	name    string

	mu       sync.RWMutex
	broad    map[reflect.Type][]*handlerEntry
	targeted map[reflect.Type]map[any][]*handlerEntry
	nextID   atomic.Uint64

	pendingAsync  atomic.Int64
	runningAsync  atomic.Int64
	rejectedAsync atomic.Int64
}

// NewBus constructs a Bus that submits asynchronous dispatch jobs to pool.
// pool is only consulted by EmitAsync and PublishAsync; Emit and
// EmitTargeted always run handlers on the calling goroutine.
func NewBus(pool core.ThreadPool) *Bus {
	return &Bus{
		pool:     pool,
		logger:   &core.DefaultLogger{},
		metrics:  NilMetrics{},
		broad:    make(map[reflect.Type][]*handlerEntry),
		targeted: make(map[reflect.Type]map[any][]*handlerEntry),
	}
}

// WithLogger overrides the bus's logger, used to report isolated handler
// failures from Emit and EmitAsync. It returns the receiver for chaining.
func (b *Bus) WithLogger(l core.Logger) *Bus {
	if l != nil {
		b.logger = l
	}
	return b
}

// WithMetrics attaches a Metrics sink, e.g.
// *prometheus.EventBusExporter, recording handler invocations, panics and
// EmitAsync drops. It returns the receiver for chaining.
func (b *Bus) WithMetrics(m Metrics) *Bus {
	if m != nil {
		b.metrics = m
	}
	return b
}

// WithName attaches a diagnostic name to the bus, surfaced by Stats and by
// any prometheus.RunnerSnapshotProvider consumer registered against it.
// It returns the receiver for chaining.
func (b *Bus) WithName(name string) *Bus {
	b.name = name
	return b
}

// Stats returns a snapshot of the bus's async dispatch load: jobs submitted
// to the pool but not yet started (Pending), jobs currently executing
// (Running), and jobs dropped because their token was already cancelled
// (Rejected, tracked the same way Metrics.RecordEmitAsyncDropped is). Bus
// has no shutdown lifecycle of its own, so Closed is always false.
func (b *Bus) Stats() core.RunnerStats {
	return core.RunnerStats{
		Name:     b.name,
		Type:     "eventbus",
		Pending:  int(b.pendingAsync.Load()),
		Running:  int(b.runningAsync.Load()),
		Rejected: b.rejectedAsync.Load(),
	}
}

func eventType[E any]() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}

// Subscribe registers handler to run whenever an E is published via Emit,
// EmitAsync or PublishAsync (broadcast delivery — no subject id). It
// returns a Subscription the caller uses to unsubscribe later.
//
// Subscribe is a free function, not a method on Bus, because Go methods
// cannot carry their own type parameters; this is the same shape taskNode
// works around in the core package, applied to the event type instead of
// the task result type.
func Subscribe[E any](bus *Bus, handler func(ctx context.Context, event E) error) *Subscription {
	t := eventType[E]()
	entry := &handlerEntry{
		id:       HandlerID(bus.nextID.Add(1)),
		typeName: t.String(),
		fn: func(ctx context.Context, event any) error {
			return handler(ctx, event.(E))
		},
	}

	bus.mu.Lock()
	bus.broad[t] = append(bus.broad[t], entry)
	bus.mu.Unlock()

	return &Subscription{bus: bus, eventType: t, id: entry.id}
}

// SubscribeTargeted registers handler to run only for events published via
// EmitTargeted/EmitTargetedAsync with a matching subjectID; Emit, EmitAsync
// and PublishAsync never reach targeted handlers.
// subjectID is compared with ==, so it must be a comparable value (a
// string id, an int, a small struct of comparable fields).
func SubscribeTargeted[E any](bus *Bus, subjectID any, handler func(ctx context.Context, event E) error) *Subscription {
	t := eventType[E]()
	entry := &handlerEntry{
		id:       HandlerID(bus.nextID.Add(1)),
		typeName: t.String(),
		fn: func(ctx context.Context, event any) error {
			return handler(ctx, event.(E))
		},
	}

	bus.mu.Lock()
	inner, ok := bus.targeted[t]
	if !ok {
		inner = make(map[any][]*handlerEntry)
		bus.targeted[t] = inner
	}
	inner[subjectID] = append(inner[subjectID], entry)
	bus.mu.Unlock()

	return &Subscription{bus: bus, eventType: t, id: entry.id, subjectID: subjectID, targeted: true}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !sub.targeted {
		list := b.broad[sub.eventType]
		b.broad[sub.eventType] = removeByID(list, sub.id)
		if len(b.broad[sub.eventType]) == 0 {
			delete(b.broad, sub.eventType)
		}
		return
	}

	inner, ok := b.targeted[sub.eventType]
	if !ok {
		return
	}
	inner[sub.subjectID] = removeByID(inner[sub.subjectID], sub.id)
	if len(inner[sub.subjectID]) == 0 {
		delete(inner, sub.subjectID)
	}
	if len(inner) == 0 {
		delete(b.targeted, sub.eventType)
	}
}

func removeByID(list []*handlerEntry, id HandlerID) []*handlerEntry {
	for i, e := range list {
		if e.id == id {
			out := make([]*handlerEntry, 0, len(list)-1)
			out = append(out, list[:i]...)
			out = append(out, list[i+1:]...)
			return out
		}
	}
	return list
}

// snapshotBroad returns the current broadcast handler list for E under the
// read lock, then releases it before the caller dispatches — handlers that
// subscribe or unsubscribe reentrantly during dispatch affect only the next
// Emit, never the one in progress.
func snapshotBroad[E any](bus *Bus) []*handlerEntry {
	t := eventType[E]()
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	list := bus.broad[t]
	out := make([]*handlerEntry, len(list))
	copy(out, list)
	return out
}

func snapshotTargeted[E any](bus *Bus, subjectID any) []*handlerEntry {
	t := eventType[E]()
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	inner, ok := bus.targeted[t]
	if !ok {
		return nil
	}
	list := inner[subjectID]
	out := make([]*handlerEntry, len(list))
	copy(out, list)
	return out
}

// runIsolated invokes fn, recovering any panic into a *core.TaskPanicError,
// and reports a failure through bus.logger rather than letting it escape —
// used by Emit/EmitAsync, where handler failures are isolated from both
// the caller and from sibling handlers.
func (b *Bus) runIsolated(ctx context.Context, entry *handlerEntry, event any) {
	err := b.invoke(ctx, entry, event)
	if err != nil {
		b.logger.Warn("event handler failed", core.F("handler", entry.id), core.F("error", err))
	}
}

func (b *Bus) invoke(ctx context.Context, entry *handlerEntry, event any) (err error) {
	b.metrics.RecordHandlerInvocation(entry.typeName)
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordHandlerPanic(entry.typeName)
			err = &core.TaskPanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return entry.fn(ctx, event)
}

// Emit dispatches event synchronously, on the calling goroutine, to every
// handler subscribed broadly for E, in subscription order. Each handler
// runs after the registry lock has been released, so a handler that
// subscribes or unsubscribes reentrantly never deadlocks and never affects
// the set of handlers this Emit call dispatches to. A handler's error or
// panic is logged and isolated — Emit never returns it and never stops
// dispatch to the remaining handlers.
func Emit[E any](ctx context.Context, bus *Bus, event E) {
	for _, entry := range snapshotBroad[E](bus) {
		bus.runIsolated(ctx, entry, event)
	}
}

// EmitTargeted is Emit restricted to handlers subscribed via
// SubscribeTargeted under subjectID.
func EmitTargeted[E any](ctx context.Context, bus *Bus, subjectID any, event E) {
	for _, entry := range snapshotTargeted[E](bus, subjectID) {
		bus.runIsolated(ctx, entry, event)
	}
}

// EmitAsync submits one pool job per broadly-subscribed handler and
// returns immediately without waiting for any of them. If token is
// non-nil and already cancelled, EmitAsync returns without submitting any
// job at all. Handler failures are logged and isolated exactly as in Emit;
// EmitAsync gives the caller no way to observe them — use PublishAsync for
// that.
func EmitAsync[E any](ctx context.Context, bus *Bus, event E, token *core.CancellationToken) {
	if token != nil && token.IsCancelled() {
		bus.metrics.RecordEmitAsyncDropped(eventType[E]().String())
		bus.rejectedAsync.Add(1)
		return
	}
	for _, entry := range snapshotBroad[E](bus) {
		entry := entry
		bus.pendingAsync.Add(1)
		bus.pool.PostInternal(func(ctx context.Context) {
			bus.pendingAsync.Add(-1)
			bus.runningAsync.Add(1)
			defer bus.runningAsync.Add(-1)
			bus.runIsolated(ctx, entry, event)
		}, core.DefaultTaskTraits())
	}
}

// EmitTargetedAsync is EmitAsync restricted to handlers subscribed via
// SubscribeTargeted under subjectID.
func EmitTargetedAsync[E any](ctx context.Context, bus *Bus, subjectID any, event E, token *core.CancellationToken) {
	if token != nil && token.IsCancelled() {
		bus.metrics.RecordEmitAsyncDropped(eventType[E]().String())
		bus.rejectedAsync.Add(1)
		return
	}
	for _, entry := range snapshotTargeted[E](bus, subjectID) {
		entry := entry
		bus.pendingAsync.Add(1)
		bus.pool.PostInternal(func(ctx context.Context) {
			bus.pendingAsync.Add(-1)
			bus.runningAsync.Add(1)
			defer bus.runningAsync.Add(-1)
			bus.runIsolated(ctx, entry, event)
		}, core.DefaultTaskTraits())
	}
}

// PublishAsync dispatches event to every broadly-subscribed handler, one
// core.DAGTask per handler, and returns a *core.DAGTask[struct{}] the caller
// can Wait on or Await. It builds a core.WhenAllWithCancellation aggregate
// over the handler tasks — tied to a token that fires as soon as ctx is
// cancelled — to know when every handler is done or ctx has been cancelled,
// then layers its own first-failure check on top: unlike the generic
// WhenAllWithCancellation aggregate (which never surfaces an input's error),
// PublishAsync's returned task's error is the first handler failure
// encountered (panic-wrapped or plain), or core.ErrCancelled if ctx fires
// before every handler finishes.
func PublishAsync[E any](ctx context.Context, bus *Bus, event E) *core.DAGTask[struct{}] {
	entries := snapshotBroad[E](bus)

	token := core.NewCancellationToken()
	if ctx.Err() != nil {
		token.Cancel()
	} else {
		context.AfterFunc(ctx, token.Cancel)
	}

	handlerTasks := make([]*core.DAGTask[struct{}], len(entries))
	awaitables := make([]core.Awaitable, len(entries))
	for i, entry := range entries {
		entry := entry
		bus.pendingAsync.Add(1)

		work := func(taskCtx context.Context, tok *core.CancellationToken) (struct{}, error) {
			if err := tok.ThrowIfCancelled(); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, bus.invoke(taskCtx, entry, event)
		}
		checked := core.WithPollingCancellation(work, token)

		ht := core.NewDAGTask(func(taskCtx context.Context) (struct{}, error) {
			bus.pendingAsync.Add(-1)
			bus.runningAsync.Add(1)
			defer bus.runningAsync.Add(-1)
			return checked(taskCtx)
		}).Named("eventbus.PublishAsync.handler")
		handlerTasks[i] = ht
		awaitables[i] = ht
	}

	// gate is one more input of inner that cannot finish before release is
	// scheduled below, so inner cannot finish before agg is wired to it.
	release := core.NewDAGTask(func(context.Context) (struct{}, error) { return struct{}{}, nil })
	gate := core.NewDAGTask(func(context.Context) (struct{}, error) { return struct{}{}, nil })
	release.Finally(gate)
	awaitables = append(awaitables, gate)

	inner := core.WhenAllWithCancellation(bus.pool, token, awaitables...)

	agg := core.NewDAGTask(func(taskCtx context.Context) (struct{}, error) {
		if err := inner.Wait(taskCtx); err != nil {
			return struct{}{}, err
		}
		for _, ht := range handlerTasks {
			if _, err := ht.GetResult(); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	}).Named("eventbus.PublishAsync")

	inner.Finally(agg)
	release.TrySchedule(bus.pool)
	agg.TrySchedule(bus.pool)
	return agg
}
