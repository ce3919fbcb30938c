package eventbus

import (
	"context"
	"sync"

	"github.com/dagrun/dagrun/core"
)

// Scope is an RAII-style aggregator of subscriptions and a single owned
// CancellationToken. It exists so a caller that registers a batch of
// handlers tied to one lifetime (a connection, a request, a UI view) can
// tear all of it down with one Close call instead of tracking each
// Subscription by hand.
//
// A Scope is not copyable: it holds a sync.Mutex guarding its subscription
// list, so pass it by pointer, never by value.
type Scope struct {
	bus   *Bus
	token *core.CancellationToken

	mu   sync.Mutex
	subs []*Subscription
}

// NewScope creates a Scope bound to bus, with a fresh, unfired
// CancellationToken.
func NewScope(bus *Bus) *Scope {
	return &Scope{
		bus:   bus,
		token: core.NewCancellationToken(),
	}
}

// Token returns the scope's owned CancellationToken. Handlers registered
// via ScopeSubscribeAsync/ScopeSubscribeAsyncTargeted check it on entry;
// callables elsewhere in the DAG engine can select on
// core.WithCancellation(ctx, scope.Token()) to tie their own lifetime to
// the scope.
func (s *Scope) Token() *core.CancellationToken {
	return s.token
}

// Cancel fires the scope's token without unsubscribing anything. Handlers
// wrapped via ScopeSubscribeAsync/ScopeSubscribeAsyncTargeted will
// short-circuit on their next invocation; handlers registered via the
// plain ScopeSubscribe path are unaffected until Close runs.
func (s *Scope) Cancel() {
	s.token.Cancel()
}

// IsCancelled reports whether the scope's token has fired.
func (s *Scope) IsCancelled() bool {
	return s.token.IsCancelled()
}

// ScopeSubscribe registers handler on scope's bus exactly as
// eventbus.Subscribe would, and additionally appends the resulting
// Subscription to scope so Close tears it down.
func ScopeSubscribe[E any](scope *Scope, handler func(ctx context.Context, event E) error) *Subscription {
	sub := Subscribe[E](scope.bus, handler)
	scope.append(sub)
	return sub
}

// ScopeSubscribeTargeted is ScopeSubscribe restricted to a subject id,
// mirroring eventbus.SubscribeTargeted.
func ScopeSubscribeTargeted[E any](scope *Scope, subjectID any, handler func(ctx context.Context, event E) error) *Subscription {
	sub := SubscribeTargeted[E](scope.bus, subjectID, handler)
	scope.append(sub)
	return sub
}

// ScopeSubscribeAsync is ScopeSubscribe with the handler wrapped to check
// the scope's token before running: once the scope is cancelled, any
// handler invocation already queued (e.g. via EmitAsync) short-circuits
// with core.ErrCancelled instead of running the wrapped handler body.
func ScopeSubscribeAsync[E any](scope *Scope, handler func(ctx context.Context, event E) error) *Subscription {
	return ScopeSubscribe[E](scope, guardWithToken(scope.token, handler))
}

// ScopeSubscribeAsyncTargeted is ScopeSubscribeTargeted with the same
// cancellation guard ScopeSubscribeAsync applies.
func ScopeSubscribeAsyncTargeted[E any](scope *Scope, subjectID any, handler func(ctx context.Context, event E) error) *Subscription {
	return ScopeSubscribeTargeted[E](scope, subjectID, guardWithToken(scope.token, handler))
}

func guardWithToken[E any](token *core.CancellationToken, handler func(ctx context.Context, event E) error) func(ctx context.Context, event E) error {
	return func(ctx context.Context, event E) error {
		if token.IsCancelled() {
			return core.ErrCancelled
		}
		return handler(ctx, event)
	}
}

func (s *Scope) append(sub *Subscription) {
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// Close tears the scope down: it cancels the token first (so any
// in-flight async handler invocation observes cancellation before its
// subscription is removed out from under it), then unsubscribes every
// held subscription in reverse registration order — last registered,
// first torn down, the usual defer-stack discipline.
func (s *Scope) Close() {
	s.token.Cancel()

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for i := len(subs) - 1; i >= 0; i-- {
		subs[i].Unsubscribe()
	}
}
