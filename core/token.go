package core

import "sync"

// CancellationToken is a shared, latched boolean with an append-only list of
// callbacks. It fires at most once: the false->true transition happens
// exactly once, callbacks registered before that transition run exactly
// once in registration order on the cancelling goroutine, and callbacks
// registered afterwards run exactly once, inline, at registration time.
//
// A CancellationToken is not itself a Task; it is the shared signal that
// DeadlineGuard, WithCancellation, WithTimeout and EventScope all cancel
// cooperative work through.
type CancellationToken struct {
	mu        sync.Mutex
	cancelled bool
	callbacks []func()
}

// NewCancellationToken returns a token that has not fired.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// Cancel latches the token. If it is already latched, Cancel is a no-op.
// Otherwise every callback registered so far runs, in registration order,
// on the calling goroutine, and the callback list is then cleared.
//
// Callbacks must not call Cancel or RegisterCallback on the same token;
// reentrancy is not supported. Callbacks run after t.mu is released, so such
// a call does not deadlock: Cancel returns at once and RegisterCallback runs
// its argument inline.
func (t *CancellationToken) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// IsCancelled reports whether the token has fired. Non-blocking.
func (t *CancellationToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// ThrowIfCancelled returns ErrCancelled if the token has fired, nil
// otherwise. Callables that want to poll for cancellation at their own
// checkpoints call this.
func (t *CancellationToken) ThrowIfCancelled() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// RegisterCallback enqueues fn to run when the token is cancelled. If the
// token has already fired, fn runs immediately, inline, on the calling
// goroutine instead of being enqueued.
func (t *CancellationToken) RegisterCallback(fn func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}
