package core

import "time"

// deadlinePollInterval bounds how quickly a DeadlineGuard notices an
// elapsed deadline. It mirrors the "a few ms" resolution the delay-managed
// scheduler already promises for delayed tasks.
const deadlinePollInterval = 2 * time.Millisecond

// DeadlineGuard is the scoped owner of a background timer goroutine bound
// to a CancellationToken. While the guard is open, it cancels the token
// exactly once if the deadline elapses; Close stops the timer goroutine and
// joins it deterministically before returning, regardless of whether the
// deadline ever fired.
type DeadlineGuard struct {
	token  *CancellationToken
	stop   chan struct{}
	joined chan struct{}
}

// NewDeadlineGuard arms a timer for d against token and returns immediately.
// The timer goroutine polls wall time at deadlinePollInterval so that the
// cancellation fires within that resolution of the deadline.
func NewDeadlineGuard(token *CancellationToken, d time.Duration) *DeadlineGuard {
	g := &DeadlineGuard{
		token:  token,
		stop:   make(chan struct{}),
		joined: make(chan struct{}),
	}
	deadline := time.Now().Add(d)
	go g.loop(deadline)
	return g
}

func (g *DeadlineGuard) loop(deadline time.Time) {
	defer close(g.joined)

	ticker := time.NewTicker(deadlinePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			if !time.Now().Before(deadline) {
				g.token.Cancel()
			}
			return
		case now := <-ticker.C:
			if !now.Before(deadline) {
				g.token.Cancel()
				return
			}
		}
	}
}

// Close stops the timer goroutine and blocks until it has exited. If the
// deadline has already elapsed, the token is cancelled before Close returns.
// Safe to call more than once; only the first call has an effect.
func (g *DeadlineGuard) Close() {
	select {
	case <-g.stop:
		// already closed
	default:
		close(g.stop)
	}
	<-g.joined
}
