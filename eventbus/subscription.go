package eventbus

import "reflect"

// Subscription is the handle returned by Subscribe/SubscribeTargeted. It
// names exactly one registry entry; Unsubscribe removes that entry and
// only that entry, regardless of how many other handlers are registered
// for the same event type.
type Subscription struct {
	bus       *Bus
	eventType reflect.Type
	id        HandlerID
	subjectID any
	targeted  bool

	unsubscribed bool
}

// ID returns the subscription's handler id.
func (s *Subscription) ID() HandlerID { return s.id }

// Unsubscribe removes the handler this Subscription names from its bus. It
// scans only the handlers registered for this Subscription's event type
// (and, for a targeted subscription, only those under its subject id), and
// is idempotent: calling it more than once has no further effect.
func (s *Subscription) Unsubscribe() {
	if s.unsubscribed {
		return
	}
	s.unsubscribed = true
	s.bus.unsubscribe(s)
}
