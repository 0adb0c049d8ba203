package feed

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Subscription is one session's view of the feed, filtered to a single
// user. Events arrives buffered; Resync fires when events may have been
// missed. Close releases the subscription — callers that forget to do
// so leak it.
type Subscription struct {
	Events <-chan Event
	Resync <-chan struct{}

	userID string
	id     uint64
	events chan Event
	resync chan struct{}
	n      *Notifier
	once   sync.Once
}

// UserID returns the user this subscription is filtered to.
func (s *Subscription) UserID() string {
	return s.userID
}

// Close releases the subscription and closes its channels. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.n.unsubscribe(s)
	})
}

func (s *Subscription) signalResync() {
	select {
	case s.resync <- struct{}{}:
	default:
		// A resync is already pending; one signal is enough.
	}
}

// Notifier fans feed events out to per-user subscriptions.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
	log    logrus.FieldLogger
}

// NewNotifier creates a notifier. buffer is the per-subscription event
// buffer; a subscriber that falls further behind gets a resync signal
// instead of blocking the dispatch loop.
func NewNotifier(buffer int, log logrus.FieldLogger) *Notifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &Notifier{
		subs:   make(map[string]map[uint64]*Subscription),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe registers a new per-user subscription.
func (n *Notifier) Subscribe(userID string) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	s := &Subscription{
		userID: userID,
		id:     n.nextID,
		events: make(chan Event, n.buffer),
		resync: make(chan struct{}, 1),
		n:      n,
	}
	s.Events = s.events
	s.Resync = s.resync

	if n.subs[userID] == nil {
		n.subs[userID] = make(map[uint64]*Subscription)
	}
	n.subs[userID][s.id] = s
	return s
}

// Publish delivers an event to every subscription of the affected user.
// Dispatch never blocks: a full buffer turns into a resync signal, which
// preserves the at-least-once contract by forcing a full pull.
func (n *Notifier) Publish(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, s := range n.subs[ev.Record.UserID] {
		select {
		case s.events <- ev:
		default:
			n.log.WithFields(logrus.Fields{
				"user_id": s.userID,
				"sub_id":  s.id,
			}).Warn("feed subscriber buffer full, degrading to resync")
			s.signalResync()
		}
	}
}

// BroadcastResync signals every subscription to do a full pull. Used
// after listener reconnects and undecodable payloads, when events may
// have been lost.
func (n *Notifier) BroadcastResync() {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, userSubs := range n.subs {
		for _, s := range userSubs {
			s.signalResync()
		}
	}
}

// SubscriberCount reports the number of open subscriptions.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	count := 0
	for _, userSubs := range n.subs {
		count += len(userSubs)
	}
	return count
}

func (n *Notifier) unsubscribe(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	userSubs := n.subs[s.userID]
	if userSubs == nil {
		return
	}
	delete(userSubs, s.id)
	if len(userSubs) == 0 {
		delete(n.subs, s.userID)
	}
	// Publish holds the lock while sending, so nothing can write to
	// these channels once the subscription is unregistered.
	close(s.events)
	close(s.resync)
}
