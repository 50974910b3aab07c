package publisher

import (
	"sync"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
)

// EventSink consumes events delivered by the registry.
type EventSink func(ev nostr.Event)

// Subscription is a live registration handle. Close deregisters it; further
// events stop flowing to the sink. Closing twice is safe.
type Subscription struct {
	ID     string
	Filter nostr.Filter

	sink      EventSink
	registry  *SubscriptionRegistry
	closeOnce sync.Once
}

// Close removes the subscription from its registry.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.registry.remove(s.ID)
	})
}

// SubscriptionRegistry routes incoming relay events to interested consumers.
// Each subscription pairs a filter with a sink; Dispatch delivers an event to
// every sink whose filter matches. Typically wired as the handler for the
// relay pool's live subscription stream.
type SubscriptionRegistry struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry(logger *zap.Logger) *SubscriptionRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionRegistry{
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
}

// Register adds a filter/sink pair and returns its handle.
func (r *SubscriptionRegistry) Register(filter nostr.Filter, sink EventSink) *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		Filter:   filter,
		sink:     sink,
		registry: r,
	}
	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	r.logger.Debug("Subscription registered", zap.String("subscription_id", sub.ID))
	return sub
}

// Dispatch delivers an event to every matching subscription and returns how
// many sinks received it. Sinks run on the caller's goroutine, outside the
// registry lock.
func (r *SubscriptionRegistry) Dispatch(ev nostr.Event) int {
	r.mu.RLock()
	matched := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.Filter.Matches(&ev) {
			matched = append(matched, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range matched {
		sub.sink(ev)
	}
	return len(matched)
}

// Len returns the number of active subscriptions.
func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *SubscriptionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
	r.logger.Debug("Subscription removed", zap.String("subscription_id", id))
}
