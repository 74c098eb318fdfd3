// Package bus is a thin typed wrapper over the in-process event bus.
// Lifecycle transitions are published on it after the store mutation
// commits, so in-process consumers (metrics, cache invalidation, debug
// tracing) never observe a state that was not persisted.
package bus

import (
	"time"

	"github.com/asaskevich/EventBus"
)

const topicSubscriptionTransition = "subscription.transition"

// SubscriptionTransition describes one committed lifecycle transition.
type SubscriptionTransition struct {
	SubscriptionID int64
	UserID         int64
	PlanID         string
	From           string
	To             string
	At             time.Time
}

type Bus struct {
	inner EventBus.Bus
}

func New() *Bus {
	return &Bus{inner: EventBus.New()}
}

// PublishSubscriptionTransition delivers the event synchronously to all
// subscribers. Subscriber panics are the subscriber's problem; callers wrap
// publication in a caught side effect.
func (b *Bus) PublishSubscriptionTransition(ev SubscriptionTransition) {
	b.inner.Publish(topicSubscriptionTransition, ev)
}

func (b *Bus) SubscribeSubscriptionTransition(fn func(SubscriptionTransition)) error {
	return b.inner.Subscribe(topicSubscriptionTransition, fn)
}

func (b *Bus) UnsubscribeSubscriptionTransition(fn func(SubscriptionTransition)) error {
	return b.inner.Unsubscribe(topicSubscriptionTransition, fn)
}
