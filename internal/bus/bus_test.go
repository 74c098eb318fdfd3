package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscriptionTransition(t *testing.T) {
	b := New()

	var received []SubscriptionTransition
	handler := func(ev SubscriptionTransition) {
		received = append(received, ev)
	}
	require.NoError(t, b.SubscribeSubscriptionTransition(handler))

	ev := SubscriptionTransition{
		SubscriptionID: 5,
		UserID:         42,
		PlanID:         "pro",
		From:           "pending",
		To:             "active",
		At:             time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC),
	}
	b.PublishSubscriptionTransition(ev)

	require.Len(t, received, 1)
	assert.Equal(t, ev, received[0])

	require.NoError(t, b.UnsubscribeSubscriptionTransition(handler))
	b.PublishSubscriptionTransition(ev)
	assert.Len(t, received, 1)
}
