package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSONFansOut(t *testing.T) {
	bus := NewEventBus()

	var seen []PostEventPayload
	bus.Subscribe(EventPostPublished, func(ev *Event) error {
		var p PostEventPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		seen = append(seen, p)
		return nil
	})
	bus.Subscribe(EventPostFailed, func(ev *Event) error {
		t.Fatal("failed handler must not fire for published events")
		return nil
	})

	err := bus.PublishJSON(EventPostPublished, PostEventPayload{PostID: 7, Repeat: "daily"})
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, int64(7), seen[0].PostID)
	assert.Equal(t, "daily", seen[0].Repeat)
}

func TestPublishJSONMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()

	calls := 0
	for i := 0; i < 3; i++ {
		bus.Subscribe(EventPostScheduled, func(ev *Event) error {
			calls++
			return nil
		})
	}

	require.NoError(t, bus.PublishJSON(EventPostScheduled, PostEventPayload{PostID: 1}))
	assert.Equal(t, 3, calls)
}

func TestPublishJSONNilBus(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON(EventPostScheduled, PostEventPayload{}))
}
