package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe()

	bus.Publish(CardMoved("card-1", "todo", "in_progress"))

	ev := <-ch
	assert.Equal(t, TypeCardMoved, ev.Type)
	assert.Equal(t, "card-1", ev.CardID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "CardMoved", payload["type"])
	assert.Equal(t, "todo", payload["from_stage"])
	assert.Equal(t, "in_progress", payload["to_stage"])
}

func TestPublishOrderPreserved(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe()
	for i := 0; i < 10; i++ {
		bus.Publish(New(TypeCardUpdated, "c", map[string]any{"seq": i}))
	}

	for i := 0; i < 10; i++ {
		ev := <-ch
		var payload map[string]any
		require.NoError(t, json.Unmarshal(ev.Data, &payload))
		assert.Equal(t, float64(i), payload["seq"])
	}
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	bus := NewBus(WithBufferSize(2))
	defer bus.Close()

	slow := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	// Fill the buffer, then overflow it
	bus.Publish(New(TypeCardUpdated, "c", nil))
	bus.Publish(New(TypeCardUpdated, "c", nil))
	bus.Publish(New(TypeCardUpdated, "c", nil))

	assert.Equal(t, 0, bus.SubscriberCount())

	// Buffered events are still drained, then the channel closes
	<-slow
	<-slow
	_, open := <-slow
	assert.False(t, open, "lagging subscriber channel should be closed")
}

func TestUnsubscribeAndClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	ch2 := bus.Subscribe()
	bus.Close()
	_, open = <-ch2
	assert.False(t, open)

	// Publish after close is a no-op
	bus.Publish(New(TypeCardCreated, "", nil))

	// Subscribe after close returns a closed channel
	ch3 := bus.Subscribe()
	_, open = <-ch3
	assert.False(t, open)
}

func TestAiStatusChangedEnvelope(t *testing.T) {
	session := "sess-1"
	ev := AiStatusChanged("card-9", "working", json.RawMessage(`{"total_todos":3}`), "in_progress", &session)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "AiStatusChanged", payload["type"])
	assert.Equal(t, "card-9", payload["card_id"])
	assert.Equal(t, "working", payload["status"])
	assert.Equal(t, "in_progress", payload["stage"])
	assert.Equal(t, "sess-1", payload["ai_session_id"])
	progress, ok := payload["progress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), progress["total_todos"])
}
