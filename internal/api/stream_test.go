package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/lightupdev/lightup/internal/events"
)

func TestEventsStream(t *testing.T) {
	e := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		e.server.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	// Let the handler subscribe before publishing.
	time.Sleep(100 * time.Millisecond)
	e.bus.Publish(events.New(events.TypeCardCreated, "card-1", map[string]any{"card_id": "card-1"}))
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream handler did not exit after cancel")
	}

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: connected\ndata: {}\n\n"), body)
	assert.Contains(t, body, "event: CardCreated\n")
	assert.Contains(t, body, `"card_id":"card-1"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestWebsocketFiltersByCard(t *testing.T) {
	e := newTestEnv(t)

	srv := httptest.NewServer(e.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?card_id=card-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Give the handler time to subscribe.
	time.Sleep(100 * time.Millisecond)

	// Noise for other cards and other types must not come through.
	e.bus.Publish(events.AgentLogCreated("card-2", map[string]any{"content": "other card"}))
	e.bus.Publish(events.CardMoved("card-1", "todo", "in_progress"))
	e.bus.Publish(events.AgentLogCreated("card-1", map[string]any{"content": "tool finished"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "AgentLogCreated", gjson.GetBytes(msg, "type").String())
	assert.Equal(t, "card-1", gjson.GetBytes(msg, "card_id").String())
}

func TestWebsocketRequiresCardID(t *testing.T) {
	e := newTestEnv(t)

	srv := httptest.NewServer(e.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 400, resp.StatusCode)
	}
}
