package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
	"github.com/ternarybob/noctua/internal/services/events"
)

func dialTestHandler(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHelloCarriesServerInstanceID(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger())
	conn := dialTestHandler(t, handler)

	msg := readMessage(t, conn)
	assert.Equal(t, "hello", msg.Type)

	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, payload["server_instance_id"])
}

func TestLogEntryBroadcast(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(logger)
	handler := NewWebSocketHandler(bus, logger)
	conn := dialTestHandler(t, handler)

	// Drain the hello frame
	readMessage(t, conn)

	event := interfaces.Event{
		Type: interfaces.EventLogEntry,
		LogEvent: &models.LogEvent{
			ID:       "evt-1",
			Sequence: 42,
			Level:    models.LogLevelSuccess,
			Message:  "Extraction for Acme Corp completed",
			TaskID:   "task-1",
			EntityID: "acme",
		},
	}
	require.NoError(t, bus.PublishSync(context.Background(), event))

	msg := readMessage(t, conn)
	assert.Equal(t, "log_entry", msg.Type)

	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "evt-1", payload["id"])
	assert.Equal(t, float64(42), payload["sequence"])
	assert.Equal(t, "success", payload["level"])
	assert.Equal(t, "task-1", payload["task_id"])
}

func TestTaskLifecycleEventsPassThrough(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(logger)
	handler := NewWebSocketHandler(bus, logger)
	conn := dialTestHandler(t, handler)

	readMessage(t, conn)

	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventTaskRequeued,
		Payload: map[string]interface{}{
			"task_id":     "task-9",
			"retry_count": 2,
		},
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, "task_requeued", msg.Type)

	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "task-9", payload["task_id"])
}

func TestClientCountTracksDisconnects(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger())

	conn := dialTestHandler(t, handler)
	readMessage(t, conn)
	require.Eventually(t, func() bool {
		return handler.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return handler.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
