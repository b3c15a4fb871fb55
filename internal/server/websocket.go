package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every frame sent to clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// LogEntryPayload is the wire shape of one audit-trail event.
type LogEntryPayload struct {
	ID        string            `json:"id"`
	Sequence  uint64            `json:"sequence"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	TaskID    string            `json:"task_id,omitempty"`
	AccountID string            `json:"account_id,omitempty"`
	EntityID  string            `json:"entity_id,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// WebSocketHandler streams the audit trail and task lifecycle events to
// connected clients. One goroutine per connection reads (keep-alive);
// writes are serialized per connection.
type WebSocketHandler struct {
	logger           arbor.ILogger
	eventService     interfaces.EventService
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	serverInstanceID string // clients use this to detect a server restart
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		eventService:     eventService,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	if eventService != nil {
		h.subscribe()
	}
	return h
}

// HandleWebSocket upgrades the connection and keeps it registered until
// the client goes away.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendHello tells a fresh client which server instance it is talking to.
func (h *WebSocketHandler) sendHello(conn *websocket.Conn) {
	msg := WSMessage{
		Type: "hello",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"timestamp":          time.Now().Format(time.RFC3339),
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send hello")
		}
		mutex.Unlock()
	}
}

// broadcast marshals one envelope and writes it to every client.
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// subscribe wires the handler to the event bus: audit-trail entries go
// out one frame per entry, task and account lifecycle events pass
// through with their payload maps.
func (h *WebSocketHandler) subscribe() {
	h.eventService.Subscribe(interfaces.EventLogEntry, func(ctx context.Context, event interfaces.Event) error {
		if event.LogEvent == nil {
			return nil
		}
		// NOTE: no logging in this handler - a log line here would publish
		// another log_entry event and loop forever
		h.broadcast(WSMessage{Type: "log_entry", Payload: logEntryPayload(event.LogEvent)})
		return nil
	})

	passthrough := []interfaces.EventType{
		interfaces.EventTaskQueued,
		interfaces.EventTaskStarted,
		interfaces.EventTaskCompleted,
		interfaces.EventTaskRequeued,
		interfaces.EventTaskFailed,
		interfaces.EventTaskCancelled,
		interfaces.EventAccountCooled,
		interfaces.EventAccountsReset,
		interfaces.EventSchedulerState,
	}
	for _, eventType := range passthrough {
		eventType := eventType
		h.eventService.Subscribe(eventType, func(ctx context.Context, event interfaces.Event) error {
			h.broadcast(WSMessage{Type: string(eventType), Payload: event.Payload})
			return nil
		})
	}
}

func logEntryPayload(event *models.LogEvent) LogEntryPayload {
	return LogEntryPayload{
		ID:        event.ID,
		Sequence:  event.Sequence,
		Level:     string(event.Level),
		Message:   event.Message,
		TaskID:    event.TaskID,
		AccountID: event.AccountID,
		EntityID:  event.EntityID,
		Context:   event.Context,
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
	}
}
