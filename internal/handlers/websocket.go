package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// broadcastEvents is every event type mirrored onto the socket. Clients
// filter by the run id inside the payload; the server does not keep
// per-run subscriptions.
var broadcastEvents = []interfaces.EventType{
	interfaces.EventCrawlProgress,
	interfaces.EventCrawlCompleted,
	interfaces.EventDocumentScraped,
	interfaces.EventJobFailed,
	interfaces.EventResearchActivity,
	interfaces.EventResearchDone,
	interfaces.EventScheduleFired,
	interfaces.EventLogEntry,
}

// recentLogCap bounds the in-memory log ring served by /api/logs/recent.
const recentLogCap = 200

// WSMessage is the envelope for every message sent to clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler mirrors the event bus onto WebSocket connections. Every
// subscribed event type goes to every client; the whitelist and throttle
// configuration decide which types and how often.
type WebSocketHandler struct {
	logger       arbor.ILogger
	eventService interfaces.EventService

	mu          sync.RWMutex
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex

	// allowedEvents whitelists broadcast types; empty allows all.
	allowedEvents map[interfaces.EventType]bool
	// throttlers caps high-frequency event types, one limiter per type.
	throttlers map[interfaces.EventType]*rate.Limiter

	recentMu sync.Mutex
	recent   []models.LogEntry

	// serverInstanceID is minted per startup so clients can detect a server
	// restart and clear stale run views.
	serverInstanceID string
}

// NewWebSocketHandler creates the handler and subscribes it to the event bus.
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		eventService:     eventService,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		allowedEvents:    make(map[interfaces.EventType]bool),
		throttlers:       make(map[interfaces.EventType]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[interfaces.EventType(eventType)] = true
		}
		for eventType, intervalStr := range config.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval, throttling disabled for event type")
				continue
			}
			h.throttlers[interfaces.EventType(eventType)] = rate.NewLimiter(rate.Every(duration), 1)
		}
	}

	if eventService != nil {
		for _, eventType := range broadcastEvents {
			if err := eventService.Subscribe(eventType, h.handleEvent); err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", string(eventType)).
					Msg("Failed to subscribe WebSocket handler to event type")
			}
		}
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Int("allowed_events", len(h.allowedEvents)).
		Int("throttled_events", len(h.throttlers)).
		Msg("WebSocket handler initialized")

	return h
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", total)

	h.sendToClient(conn, WSMessage{
		Type: "connected",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"timestamp":          time.Now().Format(time.RFC3339),
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read loop keeps the connection alive; inbound messages are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// GetRecentLogsHandler handles GET /api/logs/recent?limit=N
func (h *WebSocketHandler) GetRecentLogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit := QueryInt(r, "limit", recentLogCap)

	h.recentMu.Lock()
	logs := make([]models.LogEntry, len(h.recent))
	copy(logs, h.recent)
	h.recentMu.Unlock()

	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(logs),
		"logs":  logs,
	})
}

// handleEvent receives bus events and mirrors them to connected clients.
func (h *WebSocketHandler) handleEvent(ctx context.Context, event interfaces.Event) error {
	if event.Type == interfaces.EventLogEntry {
		if entry, ok := event.Payload.(models.LogEntry); ok {
			h.recordLogEntry(entry)
		}
	}

	if !h.eventAllowed(event.Type) {
		return nil
	}
	if limiter, ok := h.throttlers[event.Type]; ok && !limiter.Allow() {
		return nil
	}

	h.broadcast(WSMessage{
		Type:    string(event.Type),
		Payload: event.Payload,
	})
	return nil
}

// eventAllowed applies the whitelist; an empty whitelist allows everything.
func (h *WebSocketHandler) eventAllowed(eventType interfaces.EventType) bool {
	if len(h.allowedEvents) == 0 {
		return true
	}
	return h.allowedEvents[eventType]
}

// recordLogEntry appends to the recent-log ring.
func (h *WebSocketHandler) recordLogEntry(entry models.LogEntry) {
	h.recentMu.Lock()
	h.recent = append(h.recent, entry)
	if len(h.recent) > recentLogCap {
		h.recent = h.recent[len(h.recent)-recentLogCap:]
	}
	h.recentMu.Unlock()
}

// broadcast sends one message to every connected client. Writes serialize on
// the per-connection mutex; clients whose write fails are dropped.
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
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

	var failed []*websocket.Conn
	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
			failed = append(failed, conn)
		}
	}

	for _, conn := range failed {
		h.removeClient(conn)
	}
}

// sendToClient sends one message to a single connection.
func (h *WebSocketHandler) sendToClient(conn *websocket.Conn, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	mutex, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	mutex.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	mutex.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		h.removeClient(conn)
	}
}

// removeClient drops a connection after a failed write. The read loop's
// deferred cleanup tolerates the early removal.
func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	h.mu.Unlock()
	conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
