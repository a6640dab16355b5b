package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"regprobe/internal/shared/logger"
	"regprobe/internal/shared/types"
)

// WebSocketMessage is the envelope for every event pushed to observers.
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	conn  *websocket.Conn
	topic string
}

type broadcastMsg struct {
	topic   string
	payload []byte
}

// Hub maintains the set of active observer connections, grouped by topic
// (one topic per task), and broadcasts events to them. Delivery is
// best-effort: disconnected or slow observers simply miss events.
type Hub struct {
	topics     map[string]map[*websocket.Conn]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]map[*websocket.Conn]bool),
		broadcast:  make(chan broadcastMsg, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			conns, ok := h.topics[c.topic]
			if !ok {
				conns = make(map[*websocket.Conn]bool)
				h.topics[c.topic] = conns
			}
			conns[c.conn] = true
			h.mu.Unlock()
			logger.Info().Str("topic", c.topic).Str("remote_addr", c.conn.RemoteAddr().String()).Msg("Observer registered.")

		case c := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.topics[c.topic]; ok {
				if _, ok := conns[c.conn]; ok {
					delete(conns, c.conn)
					c.conn.Close()
					if len(conns) == 0 {
						delete(h.topics, c.topic)
					}
					logger.Info().Str("topic", c.topic).Msg("Observer unregistered.")
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.topics[msg.topic] {
				if err := conn.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
					logger.Warn().Err(err).Str("topic", msg.topic).Msg("Error writing to observer.")
					// The read pump notices the dead connection and unregisters it.
				}
			}
			h.mu.Unlock()
		}
	}
}

func taskTopic(taskID int64) string {
	return fmt.Sprintf("task/%d", taskID)
}

// PublishResult pushes one detection result event to the task's topic.
func (h *Hub) PublishResult(taskID int64, event *types.ResultEvent) {
	h.publish(taskTopic(taskID), WebSocketMessage{Type: "detection_result", Data: event})
}

// PublishProgress pushes the aggregate task snapshot to the task's topic.
func (h *Hub) PublishProgress(taskID int64, task *types.DetectionTask) {
	// Data values can be large and observers only need the counters.
	snapshot := *task
	snapshot.DataValues = nil
	h.publish(taskTopic(taskID), WebSocketMessage{Type: "task_progress", Data: &snapshot})
}

func (h *Hub) publish(topic string, msg WebSocketMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Error().Err(err).Str("topic", topic).Msg("Hub: failed to marshal event.")
		return
	}
	select {
	case h.broadcast <- broadcastMsg{topic: topic, payload: payload}:
	default:
		// Drop rather than block a probe worker on a slow dashboard.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs upgrades an observer request and subscribes it to a topic.
func ServeWs(hub *Hub, topic string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	c := &client{conn: conn, topic: topic}
	hub.register <- c

	// Read pump: only needed to detect when the observer goes away.
	go func() {
		defer func() {
			hub.unregister <- c
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
