// Package websocket pushes census computation summaries to dashboard
// clients. Clients subscribe to topics and receive every event published on
// them. Events carry counts and dates only, never patient identifiers.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Topics published by the census service.
const (
	TopicRoster = "census.roster"
	TopicTrend  = "census.trend"
)

const sendBuffer = 64

// Connection keepalive. A client that answers no ping within pongWait is
// disconnected and unregistered.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// Event is one computation summary.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event. It panics only if data cannot be
// encoded as JSON.
func NewEvent(topic, typ, runID string, at time.Time, data interface{}) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		panic("websocket: unencodable event payload: " + err.Error())
	}
	return Event{Type: typ, Topic: topic, RunID: runID, Timestamp: at, Data: raw}
}

// ClientMessage is sent by clients to change their subscriptions.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher is implemented by Hub.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Client is one connected subscriber.
type Client struct {
	ID   string
	Send chan []byte

	topics map[string]struct{}
}

func NewClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, sendBuffer), topics: make(map[string]struct{})}
}

// Hub tracks clients by topic.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	byTopic map[string]map[*Client]struct{}
	all     map[*Client]struct{}

	dropped atomic.Int64
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "census_feed").Logger(),
		byTopic: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
	}
}

// Register adds c and subscribes it to topics.
func (h *Hub) Register(c *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
	h.subscribeLocked(c, topics)
}

// Unregister removes c from every topic and closes its Send channel.
// Calling it twice is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	h.unsubscribeLocked(c, topics)
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) Subscribe(c *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; ok {
		h.subscribeLocked(c, topics)
	}
}

func (h *Hub) Unsubscribe(c *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(c, topics)
}

func (h *Hub) subscribeLocked(c *Client, topics []string) {
	for _, t := range topics {
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		if h.byTopic[t] == nil {
			h.byTopic[t] = make(map[*Client]struct{})
		}
		h.byTopic[t][c] = struct{}{}
		c.topics[t] = struct{}{}
	}
}

func (h *Hub) unsubscribeLocked(c *Client, topics []string) {
	for _, t := range topics {
		if subs, ok := h.byTopic[t]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.byTopic, t)
			}
		}
		delete(c.topics, t)
	}
}

// Handle applies a subscribe or unsubscribe message. Unknown actions are
// ignored.
func (h *Hub) Handle(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics...)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics...)
	}
}

// Publish sends event to the subscribers of event.Topic. A client whose
// buffer is full misses the event.
func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byTopic[event.Topic] {
		select {
		case c.Send <- data:
		default:
			h.dropped.Add(1)
			h.logger.Warn().Str("client_id", c.ID).Str("topic", event.Topic).Msg("feed client too slow, event dropped")
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTopic[topic])
}

// Dropped returns how many events were skipped because a client was slow.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// -- HTTP --

// Handler upgrades requests to WebSocket connections on a Hub.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader

	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewHandler accepts browser connections from origins only. "*" allows any
// origin. Requests without an Origin header are always accepted.
func NewHandler(hub *Hub, origins []string) *Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return &Handler{
		hub:        hub,
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := allowed["*"]; ok {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Connect upgrades the request. Initial topics may be passed as a
// comma-separated "topics" query parameter.
func (h *Handler) Connect(c echo.Context) error {
	client := NewClient(uuid.NewString())
	var topics []string
	if raw := c.QueryParam("topics"); raw != "" {
		topics = strings.Split(raw, ",")
	}
	// Registered before the handshake completes so that events published
	// right after the 101 reach the client.
	h.hub.Register(client, topics...)

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.hub.Unregister(client)
		return nil
	}
	h.hub.logger.Debug().Str("client_id", client.ID).Strs("topics", topics).Msg("feed client connected")

	go h.writeLoop(client, ws)
	go h.readLoop(client, ws)
	return nil
}

func (h *Handler) readLoop(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		h.hub.Handle(client, msg)
	}
}

func (h *Handler) writeLoop(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()
	for {
		select {
		case msg, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Unregistered by the hub.
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
