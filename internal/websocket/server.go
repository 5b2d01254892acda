package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/contentops/stt-pipeline/pkg/logger"
)

// Message types pushed to subscribed clients.
const (
	MessageTypeItemStatus = "item_status"
)

// Message is a WebSocket event envelope.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Client represents one connected subscriber.
type Client struct {
	conn   *websocket.Conn
	send   chan *Message
	mu     sync.Mutex
	closed bool
}

// Server is a broadcast hub pushing item status transitions to connected
// operators, so a batch submitter can watch completion instead of polling.
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewServer creates a new WebSocket hub.
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.Named("web-socket"),
	}
}

// Run processes registrations and broadcasts. Call in its own goroutine.
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket hub")

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", count))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.mu.Lock()
				client.closed = true
				client.mu.Unlock()
				close(client.send)
			}
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", count))

		case message := <-s.broadcast:
			s.mu.RLock()
			for client := range s.clients {
				client.mu.Lock()
				if client.closed {
					client.mu.Unlock()
					continue
				}
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop the event rather than block
					// the hub.
				}
				client.mu.Unlock()
			}
			s.mu.RUnlock()
		}
	}
}

// BroadcastItemStatus pushes an item status transition to all clients.
func (s *Server) BroadcastItemStatus(itemID, campaignID, status string) {
	msg := &Message{
		Type: MessageTypeItemStatus,
		Data: map[string]any{
			"item_id":     itemID,
			"campaign_id": campaignID,
			"status":      status,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		},
	}
	select {
	case s.broadcast <- msg:
	default:
		s.logger.Warn("Broadcast queue full, dropping item status event",
			logger.String("item_id", itemID),
			logger.String("status", status))
	}
}

// HandleWebSocket upgrades an HTTP request into a hub subscription.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", logger.Error(err))
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan *Message, 16),
	}
	s.register <- client

	go client.writeLoop(s)
	go client.readLoop(s)
}

// writeLoop pushes queued messages to the peer.
func (c *Client) writeLoop(s *Server) {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteJSON(message); err != nil {
			s.logger.Debug("Failed to write to WebSocket client", logger.Error(err))
			s.unregister <- c
			return
		}
	}
}

// readLoop drains the connection so pings and close frames are handled;
// clients have nothing to say to the hub.
func (c *Client) readLoop(s *Server) {
	defer func() {
		s.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
