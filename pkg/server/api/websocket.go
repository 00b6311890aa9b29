package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// WebSocketServer streams applied price updates to connected clients.
type WebSocketServer struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	// Client management
	mu      sync.RWMutex
	clients map[*WebSocketClient]bool

	// Price updates channel
	updates chan pricing.PriceUpdated
}

// WebSocketClient represents a connected WebSocket client.
type WebSocketClient struct {
	conn            *websocket.Conn
	send            chan []byte
	server          *WebSocketServer
	subscribedAll   bool
	subscribedPairs map[pricing.TokenPair]bool
	mu              sync.RWMutex
}

// WebSocketMessage represents a client message.
type WebSocketMessage struct {
	Type  string   `json:"type"`  // "subscribe", "unsubscribe", "ping"
	Pairs []string `json:"pairs"` // "ETH/USD" or "eth-usd"; "*" means every pair
}

// PriceUpdateMessage is sent to clients.
type PriceUpdateMessage struct {
	Type  string    `json:"type"` // "price_update"
	Price PriceData `json:"price"`
}

// PriceData is one applied admission.
type PriceData struct {
	Pair      pricing.TokenPair  `json:"pair"`
	PairHash  string             `json:"pair_hash"`
	Exchange  pricing.ExchangeID `json:"exchange"`
	Price     string             `json:"price"`
	Timestamp time.Time          `json:"timestamp"`
	Height    uint64             `json:"height"`
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(logger *logging.Logger) *WebSocketServer {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &WebSocketServer{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Allow all origins (configure CORS as needed)
				return true
			},
		},
		clients: make(map[*WebSocketClient]bool),
		updates: make(chan pricing.PriceUpdated, 256),
	}
}

// Run broadcasts published updates until ctx is done, then disconnects every client.
func (s *WebSocketServer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case ev := <-s.updates:
			s.broadcast(ev)
		}
	}
}

// Publish queues an update for broadcast. It never blocks; the update is
// dropped when the queue is full.
func (s *WebSocketServer) Publish(ev pricing.PriceUpdated) {
	select {
	case s.updates <- ev:
	default:
		s.logger.Warn("Update channel full, dropping price update", "pair", ev.Pair, "exchange", ev.Exchange)
	}
}

// ClientCount returns the number of connected clients.
func (s *WebSocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleWebSocket upgrades the request and registers the client.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &WebSocketClient{
		conn:            conn,
		send:            make(chan []byte, 256),
		server:          s,
		subscribedAll:   true, // Subscribe to all by default
		subscribedPairs: make(map[pricing.TokenPair]bool),
	}

	s.registerClient(client)

	go client.writePump()
	go client.readPump()

	s.logger.Info("New WebSocket client connected", "remote", conn.RemoteAddr().String())
}

func (s *WebSocketServer) registerClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
}

func (s *WebSocketServer) unregisterClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

// closeAll drops every connection; each readPump then unregisters its client.
func (s *WebSocketServer) closeAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		_ = client.conn.Close()
	}
}

// broadcast sends the update to every client subscribed to its pair.
func (s *WebSocketServer) broadcast(ev pricing.PriceUpdated) {
	data, err := json.Marshal(PriceUpdateMessage{
		Type: "price_update",
		Price: PriceData{
			Pair:      ev.Pair,
			PairHash:  ev.PairHash,
			Exchange:  ev.Exchange,
			Price:     ev.Price.StringFixed(pricing.PriceScale),
			Timestamp: ev.Timestamp.UTC(),
			Height:    ev.Height,
		},
	})
	if err != nil {
		s.logger.Error("Failed to marshal price update", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		if !client.shouldReceive(ev.Pair) {
			continue
		}
		select {
		case client.send <- data:
		default:
			s.logger.Warn("Client send buffer full, skipping update")
		}
	}
}

// writePump sends messages to the WebSocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.server.logger.Warn("Invalid client message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Pairs)
	case "unsubscribe":
		c.unsubscribe(msg.Pairs)
	case "ping":
		c.reply(map[string]string{"type": "pong"})
	default:
		c.server.logger.Warn("Unknown message type", "type", msg.Type)
	}
}

func isWildcard(pairs []string) bool {
	return len(pairs) == 0 || (len(pairs) == 1 && pairs[0] == "*")
}

func (c *WebSocketClient) subscribe(pairs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isWildcard(pairs) {
		c.subscribedAll = true
		c.subscribedPairs = make(map[pricing.TokenPair]bool)
		return
	}

	c.subscribedAll = false
	for _, raw := range pairs {
		pair, err := pricing.ParseTokenPair(raw)
		if err != nil {
			c.server.logger.Warn("Ignoring subscription", "pair", raw, "error", err)
			continue
		}
		c.subscribedPairs[pair] = true
	}
	c.server.logger.Debug("Client subscribed", "pairs", pairs)
}

func (c *WebSocketClient) unsubscribe(pairs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isWildcard(pairs) {
		c.subscribedAll = false
		c.subscribedPairs = make(map[pricing.TokenPair]bool)
		return
	}

	for _, raw := range pairs {
		if pair, err := pricing.ParseTokenPair(raw); err == nil {
			delete(c.subscribedPairs, pair)
		}
	}
	c.server.logger.Debug("Client unsubscribed", "pairs", pairs)
}

func (c *WebSocketClient) shouldReceive(pair pricing.TokenPair) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribedAll || c.subscribedPairs[pair]
}

// reply queues a control message. Only readPump unregisters the client, so
// send is still open here.
func (c *WebSocketClient) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
