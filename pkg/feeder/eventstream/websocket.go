package eventstream

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/StrathCole/price-oracle/pkg/version"
)

const (
	// maxReconnectBackoff is the maximum wait time between reconnection attempts.
	maxReconnectBackoff = 30 * time.Second
	// initialReconnectBackoff is the starting backoff duration.
	initialReconnectBackoff = 1 * time.Second
	// pingInterval is how often to send ping messages.
	pingInterval = 30 * time.Second
	// pongTimeout is how long to wait for pong response.
	pongTimeout      = 60 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Websocket keeps a subscription to a node WebSocket endpoint alive.
type Websocket struct {
	url            string
	subscribeMsg   interface{}
	logger         zerolog.Logger
	dialer         *websocket.Dialer
	conn           *websocket.Conn
	mu             sync.RWMutex
	messages       chan []byte
	closed         chan struct{}
	closeOnce      sync.Once
	reconnectDelay time.Duration
}

// NewWebsocket creates a new WebSocket client.
func NewWebsocket(url string, subscribeMsg interface{}, logger zerolog.Logger) *Websocket {
	return &Websocket{
		url:            url,
		subscribeMsg:   subscribeMsg,
		logger:         logger.With().Str("component", "websocket").Logger(),
		dialer:         &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		messages:       make(chan []byte, 100),
		closed:         make(chan struct{}),
		reconnectDelay: initialReconnectBackoff,
	}
}

// Start begins the WebSocket connection loop with reconnection.
func (w *Websocket) Start(ctx context.Context) error {
	w.logger.Info().Str("url", w.URL()).Msg("starting websocket client")

	go w.loop(ctx)
	return nil
}

// URL returns the endpoint currently dialed.
func (w *Websocket) URL() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.url
}

// UpdateURL switches the endpoint. The current connection is dropped so the
// loop reconnects to the new URL right away.
func (w *Websocket) UpdateURL(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.url = url
	w.reconnectDelay = initialReconnectBackoff
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

// loop maintains the WebSocket connection with automatic reconnection.
func (w *Websocket) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("context cancelled, stopping websocket")
			return
		case <-w.closed:
			w.logger.Info().Msg("websocket closed")
			return
		default:
		}

		conn, err := w.connect(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to connect to websocket")
			if !w.backoff(ctx) {
				return
			}
			continue
		}

		w.mu.Lock()
		w.reconnectDelay = initialReconnectBackoff
		w.mu.Unlock()

		if err := w.readLoop(ctx, conn); err != nil {
			w.logger.Error().Err(err).Msg("websocket read error")
		}
	}
}

// backoff waits the current delay plus jitter and doubles it. It returns false when stopped.
func (w *Websocket) backoff(ctx context.Context) bool {
	w.mu.Lock()
	delay := w.reconnectDelay
	w.reconnectDelay *= 2
	if w.reconnectDelay > maxReconnectBackoff {
		w.reconnectDelay = maxReconnectBackoff
	}
	w.mu.Unlock()

	// Jitter is random value between 0 and delay/2
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1)) // #nosec G404 -- jitter only
	waitTime := delay + jitter

	w.logger.Warn().Dur("backoff", waitTime).Msg("reconnecting after backoff")

	select {
	case <-ctx.Done():
		return false
	case <-w.closed:
		return false
	case <-time.After(waitTime):
		return true
	}
}

// connect establishes WebSocket connection and sends subscribe message.
func (w *Websocket) connect(ctx context.Context) (*websocket.Conn, error) {
	url := w.URL()
	w.logger.Info().Str("url", url).Msg("connecting to websocket")

	conn, _, err := w.dialer.DialContext(ctx, url, http.Header{"User-Agent": []string{version.AgentString()}})
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	if err := conn.WriteJSON(w.subscribeMsg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send subscribe message: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.logger.Info().Msg("websocket connected and subscribed")
	return conn, nil
}

// readLoop reads messages from the WebSocket connection.
func (w *Websocket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	if conn == nil {
		return fmt.Errorf("%w", ErrNoConnection)
	}
	defer conn.Close()

	conn.SetPongHandler(func(_ string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)
	messageCh := make(chan []byte, 10)
	errorCh := make(chan error, 1)

	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				errorCh <- err
				return
			}
			if isSubscriptionAck(msg) {
				w.logger.Debug().Msg("subscription confirmed")
				continue
			}
			select {
			case messageCh <- msg:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.closed:
			return nil
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(handshakeTimeout)); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
		case err := <-errorCh:
			return err
		case msg := <-messageCh:
			select {
			case w.messages <- msg:
			case <-ctx.Done():
				return ctx.Err()
			case <-w.closed:
				return nil
			}
		}
	}
}

// Messages returns the channel for receiving WebSocket messages.
func (w *Websocket) Messages() <-chan []byte {
	return w.messages
}

// Close closes the WebSocket connection.
func (w *Websocket) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.conn != nil {
			_ = w.conn.Close()
			w.conn = nil
		}
	})
}
