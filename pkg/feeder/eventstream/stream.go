package eventstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/StrathCole/price-oracle/pkg/metrics"
)

const (
	// maxConsecutiveFailures is the number of consecutive failures before switching RPC endpoint.
	maxConsecutiveFailures = 3
	watchdogInterval       = 10 * time.Second
	staleAfter             = 45 * time.Second
	heightBuffer           = 16
)

// New creates the stream selected by cfg.
func New(cfg Config, logger zerolog.Logger) (EventStream, error) {
	switch cfg.Kind {
	case KindLocal:
		return NewLocal(cfg.StartHeight, cfg.BlockTime, logger)
	case KindTendermint, KindSubstrate, KindEVM:
		return NewStreamWithFailover(cfg.Kind, cfg.Endpoints, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// Stream implements EventStream over a node WebSocket subscription.
type Stream struct {
	kind      Kind
	logger    zerolog.Logger
	websocket *Websocket
	heightCh  chan HeightEvent
	closeCh   chan struct{}
	closeOnce sync.Once

	lastHeight uint64

	// Failover support
	rpcEndpoints        []string
	currentRPC          int
	consecutiveFailures int
	failoverMu          sync.Mutex // Protects failover state
}

// NewStream creates a new event stream for a single endpoint.
func NewStream(kind Kind, endpoint string, logger zerolog.Logger) (*Stream, error) {
	return NewStreamWithFailover(kind, []string{endpoint}, logger)
}

// NewStreamWithFailover creates a new event stream with multiple RPC endpoints for failover.
func NewStreamWithFailover(kind Kind, rpcEndpoints []string, logger zerolog.Logger) (*Stream, error) {
	if len(rpcEndpoints) == 0 {
		return nil, fmt.Errorf("%w", ErrNoRPCEndpointRequired)
	}
	subscribeMsg, err := subscribeMessage(kind)
	if err != nil {
		return nil, err
	}

	primaryRPC := rpcEndpoints[0]
	stream := &Stream{
		kind:         kind,
		logger:       logger.With().Str("component", "eventstream").Str("kind", string(kind)).Logger(),
		websocket:    NewWebsocket(primaryRPC, subscribeMsg, logger),
		heightCh:     make(chan HeightEvent, heightBuffer),
		closeCh:      make(chan struct{}),
		rpcEndpoints: rpcEndpoints,
	}

	if len(rpcEndpoints) > 1 {
		stream.logger.Info().
			Int("endpoints", len(rpcEndpoints)).
			Str("primary", primaryRPC).
			Msg("Event stream initialized with failover support")
	}

	return stream, nil
}

// Start begins the event stream loop.
func (s *Stream) Start(ctx context.Context) error {
	s.logger.Info().Msg("starting event stream")

	if err := s.websocket.Start(ctx); err != nil {
		return fmt.Errorf("failed to start websocket: %w", err)
	}

	go s.heightLoop(ctx)
	return nil
}

// heightLoop turns node notifications into height events.
func (s *Stream) heightLoop(ctx context.Context) {
	lastMessageTime := time.Now()
	watchdogTicker := time.NewTicker(watchdogInterval)
	defer watchdogTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("height loop stopped")
			return
		case <-s.closeCh:
			s.logger.Info().Msg("height loop closed")
			return
		case <-watchdogTicker.C:
			if time.Since(lastMessageTime) > staleAfter {
				s.logger.Warn().
					Dur("since_last_message", time.Since(lastMessageTime)).
					Msg("no messages received recently, connection may be stale")
				s.handleConnectionFailure()
				lastMessageTime = time.Now()
			}
		case msg := <-s.websocket.Messages():
			lastMessageTime = time.Now()

			height, err := parseHeight(s.kind, msg)
			if errors.Is(err, ErrNoHeight) {
				s.logger.Debug().Msg("ignoring message without height")
				continue
			}
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to parse block height, triggering failover")
				s.handleParseFailure()
				continue
			}

			s.failoverMu.Lock()
			s.consecutiveFailures = 0
			s.failoverMu.Unlock()

			if !s.emit(ctx, height) {
				return
			}
		}
	}
}

// emit forwards height unless it was already seen, which happens after a
// failover to an endpoint that lags behind.
func (s *Stream) emit(ctx context.Context, height uint64) bool {
	if height <= s.lastHeight {
		s.logger.Debug().Uint64("height", height).Uint64("last", s.lastHeight).Msg("ignoring non-increasing height")
		return true
	}
	s.lastHeight = height
	metrics.RecordHeight(height)

	select {
	case s.heightCh <- HeightEvent{Height: height, Time: time.Now()}:
		return true
	case <-ctx.Done():
		return false
	case <-s.closeCh:
		return false
	}
}

// Heights returns the height channel.
func (s *Stream) Heights() <-chan HeightEvent {
	return s.heightCh
}

// Close shuts down the event stream.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.logger.Info().Msg("closing event stream")
		close(s.closeCh)
		s.websocket.Close()
	})
}

// handleConnectionFailure tracks failures and switches RPC endpoint if needed.
func (s *Stream) handleConnectionFailure() {
	s.failoverMu.Lock()
	defer s.failoverMu.Unlock()

	s.consecutiveFailures++

	s.logger.Warn().
		Int("consecutive_failures", s.consecutiveFailures).
		Int("max_failures", maxConsecutiveFailures).
		Msg("connection failure detected")

	if s.consecutiveFailures >= maxConsecutiveFailures && len(s.rpcEndpoints) > 1 {
		s.switchToNextEndpointLocked()
	}
}

// handleParseFailure triggers immediate RPC failover.
func (s *Stream) handleParseFailure() {
	s.failoverMu.Lock()
	defer s.failoverMu.Unlock()

	if len(s.rpcEndpoints) <= 1 {
		s.logger.Error().Msg("parse failure detected but no alternative RPC endpoints available")
		return
	}

	s.switchToNextEndpointLocked()
}

// switchToNextEndpointLocked switches to the next available RPC endpoint.
// Must be called with failoverMu held.
func (s *Stream) switchToNextEndpointLocked() {
	oldURL := s.rpcEndpoints[s.currentRPC]
	s.currentRPC = (s.currentRPC + 1) % len(s.rpcEndpoints)
	newURL := s.rpcEndpoints[s.currentRPC]

	s.logger.Warn().
		Str("old_endpoint", oldURL).
		Str("new_endpoint", newURL).
		Int("new_index", s.currentRPC).
		Msg("switching to next RPC endpoint")

	metrics.RecordFailover()
	s.websocket.UpdateURL(newURL)
	s.consecutiveFailures = 0
}

// CurrentEndpoint returns the endpoint in use.
func (s *Stream) CurrentEndpoint() string {
	s.failoverMu.Lock()
	defer s.failoverMu.Unlock()
	return s.rpcEndpoints[s.currentRPC]
}
