// Package api provides HTTP and WebSocket API endpoints for the price server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/StrathCole/price-oracle/pkg/exchanges"
	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/metrics"
	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/server/aggregator"
	"github.com/StrathCole/price-oracle/pkg/store"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Directory lists the configured exchanges.
type Directory interface {
	Describe() []exchanges.Info
}

// Config configures the HTTP API server.
type Config struct {
	Addr string
	// Mode is the aggregation used when ?mode is omitted.
	Mode     string
	Adaptive *aggregator.AdaptiveConfig
	// Weights maps exchange ids to their aggregation weight (missing = 1.0).
	Weights map[pricing.ExchangeID]float64
}

// Server represents the HTTP API server.
type Server struct {
	addr        string
	reader      store.Reader
	directory   Directory
	weights     map[pricing.ExchangeID]float64
	aggregators map[string]aggregator.Aggregator
	defaultMode string
	server      *http.Server
	logger      *logging.Logger
	wsServer    *WebSocketServer // Optional WebSocket server for streaming
}

// NewServer creates a new HTTP API server.
func NewServer(cfg Config, reader store.Reader, directory Directory, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if cfg.Mode == "" {
		cfg.Mode = aggregator.ModeMedian
	}

	aggs := make(map[string]aggregator.Aggregator, 3)
	for _, mode := range []string{aggregator.ModeMedian, aggregator.ModeAverage, aggregator.ModeAdaptive} {
		agg, err := aggregator.NewAggregatorWithConfig(mode, logger, cfg.Adaptive)
		if err != nil {
			return nil, err
		}
		aggs[mode] = agg
	}
	if _, ok := aggs[cfg.Mode]; !ok {
		return nil, fmt.Errorf("%w: %s", aggregator.ErrUnknownMode, cfg.Mode)
	}

	return &Server{
		addr:        cfg.Addr,
		reader:      reader,
		directory:   directory,
		weights:     cfg.Weights,
		aggregators: aggs,
		defaultMode: cfg.Mode,
		logger:      logger,
	}, nil
}

// SetWebSocketServer mounts the streaming endpoint on /ws.
func (s *Server) SetWebSocketServer(ws *WebSocketServer) {
	s.wsServer = ws
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID())
	r.Use(s.recoverer())
	r.Use(s.accessLog())

	r.Get("/health", s.handleHealth)
	r.Get("/v1/exchanges", s.handleExchanges)
	r.Route("/v1/pairs/{pair}", func(r chi.Router) {
		r.Get("/prices", s.handlePrices)
		r.Get("/prices/{exchange}", s.handlePrice)
		r.Get("/aggregate", s.handleAggregate)
	})
	if s.wsServer != nil {
		r.Get("/ws", s.wsServer.HandleWebSocket)
	}
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleExchanges(w http.ResponseWriter, _ *http.Request) {
	infos := []exchanges.Info{}
	if s.directory != nil {
		infos = append(infos, s.directory.Describe()...)
	}
	s.sendJSON(w, http.StatusOK, infos)
}

// priceView is one exchange's entry as served over HTTP.
type priceView struct {
	Pair      pricing.TokenPair  `json:"pair"`
	Exchange  pricing.ExchangeID `json:"exchange"`
	Price     string             `json:"price"`
	Timestamp time.Time          `json:"timestamp"`
	UpdatedAt uint64             `json:"updated_at"`
}

func newPriceView(pair pricing.TokenPair, id pricing.ExchangeID, e pricing.PriceEntry) priceView {
	return priceView{
		Pair:      pair,
		Exchange:  id,
		Price:     e.Price.StringFixed(pricing.PriceScale),
		Timestamp: e.Timestamp.UTC(),
		UpdatedAt: e.UpdatedAt,
	}
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairParam(w, r)
	if !ok {
		return
	}

	entries, err := s.reader.GetAll(r.Context(), pair)
	if err != nil {
		s.logger.Error("Failed to read prices", "pair", pair, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read prices")
		return
	}

	views := make([]priceView, 0, len(entries))
	for id, e := range entries {
		views = append(views, newPriceView(pair, id, e))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Exchange < views[j].Exchange })

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"pair":   pair,
		"prices": views,
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairParam(w, r)
	if !ok {
		return
	}
	id, err := pricing.ParseExchangeID(chi.URLParam(r, "exchange"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidExchange, err).Error())
		return
	}

	entry, err := s.reader.Get(r.Context(), pair, id)
	if err != nil {
		s.logger.Error("Failed to read price", "pair", pair, "exchange", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read price")
		return
	}
	if entry == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s on exchange %d", ErrPriceNotFound, pair, id))
		return
	}

	s.sendJSON(w, http.StatusOK, newPriceView(pair, id, *entry))
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairParam(w, r)
	if !ok {
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = s.defaultMode
	}
	agg, ok := s.aggregators[mode]
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %s", aggregator.ErrUnknownMode, mode))
		return
	}

	entries, err := s.reader.GetAll(r.Context(), pair)
	if err != nil {
		s.logger.Error("Failed to read prices", "pair", pair, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read prices")
		return
	}

	result, err := agg.Aggregate(pair, entries, s.weights)
	if errors.Is(err, aggregator.ErrNoPrices) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("Failed to aggregate prices", "pair", pair, "mode", mode, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to aggregate prices")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"pair":      result.Pair,
		"mode":      result.Mode,
		"price":     result.Price.StringFixed(pricing.PriceScale),
		"timestamp": result.Timestamp.UTC(),
		"used":      result.Used,
		"rejected":  result.Rejected,
	})
}

func (s *Server) pairParam(w http.ResponseWriter, r *http.Request) (pricing.TokenPair, bool) {
	pair, err := pricing.ParseTokenPair(chi.URLParam(r, "pair"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return pair, true
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, map[string]string{"error": msg})
}

func requestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := r.Header.Get("X-Request-ID")
			if rid == "" {
				rid = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", rid)
			ctx := context.WithValue(r.Context(), requestIDKey, rid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					rid, _ := r.Context().Value(requestIDKey).(string)
					s.logger.Error("Panic recovered", "panic", fmt.Sprint(rec), "request_id", rid)
					s.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// accessLog logs and meters every request except the WebSocket upgrade, whose
// hijacked writer must not be wrapped.
func (s *Server) accessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(sr, r)
			if sr.status == 0 {
				sr.status = http.StatusOK
			}

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.RecordHTTPRequest(route, strconv.Itoa(sr.status), time.Since(start))

			rid, _ := r.Context().Value(requestIDKey).(string)
			s.logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sr.status,
				"request_id", rid,
				"duration", time.Since(start))
		})
	}
}
