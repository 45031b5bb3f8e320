// Package web serves the process metrics, a health probe and the operator endpoints.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/storage"
)

const shutdownTimeout = 5 * time.Second

type safetyController interface {
	Fence() domain.FenceState
	ClearFence(ctx context.Context, operator string) error
	Status(position *domain.Position, dailyPnL decimal.Decimal, bridgeConnected bool) domain.SafetyStatus
	Config() domain.SafetyConfig
	UpdateConfig(ctx context.Context, cfg domain.SafetyConfig) error
	Tracking(orderID string) (domain.OrderTracking, bool)
}

type stateReader interface {
	GetSystemStatus(ctx context.Context) (*domain.SystemStatus, error)
	GetPosition(ctx context.Context) (*domain.Position, error)
}

type recommendationReader interface {
	ActiveRecommendations() []domain.TradeRecommendation
}

// Health is the /healthz body.
type Health struct {
	Fence           domain.FenceState `json:"fence"`
	BridgeConnected bool              `json:"bridge_connected"`
	AutoTrading     bool              `json:"auto_trading_enabled"`
	DailyPnL        string            `json:"daily_pnl"`
}

// Server exposes /metrics, /healthz and the operator endpoints.
type Server struct {
	Addr     string
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	safety   safetyController
	state    stateReader
	recs     recommendationReader
}

// NewServer creates a new web server instance.
func NewServer(logger *zap.Logger, addr string, gatherer prometheus.Gatherer, safety safetyController,
	state stateReader, recs recommendationReader) *Server {
	return &Server{Addr: addr, logger: logger, gatherer: gatherer, safety: safety, state: state, recs: recs}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /safety/status", s.handleSafetyStatus)
	mux.HandleFunc("POST /safety/fence/clear", s.handleClearFence)
	mux.HandleFunc("GET /safety/config", s.handleGetConfig)
	mux.HandleFunc("PUT /safety/config", s.handleUpdateConfig)
	mux.HandleFunc("GET /orders/{id}", s.handleOrder)
	mux.HandleFunc("GET /recommendations", s.handleRecommendations)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown error", zap.Error(err))
		}
	}()

	s.logger.Info("http server started", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// handleHealth answers 503 while the fence is active so probes surface a halted process.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{Fence: s.safety.Fence(), DailyPnL: "0"}

	st, err := s.state.GetSystemStatus(r.Context())
	switch {
	case err == nil:
		h.BridgeConnected = st.BridgeConnected
		h.AutoTrading = st.AutoTradingEnabled
		h.DailyPnL = st.DailyPnL.String()
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Error("health probe failed to read system status", zap.Error(err))
		http.Error(w, "system status unavailable", http.StatusServiceUnavailable)
		return
	}

	code := http.StatusOK
	if h.Fence.Active {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, h)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}
