package web

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/storage"
)

// maxConfigBody bounds PUT /safety/config payloads.
const maxConfigBody = 1 << 16

// handleSafetyStatus evaluates the checks against the stored position and status, without latching.
func (s *Server) handleSafetyStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pos, err := s.state.GetPosition(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		pos = &domain.Position{Side: domain.PositionSideFlat}
	case err != nil:
		s.fail(w, "read position", err)
		return
	}

	st, err := s.state.GetSystemStatus(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		st = &domain.SystemStatus{}
	case err != nil:
		s.fail(w, "read system status", err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.safety.Status(pos, st.DailyPnL, st.BridgeConnected))
}

func (s *Server) handleClearFence(w http.ResponseWriter, r *http.Request) {
	operator := r.URL.Query().Get("operator")
	if operator == "" {
		http.Error(w, "operator is required", http.StatusBadRequest)
		return
	}

	if err := s.safety.ClearFence(r.Context(), operator); err != nil {
		s.fail(w, "clear fence", err)
		return
	}
	s.logger.Warn("fence cleared over http", zap.String("operator", operator), zap.String("remote", r.RemoteAddr))
	s.writeJSON(w, http.StatusOK, s.safety.Fence())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.safety.Config())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.SafetyConfig
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		http.Error(w, "malformed safety config: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.safety.UpdateConfig(r.Context(), cfg); err != nil {
		s.fail(w, "update safety config", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.safety.Config())
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	t, ok := s.safety.Tracking(r.PathValue("id"))
	if !ok {
		http.Error(w, "order not tracked", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, _ *http.Request) {
	recs := s.recs.ActiveRecommendations()
	if recs == nil {
		recs = []domain.TradeRecommendation{}
	}
	s.writeJSON(w, http.StatusOK, recs)
}

// fail answers 409 when the store cannot persist safety state, 500 otherwise.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotDurable) {
		http.Error(w, op+": store is not durable", http.StatusConflict)
		return
	}
	s.logger.Error("operator request failed", zap.String("op", op), zap.Error(err))
	http.Error(w, op+" failed", http.StatusInternalServerError)
}
