package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freedive-ai/coach/pkg/models"
)

const maxTimeRangeHours = 24 * 90

// parseTimeRange reads the timeRange query parameter as a number of hours.
func parseTimeRange(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("timeRange")
	if raw == "" {
		return 24 * time.Hour, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return 0, fmt.Errorf("timeRange must be a positive number of hours")
	}
	if hours > maxTimeRangeHours {
		hours = maxTimeRangeHours
	}
	return time.Duration(hours) * time.Hour, nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	window, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.monitor.Dashboard(r.Context(), window)
	if err != nil {
		log.Error().Err(err).Msg("build dashboard")
		writeJSONError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUsageAnalytics(w http.ResponseWriter, r *http.Request) {
	window, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	ua, err := s.monitor.UsageAnalytics(r.Context(), window)
	if err != nil {
		log.Error().Err(err).Msg("build usage analytics")
		writeJSONError(w, http.StatusInternalServerError, "failed to load usage analytics")
		return
	}
	writeJSON(w, http.StatusOK, ua)
}

func (s *Server) handleErrorTracking(w http.ResponseWriter, r *http.Request) {
	window, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	severity := models.Severity(r.URL.Query().Get("severity"))
	if severity != "" && !severity.Valid() {
		writeJSONError(w, http.StatusBadRequest, "severity must be one of low, medium, high, critical")
		return
	}
	et, err := s.monitor.ErrorTracking(r.Context(), window, severity, r.URL.Query().Get("endpoint"))
	if err != nil {
		log.Error().Err(err).Msg("build error tracking")
		writeJSONError(w, http.StatusInternalServerError, "failed to load error tracking")
		return
	}
	writeJSON(w, http.StatusOK, et)
}

func (s *Server) handleCircuits(w http.ResponseWriter, r *http.Request) {
	states, err := s.monitor.Circuits(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list circuits")
		writeJSONError(w, http.StatusInternalServerError, "failed to list circuits")
		return
	}
	if states == nil {
		states = []models.CircuitState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"circuits": states})
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeJSONError(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if err := s.exec.Breakers().Reset(r.Context(), endpoint); err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("reset circuit")
		writeJSONError(w, http.StatusInternalServerError, "failed to reset circuit")
		return
	}
	log.Info().Str("endpoint", endpoint).Msg("circuit reset")
	writeJSON(w, http.StatusOK, map[string]string{"endpoint": endpoint, "state": string(models.BreakerClosed)})
}
