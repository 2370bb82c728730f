package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/freedive-ai/coach/pkg/divelogs"
	"github.com/freedive-ai/coach/pkg/models"
)

func (s *Server) handleSaveDiveLog(w http.ResponseWriter, r *http.Request) {
	var d models.DiveLog
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&d); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := divelogs.Validate(&d); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.diveLogs.Save(r.Context(), &d); err != nil {
		log.Error().Err(err).Str("user_id", d.UserID).Msg("save dive log")
		writeJSONError(w, http.StatusInternalServerError, "failed to save dive log")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDiveLogs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}
	limit := s.fetchLimit()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	logs, err := s.diveLogs.Recent(r.Context(), userID, limit)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("list dive logs")
		writeJSONError(w, http.StatusInternalServerError, "failed to load dive logs")
		return
	}
	if logs == nil {
		logs = []models.DiveLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"diveLogs": logs})
}

func (s *Server) handleGetDiveLog(w http.ResponseWriter, r *http.Request) {
	d, err := s.diveLogs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, divelogs.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "dive log not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("get dive log")
		writeJSONError(w, http.StatusInternalServerError, "failed to load dive log")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
