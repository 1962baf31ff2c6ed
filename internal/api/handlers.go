// Package api provides the operational HTTP handlers.
package api

import (
	"log/slog"
	"net/http"

	"github.com/telepharma-bw/intakebot/internal/models"
)

// healthHandler reports liveness and store reachability.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.store.Ping(); err != nil {
		slog.Error("Server.healthHandler: store unreachable", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Store unreachable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// profilesHandler lists registered profiles for pharmacist review.
func (s *Server) profilesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	profiles, err := s.store.ListProfiles()
	if err != nil {
		slog.Error("Server.profilesHandler: failed to list profiles", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list profiles"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(profiles))
}
