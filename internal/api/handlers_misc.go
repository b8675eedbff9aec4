// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/panobench/panobench/internal/model"
)

func (s *Server) handleListGeofences(w http.ResponseWriter, r *http.Request) {
	type fenceInfo struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	names := s.fences.Names()
	fences := make([]fenceInfo, len(names))
	for i, name := range names {
		fences[i] = fenceInfo{Name: name, Count: len(s.fences.Members(name))}
	}
	writeJSON(w, http.StatusOK, map[string]any{"geofences": fences})
}

func (s *Server) handleReloadGeofences(w http.ResponseWriter, r *http.Request) {
	if err := s.fences.Reload(); err != nil {
		writeError(w, r, model.WrapError(model.ErrInternal, err, "reloading geofence config"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"geofences": len(s.fences.Names()),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) handleSessionLog(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	entries, err := s.traj.ReadSessionLog(sessionID)
	if err != nil {
		writeError(w, r, model.WrapError(model.ErrInternal, err, "reading session log"))
		return
	}
	if len(entries) == 0 {
		writeError(w, r, model.NewError(model.ErrNotFound, "no log for session %s", sessionID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"entries":    entries,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
