// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/panobench/panobench/internal/model"
	"github.com/panobench/panobench/internal/preload"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List()
	if err != nil {
		writeError(w, r, err)
		return
	}

	type taskInfo struct {
		TaskID      string `json:"task_id"`
		Description string `json:"description"`
	}
	infos := make([]taskInfo, len(tasks))
	for i, t := range tasks {
		infos[i] = taskInfo{TaskID: t.TaskID, Description: t.Description}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": infos})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// preloadRequest optionally overrides the configured zoom.
type preloadRequest struct {
	ZoomLevel *int `json:"zoom_level,omitempty"`
}

func (s *Server) preloadZoom(r *http.Request) int {
	var req preloadRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ZoomLevel != nil && *req.ZoomLevel >= 0 && *req.ZoomLevel <= 5 {
		return *req.ZoomLevel
	}
	return s.zoom
}

// taskWhitelist resolves a task to its geofence name and members. Preload
// records are keyed by the geofence, so a task preload and a direct geofence
// preload of the same fence share one run.
func (s *Server) taskWhitelist(taskID string) (string, []string, error) {
	t, err := s.tasks.Get(taskID)
	if err != nil {
		return "", nil, err
	}
	if t.Geofence == "" {
		return "", nil, model.NewError(model.ErrInvalidArgument, "task %s has no geofence to preload", taskID)
	}
	if !s.fences.Exists(t.Geofence) {
		return "", nil, model.NewError(model.ErrNotFound, "geofence %s not found", t.Geofence)
	}
	return t.Geofence, s.fences.Members(t.Geofence), nil
}

func (s *Server) handlePreloadTask(w http.ResponseWriter, r *http.Request) {
	zoom := s.preloadZoom(r)
	name, members, err := s.taskWhitelist(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	progress := s.preloads.Start(r.Context(), name, members, zoom)
	writeJSON(w, http.StatusOK, progressResponse(name, progress))
}

func (s *Server) handlePreloadTaskStatus(w http.ResponseWriter, r *http.Request) {
	name, _, err := s.taskWhitelist(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse(name, s.preloads.Progress(name)))
}

func (s *Server) handlePreloadGeofence(w http.ResponseWriter, r *http.Request) {
	zoom := s.preloadZoom(r)
	name := chi.URLParam(r, "name")
	if !s.fences.Exists(name) {
		writeError(w, r, model.NewError(model.ErrNotFound, "geofence %s not found", name))
		return
	}

	progress := s.preloads.Start(r.Context(), name, s.fences.Members(name), zoom)
	writeJSON(w, http.StatusOK, progressResponse(name, progress))
}

func (s *Server) handlePreloadGeofenceStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.fences.Exists(name) {
		writeError(w, r, model.NewError(model.ErrNotFound, "geofence %s not found", name))
		return
	}
	writeJSON(w, http.StatusOK, progressResponse(name, s.preloads.Progress(name)))
}

func progressResponse(name string, p preload.Progress) map[string]any {
	return map[string]any{
		"name":       name,
		"status":     p.Status,
		"done":       p.Done,
		"total":      p.Total,
		"errors":     p.Errors,
		"percentage": p.Percentage,
	}
}
