// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/panobench/panobench/internal/model"
	"github.com/panobench/panobench/internal/validation"
)

type createSessionRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
	TaskID  string `json:"task_id" validate:"required"`
	Mode    string `json:"mode" validate:"omitempty,oneof=agent human"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, model.WrapError(model.ErrInvalidArgument, err, "malformed request body"))
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		writeError(w, r, model.WrapError(model.ErrInvalidArgument, verr, "invalid request"))
		return
	}
	mode := model.SessionMode(req.Mode)
	if mode == "" {
		mode = model.ModeAgent
	}

	sess, _, err := s.sessions.Create(r.Context(), req.AgentID, req.TaskID, mode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	obs, err := s.executor.StartSession(r.Context(), sess.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sess.SessionID,
		"observation": obs,
	})
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	obs, err := s.executor.Observe(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   sess.SessionID,
		"status":       sess.Status,
		"step_count":   sess.StepCount,
		"elapsed_time": sess.Elapsed().Seconds(),
		"observation":  obs,
	})
}

// actionRequest is the action envelope plus the optional timing telemetry
// harnesses attach for offline analysis.
type actionRequest struct {
	AgentVLMDurationSeconds   *float64 `json:"agent_vlm_duration_seconds,omitempty"`
	AgentTotalDurationSeconds *float64 `json:"agent_total_duration_seconds,omitempty"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, r, model.WrapError(model.ErrInvalidArgument, err, "reading request body"))
		return
	}

	action, err := model.ParseAction(body)
	if err != nil {
		writeError(w, r, model.WrapError(model.ErrInvalidArgument, err, "parsing action"))
		return
	}

	var timing actionRequest
	_ = json.Unmarshal(body, &timing)
	telemetry := make(map[string]float64)
	if timing.AgentVLMDurationSeconds != nil {
		telemetry["agent_vlm_duration_seconds"] = *timing.AgentVLMDurationSeconds
	}
	if timing.AgentTotalDurationSeconds != nil {
		telemetry["agent_total_duration_seconds"] = *timing.AgentTotalDurationSeconds
	}

	res, err := s.executor.Execute(r.Context(), sessionID, action, telemetry)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := map[string]any{
		"success":     true,
		"observation": res.Observation,
		"done":        res.Done,
	}
	if res.DoneReason != "" {
		resp["done_reason"] = res.DoneReason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.executor.EndSession(r.Context(), sessionID, "stopped")
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"session_id":   sess.SessionID,
		"status":       sess.Status,
		"done_reason":  sess.DoneReason,
		"total_steps":  sess.StepCount,
		"elapsed_time": sess.Elapsed().Seconds(),
		"log_path":     s.traj.LogPath(sess.SessionID),
	})
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.sessions.Pause(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": model.StatusPaused})
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.sessions.Resume(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	obs, err := s.executor.Observe(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"status":      sess.Status,
		"observation": obs,
	})
}
