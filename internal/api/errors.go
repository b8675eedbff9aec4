// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/model"
)

// errorPayload is the wire shape of a typed error.
type errorPayload struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

// statusForKind maps the error taxonomy onto HTTP status codes.
func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrInvalidState, model.ErrInvalidArgument, model.ErrOutsideGeofence:
		return http.StatusBadRequest
	case model.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.WithComponent("api").Error().Err(err).Msg("encoding response")
	}
}

// writeError emits {success:false, error:{kind, message}} with the mapped
// status. Internal errors hide their cause from clients but log it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	msg := err.Error()
	if kind == model.ErrInternal {
		logging.Ctx(r.Context()).Error().Err(err).
			Str("path", r.URL.Path).
			Msg("internal error")
		msg = "internal error"
	}
	writeJSON(w, statusForKind(kind), map[string]any{
		"success": false,
		"error":   errorPayload{Kind: kind, Message: msg},
	})
}
