// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/panobench/panobench/internal/model"
)

// SaveSession persists a session snapshot. The full session is stored as a
// JSON document; agent/task/status columns exist for listing queries.
func (c *Cache) SaveSession(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", session.SessionID, err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(session_id, agent_id, task_id, status, data, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		session.SessionID, session.AgentID, session.TaskID,
		string(session.Status), string(data))
	if err != nil {
		return fmt.Errorf("saving session %s: %w", session.SessionID, err)
	}
	return nil
}

// LoadSession restores a session snapshot, or returns ErrNotCached.
func (c *Cache) LoadSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var data string
	err := c.db.QueryRowContext(ctx,
		"SELECT data FROM sessions WHERE session_id = ?", sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	var session model.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return &session, nil
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

// ListSessions returns summaries of all persisted sessions, newest first.
func (c *Cache) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT session_id, agent_id, task_id, status, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var summaries []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.SessionID, &s.AgentID, &s.TaskID, &s.Status, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return summaries, nil
}
