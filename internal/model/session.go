// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package model

import "time"

// SessionMode selects the observation shape delivered to the client.
type SessionMode string

const (
	// ModeAgent delivers rendered perspective frames.
	ModeAgent SessionMode = "agent"

	// ModeHuman additionally delivers the full equirectangular panorama URL.
	ModeHuman SessionMode = "human"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusTimeout   SessionStatus = "timeout"
	StatusStopped   SessionStatus = "stopped"
	StatusError     SessionStatus = "error"
)

// Terminal reports whether the status is a write-once terminal state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusTimeout, StatusStopped, StatusError:
		return true
	default:
		return false
	}
}

// SessionState is the agent's pose within the panorama graph.
type SessionState struct {
	PanoID      string  `json:"pano_id"`
	Heading     float64 `json:"heading"` // [0, 360)
	Pitch       float64 `json:"pitch"`   // [-85, 85]
	FOV         float64 `json:"fov"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	CaptureDate string  `json:"capture_date,omitempty"`
}

// Session is one agent's run of one task.
type Session struct {
	SessionID string      `json:"session_id"`
	AgentID   string      `json:"agent_id"`
	TaskID    string      `json:"task_id"`
	Mode      SessionMode `json:"mode"`

	Status SessionStatus `json:"status"`
	State  SessionState  `json:"state"`

	// StepCount increments on every applied action, move or rotation.
	StepCount int `json:"step_count"`

	StartTime time.Time `json:"start_time"`

	// Trajectory is the append-only list of visited pano IDs with
	// consecutive duplicates suppressed.
	Trajectory []string `json:"trajectory"`

	DoneReason  string `json:"done_reason,omitempty"`
	AgentAnswer string `json:"agent_answer,omitempty"`
}

// Elapsed returns the wall-clock duration since session start.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.StartTime)
}

// Clone returns a deep copy. Stores hand out clones so callers can read
// session state without holding the session lock.
func (s *Session) Clone() *Session {
	c := *s
	c.Trajectory = append([]string(nil), s.Trajectory...)
	return &c
}
