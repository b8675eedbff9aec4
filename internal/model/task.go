// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package model

// Task is a declarative navigation assignment produced by the external task
// generator. The runtime never mutates tasks.
type Task struct {
	TaskID      string `json:"task_id" validate:"required"`
	Description string `json:"description"`

	SpawnPanoID  string  `json:"spawn_pano_id" validate:"required"`
	SpawnHeading float64 `json:"spawn_heading"`

	// Geofence names the whitelist constraining this task. Empty means
	// unconstrained.
	Geofence string `json:"geofence,omitempty"`

	// TargetPanoIDs marks ground truth for post-hoc scoring. Reaching a
	// target never auto-terminates a session; the agent must stop itself.
	TargetPanoIDs []string `json:"target_pano_ids,omitempty"`

	MaxSteps       int     `json:"max_steps,omitempty"`
	MaxTimeSeconds float64 `json:"max_time_seconds,omitempty"`

	// Answer is the ground-truth answer for question-style tasks, used by
	// offline scoring only.
	Answer *string `json:"answer,omitempty"`
}
