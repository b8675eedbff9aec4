// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package model defines the shared domain types of the evaluation runtime:
// panorama metadata, tasks, sessions, actions, observations, and the typed
// error taxonomy used across the HTTP boundary.
package model

// Link is a provider-declared navigable edge to an adjacent panorama.
// Heading is true-north referenced (0 = north, clockwise).
type Link struct {
	PanoID  string  `json:"pano_id"`
	Heading float64 `json:"heading"`
}

// PanoramaMetadata describes a panorama capture point and its neighbor graph.
type PanoramaMetadata struct {
	PanoID      string  `json:"pano_id"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	CaptureDate string  `json:"capture_date,omitempty"` // YYYY-MM, may be empty

	// CenterHeading is the compass direction mapped to the left edge of the
	// equirectangular image. Rendering aligns headings against it.
	CenterHeading float64 `json:"center_heading"`

	Links  []Link `json:"links"`
	Source string `json:"source,omitempty"`
}

// Location is the denormalized coordinate row used for batch distance lookups.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// AvailableMove is one enumerated step-forward option presented to the agent.
// IDs are 1-based and assigned after direction-priority sorting; the order is
// part of the agent contract.
type AvailableMove struct {
	ID        int     `json:"id"`
	Direction string  `json:"direction"`
	Distance  float64 `json:"distance,omitempty"`
	Heading   float64 `json:"heading"`

	// PanoID is the move target. Not serialized to agents; the executor
	// resolves moves by ID.
	PanoID string `json:"-"`
}

// Observation is the agent-visible snapshot returned after session creation
// and every action. Field names are part of the HTTP contract.
type Observation struct {
	TaskDescription string          `json:"task_description"`
	CurrentImage    *string         `json:"current_image"`
	PanoramaURL     *string         `json:"panorama_url,omitempty"` // human mode only
	Heading         float64         `json:"heading"`
	Pitch           float64         `json:"pitch"`
	FOV             float64         `json:"fov"`
	CenterHeading   float64         `json:"center_heading"`
	AvailableMoves  []AvailableMove `json:"available_moves"`
}
