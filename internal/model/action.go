// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package model

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// ActionKind discriminates the action union.
type ActionKind string

const (
	ActionMove     ActionKind = "move"
	ActionRotation ActionKind = "rotation"
	ActionStop     ActionKind = "stop"
)

// Action is the tagged union of agent actions. Exactly one of Move,
// Rotation, Stop is non-nil, matching Kind.
type Action struct {
	Kind     ActionKind
	Move     *MoveAction
	Rotation *RotationAction
	Stop     *StopAction
}

// MoveAction advances to a neighbor by its 1-based move ID.
type MoveAction struct {
	MoveID int `json:"move_id"`
}

// RotationAction adjusts the view in place. Nil fields are left unchanged.
// FOV is accepted for schema compatibility but pinned to the default.
type RotationAction struct {
	Heading *float64 `json:"heading,omitempty"`
	Pitch   *float64 `json:"pitch,omitempty"`
	FOV     *float64 `json:"fov,omitempty"`
}

// StopAction terminates the session with an optional answer.
type StopAction struct {
	Answer string `json:"answer,omitempty"`
}

// actionEnvelope is the wire shape of an action request.
type actionEnvelope struct {
	Type    string   `json:"type"`
	MoveID  *int     `json:"move_id,omitempty"`
	Heading *float64 `json:"heading,omitempty"`
	Pitch   *float64 `json:"pitch,omitempty"`
	FOV     *float64 `json:"fov,omitempty"`
	Answer  string   `json:"answer,omitempty"`
}

// ParseAction decodes the wire form of an action into the tagged union.
func ParseAction(data []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Action{}, fmt.Errorf("malformed action: %w", err)
	}

	switch ActionKind(env.Type) {
	case ActionMove:
		if env.MoveID == nil {
			return Action{}, fmt.Errorf("move action requires move_id")
		}
		return Action{Kind: ActionMove, Move: &MoveAction{MoveID: *env.MoveID}}, nil
	case ActionRotation:
		return Action{Kind: ActionRotation, Rotation: &RotationAction{
			Heading: env.Heading,
			Pitch:   env.Pitch,
			FOV:     env.FOV,
		}}, nil
	case ActionStop:
		return Action{Kind: ActionStop, Stop: &StopAction{Answer: env.Answer}}, nil
	default:
		return Action{}, fmt.Errorf("unknown action type %q", env.Type)
	}
}
