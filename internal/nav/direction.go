// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package nav

import (
	"fmt"
	"math"
	"sort"

	"github.com/panobench/panobench/internal/model"
)

// cardinalThreshold is the half-width in degrees of the front/right/back/left
// bands. Relative angles within the band snap to the bare cardinal label.
const cardinalThreshold = 10

// RelativeAngle returns the link heading as seen from the agent, in [0, 360).
func RelativeAngle(linkHeading, agentHeading float64) float64 {
	return math.Mod(linkHeading-agentHeading+360, 360)
}

// DirectionLabel converts a relative angle to its human-readable label.
//
// Cardinals use a ±10° band: front, right, back, left. Intermediate angles
// carry a rounded degree offset: "front-right 35°", "right-back 20°",
// "left-back 40°", "front-left 15°". The offset is always measured toward
// the nearer cardinal so agents read it as "this much off that direction".
func DirectionLabel(relativeAngle float64) string {
	angle := math.Mod(relativeAngle, 360)
	if angle < 0 {
		angle += 360
	}

	switch {
	case angle <= cardinalThreshold || angle >= 360-cardinalThreshold:
		return "front"
	case angle >= 90-cardinalThreshold && angle <= 90+cardinalThreshold:
		return "right"
	case angle >= 180-cardinalThreshold && angle <= 180+cardinalThreshold:
		return "back"
	case angle >= 270-cardinalThreshold && angle <= 270+cardinalThreshold:
		return "left"
	case angle < 90:
		return fmt.Sprintf("front-right %.0f°", angle)
	case angle < 180:
		return fmt.Sprintf("right-back %.0f°", angle-90)
	case angle < 270:
		return fmt.Sprintf("left-back %.0f°", 270-angle)
	default:
		return fmt.Sprintf("front-left %.0f°", 360-angle)
	}
}

// directionPriority maps a relative angle to its clockwise sort key: front
// (0) first, then front-right, right, right-back, back, left-back, left,
// front-left. Angles inside a cardinal band collapse to the cardinal's key
// so near-front links at 355° sort ahead of a front-right link at 20°.
func directionPriority(relativeAngle float64) float64 {
	angle := math.Mod(relativeAngle, 360)
	if angle < 0 {
		angle += 360
	}

	switch {
	case angle <= cardinalThreshold || angle >= 360-cardinalThreshold:
		return 0
	case angle >= 90-cardinalThreshold && angle <= 90+cardinalThreshold:
		return 90
	case angle >= 180-cardinalThreshold && angle <= 180+cardinalThreshold:
		return 180
	case angle >= 270-cardinalThreshold && angle <= 270+cardinalThreshold:
		return 270
	default:
		return angle
	}
}

// BuildMoves produces the ordered move list for a set of links given the
// agent's heading and resolved neighbor coordinates. Moves are sorted front
// first, then clockwise; IDs are assigned 1..N after sorting. The ordering
// is part of the agent contract.
//
// Distances are filled from locations when both endpoints are known and
// rounded to 0.1 m; unresolved neighbors get distance 0.
func BuildMoves(links []model.Link, agentHeading float64, current model.Location, locations map[string]model.Location) []model.AvailableMove {
	type scored struct {
		move     model.AvailableMove
		priority float64
	}
	entries := make([]scored, 0, len(links))

	for _, link := range links {
		relative := RelativeAngle(link.Heading, agentHeading)
		move := model.AvailableMove{
			PanoID:    link.PanoID,
			Direction: DirectionLabel(relative),
			Heading:   link.Heading,
		}
		if target, ok := locations[link.PanoID]; ok {
			d := Haversine(current.Lat, current.Lng, target.Lat, target.Lng)
			move.Distance = math.Round(d*10) / 10
		}
		entries = append(entries, scored{move: move, priority: directionPriority(relative)})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})

	moves := make([]model.AvailableMove, len(entries))
	for i, e := range entries {
		e.move.ID = i + 1
		moves[i] = e.move
	}
	return moves
}
