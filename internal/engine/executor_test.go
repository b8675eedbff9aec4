// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/panobench/panobench/internal/cache"
	"github.com/panobench/panobench/internal/geofence"
	"github.com/panobench/panobench/internal/model"
	"github.com/panobench/panobench/internal/render"
	"github.com/panobench/panobench/internal/session"
	"github.com/panobench/panobench/internal/task"
	"github.com/panobench/panobench/internal/trajectory"
)

// fakeRepo serves a fixed panorama graph from memory.
type fakeRepo struct {
	graph map[string]*model.PanoramaMetadata
	fail  map[string]bool
}

func (f *fakeRepo) GetMetadata(ctx context.Context, panoID string) (*model.PanoramaMetadata, error) {
	if f.fail[panoID] {
		return nil, fmt.Errorf("metadata for %s unavailable", panoID)
	}
	meta, ok := f.graph[panoID]
	if !ok {
		return nil, fmt.Errorf("unknown pano %s", panoID)
	}
	cp := *meta
	return &cp, nil
}

func (f *fakeRepo) GetImage(ctx context.Context, panoID string, zoom int) (string, error) {
	if f.fail[panoID] {
		return "", fmt.Errorf("image for %s unavailable", panoID)
	}
	return filepath.Join("panoramas", cache.ImageFileName(panoID, zoom)), nil
}

func (f *fakeRepo) Locations(ctx context.Context, panoIDs []string) (map[string]model.Location, error) {
	out := make(map[string]model.Location, len(panoIDs))
	for _, id := range panoIDs {
		if m, ok := f.graph[id]; ok {
			out[id] = model.Location{Lat: m.Lat, Lng: m.Lng}
		}
	}
	return out, nil
}

// fakeRenderer writes a marker file instead of projecting pixels.
type fakeRenderer struct {
	fail bool
}

func (f *fakeRenderer) RenderFile(srcPath string, view render.View, dstPath string) error {
	if f.fail {
		return fmt.Errorf("render failed")
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dstPath, []byte("frame"), 0o644)
}

type fixture struct {
	executor *Executor
	sessions *session.Store
	traj     *trajectory.Logger
	repo     *fakeRepo
	renderer *fakeRenderer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	c, err := cache.Open(filepath.Join(dir, "cache.db"), filepath.Join(dir, "panoramas"))
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	fencePath := filepath.Join(dir, "geofence.json")
	fenceJSON := `{"g1": ["p0", "p1", "p2"], "solo": ["p0"]}`
	if err := os.WriteFile(fencePath, []byte(fenceJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	fences, err := geofence.New(fencePath)
	if err != nil {
		t.Fatalf("geofence: %v", err)
	}

	tasksDir := filepath.Join(dir, "tasks")
	if err := os.MkdirAll(tasksDir, 0o755); err != nil {
		t.Fatal(err)
	}
	taskFiles := map[string]string{
		"t1": `{"description": "walk east", "spawn_point": "p0", "spawn_heading": 0, "geofence": "g1", "max_steps": 10}`,
		"t2": `{"description": "stay put", "spawn_point": "p0", "spawn_heading": 0, "geofence": "solo"}`,
		"t3": `{"description": "one step", "spawn_point": "p0", "spawn_heading": 0, "geofence": "g1", "max_steps": 1}`,
	}
	for id, body := range taskFiles {
		if err := os.WriteFile(filepath.Join(tasksDir, id+".json"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	traj, err := trajectory.NewLogger(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("trajectory logger: %v", err)
	}
	t.Cleanup(func() { traj.Close() })

	repo := &fakeRepo{
		graph: map[string]*model.PanoramaMetadata{
			"p0": {
				PanoID: "p0", Lat: 40.0, Lng: -74.0, CaptureDate: "2024-01", CenterHeading: 15,
				Links: []model.Link{{PanoID: "p1", Heading: 90}, {PanoID: "p2", Heading: 180}},
			},
			"p1": {
				PanoID: "p1", Lat: 40.0, Lng: -73.999, CaptureDate: "2024-02", CenterHeading: 80,
				Links: []model.Link{{PanoID: "p0", Heading: 270}},
			},
			"p2": {
				PanoID: "p2", Lat: 39.999, Lng: -74.0, CaptureDate: "2024-03", CenterHeading: 170,
				Links: []model.Link{{PanoID: "p0", Heading: 0}},
			},
		},
		fail: make(map[string]bool),
	}

	sessions := session.NewStore(c, task.NewStore(tasksDir), 0, 90, 0, 0)
	renderer := &fakeRenderer{}
	frames := render.NewFrameStore(filepath.Join(dir, "temp_images"))
	executor := NewExecutor(sessions, repo, fences, renderer, frames, traj, 2)

	return &fixture{executor: executor, sessions: sessions, traj: traj, repo: repo, renderer: renderer}
}

func (f *fixture) createSession(t *testing.T, taskID string, mode model.SessionMode) string {
	t.Helper()
	sess, _, err := f.sessions.Create(context.Background(), "agentA", taskID, mode)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if _, err := f.executor.StartSession(context.Background(), sess.SessionID); err != nil {
		t.Fatalf("starting session: %v", err)
	}
	return sess.SessionID
}

func moveAction(id int) model.Action {
	return model.Action{Kind: model.ActionMove, Move: &model.MoveAction{MoveID: id}}
}

func TestHappyPathMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t1", model.ModeAgent)

	obs, err := f.executor.Observe(ctx, id)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if len(obs.AvailableMoves) != 2 {
		t.Fatalf("moves = %+v, want 2", obs.AvailableMoves)
	}
	// Heading 0: the 90-degree link is "right", the 180-degree link "back";
	// right sorts first.
	if obs.AvailableMoves[0].ID != 1 || obs.AvailableMoves[0].Direction != "right" || obs.AvailableMoves[0].Heading != 90 {
		t.Errorf("move 1 = %+v", obs.AvailableMoves[0])
	}
	if obs.AvailableMoves[1].ID != 2 || obs.AvailableMoves[1].Direction != "back" {
		t.Errorf("move 2 = %+v", obs.AvailableMoves[1])
	}
	if obs.AvailableMoves[0].Distance <= 0 {
		t.Errorf("distance = %v, want > 0", obs.AvailableMoves[0].Distance)
	}

	res, err := f.executor.Execute(ctx, id, moveAction(1), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Done {
		t.Error("done after first move")
	}

	sess, err := f.sessions.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.State.PanoID != "p1" || sess.State.Heading != 90 {
		t.Errorf("state = %+v, want p1 facing 90", sess.State)
	}
	if sess.State.CaptureDate != "2024-02" || sess.State.Lng != -73.999 {
		t.Errorf("target fields not adopted: %+v", sess.State)
	}
	if sess.StepCount != 1 {
		t.Errorf("step count = %d", sess.StepCount)
	}
	if len(sess.Trajectory) != 2 || sess.Trajectory[1] != "p1" {
		t.Errorf("trajectory = %v", sess.Trajectory)
	}
	if res.Observation.CurrentImage == nil || !strings.Contains(*res.Observation.CurrentImage, "step_1.jpg") {
		t.Errorf("current_image = %v", res.Observation.CurrentImage)
	}
	if res.Observation.CenterHeading != 80 {
		t.Errorf("center_heading = %v, want p1's 80", res.Observation.CenterHeading)
	}
}

func TestGeofenceRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t2", model.ModeAgent)

	_, err := f.executor.Execute(ctx, id, moveAction(1), nil)
	if model.KindOf(err) != model.ErrOutsideGeofence {
		t.Errorf("err = %v, want outside_geofence", err)
	}

	sess, err := f.sessions.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.State.PanoID != "p0" || sess.StepCount != 0 {
		t.Errorf("session changed by rejected move: %+v", sess)
	}
}

func TestRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t1", model.ModeAgent)

	heading, pitch := 45.0, 10.0
	res, err := f.executor.Execute(ctx, id, model.Action{
		Kind:     model.ActionRotation,
		Rotation: &model.RotationAction{Heading: &heading, Pitch: &pitch},
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Done {
		t.Error("rotation terminated session")
	}

	sess, _ := f.sessions.Get(ctx, id)
	if sess.State.Heading != 45 || sess.State.Pitch != 10 || sess.State.FOV != 90 {
		t.Errorf("state = %+v", sess.State)
	}
	if sess.StepCount != 1 || len(sess.Trajectory) != 1 {
		t.Errorf("steps=%d trajectory=%v", sess.StepCount, sess.Trajectory)
	}
}

func TestRotationNormalization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t1", model.ModeAgent)

	heading, pitch, fov := -30.0, 120.0, 45.0
	if _, err := f.executor.Execute(ctx, id, model.Action{
		Kind:     model.ActionRotation,
		Rotation: &model.RotationAction{Heading: &heading, Pitch: &pitch, FOV: &fov},
	}, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	sess, _ := f.sessions.Get(ctx, id)
	if sess.State.Heading != 330 {
		t.Errorf("heading = %v, want 330", sess.State.Heading)
	}
	if sess.State.Pitch != 85 {
		t.Errorf("pitch = %v, want clamped to 85", sess.State.Pitch)
	}
	if sess.State.FOV != 90 {
		t.Errorf("fov = %v, want pinned to 90", sess.State.FOV)
	}
}

func TestStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t1", model.ModeAgent)

	res, err := f.executor.Execute(ctx, id, model.Action{
		Kind: model.ActionStop,
		Stop: &model.StopAction{Answer: "arrived"},
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Done || res.DoneReason != "stopped" {
		t.Errorf("done=%v reason=%q", res.Done, res.DoneReason)
	}

	sess, _ := f.sessions.Get(ctx, id)
	if sess.Status != model.StatusCompleted || sess.AgentAnswer != "arrived" {
		t.Errorf("session = %+v", sess)
	}

	entries, err := f.traj.ReadSessionLog(id)
	if err != nil {
		t.Fatal(err)
	}
	events := make([]string, len(entries))
	for i, e := range entries {
		events[i] = e["event"].(string)
	}
	want := []string{"session_start", "action", "session_end"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events = %v, want %v", events, want)
			break
		}
	}
}

func TestMaxStepsTermination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t3", model.ModeAgent)

	res, err := f.executor.Execute(ctx, id, moveAction(1), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Done || res.DoneReason != "max_steps" {
		t.Errorf("done=%v reason=%q, want max_steps", res.Done, res.DoneReason)
	}

	// The terminated session rejects all further actions.
	_, err = f.executor.Execute(ctx, id, moveAction(1), nil)
	if model.KindOf(err) != model.ErrInvalidState {
		t.Errorf("post-termination err = %v, want invalid_state", err)
	}

	// Exactly one session_end in the log.
	entries, err := f.traj.ReadSessionLog(id)
	if err != nil {
		t.Fatal(err)
	}
	ends := 0
	for _, e := range entries {
		if e["event"] == "session_end" {
			ends++
		}
	}
	if ends != 1 {
		t.Errorf("session_end events = %d, want 1", ends)
	}
}

func TestInvalidMoveID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t1", model.ModeAgent)

	_, err := f.executor.Execute(ctx, id, moveAction(99), nil)
	if model.KindOf(err) != model.ErrInvalidArgument {
		t.Errorf("err = %v, want invalid_argument", err)
	}

	sess, _ := f.sessions.Get(ctx, id)
	if sess.StepCount != 0 || len(sess.Trajectory) != 1 {
		t.Errorf("session changed by invalid move: %+v", sess)
	}
}

func TestRenderFailureStillAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t1", model.ModeAgent)

	f.renderer.fail = true
	res, err := f.executor.Execute(ctx, id, moveAction(1), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Observation.CurrentImage != nil {
		t.Errorf("current_image = %v, want null on render failure", *res.Observation.CurrentImage)
	}

	sess, _ := f.sessions.Get(ctx, id)
	if sess.State.PanoID != "p1" || sess.StepCount != 1 {
		t.Errorf("state did not advance: %+v", sess)
	}
}

func TestTargetMetadataFailureLeavesSessionUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t1", model.ModeAgent)

	f.repo.fail["p1"] = true
	_, err := f.executor.Execute(ctx, id, moveAction(1), nil)
	if model.KindOf(err) != model.ErrUnavailable {
		t.Errorf("err = %v, want unavailable", err)
	}

	sess, _ := f.sessions.Get(ctx, id)
	if sess.State.PanoID != "p0" || sess.StepCount != 0 {
		t.Errorf("session changed by failed move: %+v", sess)
	}
}

func TestHumanModeObservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t1", model.ModeHuman)

	obs, err := f.executor.Observe(ctx, id)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if obs.PanoramaURL == nil || *obs.PanoramaURL != "/data/panoramas/p0_z2.jpg" {
		t.Errorf("panorama_url = %v", obs.PanoramaURL)
	}
}

func TestAgentModeHasNoPanoramaURL(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t, "t1", model.ModeAgent)

	obs, err := f.executor.Observe(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if obs.PanoramaURL != nil {
		t.Errorf("panorama_url = %v, want absent in agent mode", *obs.PanoramaURL)
	}
}

func TestEndSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t1", model.ModeAgent)

	sess, err := f.executor.EndSession(ctx, id, "stopped")
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if sess.Status != model.StatusCompleted || sess.DoneReason != "stopped" {
		t.Errorf("session = %+v", sess)
	}

	// Idempotent for the same reason; no duplicate session_end.
	if _, err := f.executor.EndSession(ctx, id, "stopped"); err != nil {
		t.Errorf("repeat EndSession: %v", err)
	}
	entries, _ := f.traj.ReadSessionLog(id)
	ends := 0
	for _, e := range entries {
		if e["event"] == "session_end" {
			ends++
		}
	}
	if ends != 1 {
		t.Errorf("session_end events = %d, want 1", ends)
	}
}

func TestFrameCleanupOnStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.executor.EnableFrameCleanup()
	id := f.createSession(t, "t1", model.ModeAgent)

	frameDir := filepath.Dir(f.executor.frames.FramePath(id, 0))
	if _, err := os.Stat(frameDir); err != nil {
		t.Fatalf("spawn frame missing: %v", err)
	}

	if _, err := f.executor.Execute(ctx, id, model.Action{
		Kind: model.ActionStop,
		Stop: &model.StopAction{},
	}, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := os.Stat(frameDir); !os.IsNotExist(err) {
		t.Errorf("frame directory survived session end: %v", err)
	}
}

func TestFramesKeptWithoutCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createSession(t, "t1", model.ModeAgent)

	if _, err := f.executor.Execute(ctx, id, model.Action{
		Kind: model.ActionStop,
		Stop: &model.StopAction{},
	}, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	frameDir := filepath.Dir(f.executor.frames.FramePath(id, 0))
	if _, err := os.Stat(frameDir); err != nil {
		t.Errorf("frames removed without cleanup enabled: %v", err)
	}
}
