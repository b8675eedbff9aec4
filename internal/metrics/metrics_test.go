// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAction(t *testing.T) {
	tests := []struct {
		name       string
		actionType string
		duration   time.Duration
		err        error
		wantResult string
	}{
		{"successful move", "move", 250 * time.Millisecond, nil, "ok"},
		{"successful rotation", "rotation", 40 * time.Millisecond, nil, "ok"},
		{"failed move", "move", 100 * time.Millisecond, errors.New("outside geofence"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(ActionsTotal.WithLabelValues(tt.actionType, tt.wantResult))
			RecordAction(tt.actionType, tt.duration, tt.err)
			after := testutil.ToFloat64(ActionsTotal.WithLabelValues(tt.actionType, tt.wantResult))
			if after != before+1 {
				t.Errorf("ActionsTotal[%s,%s] = %v, want %v", tt.actionType, tt.wantResult, after, before+1)
			}
		})
	}
}

func TestRecordSessionEnd(t *testing.T) {
	SessionsActive.Inc()
	activeBefore := testutil.ToFloat64(SessionsActive)
	completedBefore := testutil.ToFloat64(SessionsTotal.WithLabelValues("completed"))

	RecordSessionEnd("completed", 42, 3*time.Minute)

	if got := testutil.ToFloat64(SessionsActive); got != activeBefore-1 {
		t.Errorf("SessionsActive = %v, want %v", got, activeBefore-1)
	}
	if got := testutil.ToFloat64(SessionsTotal.WithLabelValues("completed")); got != completedBefore+1 {
		t.Errorf("SessionsTotal[completed] = %v, want %v", got, completedBefore+1)
	}
}

func TestRecordTileFetch(t *testing.T) {
	okBefore := testutil.ToFloat64(TileFetchesTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(TileFetchesTotal.WithLabelValues("error"))

	RecordTileFetch(20*time.Millisecond, nil)
	RecordTileFetch(0, errors.New("503"))

	if got := testutil.ToFloat64(TileFetchesTotal.WithLabelValues("ok")); got != okBefore+1 {
		t.Errorf("TileFetchesTotal[ok] = %v, want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(TileFetchesTotal.WithLabelValues("error")); got != errBefore+1 {
		t.Errorf("TileFetchesTotal[error] = %v, want %v", got, errBefore+1)
	}
}

func TestRecordCacheAccess(t *testing.T) {
	hitsBefore := testutil.ToFloat64(CacheHits.WithLabelValues("metadata"))
	missesBefore := testutil.ToFloat64(CacheMisses.WithLabelValues("metadata"))

	RecordCacheAccess("metadata", true)
	RecordCacheAccess("metadata", false)
	RecordCacheAccess("metadata", false)

	if got := testutil.ToFloat64(CacheHits.WithLabelValues("metadata")); got != hitsBefore+1 {
		t.Errorf("CacheHits[metadata] = %v, want %v", got, hitsBefore+1)
	}
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues("metadata")); got != missesBefore+2 {
		t.Errorf("CacheMisses[metadata] = %v, want %v", got, missesBefore+2)
	}
}

func TestRecordRender(t *testing.T) {
	errBefore := testutil.ToFloat64(RenderErrors)

	RecordRender(30*time.Millisecond, nil)
	RecordRender(0, errors.New("decode failed"))

	if got := testutil.ToFloat64(RenderErrors); got != errBefore+1 {
		t.Errorf("RenderErrors = %v, want %v", got, errBefore+1)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != before+1 {
		t.Errorf("APIActiveRequests = %v, want %v", got, before+1)
	}
	TrackActiveRequest(false)
}
