// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panobench/panobench/internal/config"
	"github.com/panobench/panobench/internal/model"
)

func testConfig(tilesURL, metadataURL string) config.ProviderConfig {
	return config.ProviderConfig{
		APIKey:               "test-key",
		TilesBaseURL:         tilesURL,
		MetadataBaseURL:      metadataURL,
		TileSize:             512,
		PanoramaSlots:        4,
		TileSlots:            4,
		RetryMax:             3,
		RequestTimeout:       5 * time.Second,
		SessionRefreshBuffer: 60 * time.Second,
	}
}

func TestTileGrid(t *testing.T) {
	tests := []struct {
		zoom, cols, rows int
	}{
		{0, 1, 1},
		{1, 2, 1},
		{2, 4, 2},
		{3, 8, 4},
		{5, 32, 16},
	}
	for _, tt := range tests {
		cols, rows := TileGrid(tt.zoom)
		if cols != tt.cols || rows != tt.rows {
			t.Errorf("TileGrid(%d) = (%d,%d), want (%d,%d)", tt.zoom, cols, rows, tt.cols, tt.rows)
		}
	}
}

func TestFetchBasicMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pano") != "p0" {
			t.Errorf("unexpected pano param: %s", r.URL.Query().Get("pano"))
		}
		fmt.Fprint(w, `{"status":"OK","pano_id":"p0","date":"2024-06","location":{"lat":40.75,"lng":-73.98}}`)
	}))
	defer server.Close()

	p := New(testConfig("", server.URL))
	meta, err := p.FetchBasicMetadata(context.Background(), "p0")
	if err != nil {
		t.Fatalf("FetchBasicMetadata: %v", err)
	}
	if meta.PanoID != "p0" || meta.Lat != 40.75 || meta.Lng != -73.98 || meta.CaptureDate != "2024-06" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestFetchBasicMetadataRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"status":"OK","pano_id":"p0","location":{"lat":1,"lng":2}}`)
	}))
	defer server.Close()

	p := New(testConfig("", server.URL))
	meta, err := p.FetchBasicMetadata(context.Background(), "p0")
	if err != nil {
		t.Fatalf("FetchBasicMetadata: %v", err)
	}
	if meta.Lat != 1 {
		t.Errorf("unexpected metadata after retries: %+v", meta)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchBasicMetadataNotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"status":"ZERO_RESULTS"}`)
	}))
	defer server.Close()

	p := New(testConfig("", server.URL))
	_, err := p.FetchBasicMetadata(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for ZERO_RESULTS")
	}
	if model.KindOf(err) != model.ErrUnavailable {
		t.Errorf("error kind = %s, want unavailable", model.KindOf(err))
	}
	if calls.Load() != 1 {
		t.Errorf("non-retryable status should not retry, got %d calls", calls.Load())
	}
}

func TestFetchTileSessionAndRetry(t *testing.T) {
	var sessionCalls, tileCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/createSession":
			sessionCalls.Add(1)
			expiry := time.Now().Add(time.Hour).Format(time.RFC3339)
			fmt.Fprintf(w, `{"session":"tok-1","expiry":"%s"}`, expiry)
		case r.URL.Path == "/streetview/tiles/2/1/0":
			if r.URL.Query().Get("session") != "tok-1" {
				t.Errorf("missing session token: %s", r.URL.RawQuery)
			}
			if tileCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte("tile-bytes"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p := New(testConfig(server.URL, ""))
	data, err := p.FetchTile(context.Background(), "p0", 2, 1, 0)
	if err != nil {
		t.Fatalf("FetchTile: %v", err)
	}
	if string(data) != "tile-bytes" {
		t.Errorf("tile data = %q", data)
	}
	if sessionCalls.Load() != 1 {
		t.Errorf("expected exactly one session creation, got %d", sessionCalls.Load())
	}
	if tileCalls.Load() != 2 {
		t.Errorf("expected 429 then success, got %d tile calls", tileCalls.Load())
	}
}

func TestTileSessionReusedAcrossTiles(t *testing.T) {
	var sessionCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/createSession" {
			sessionCalls.Add(1)
			expiry := time.Now().Add(time.Hour).Format(time.RFC3339)
			fmt.Fprintf(w, `{"session":"tok","expiry":"%s"}`, expiry)
			return
		}
		w.Write([]byte("tile"))
	}))
	defer server.Close()

	p := New(testConfig(server.URL, ""))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := p.FetchTile(ctx, "p0", 1, i%2, 0); err != nil {
			t.Fatalf("FetchTile %d: %v", i, err)
		}
	}
	if sessionCalls.Load() != 1 {
		t.Errorf("session should be cached, got %d creations", sessionCalls.Load())
	}
}

func TestTileSessionExpiryBufferRefresh(t *testing.T) {
	session := &tileSession{token: "t", expiry: time.Now().Add(30 * time.Second)}
	if !session.expired(60 * time.Second) {
		t.Error("session within refresh buffer should count as expired")
	}
	if session.expired(5 * time.Second) {
		t.Error("session outside refresh buffer should be valid")
	}
	var nilSession *tileSession
	if !nilSession.expired(0) {
		t.Error("nil session should be expired")
	}
}

func TestAcquirePanoramaSlot(t *testing.T) {
	cfg := testConfig("", "")
	cfg.PanoramaSlots = 1
	p := New(cfg)

	release, err := p.AcquirePanoramaSlot(context.Background())
	if err != nil {
		t.Fatalf("AcquirePanoramaSlot: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.AcquirePanoramaSlot(ctx); err == nil {
		t.Error("second acquire should block until timeout")
	}

	release()
	release2, err := p.AcquirePanoramaSlot(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}
