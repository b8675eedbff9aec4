// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package provider abstracts the external map vendor: the lightweight REST
// metadata endpoint, the session-tokened tile endpoint, and the JS-SDK-only
// neighbor-link lookup served by a subprocess worker pool.
//
// Concurrency is bounded in two places: the panorama-slot semaphore here
// caps how many panoramas are in flight at once, and each build's tile
// fan-out is limited to tileSlots by the pano package, giving a global
// ceiling of panoramaSlots*tileSlots concurrent tile requests against the
// vendor.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/panobench/panobench/internal/config"
	"github.com/panobench/panobench/internal/logging"
	"github.com/panobench/panobench/internal/metrics"
	"github.com/panobench/panobench/internal/model"
)

// BasicMetadata is the lightweight REST metadata for a panorama.
type BasicMetadata struct {
	PanoID      string
	Lat         float64
	Lng         float64
	CaptureDate string
}

// tileSession is the vendor session token gating tile fetches.
type tileSession struct {
	token  string
	expiry time.Time
}

func (s *tileSession) expired(buffer time.Duration) bool {
	return s == nil || !time.Now().Before(s.expiry.Add(-buffer))
}

// MapProvider talks to the map vendor's REST surfaces.
type MapProvider struct {
	cfg    config.ProviderConfig
	client *http.Client

	sessionMu sync.Mutex
	session   *tileSession

	panoSlots *semaphore.Weighted
	limiter   *rate.Limiter

	metadataBreaker *gobreaker.CircuitBreaker[*BasicMetadata]
}

// New creates a MapProvider from config.
func New(cfg config.ProviderConfig) *MapProvider {
	p := &MapProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		panoSlots: semaphore.NewWeighted(int64(cfg.PanoramaSlots)),
	}

	if cfg.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.TileSlots)
	}

	p.metadataBreaker = gobreaker.NewCircuitBreaker[*BasicMetadata](gobreaker.Settings{
		Name:        "metadata",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logging.WithComponent("provider").Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return p
}

// FetchBasicMetadata resolves coordinates and capture date over the REST
// metadata endpoint. 5xx responses retry with bounded exponential backoff;
// sustained failure opens the circuit breaker.
func (p *MapProvider) FetchBasicMetadata(ctx context.Context, panoID string) (*BasicMetadata, error) {
	meta, err := p.metadataBreaker.Execute(func() (*BasicMetadata, error) {
		var result *BasicMetadata
		operation := func() error {
			m, err := p.fetchBasicMetadataOnce(ctx, panoID)
			if err != nil {
				return err
			}
			result = m
			return nil
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.cfg.RetryMax)), ctx)
		if err := backoff.Retry(operation, policy); err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		metrics.CircuitBreakerRequests.WithLabelValues("metadata", "failure").Inc()
		return nil, model.WrapError(model.ErrUnavailable, err, "metadata fetch for %s", panoID)
	}
	metrics.CircuitBreakerRequests.WithLabelValues("metadata", "success").Inc()
	return meta, nil
}

// metadataResponse is the vendor's REST metadata shape.
type metadataResponse struct {
	Status   string `json:"status"`
	PanoID   string `json:"pano_id"`
	Date     string `json:"date"`
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}

func (p *MapProvider) fetchBasicMetadataOnce(ctx context.Context, panoID string) (*BasicMetadata, error) {
	endpoint := fmt.Sprintf("%s/metadata?%s", p.cfg.MetadataBaseURL, url.Values{
		"pano": {panoID},
		"key":  {p.cfg.APIKey},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("metadata endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("metadata endpoint returned %d", resp.StatusCode))
	}

	var decoded metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding metadata response: %w", err)
	}
	if decoded.Status != "OK" {
		return nil, backoff.Permanent(fmt.Errorf("metadata status %q for %s", decoded.Status, panoID))
	}

	return &BasicMetadata{
		PanoID:      decoded.PanoID,
		Lat:         decoded.Location.Lat,
		Lng:         decoded.Location.Lng,
		CaptureDate: decoded.Date,
	}, nil
}

// createSessionResponse is the vendor's tile-session shape.
type createSessionResponse struct {
	Session string `json:"session"`
	Expiry  string `json:"expiry"`
}

// ensureSession returns a valid tile session token, creating or refreshing
// it when within the configured buffer of expiry.
func (p *MapProvider) ensureSession(ctx context.Context) (string, error) {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()

	if !p.session.expired(p.cfg.SessionRefreshBuffer) {
		return p.session.token, nil
	}

	endpoint := fmt.Sprintf("%s/createSession?key=%s", p.cfg.TilesBaseURL, url.QueryEscape(p.cfg.APIKey))
	body := strings.NewReader(`{"mapType":"streetview","language":"en-US","region":"US"}`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("creating tile session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tile session endpoint returned %d", resp.StatusCode)
	}

	var decoded createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding tile session response: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339, decoded.Expiry)
	if err != nil {
		// Vendor expiry is advisory; fall back to one hour.
		expiry = time.Now().Add(time.Hour)
	}

	p.session = &tileSession{token: decoded.Session, expiry: expiry}
	metrics.TileSessionRefreshes.Inc()

	logging.WithComponent("provider").Info().
		Time("expiry", expiry).
		Msg("tile session created")

	return p.session.token, nil
}

// AcquirePanoramaSlot blocks until a panorama slot is free. Callers must
// invoke the returned release function exactly once.
func (p *MapProvider) AcquirePanoramaSlot(ctx context.Context) (func(), error) {
	if err := p.panoSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.panoSlots.Release(1) }, nil
}

// FetchTile downloads one raster tile. Per-panorama concurrency is bounded
// by the caller's fan-out limit; 429/503 responses back off exponentially
// up to the retry budget.
func (p *MapProvider) FetchTile(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var data []byte
	operation := func() error {
		token, err := p.ensureSession(ctx)
		if err != nil {
			return err
		}

		endpoint := fmt.Sprintf("%s/streetview/tiles/%d/%d/%d?%s",
			p.cfg.TilesBaseURL, zoom, x, y, url.Values{
				"session": {token},
				"key":     {p.cfg.APIKey},
				"panoId":  {panoID},
			}.Encode())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			data, err = io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			metrics.RecordTileFetch(time.Since(start), nil)
			return nil
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			metrics.TileFetchesTotal.WithLabelValues("retry").Inc()
			return fmt.Errorf("tile endpoint throttled with %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("tile endpoint returned %d", resp.StatusCode))
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.cfg.RetryMax)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		metrics.RecordTileFetch(0, err)
		return nil, model.WrapError(model.ErrUnavailable, err,
			"tile fetch %s z%d (%d,%d)", panoID, zoom, x, y)
	}

	return data, nil
}

// TileGrid returns the tile grid (cols, rows) for a zoom level.
func TileGrid(zoom int) (cols, rows int) {
	if zoom == 0 {
		return 1, 1
	}
	return 1 << zoom, 1 << (zoom - 1)
}
