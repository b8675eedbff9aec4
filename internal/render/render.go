// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

// Package render projects equirectangular panoramas into the perspective
// frames agents observe.
//
// The projection is a pinhole camera: for every output pixel a view ray is
// built from the horizontal FOV (vertical FOV is hFOV divided by the aspect
// ratio), rotated by pitch then yaw, and mapped to equirectangular
// coordinates for bilinear sampling. Yaw is the agent heading minus the
// panorama's centerHeading, which is the compass direction at the source
// image's origin column; longitude zero therefore samples column zero.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/panobench/panobench/internal/metrics"
)

// View is the agent pose handed to the renderer.
type View struct {
	Heading       float64 // true-north degrees, [0, 360)
	Pitch         float64 // degrees, positive looks up
	FOV           float64 // horizontal degrees
	CenterHeading float64 // source panorama origin-column heading
}

// Renderer produces perspective frames at a fixed output size.
type Renderer struct {
	width   int
	height  int
	quality int
}

// New creates a Renderer. quality is the JPEG encoder quality for frames.
func New(width, height, quality int) *Renderer {
	return &Renderer{width: width, height: height, quality: quality}
}

// Render projects the equirectangular source into a perspective frame.
// Deterministic: identical inputs produce identical pixels.
func (r *Renderer) Render(equi image.Image, view View) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.width, r.height))

	bounds := equi.Bounds()
	eqW := float64(bounds.Dx())
	eqH := float64(bounds.Dy())

	aspect := float64(r.width) / float64(r.height)
	hFOV := view.FOV * math.Pi / 180
	vFOV := (view.FOV / aspect) * math.Pi / 180

	tanH := math.Tan(hFOV / 2)
	tanV := math.Tan(vFOV / 2)

	yaw := math.Mod(view.Heading-view.CenterHeading, 360) * math.Pi / 180
	pitch := view.Pitch * math.Pi / 180

	sinPitch, cosPitch := math.Sin(pitch), math.Cos(pitch)
	sinYaw, cosYaw := math.Sin(yaw), math.Cos(yaw)

	src := newSampler(equi)

	for j := 0; j < r.height; j++ {
		// y grows upward in camera space; rows grow downward.
		ndcY := (1 - 2*(float64(j)+0.5)/float64(r.height)) * tanV
		for i := 0; i < r.width; i++ {
			ndcX := (2*(float64(i)+0.5)/float64(r.width) - 1) * tanH

			// Camera ray, then pitch (about x), then yaw (about y).
			x, y, z := ndcX, ndcY, 1.0

			y, z = y*cosPitch+z*sinPitch, -y*sinPitch+z*cosPitch
			x, z = x*cosYaw+z*sinYaw, -x*sinYaw+z*cosYaw

			norm := math.Sqrt(x*x + y*y + z*z)
			lon := math.Atan2(x, z)
			lat := math.Asin(y / norm)

			// Longitude 0 is the source origin column.
			u := lon / (2 * math.Pi) * eqW
			u = math.Mod(u, eqW)
			if u < 0 {
				u += eqW
			}
			v := (0.5 - lat/math.Pi) * eqH

			cr, cg, cb := src.bilinear(u, v)
			offset := out.PixOffset(i, j)
			out.Pix[offset] = cr
			out.Pix[offset+1] = cg
			out.Pix[offset+2] = cb
			out.Pix[offset+3] = 0xff
		}
	}

	return out
}

// RenderFile loads the equirectangular JPEG at srcPath, renders the view,
// and writes the frame to dstPath, creating parent directories as needed.
func (r *Renderer) RenderFile(srcPath string, view View, dstPath string) error {
	start := time.Now()

	data, err := os.ReadFile(srcPath)
	if err != nil {
		metrics.RecordRender(0, err)
		return fmt.Errorf("reading panorama %s: %w", srcPath, err)
	}
	equi, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		metrics.RecordRender(0, err)
		return fmt.Errorf("decoding panorama %s: %w", srcPath, err)
	}

	frame := r.Render(equi, view)

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		metrics.RecordRender(0, err)
		return fmt.Errorf("creating frame directory: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: r.quality}); err != nil {
		metrics.RecordRender(0, err)
		return fmt.Errorf("encoding frame: %w", err)
	}
	if err := os.WriteFile(dstPath, buf.Bytes(), 0o644); err != nil {
		metrics.RecordRender(0, err)
		return fmt.Errorf("writing frame %s: %w", dstPath, err)
	}

	metrics.RecordRender(time.Since(start), nil)
	return nil
}

// sampler wraps the source image with fast RGBA access for bilinear reads.
type sampler struct {
	rgba *image.RGBA
	w, h int
}

func newSampler(img image.Image) *sampler {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return &sampler{rgba: rgba, w: rgba.Bounds().Dx(), h: rgba.Bounds().Dy()}
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			rgba.Set(x-bounds.Min.X, y-bounds.Min.Y, img.At(x, y))
		}
	}
	return &sampler{rgba: rgba, w: rgba.Bounds().Dx(), h: rgba.Bounds().Dy()}
}

func (s *sampler) at(x, y int) (uint8, uint8, uint8) {
	// Wrap horizontally, clamp vertically.
	x = ((x % s.w) + s.w) % s.w
	if y < 0 {
		y = 0
	}
	if y >= s.h {
		y = s.h - 1
	}
	offset := s.rgba.PixOffset(x, y)
	return s.rgba.Pix[offset], s.rgba.Pix[offset+1], s.rgba.Pix[offset+2]
}

// bilinear samples the source at fractional coordinates.
func (s *sampler) bilinear(u, v float64) (uint8, uint8, uint8) {
	x0 := int(math.Floor(u - 0.5))
	y0 := int(math.Floor(v - 0.5))
	fx := u - 0.5 - float64(x0)
	fy := v - 0.5 - float64(y0)

	r00, g00, b00 := s.at(x0, y0)
	r10, g10, b10 := s.at(x0+1, y0)
	r01, g01, b01 := s.at(x0, y0+1)
	r11, g11, b11 := s.at(x0+1, y0+1)

	lerp := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bot := float64(c)*(1-fx) + float64(d)*fx
		return uint8(math.Round(top*(1-fy) + bot*fy))
	}
	return lerp(r00, r10, r01, r11), lerp(g00, g10, g01, g11), lerp(b00, b10, b01, b11)
}
