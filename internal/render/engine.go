package render

import (
	"context"
	"time"
)

// Request describes one render attempt.
type Request struct {
	SourcePath string
	RelKey     string
	SubIndex   int
	MaxSeconds int
	SampleRate int
	ChipModel  string
}

// CaptureStats reports stream quality for captured renders.
type CaptureStats struct {
	PacketsReceived int     `json:"packets_received"`
	PacketsExpected int     `json:"packets_expected"`
	LossRate        float64 `json:"loss_rate"`
}

// RenderedAudio is the product of one successful render. Immutable after
// creation.
type RenderedAudio struct {
	Samples    []float64
	SampleRate int
	Channels   int
	Duration   time.Duration
	Engine     string
	// RenderMode distinguishes emulated renders from hardware captures.
	RenderMode string
	Capture    *CaptureStats
}

// Engine is one render strategy. Implementations must honor ctx cancellation
// and the request's duration cap; an engine that cannot finish inside the
// caller's deadline returns an error rather than hanging.
type Engine interface {
	Name() string
	// Available probes whether the engine can currently render at all.
	Available(ctx context.Context) bool
	Render(ctx context.Context, req Request) (*RenderedAudio, error)
}

// Render mode values.
const (
	ModeEmulated = "emulated"
	ModeCaptured = "captured"
)
