// Package producer implements the producer abstraction (C8): an opaque
// per-channel pipeline that decodes the active playout plan and emits
// MPEG-TS bytes, with a pre-decode/commit contract the channel manager
// drives across boundary swaps.
package producer

import (
	"io"
	"time"

	"github.com/retrovue/retrovue-core/internal/schedule"
)

// Health mirrors the three-state health surface the channel manager polls.
type Health string

const (
	HealthRunning  Health = "running"
	HealthDegraded Health = "degraded"
	HealthStopped  Health = "stopped"
)

// SwapResult is returned by SwitchToLive on success.
type SwapResult struct {
	SwapTick int64 // frame index at which the swap actually occurred
}

// Producer is the per-channel capability the channel manager drives
// through pre-feed, boundary swap, and teardown. The concrete pipeline
// (ffmpeg, gstreamer, a custom decoder) is outside this package's concern;
// Fake and Exec are the two implementers in this tree.
type Producer interface {
	// Start launches the pipeline against the given playout plan, seeking
	// into the first segment at its StartPTSMS. Idempotent once running.
	Start(plan []schedule.PlayoutEntry, startAt time.Time) error
	// LoadPreview pre-decodes the first frames of the next asset and holds
	// them paused; must not disturb current live output.
	LoadPreview(assetPath string, startFrame, frameCount int, fpsNum, fpsDen int) error
	// SwitchToLive commits the prepared preview to live output at
	// targetBoundary, frame-accurate to within one frame.
	SwitchToLive(targetBoundary time.Time) (SwapResult, error)
	// Stop ends output and releases process resources.
	Stop() error
	// StreamEndpoint returns the reader fanout pulls TS bytes from.
	StreamEndpoint() io.Reader
	// Health reports the current pipeline health.
	Health() Health
	// OnPacedTick advances internal timers (teardown/cleanup windows);
	// called once per channel tick regardless of boundary activity.
	OnPacedTick(now time.Time, dt time.Duration)
}

// ErrNotRunning is returned by operations that require a started pipeline.
type ErrNotRunning struct{ Op string }

func (e *ErrNotRunning) Error() string { return "producer: " + e.Op + " called while not running" }

// ErrSwapTimeout is returned by SwitchToLive when the pipeline fails to
// acknowledge the swap within its internal deadline.
type ErrSwapTimeout struct{}

func (e *ErrSwapTimeout) Error() string { return "producer: switch_to_live timed out" }
