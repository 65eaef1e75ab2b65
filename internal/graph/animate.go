// Package graph provides the canvas animation helper used after Rearrange.
package graph

import (
	"log/slog"
	"math"
	"time"

	"github.com/voxflow/voxflow/internal/models"
)

// Animation timing defaults.
const (
	// DefaultAnimationDuration is how long a tidy animation runs.
	DefaultAnimationDuration = 500 * time.Millisecond
	// defaultFrameInterval approximates 60 frames per second.
	defaultFrameInterval = 16 * time.Millisecond
)

// RedrawFunc receives the interpolated positions for one animation frame.
type RedrawFunc func(map[string]models.Position)

// Animator drives a time-based transition from old node positions to the
// targets produced by Rearrange, calling the redraw callback each frame
// with linearly interpolated positions shaped by an ease-out curve.
type Animator struct {
	duration time.Duration
	interval time.Duration
}

// NewAnimator creates an Animator with the default ~500ms duration.
func NewAnimator() *Animator {
	return &Animator{duration: DefaultAnimationDuration, interval: defaultFrameInterval}
}

// NewAnimatorWithTiming creates an Animator with explicit timing, used by tests.
func NewAnimatorWithTiming(duration, interval time.Duration) *Animator {
	if duration <= 0 {
		duration = DefaultAnimationDuration
	}
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	return &Animator{duration: duration, interval: interval}
}

// Animate interpolates from the old positions to the targets over the
// configured duration and blocks until done. The final frame commits the
// exact target positions, not the last interpolated values, so repeated
// tidy runs do not accumulate floating-point drift. Nodes present only in
// one of the two maps snap to their target immediately.
func (a *Animator) Animate(from, to map[string]models.Position, redraw RedrawFunc) {
	if redraw == nil {
		slog.Debug("graph.Animate: nil redraw callback, nothing to drive")
		return
	}

	start := time.Now()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for now := range ticker.C {
		elapsed := now.Sub(start)
		if elapsed >= a.duration {
			break
		}
		progress := easeOut(float64(elapsed) / float64(a.duration))
		frame := make(map[string]models.Position, len(to))
		for id, target := range to {
			origin, ok := from[id]
			if !ok {
				frame[id] = target
				continue
			}
			frame[id] = models.Position{
				X: origin.X + (target.X-origin.X)*progress,
				Y: origin.Y + (target.Y-origin.Y)*progress,
			}
		}
		redraw(frame)
	}

	// Commit exact targets.
	final := make(map[string]models.Position, len(to))
	for id, target := range to {
		final[id] = target
	}
	redraw(final)
}

// easeOut is a cubic ease-out curve: fast start, gentle settle.
func easeOut(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return 1 - math.Pow(1-t, 3)
}
