// Package animator schedules animation frames for running delivery sessions.
package animator

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultFrameInterval is ~60 FPS
	DefaultFrameInterval = 16 * time.Millisecond

	// MaxFrameDelta caps the elapsed time handed to a single frame so a stalled
	// process does not teleport Santa across the map
	MaxFrameDelta = 250 * time.Millisecond
)

// FrameFunc receives the seconds elapsed since the previous frame
type FrameFunc func(dt float64)

// Driver calls a FrameFunc once per frame interval with the measured Δt
type Driver struct {
	clock    Clock
	interval time.Duration
	frame    FrameFunc

	mu     sync.Mutex
	last   time.Time
	frames int64
}

// NewDriver creates a frame driver. A nil clock uses the system clock and a
// non-positive interval uses DefaultFrameInterval.
func NewDriver(clock Clock, interval time.Duration, frame FrameFunc) *Driver {
	if clock == nil {
		clock = SystemClock{}
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Driver{
		clock:    clock,
		interval: interval,
		frame:    frame,
	}
}

// Interval returns the frame interval
func (d *Driver) Interval() time.Duration {
	return d.interval
}

// Frames returns how many frames have run
func (d *Driver) Frames() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Step runs one frame and returns the Δt it used. The first frame has Δt=0.
func (d *Driver) Step() float64 {
	d.mu.Lock()
	now := d.clock.Now()
	var elapsed time.Duration
	if !d.last.IsZero() {
		elapsed = now.Sub(d.last)
	}
	d.last = now
	d.frames++
	d.mu.Unlock()

	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > MaxFrameDelta {
		elapsed = MaxFrameDelta
	}
	dt := elapsed.Seconds()
	if d.frame != nil {
		d.frame(dt)
	}
	return dt
}

// Run ticks until ctx is cancelled
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Step()
		}
	}
}

// Throttle limits how often something happens per key, e.g. snapshot
// broadcasts while Santa is moving
type Throttle struct {
	interval time.Duration
	clock    Clock

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottle creates a per-key throttle
func NewThrottle(clock Clock, interval time.Duration) *Throttle {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Throttle{
		interval: interval,
		clock:    clock,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether key may fire now, and records it if so
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[key] = now
	return true
}

// Forget drops the state kept for key
func (t *Throttle) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, key)
}
