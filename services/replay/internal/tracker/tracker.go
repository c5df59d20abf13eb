// Package tracker checkpoints a live playback session's position without
// flooding the progress store with writes.
package tracker

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// SampleFunc reads the session's current playback position in seconds.
type SampleFunc func() float64

// SaveFunc persists one position checkpoint.
type SaveFunc func(ctx context.Context, seconds int) error

type Options struct {
	Interval     time.Duration // wall-clock save cadence, default 10s
	MinDelta     int           // minimum position change to bother saving, default 5s
	FlushTimeout time.Duration // budget for the final flush, default 3s
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.MinDelta <= 0 {
		o.MinDelta = 5
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 3 * time.Second
	}
	return o
}

// Tracker owns one timer and one last-saved-position cell per session.
// Not safe for concurrent use; Run is the only goroutine that touches state.
type Tracker struct {
	sample SampleFunc
	save   SaveFunc
	log    *zap.Logger
	opts   Options

	lastSaved int
}

func New(sample SampleFunc, save SaveFunc, log *zap.Logger, opts Options) *Tracker {
	return &Tracker{sample: sample, save: save, log: log, opts: opts.withDefaults()}
}

// Seed sets the starting position (the resume seed) so the first interval
// does not re-save a position the store already has. Call before Run.
func (t *Tracker) Seed(seconds int) {
	t.lastSaved = seconds
}

// Run samples and checkpoints until ctx is cancelled, then performs one
// final unconditional save so teardown loses at most a few seconds.
//
// Saves are awaited in-loop: a slow write delays the next tick instead of
// overlapping with it, so writes for one session are strictly ordered.
// lastSaved only advances after a successful write, which makes the next
// tick the retry for a failed one.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.flush()
			return
		case <-ticker.C:
			cur := t.position()
			if abs(cur-t.lastSaved) < t.opts.MinDelta {
				continue
			}
			if err := t.save(ctx, cur); err != nil {
				if ctx.Err() == nil {
					t.log.Warn("progress checkpoint failed", zap.Int("position", cur), zap.Error(err))
				}
				continue
			}
			t.lastSaved = cur
		}
	}
}

// flush saves the latest sampled position regardless of the delta gate.
// The session context is already cancelled here, so the write gets its own
// bounded context, and one retry: there is no next tick to recover on.
func (t *Tracker) flush() {
	cur := t.position()

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.FlushTimeout)
	defer cancel()

	err := t.save(ctx, cur)
	if err == nil {
		t.lastSaved = cur
		return
	}
	t.log.Warn("final flush failed, retrying once", zap.Int("position", cur), zap.Error(err))
	if err := t.save(ctx, cur); err != nil {
		t.log.Error("final flush lost", zap.Int("position", cur), zap.Error(err))
	} else {
		t.lastSaved = cur
	}
}

func (t *Tracker) position() int {
	return int(math.Floor(t.sample()))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
