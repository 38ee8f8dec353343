// Package scheduler drives a tick function at a fixed average rate.
//
// Sleeps are computed against the absolute schedule start+k×interval rather
// than a fixed pause after each tick, so variable tick durations do not
// accumulate drift.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cgaf/gaf-engine/internal/metrics"
)

// Clock abstracts time so the driver can be tested without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State is the driver's schedule bookkeeping. Start is fixed on the first
// Run; Iterations counts completed ticks; Behind is set while ticks overrun
// the interval.
type State struct {
	Start      time.Time
	Iterations int64
	Behind     bool
}

// TickFunc performs one unit of work. A returned error ends Run.
type TickFunc func(ctx context.Context) error

// Driver runs a TickFunc on a drift-corrected schedule.
type Driver struct {
	Interval time.Duration
	Clock    Clock
	Logger   *slog.Logger
	State    State
}

// NewDriver returns a driver on the system clock.
func NewDriver(interval time.Duration, logger *slog.Logger) (*Driver, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{Interval: interval, Clock: SystemClock{}, Logger: logger}, nil
}

// NextSleep is how long to wait after Iterations ticks so that the next
// tick starts at Start + Iterations×Interval.
func (d *Driver) NextSleep(now time.Time) time.Duration {
	target := d.State.Start.Add(time.Duration(d.State.Iterations) * d.Interval)
	if s := target.Sub(now); s > 0 {
		return s
	}
	return 0
}

// Run loops until ctx is cancelled (returns nil) or tick fails (returns the
// tick's error).
func (d *Driver) Run(ctx context.Context, tick TickFunc) error {
	if d.State.Start.IsZero() {
		d.State.Start = d.Clock.Now()
	}
	d.Logger.Info("scheduler started", "interval", d.Interval.String())

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := tick(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
		d.State.Iterations++

		sleep := d.NextSleep(d.Clock.Now())
		d.observe(sleep)
		if sleep == 0 {
			continue
		}
		if err := d.Clock.Sleep(ctx, sleep); err != nil {
			return nil
		}
	}
}

// observe reports the transition into and out of saturation once each.
func (d *Driver) observe(sleep time.Duration) {
	switch {
	case sleep == 0 && !d.State.Behind:
		d.State.Behind = true
		metrics.FallingBehind.Set(1)
		metrics.SaturationEvents.Inc()
		d.Logger.Warn("falling behind schedule", "interval", d.Interval.String(), "iteration", d.State.Iterations)
	case sleep > 0 && d.State.Behind:
		d.State.Behind = false
		metrics.FallingBehind.Set(0)
		d.Logger.Info("caught up with schedule", "iteration", d.State.Iterations)
	}
}
