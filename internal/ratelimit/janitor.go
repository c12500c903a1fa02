package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper is a store that needs periodic pruning.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Janitor prunes in-memory stores on a fixed interval, off the request
// path.
type Janitor struct {
	interval time.Duration
	sweepers []Sweeper
	now      func() time.Time
	log      *zap.Logger
}

// NewJanitor sweeps every sweeper once per interval.
func NewJanitor(interval time.Duration, sweepers []Sweeper, opts ...Option) *Janitor {
	o := buildOptions(opts)
	return &Janitor{interval: interval, sweepers: sweepers, now: o.now, log: o.log.Named("janitor")}
}

// SweepOnce runs every sweeper and returns the total removed.
func (j *Janitor) SweepOnce() int {
	now := j.now()
	total := 0
	for _, s := range j.sweepers {
		total += s.Sweep(now)
	}
	if total > 0 {
		j.log.Debug("swept idle entries", zap.Int("removed", total))
	}
	return total
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if len(j.sweepers) == 0 {
		return
	}
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.SweepOnce()
		}
	}
}
