package syncer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/agentworkforce/meetsync/internal/ledger"
)

const DefaultInterval = 15 * time.Second

type LoopOptions struct {
	Interval time.Duration
	// Jitter spreads each wait by up to ±Jitter of Interval (0.0-1.0).
	Jitter  float64
	Trigger <-chan struct{}
}

// Loop runs RunOnce until ctx is cancelled. A trigger cuts the wait short.
// Failed cycles are logged and retried after a full interval.
func (s *Syncer) Loop(ctx context.Context, opts LoopOptions) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	jitter := clampJitterRatio(opts.Jitter)
	rng := rand.New(rand.NewSource(s.now().UnixNano()))

	s.logf("sync loop started (interval %s)", interval)
	for {
		err := s.cycle(ctx)
		if ctx.Err() != nil {
			s.logf("sync loop stopping: %v", ctx.Err())
			return nil
		}
		wait := interval
		if err != nil {
			s.logf("ERROR: sync cycle failed, retrying in %s: %v", wait, err)
		} else {
			wait = jitteredIntervalWithSample(interval, jitter, rng.Float64())
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logf("sync loop stopping: %v", ctx.Err())
			return nil
		case <-opts.Trigger:
			timer.Stop()
			s.logf("manual sync triggered")
		case <-timer.C:
		}
	}
}

func (s *Syncer) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync cycle panicked: %v", r)
		}
	}()
	if _, err := s.RunOnce(ctx); err != nil {
		s.notifier.Error(err.Error())
		return err
	}
	if err := s.ledger.SetMetadata(ledger.MetadataLastPollTime, s.now()); err != nil {
		s.logf("ERROR: recording poll time: %v", err)
	}
	return nil
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
