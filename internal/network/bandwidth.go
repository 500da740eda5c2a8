// Package network provides the bandwidth and congestion collaborators the
// HTTP lane uses to stay inside its per-tick byte budget.
package network

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// BandwidthManager throttles the HTTP lane's per-tick body reads with a
// global token bucket. With no limit configured it is zero overhead.
type BandwidthManager struct {
	limiter      *rate.Limiter
	limitEnabled atomic.Bool
}

// NewBandwidthManager returns a manager with no limit (unlimited transfer).
func NewBandwidthManager() *BandwidthManager {
	return &BandwidthManager{
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
}

// SetLimit sets the global transfer limit in bytes/sec. 0 disables it.
func (bm *BandwidthManager) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		bm.limitEnabled.Store(false)
		bm.limiter.SetLimit(rate.Inf)
		return
	}
	bm.limitEnabled.Store(true)
	bm.limiter.SetLimit(rate.Limit(bytesPerSec))
	bm.limiter.SetBurst(bytesPerSec)
}

// Wait blocks only long enough to stay under the configured limit for the
// given number of bytes. It is the one place in the HTTP lane's per-tick
// Update step that can observably delay — bounded by the token bucket, never
// by network I/O itself.
func (bm *BandwidthManager) Wait(ctx context.Context, bytes int) error {
	if !bm.limitEnabled.Load() {
		return nil
	}
	for bytes > 0 {
		n := min(bytes, bm.limiter.Burst())
		if err := bm.limiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// Allow reports whether bytes could be consumed right now without blocking.
// It takes no tokens from the bucket; the lane uses it only to log a
// throttled tick before calling Wait.
func (bm *BandwidthManager) Allow(bytes int) bool {
	if !bm.limitEnabled.Load() {
		return true
	}
	return bm.limiter.TokensAt(time.Now()) >= float64(bytes)
}
