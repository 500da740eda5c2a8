// CongestionController scores per-host network health with an AIMD
// (Additive Increase, Multiplicative Decrease) algorithm. The HTTP lane has
// at most one active transfer per spec invariant 1, so the controller's
// output is not a worker-pool size but a per-tick transfer budget
// multiplier: healthy hosts get to read larger Update() chunks, hosts
// showing errors get backed off multiplicatively.
package network

import (
	"sync"
	"time"
)

// CongestionController tracks per-host transfer health across ticks.
type CongestionController struct {
	mu        sync.RWMutex
	hosts     map[string]*HostStats
	baseRTT   time.Duration
	minBudget int
	maxBudget int
}

// HostStats tracks per-host network statistics for congestion control
type HostStats struct {
	LastRTT      time.Duration
	SmoothedRTT  time.Duration // SRTT
	ErrorRate    float64       // Errors per minute (decaying)
	Budget       int           // chunk-size multiplier for this host
	LastUpdate   time.Time
	SuccessCount int
	ErrorCount   int
}

// NewCongestionController creates a controller with min/max budget bounds.
func NewCongestionController(min, max int) *CongestionController {
	return &CongestionController{
		hosts:     make(map[string]*HostStats),
		baseRTT:   100 * time.Millisecond, // Reasonable default
		minBudget: min,
		maxBudget: max,
	}
}

// RecordOutcome updates stats for a host based on a completed chunk download
func (cc *CongestionController) RecordOutcome(host string, latency time.Duration, err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	stats, ok := cc.hosts[host]
	if !ok {
		stats = &HostStats{
			Budget:      cc.minBudget,
			SmoothedRTT: latency,
		}
		cc.hosts[host] = stats
	}

	// Exponential Moving Average for RTT
	alpha := 0.125
	stats.SmoothedRTT = time.Duration((1-alpha)*float64(stats.SmoothedRTT) + alpha*float64(latency))
	stats.LastRTT = latency
	stats.LastUpdate = time.Now()

	if err != nil {
		stats.ErrorCount++
	} else {
		stats.SuccessCount++
	}
}

// IdealTransferBudget calculates the target per-tick chunk-size multiplier
// for host using AIMD logic: errors halve it (never below 1), a run of clean
// ticks grows it by one (never above maxBudget). An unseen host starts at
// minBudget.
func (cc *CongestionController) IdealTransferBudget(host string) int {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	stats, ok := cc.hosts[host]
	if !ok {
		return cc.minBudget // Slow start
	}

	// Check for errors (Naive "packet loss" equivalent)
	if stats.ErrorCount > 0 {
		// Multiplicative Decrease
		stats.Budget = maxInt(1, stats.Budget/2)
		stats.ErrorCount = 0 // Reset after reacting
		return stats.Budget
	}

	// Additive Increase
	// Increase if stable and we have successful samples
	if stats.SuccessCount > stats.Budget {
		if stats.Budget < cc.maxBudget {
			stats.Budget++
		}
		stats.SuccessCount = 0 // Reset for next window
	}

	return stats.Budget
}

// GetHostStats returns a copy of stats for a host (for testing/monitoring)
func (cc *CongestionController) GetHostStats(host string) *HostStats {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	stats, ok := cc.hosts[host]
	if !ok {
		return nil
	}
	// Return a copy
	copy := *stats
	return &copy
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
