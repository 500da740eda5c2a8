// Package analytics provides the runtime diagnostics the control surface
// reports at /v1/status: disk usage for the active lane target and the
// instantaneous transfer speed. Nothing here is persisted across restarts —
// the runloop core keeps no state of its own beyond the current tick.
package analytics

import (
	"path/filepath"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskUsageInfo holds disk space information for one volume.
type DiskUsageInfo struct {
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

// Snapshot is the point-in-time diagnostics payload served by the control
// surface's /v1/status endpoint.
type Snapshot struct {
	CurrentSpeedBytesPerSec int64         `json:"current_speed_bytes_per_sec"`
	DiskUsage               DiskUsageInfo `json:"disk_usage"`
}

// StatsManager tracks the HTTP lane's instantaneous transfer speed and
// reports disk usage for a given target path.
type StatsManager struct {
	currentSpeed   int64 // atomic, bytes/sec
	downloadPathFn func() (string, error)
}

// NewStatsManager returns a manager that reports disk usage for whatever
// path downloadPathFn resolves to (e.g. the active file lane's target dir).
func NewStatsManager(downloadPathFn func() (string, error)) *StatsManager {
	return &StatsManager{downloadPathFn: downloadPathFn}
}

// UpdateDownloadSpeed records the current instantaneous transfer speed.
func (sm *StatsManager) UpdateDownloadSpeed(bytesPerSec int64) {
	atomic.StoreInt64(&sm.currentSpeed, bytesPerSec)
}

// GetCurrentSpeed returns the last recorded instantaneous speed.
func (sm *StatsManager) GetCurrentSpeed() int64 {
	return atomic.LoadInt64(&sm.currentSpeed)
}

// GetDiskUsage returns disk space info for the volume backing the tracked
// path. Returns zeros (never an error) when the path can't be resolved.
func (sm *StatsManager) GetDiskUsage() DiskUsageInfo {
	if sm.downloadPathFn == nil {
		return DiskUsageInfo{}
	}

	path, err := sm.downloadPathFn()
	if err != nil {
		return DiskUsageInfo{}
	}

	volumePath := filepath.VolumeName(path)
	if volumePath == "" {
		volumePath = "/"
	} else {
		volumePath += `\`
	}

	usage, err := disk.Usage(volumePath)
	if err != nil {
		return DiskUsageInfo{}
	}

	const bytesPerGB = 1024 * 1024 * 1024
	return DiskUsageInfo{
		UsedGB:  float64(usage.Used) / bytesPerGB,
		FreeGB:  float64(usage.Free) / bytesPerGB,
		TotalGB: float64(usage.Total) / bytesPerGB,
		Percent: usage.UsedPercent,
	}
}

// Snapshot captures the current speed and disk usage together.
func (sm *StatsManager) Snapshot() Snapshot {
	return Snapshot{
		CurrentSpeedBytesPerSec: sm.GetCurrentSpeed(),
		DiskUsage:               sm.GetDiskUsage(),
	}
}
