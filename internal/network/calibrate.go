// Calibration is a one-shot network measurement taken at engine Init to seed
// the BandwidthManager's initial limit. It is never run again on the tick
// path — the AIMD congestion controller takes over from there.
package network

import (
	"context"
	"fmt"
	"time"

	"github.com/showwin/speedtest-go/speedtest"
)

// CalibrationResult is the outcome of a one-shot calibration run.
type CalibrationResult struct {
	DownloadMbps   float64 `json:"download_mbps"`
	UploadMbps     float64 `json:"upload_mbps"`
	PingMs         int64   `json:"ping_ms"`
	JitterMs       int64   `json:"jitter_ms"`
	ServerName     string  `json:"server_name"`
	ServerLocation string  `json:"server_location"`
	ServerHost     string  `json:"server_host"`
	ISP            string  `json:"isp"`
	Timestamp      string  `json:"timestamp"`
}

// CalibrationPhase reports progress while Calibrate runs, for a caller that
// wants to surface "measuring network..." style feedback during Init.
type CalibrationPhase struct {
	Phase        string  `json:"phase"` // "connecting", "ping", "download", "upload", "complete"
	PingMs       int64   `json:"ping_ms"`
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
	ServerName   string  `json:"server_name"`
	ISP          string  `json:"isp"`
}

// PhaseCallback is invoked at each phase of Calibrate.
type PhaseCallback func(phase CalibrationPhase)

// Calibrate measures download throughput against the nearest speedtest
// server and returns the result. SeedBandwidthManager calls it and feeds
// DownloadMbps into BandwidthManager.SetLimit; it must never be called from
// a tick.
func Calibrate(ctx context.Context, onPhase PhaseCallback) (*CalibrationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	if onPhase != nil {
		onPhase(CalibrationPhase{Phase: "connecting"})
	}

	user, err := speedtest.FetchUserInfo()
	if err != nil {
		return nil, fmt.Errorf("network: no internet connection: %w", err)
	}

	serverList, err := speedtest.FetchServers()
	if err != nil {
		return nil, fmt.Errorf("network: fetch servers: %w", err)
	}

	targets, err := serverList.FindServer([]int{})
	if err != nil || len(targets) == 0 {
		return nil, fmt.Errorf("network: no speed test servers available")
	}

	server := targets[0]

	if onPhase != nil {
		onPhase(CalibrationPhase{Phase: "ping", ServerName: server.Name, ISP: user.Isp})
	}

	if err := server.PingTestContext(ctx, nil); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("network: calibration timed out during ping: %w", err)
		}
		return nil, fmt.Errorf("network: ping test failed: %w", err)
	}
	pingMs := int64(server.Latency.Milliseconds())

	if onPhase != nil {
		onPhase(CalibrationPhase{Phase: "download", PingMs: pingMs, ServerName: server.Name, ISP: user.Isp})
	}

	if err := server.DownloadTestContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("network: calibration timed out during download: %w", err)
		}
		return nil, fmt.Errorf("network: download test failed: %w", err)
	}
	downloadMbps := float64(server.DLSpeed) / 1000 / 1000 * 8

	if onPhase != nil {
		onPhase(CalibrationPhase{Phase: "upload", PingMs: pingMs, DownloadMbps: downloadMbps, ServerName: server.Name, ISP: user.Isp})
	}

	if err := server.UploadTestContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("network: calibration timed out during upload: %w", err)
		}
		return nil, fmt.Errorf("network: upload test failed: %w", err)
	}
	uploadMbps := float64(server.ULSpeed) / 1000 / 1000 * 8

	result := &CalibrationResult{
		DownloadMbps:   downloadMbps,
		UploadMbps:     uploadMbps,
		PingMs:         pingMs,
		JitterMs:       int64(server.Jitter.Milliseconds()),
		ServerName:     server.Name,
		ServerLocation: fmt.Sprintf("%s, %s", server.Name, server.Country),
		ServerHost:     server.Host,
		ISP:            user.Isp,
		Timestamp:      time.Now().Format(time.RFC3339),
	}

	if onPhase != nil {
		onPhase(CalibrationPhase{
			Phase:        "complete",
			PingMs:       pingMs,
			DownloadMbps: downloadMbps,
			UploadMbps:   uploadMbps,
			ServerName:   server.Name,
			ISP:          user.Isp,
		})
	}

	return result, nil
}

// SeedBandwidthManager runs Calibrate and, on success, converts the measured
// download throughput into a bytes/sec limit for bm. Calibration failures are
// returned but are not fatal to the caller — runloop.Engine.CalibrateBandwidth
// logs them and proceeds unlimited.
func SeedBandwidthManager(ctx context.Context, bm *BandwidthManager, onPhase PhaseCallback) (*CalibrationResult, error) {
	result, err := Calibrate(ctx, onPhase)
	if err != nil {
		return nil, err
	}
	bytesPerSec := int(result.DownloadMbps * 1000 * 1000 / 8)
	bm.SetLimit(bytesPerSec)
	return result, nil
}
