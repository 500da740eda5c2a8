// Command runloopd hosts the background data runloop headlessly: it ticks
// the engine in inline cooperative mode (the default) on a fixed interval
// standing in for a host application's main loop, while the loopback control
// surface lets an operator post file/image/http commands and read status.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"datarunloop/internal/analytics"
	"datarunloop/internal/config"
	"datarunloop/internal/control"
	"datarunloop/internal/dbindex"
	"datarunloop/internal/filesystem"
	"datarunloop/internal/httplane"
	"datarunloop/internal/logger"
	"datarunloop/internal/runloop"
	"datarunloop/internal/security"
	"datarunloop/internal/updater"
)

// tickInterval stands in for the host main loop's frame cadence; a real
// embedding calls Engine.Tick once per video/audio frame instead.
const tickInterval = 16 * time.Millisecond

// currentVersion is compared against the tag resolved by a cb_core_updater_list
// fetch to decide whether an update is available.
const currentVersion = "v0.0.0-dev"

func main() {
	log, err := logger.New(os.Stdout)
	if err != nil {
		println("Error initializing logger:", err.Error())
		os.Exit(1)
	}

	cfg := config.FromEnv()

	allocator := filesystem.NewAllocator()
	organizer := filesystem.NewSmartOrganizer()

	httpSinks := map[string]httplane.Sink{
		httplane.TagUpdaterDownload: func(body []byte) {
			dest, err := downloadDestPath()
			if err != nil {
				log.Error("runloopd: resolve download dest", "error", err)
				return
			}
			final, err := updater.SaveDownload(body, dest, allocator, organizer)
			if err != nil {
				log.Error("runloopd: save update download", "error", err)
				return
			}
			log.Info("runloopd: update saved", "path", final)
		},
		httplane.TagUpdaterList: func(body []byte) {
			rel, err := updater.ParseReleaseManifest(body)
			if err != nil {
				log.Error("runloopd: parse release manifest", "error", err)
				return
			}
			if updater.IsNewerRelease(currentVersion, *rel) {
				log.Info("runloopd: update available", "current", currentVersion, "latest", rel.TagName, "url", rel.HTMLURL)
			} else {
				log.Info("runloopd: up to date", "version", currentVersion)
			}
		},
	}

	// No renderer is embedded in this headless command; a real host passes
	// its own GPU texture upload here instead of logging the dimensions.
	uploader := func(pixels []byte, w, h int) {
		log.Info("runloopd: image decoded", "width", w, "height", h, "bytes", len(pixels))
	}

	engine := runloop.New(log, cfg, uploader, httpSinks)

	scanner := security.NewScanner(log)
	if indexer, err := dbindex.Open(indexDBPath(), scanner, log); err != nil {
		log.Warn("runloopd: offline index unavailable", "error", err)
	} else {
		engine.SetIndexDriver(dbindex.NewDriver(indexer))
	}

	engine.Init(false) // inline cooperative mode

	calibCtx, cancelCalib := context.WithTimeout(context.Background(), 15*time.Second)
	engine.CalibrateBandwidth(calibCtx)
	cancelCalib()

	audit := security.NewAuditLogger(log)
	defer audit.Close()

	stats := analytics.NewStatsManager(downloadDestDir)
	engine.HTTPLane().SetSpeedRecorder(stats)
	control.New(log, engine, cfg, audit, stats).Start()

	waitForSignals(func() {
		log.Info("runloopd: signal received, shutting down")
		engine.Deinit()
		os.Exit(0)
	})

	log.Info("runloopd: engine running", "tick_interval", tickInterval)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for range ticker.C {
		engine.Tick()
	}
}

func downloadDestDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "datarunloop"), nil
}

func downloadDestPath() (string, error) {
	dir, err := downloadDestDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "update.bin"), nil
}

func indexDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "datarunloop-index.db"
	}
	full := filepath.Join(dir, "datarunloop")
	os.MkdirAll(full, 0755)
	return filepath.Join(full, "index.db")
}

// waitForSignals listens for os.Interrupt and SIGTERM and calls onSignal
// when triggered.
func waitForSignals(onSignal func()) {
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		if onSignal != nil {
			onSignal()
		}
	}()
}
