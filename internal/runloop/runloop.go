// Package runloop is the engine shell: it owns the three task lanes, the
// overlay/DB drivers, and the banner feed, and exposes the single Post entry
// point plus the Init/Tick/Deinit/ClearState lifecycle described for the
// engine as a whole. It chooses between two concurrency modes at Init time —
// inline cooperative (the caller drives Tick) or an owned worker goroutine
// that ticks itself — with identical observable behavior either way.
package runloop

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"datarunloop/internal/banner"
	"datarunloop/internal/config"
	"datarunloop/internal/dbindex"
	"datarunloop/internal/filelane"
	"datarunloop/internal/httpclient"
	"datarunloop/internal/httplane"
	"datarunloop/internal/imagelane"
	"datarunloop/internal/msgqueue"
	"datarunloop/internal/network"
	"datarunloop/internal/overlay"
)

// PostType selects which lane a command is routed to.
type PostType int

const (
	PostNone PostType = iota
	PostFile
	PostImage
	PostHTTP
	PostOverlay
)

// Engine is the singleton-shaped runloop: one process normally owns exactly
// one, constructed explicitly and passed by reference rather than reached
// through a package-level global.
type Engine struct {
	log *slog.Logger
	cfg config.Tunables

	fileLane *filelane.Lane
	httpLane *httplane.Lane

	overlayDriver *overlay.Driver // nil when no overlay is configured
	dbDriver      *dbindex.Driver // nil when no offline index is configured

	bandwidth  *network.BandwidthManager
	congestion *network.CongestionController

	banner *banner.Feed

	// lock guards a live Tick dispatch and is also taken by Post in worker
	// mode, so a producer's Post cannot race a live Tick (spec §9 open
	// question, resolved: producers take the lane lock on every post).
	lock sync.Mutex

	// condLock + cond guard threadQuit during worker-mode teardown only;
	// the worker's per-tick loop never waits on cond (no suspension points
	// within a tick).
	condLock   sync.Mutex
	cond       *sync.Cond
	threadQuit bool

	workerMode bool
	workerDone chan struct{}
	inited     bool
}

// New builds an idle Engine from cfg. upload is the image sub-lane's
// renderer hand-off; httpSinks maps HTTP completion tags to body handlers
// (see httplane.TagUpdaterDownload / TagUpdaterList).
func New(log *slog.Logger, cfg config.Tunables, upload imagelane.Uploader, httpSinks map[string]httplane.Sink) *Engine {
	bandwidth := network.NewBandwidthManager()
	if cfg.BandwidthLimitBytesPerSec > 0 {
		bandwidth.SetLimit(cfg.BandwidthLimitBytesPerSec)
	}
	congestion := network.NewCongestionController(1, 32)
	client := httpclient.New(cfg.UserAgent)

	fileLane := filelane.New(log, cfg.NbioStepsPerTick, upload)
	fileLane.PNGChunkDivisor = cfg.PNGChunkDivisor
	fileLane.PNGProcessDivisor = cfg.PNGProcessDivisor

	return &Engine{
		log:        log,
		cfg:        cfg,
		fileLane:   fileLane,
		httpLane:   httplane.New(log, client, bandwidth, congestion, httpSinks),
		bandwidth:  bandwidth,
		congestion: congestion,
		banner:     banner.NewFeed(),
	}
}

// SetOverlayDriver attaches the input-overlay state machine dispatcher.
// Optional: a nil driver (the default) means the overlay call site is
// skipped every tick, matching StatusNone's skip behavior.
func (e *Engine) SetOverlayDriver(d *overlay.Driver) {
	e.overlayDriver = d
}

// SetIndexDriver attaches the offline database indexer's step driver.
// Optional, like the overlay driver.
func (e *Engine) SetIndexDriver(d *dbindex.Driver) {
	e.dbDriver = d
}

// FileLane, HTTPLane, and Banner expose the lanes and feed to callers that
// need to inspect engine state (e.g. a control-surface status endpoint).
func (e *Engine) FileLane() *filelane.Lane { return e.fileLane }
func (e *Engine) HTTPLane() *httplane.Lane { return e.httpLane }
func (e *Engine) Banner() *banner.Feed     { return e.banner }

// Init zeroes lifecycle state and, when workerMode is true, spawns the
// owned worker goroutine. Calling Init a second time before Deinit is a
// no-op (init(); init() ≡ init()).
func (e *Engine) Init(workerMode bool) {
	if e.inited {
		return
	}
	e.inited = true
	e.workerMode = workerMode
	e.threadQuit = false

	if !workerMode {
		return
	}
	e.cond = sync.NewCond(&e.condLock)
	e.workerDone = make(chan struct{})
	go e.runWorker()
}

// CalibrateBandwidth performs the one-shot network measurement used to seed
// the bandwidth manager's initial limit. It is meant to be called once,
// around Init, and is never part of the tick path; AIMD congestion control
// takes over from whatever limit it seeds. Errors are logged, not fatal —
// the engine runs fine with an unseeded (unlimited) bandwidth manager.
func (e *Engine) CalibrateBandwidth(ctx context.Context) {
	result, err := network.SeedBandwidthManager(ctx, e.bandwidth, nil)
	if err != nil {
		e.log.Warn("runloop: bandwidth calibration failed", "error", err)
		return
	}
	e.log.Info("runloop: bandwidth calibrated", "download_mbps", result.DownloadMbps, "server", result.ServerName)
}

// Deinit signals the worker thread (if any) to quit, joins it, and marks the
// engine as not inited. Safe to call on an engine that was never Init'd.
func (e *Engine) Deinit() {
	if !e.inited {
		return
	}
	if e.workerMode {
		e.condLock.Lock()
		e.threadQuit = true
		e.cond.Broadcast()
		e.condLock.Unlock()
		<-e.workerDone
	}
	e.inited = false
}

// ClearState is deinit followed by init on the same worker-mode setting,
// per spec invariant 4: deinit();init();tick() ≡ clear_state();tick().
func (e *Engine) ClearState() {
	mode := e.workerMode
	e.Deinit()
	e.Init(mode)
}

// Tick runs one bounded dispatch pass: overlay, then file lane, then HTTP
// lane, then the DB index driver. In worker mode this is a no-op — the
// worker thread ticks itself — matching the spec's "rarch_main_data_iterate
// is a no-op when thread_inited" rule (invariant 5).
func (e *Engine) Tick() {
	if e.workerMode {
		return
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	e.dispatchLocked()
}

func (e *Engine) dispatchLocked() {
	if e.overlayDriver != nil {
		e.overlayDriver.Tick()
	}
	e.fileLane.Tick()
	e.httpLane.Tick()
	if e.dbDriver != nil {
		e.dbDriver.Tick()
	}
}

// runWorker is the owned worker goroutine's tight tick loop. It holds lock
// only for the duration of one dispatch pass (matching Post's locking so a
// producer call can't race a live Tick), and checks threadQuit between
// passes without ever suspending inside one.
func (e *Engine) runWorker() {
	defer close(e.workerDone)
	for {
		e.condLock.Lock()
		quit := e.threadQuit
		e.condLock.Unlock()
		if quit {
			return
		}

		e.lock.Lock()
		e.dispatchLocked()
		e.lock.Unlock()
	}
}

// Post is the sole producer entry point. msg and msg2 are joined as
// "msg|msg2" before enqueue (an empty msg2 leaves msg unsuffixed). flush
// clears the target queue before pushing. NONE and OVERLAY are accepted and
// ignored (overlay has no queue of its own). IMAGE commands are routed to
// the file lane's queue: the image sub-lane has no producer-facing queue of
// its own and is always fed by a file-lane read (spec §4.2 poll behavior).
//
// A FILE post carrying the integrity-check tag is rejected outright (no
// banner post, no enqueue) when cfg.EnableIntegrityCheck is false — the
// lane never even sees the command.
//
// Every other accepted command also reaches the banner feed, regardless of
// type — the banner only consumes the priority/duration fields and never
// the lane routing.
func (e *Engine) Post(t PostType, msg, msg2 string, priority, durationMs int, flush bool) bool {
	if t == PostFile && !e.cfg.EnableIntegrityCheck && strings.HasPrefix(msg2, filelane.IntegrityTagPrefix) {
		return false
	}

	if e.workerMode {
		e.lock.Lock()
		defer e.lock.Unlock()
	}

	text := msg
	if msg2 != "" {
		text = msg + "|" + msg2
	}
	e.banner.Post(text, priority, durationMs)

	switch t {
	case PostNone, PostOverlay:
		return true
	case PostFile, PostImage:
		return pushEntry(e.fileLane.Queue, text, priority, durationMs, flush)
	case PostHTTP:
		return pushEntry(e.httpLane.Queue, text, priority, durationMs, flush)
	default:
		return false
	}
}

func pushEntry(q *msgqueue.Queue, text string, priority, durationMs int, flush bool) bool {
	if flush {
		q.Clear()
	}
	return q.Push(msgqueue.Entry{Text: text, Priority: priority, Duration: durationMs})
}
