// Package httplane implements the HTTP lane's two-phase state machine:
// connect, then transfer, then dispatch the completed body to a tag-selected
// sink. Only one transfer is ever active (spec invariant 1), which is what
// lets internal/network's AIMD congestion controller double as a per-tick
// transfer-budget multiplier instead of a worker-pool sizer.
package httplane

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"datarunloop/internal/httpclient"
	"datarunloop/internal/msgqueue"
	"datarunloop/internal/network"
)

const (
	TagUpdaterDownload = "cb_core_updater_download"
	TagUpdaterList     = "cb_core_updater_list"

	baseChunkBytes = 16 * 1024
)

// Sink receives a fully-transferred body exactly once. Unknown tags map to a
// nil sink: the body is dropped but the session is still freed.
type Sink func(body []byte)

// SpeedRecorder receives instantaneous transfer-speed samples, in
// bytes/sec, as the active transfer progresses. Satisfied by
// *analytics.StatsManager; optional, so the lane has no import-time
// dependency on the analytics package.
type SpeedRecorder interface {
	UpdateDownloadSpeed(bytesPerSec int64)
}

// Lane owns the bounded URL-command queue and the single active Task.
type Lane struct {
	Queue *msgqueue.Queue

	client     *httpclient.Client
	bandwidth  *network.BandwidthManager
	congestion *network.CongestionController
	sinks      map[string]Sink
	speed      SpeedRecorder

	current *task
	log     *slog.Logger
}

type task struct {
	tag  string
	host string

	conn    *httpclient.Connection
	session *httpclient.Session

	// sampledAt/sampledBytes track the previous speed sample so
	// iterateTransfer can derive an instantaneous bytes/sec rate.
	sampledAt    time.Time
	sampledBytes int64
}

// New returns an idle lane. sinks maps completion tags (TagUpdaterDownload,
// TagUpdaterList, or custom ones) to body handlers.
func New(log *slog.Logger, client *httpclient.Client, bandwidth *network.BandwidthManager, congestion *network.CongestionController, sinks map[string]Sink) *Lane {
	return &Lane{
		Queue:      msgqueue.New(),
		client:     client,
		bandwidth:  bandwidth,
		congestion: congestion,
		sinks:      sinks,
		log:        log,
	}
}

// SetSpeedRecorder attaches a collaborator that receives instantaneous
// transfer-speed samples while a body is being read. Optional; nil (the
// default) disables sampling entirely.
func (l *Lane) SetSpeedRecorder(r SpeedRecorder) {
	l.speed = r
}

// Idle reports whether the lane has no active transfer.
func (l *Lane) Idle() bool {
	return l.current == nil
}

// Tick advances the lane by one bounded step: at most one connection poll or
// one bandwidth-bounded body read.
func (l *Lane) Tick() {
	if l.current == nil {
		l.poll()
		return
	}

	t := l.current
	if t.session == nil {
		l.iterateConnect(t)
		return
	}
	l.iterateTransfer(t)
}

func (l *Lane) poll() {
	entry, ok := l.Queue.Pull()
	if !ok {
		return
	}
	target, tag := splitCommand(entry.Text)

	conn, err := l.client.ConnectionNew(context.Background(), target)
	if err != nil {
		l.log.Warn("httplane: connection_new failed", "url", target, "error", err)
		return
	}

	l.current = &task{conn: conn, tag: tag, host: hostOf(target)}
	l.log.Debug("httplane: connecting", "url", target, "tag", tag)
}

func (l *Lane) iterateConnect(t *task) {
	if !t.conn.ConnectionIterate() {
		return
	}
	if !t.conn.ConnectionDone() {
		l.log.Warn("httplane: connection failed", "error", friendlyOrNil(t.conn.Err()))
		l.congestion.RecordOutcome(t.host, 0, t.conn.Err())
		l.abort(t)
		return
	}

	sess, err := httpclient.SessionNew(t.conn)
	t.conn.ConnectionFree()
	if err != nil {
		l.log.Warn("httplane: session_new failed", "error", err)
		l.abort(t)
		return
	}
	t.session = sess
	t.sampledAt = time.Now()
}

func (l *Lane) iterateTransfer(t *task) {
	budget := l.congestion.IdealTransferBudget(t.host) * baseChunkBytes
	if l.bandwidth != nil {
		if !l.bandwidth.Allow(budget) {
			l.log.Debug("httplane: bandwidth budget throttled this tick", "requested", budget)
		}
		_ = l.bandwidth.Wait(context.Background(), budget)
	}

	readStart := time.Now()
	done, err := t.session.Update(budget)
	l.congestion.RecordOutcome(t.host, time.Since(readStart), err)
	l.sampleSpeed(t, readStart)

	if err != nil {
		l.log.Warn("httplane: transfer error", "error", err)
		t.session.Delete()
		l.finish(t)
		return
	}
	if !done {
		return
	}

	body := t.session.Data()
	l.log.Info("httplane: transfer complete", "bytes", len(body), "tag", t.tag, "filename", t.session.Filename())
	t.session.Delete()

	if sink, ok := l.sinks[t.tag]; ok && sink != nil {
		sink(body)
	}
	l.finish(t)
}

// sampleSpeed derives an instantaneous bytes/sec rate from the bytes read
// since the task's last sample and forwards it to the configured recorder.
func (l *Lane) sampleSpeed(t *task, now time.Time) {
	if l.speed == nil {
		return
	}
	elapsed := now.Sub(t.sampledAt).Seconds()
	total := t.session.BytesSoFar()
	if elapsed > 0 {
		delta := total - t.sampledBytes
		l.speed.UpdateDownloadSpeed(int64(float64(delta) / elapsed))
	}
	t.sampledAt = now
	t.sampledBytes = total
}

func (l *Lane) abort(t *task) {
	t.conn.ConnectionFree()
	l.current = nil
}

func (l *Lane) finish(t *task) {
	l.current = nil
	l.Queue.Clear()
	if l.speed != nil {
		l.speed.UpdateDownloadSpeed(0)
	}
}

func splitCommand(text string) (target, tag string) {
	idx := strings.IndexByte(text, '|')
	if idx < 0 {
		return text, ""
	}
	return text[:idx], text[idx+1:]
}

// friendlyOrNil translates a connection error into the short human-readable
// form httpclient.FriendlyError produces, passing nil through unchanged.
func friendlyOrNil(err error) error {
	if err == nil {
		return nil
	}
	return httpclient.FriendlyError(err)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
