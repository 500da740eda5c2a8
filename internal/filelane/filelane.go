// Package filelane implements the file lane's state machine: pull a path
// command off its queue, stream the file into memory in bounded chunks,
// then dispatch the completed buffer to a tag-selected sink. One of those
// sinks bridges into the image sub-lane (package imagelane) for progressive
// PNG decode; the file task stays alive, handle un-freed, until the image
// task finishes.
package filelane

import (
	"log/slog"
	"strings"

	"datarunloop/internal/imagelane"
	"datarunloop/internal/integrity"
	"datarunloop/internal/msgqueue"
	"datarunloop/internal/nbio"
)

const (
	tagWallpaper = "cb_menu_wallpaper"

	// IntegrityTagPrefix is exported so the engine's Post can reject it at
	// the door when config.Tunables.EnableIntegrityCheck is false, without
	// duplicating the literal.
	IntegrityTagPrefix  = "cb_file_integrity_check:"
	defaultIntegrityAlg = "sha256"
)

// Task is one in-flight file read, mirroring the spec's FileTask.
type Task struct {
	handle *nbio.Handle
	tag    string

	isBlocking bool
	isFinished bool
	frameCount int

	image *imagelane.Task

	aborted bool
	err     error
}

// Lane owns the bounded command queue and the single active Task.
type Lane struct {
	Queue *msgqueue.Queue

	current *Task

	// StepsPerTick is the spec's fixed pos_increment (5 nbio.Iterate
	// substeps per tick) — exposed for config override.
	StepsPerTick int

log *slog.Logger

	// Upload is the image sub-lane's renderer hand-off, forwarded from the
	// engine's configured uploader.
	Upload imagelane.Uploader

	// PNGChunkDivisor / PNGProcessDivisor configure the image sub-lane's
	// per-tick step divisors (default 2 and 4, see imagelane.NewTaskWithDivisors).
	PNGChunkDivisor   int
	PNGProcessDivisor int
}

// New returns an idle lane bounded to stepsPerTick nbio substeps per tick.
func New(log *slog.Logger, stepsPerTick int, upload imagelane.Uploader) *Lane {
	if stepsPerTick < 1 {
		stepsPerTick = 5
	}
	return &Lane{
		Queue:             msgqueue.New(),
		StepsPerTick:      stepsPerTick,
		log:               log,
		Upload:            upload,
		PNGChunkDivisor:   2,
		PNGProcessDivisor: 4,
	}
}

// Idle reports whether the lane has no active task (invariant 1: at most
// one active handle).
func (l *Lane) Idle() bool {
	return l.current == nil
}

// Tick advances the lane by exactly one bounded step.
func (l *Lane) Tick() {
	if l.current != nil && l.current.image != nil {
		l.driveImage()
		return
	}

	if l.current == nil {
		l.poll()
		return
	}

	t := l.current
	switch {
	case !t.isBlocking:
		l.iterateTransfer(t)
	case t.isBlocking && !t.isFinished:
		l.iterateParse(t)
	case t.isBlocking && t.isFinished:
		l.free(t)
	}
}

func (l *Lane) poll() {
	entry, ok := l.Queue.Pull()
	if !ok {
		return
	}
	path, tag := splitCommand(entry.Text)

	h, err := nbio.Open(path)
	if err != nil {
		l.log.Warn("filelane: open failed", "path", path, "error", err)
		return
	}
	h.BeginRead()

	l.current = &Task{handle: h, tag: tag}
	l.log.Debug("filelane: opened", "path", path, "tag", tag)
}

func (l *Lane) iterateTransfer(t *Task) {
	var done bool
	var err error
	for i := 0; i < l.StepsPerTick; i++ {
		done, err = t.handle.Iterate()
		t.frameCount++
		if done || err != nil {
			break
		}
	}
	if err != nil {
		l.log.Warn("filelane: transfer error", "error", err)
		t.aborted = true
		t.isBlocking = true
		t.isFinished = true
		return
	}
	if !done {
		return
	}
	// "current tick reports -1": flip to blocking, parse runs next tick.
	t.isBlocking = true
}

func (l *Lane) iterateParse(t *Task) {
	buf := t.handle.GetPtr()

	switch {
	case t.tag == tagWallpaper:
		l.log.Info("filelane: bridging to image lane", "bytes", len(buf))
		t.image = imagelane.NewTaskWithDivisors(buf, l.PNGChunkDivisor, l.PNGProcessDivisor)
		t.isFinished = true // file handle freed once image task completes

	case strings.HasPrefix(t.tag, IntegrityTagPrefix):
		algo, expected := parseIntegritySpec(t.tag)
		if err := integrity.VerifyBuffer(buf, algo, expected); err != nil {
			l.log.Warn("filelane: integrity mismatch", "error", err)
			t.err = err
			t.aborted = true
		} else {
			l.log.Info("filelane: integrity check passed", "algo", algo)
		}
		t.isFinished = true

	default:
		// default drop: no sink, handle is simply freed next tick.
		t.isFinished = true
	}
}

func (l *Lane) driveImage() {
	t := l.current
	t.image.Tick(l.log, l.Upload)
	if !t.image.Done() {
		return
	}
	t.image.Free()
	t.image = nil
	l.free(t)
}

func (l *Lane) free(t *Task) {
	t.handle.Free()
	l.current = nil
}

func splitCommand(text string) (path, tag string) {
	idx := strings.IndexByte(text, '|')
	if idx < 0 {
		return text, ""
	}
	return text[:idx], text[idx+1:]
}

func parseIntegritySpec(tag string) (algo, expected string) {
	rest := strings.TrimPrefix(tag, IntegrityTagPrefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return defaultIntegrityAlg, rest
	}
	return parts[0], parts[1]
}
