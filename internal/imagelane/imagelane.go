// Package imagelane implements the progressive PNG decode sub-lane driven
// by the file lane once a file-read bridges into image decoding. A Task
// advances through HEADERS -> PROCESS -> UPLOAD -> FREE, each stage bounded
// to a fixed number of sub-steps per tick so a large image never blocks the
// file lane's own dispatch.
package imagelane

import (
	"log/slog"

	"datarunloop/internal/pngdecode"
)

// Uploader hands a fully decoded RGBA buffer to the renderer and frees it.
// It is the external collaborator named in the spec's "rendering/texture
// subsystem" — this package only calls it, never implements it.
type Uploader func(pixels []byte, width, height int)

// Stage names the task's current step, mirroring the source's staged
// callback field (cb) that flips from header-parse to pixel-process.
type Stage int

const (
	StageHeaders Stage = iota
	StageProcess
	StageDone
	StageAborted
)

// Task is one in-flight progressive PNG decode. The zero value is not
// usable; construct with NewTask.
type Task struct {
	decoder *pngdecode.Decoder
	buf     []byte

	stage Stage

	isBlocking               bool
	isFinished               bool
	isBlockingOnProcessing   bool
	isFinishedWithProcessing bool

	posIncrement           int
	processingPosIncrement int
	processingFinalState   pngdecode.Result

	pixels        []byte
	width, height int
}

// NewTask starts a fresh decode over buf using the default divisors (pos_increment
// = max(1, len/2), processing_pos_increment = max(1, len/4)).
func NewTask(buf []byte) *Task {
	return NewTaskWithDivisors(buf, 2, 4)
}

// NewTaskWithDivisors starts a fresh decode over buf with configurable step
// divisors, per the design note that the hard-coded /2 and /4 constants
// belong in a configuration record (png_chunks_per_tick_divisor,
// png_process_per_tick_divisor). A divisor ≤ 0 falls back to the default.
func NewTaskWithDivisors(buf []byte, chunkDivisor, processDivisor int) *Task {
	if chunkDivisor <= 0 {
		chunkDivisor = 2
	}
	if processDivisor <= 0 {
		processDivisor = 4
	}
	t := &Task{
		decoder: pngdecode.New(),
		buf:     buf,
		stage:   StageHeaders,
	}
	t.decoder.Start()
	t.posIncrement = maxInt(1, len(buf)/chunkDivisor)
	t.processingPosIncrement = maxInt(1, len(buf)/processDivisor)
	return t
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Done reports whether the task has reached a terminal stage (uploaded or
// aborted) and is ready for the file lane to free it.
func (t *Task) Done() bool {
	return t.stage == StageDone || t.stage == StageAborted
}

// Aborted reports whether the task ended without a successful upload.
func (t *Task) Aborted() bool {
	return t.stage == StageAborted
}

// Tick advances the task by one bounded step, mirroring the three-branch
// per-tick dispatch named in the spec: processing takes priority over
// header-scanning, which takes priority over the finished/free path.
func (t *Task) Tick(log *slog.Logger, upload Uploader) {
	switch {
	case t.isBlockingOnProcessing:
		t.iterateProcessTransfer(log, upload)
	case !t.isBlocking:
		t.iterateTransfer(log)
	case t.isFinished:
		// Caller (file lane) observes Done() and frees the decoder; nothing
		// to do here beyond having reached a terminal stage.
	}
}

func (t *Task) iterateTransfer(log *slog.Logger) {
	var done bool
	var err error
	for i := 0; i < t.posIncrement; i++ {
		done, err = t.decoder.Iterate(t.buf)
		if done {
			break
		}
	}
	if err != nil {
		log.Warn("imagelane: chunk scan error", "error", err)
		t.abort()
		return
	}
	if !done {
		return // more chunks remain; resume next tick
	}
	t.iterateTransferParse(log)
}

func (t *Task) iterateTransferParse(log *slog.Logger) {
	if !t.decoder.HeadersComplete() {
		log.Warn("imagelane: incomplete PNG (missing IHDR/IDAT/IEND), aborting")
		t.abort()
		return
	}
	t.stage = StageProcess
	t.isBlocking = true
	t.isBlockingOnProcessing = true
}

func (t *Task) iterateProcessTransfer(log *slog.Logger, upload Uploader) {
	var result pngdecode.Result
	for i := 0; i < t.processingPosIncrement; i++ {
		result = t.decoder.Process(t.buf, 1)
		if result != pngdecode.Next {
			break
		}
	}
	if result == pngdecode.Next {
		return // more rows remain; resume next tick
	}
	t.processingFinalState = result
	t.iterateProcessTransferParse(log, upload)
}

func (t *Task) iterateProcessTransferParse(log *slog.Logger, upload Uploader) {
	t.isBlockingOnProcessing = false
	t.isFinishedWithProcessing = true
	t.isFinished = true

	if t.processingFinalState != pngdecode.OK {
		log.Warn("imagelane: decode failed", "state", t.processingFinalState.String())
		t.abort()
		return
	}

	pix, w, h := t.decoder.Pixels()
	t.pixels, t.width, t.height = pix, w, h
	if upload != nil {
		upload(pix, w, h)
	}
	t.stage = StageDone
}

func (t *Task) abort() {
	t.isFinished = true
	t.isBlockingOnProcessing = false
	t.stage = StageAborted
}

// Free releases the decoder. Safe to call once the task is Done().
func (t *Task) Free() {
	if t.decoder != nil {
		t.decoder.Free()
		t.decoder = nil
	}
	t.buf = nil
	t.pixels = nil
}

// Dimensions returns the decoded image size (0,0 before a successful decode).
func (t *Task) Dimensions() (width, height int) {
	return t.width, t.height
}
