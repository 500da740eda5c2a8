// Package nbio is the non-blocking file I/O primitive the file lane drives.
// It exposes exactly the narrow surface the lane needs — Open, BeginRead,
// Iterate, GetPtr, Free — so the lane never has to reason about *os.File
// directly. Each Iterate call reads at most one fixed-size increment, which
// is what lets the lane bound its per-tick work regardless of file size.
package nbio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// ChunkBytes is the amount of file data one Iterate substep transfers.
const ChunkBytes = 64 * 1024

// Handle is an owned, in-flight non-blocking file read. The zero value is
// not usable; obtain one from Open.
type Handle struct {
	file *os.File
	buf  []byte
	size int64

	// FreeBytesHint is a best-effort, non-blocking diagnostic captured at
	// Open time; it never gates the read and is never re-checked mid-read.
	FreeBytesHint uint64
}

// Open stats the file's volume for a free-space diagnostic, opens the file
// read-only, and returns an owned Handle. It returns (nil, err) on failure —
// the caller must not call any other method on a nil Handle.
func Open(path string) (*Handle, error) {
	free, _ := freeSpaceHint(path) // advisory only; an error here never blocks Open

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nbio: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("nbio: stat %s: %w", path, err)
	}

	return &Handle{
		file:          f,
		size:          info.Size(),
		FreeBytesHint: free,
	}, nil
}

func freeSpaceHint(path string) (uint64, error) {
	usage, err := disk.Usage(filepath.Dir(path))
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// BeginRead preallocates the destination buffer. It performs no I/O itself;
// the transfer happens across subsequent Iterate calls.
func (h *Handle) BeginRead() {
	if h.size > 0 {
		h.buf = make([]byte, 0, h.size)
	} else {
		h.buf = make([]byte, 0, ChunkBytes)
	}
}

// Iterate transfers at most ChunkBytes more of the file into the internal
// buffer and reports whether the transfer is done (EOF reached). It never
// blocks longer than one bounded Read syscall.
func (h *Handle) Iterate() (done bool, err error) {
	chunk := make([]byte, ChunkBytes)
	n, readErr := h.file.Read(chunk)
	if n > 0 {
		h.buf = append(h.buf, chunk[:n]...)
	}
	if readErr == io.EOF {
		return true, nil
	}
	if readErr != nil {
		return false, fmt.Errorf("nbio: read: %w", readErr)
	}
	return false, nil
}

// GetPtr returns the bytes transferred so far. The slice aliases the
// Handle's internal buffer; the file lane lends it to the image sub-lane and
// calls Free only after the image task is done with it.
func (h *Handle) GetPtr() []byte {
	return h.buf
}

// Free releases the underlying file descriptor. It is safe to call more
// than once.
func (h *Handle) Free() {
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
	h.buf = nil
}
