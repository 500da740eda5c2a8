package filelane

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"testing"

	"datarunloop/internal/integrity"
	"datarunloop/internal/msgqueue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	f, err := os.CreateTemp("", "filelane_test")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	f.Write(content)
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func runTicks(lane *Lane, n int) {
	for i := 0; i < n; i++ {
		lane.Tick()
	}
}

func TestDefaultTagReturnsToIdle(t *testing.T) {
	content := make([]byte, 1000)
	path := writeTempFile(t, content)

	lane := New(testLogger(), 5, nil)
	lane.Queue.Push(msgqueue.Entry{Text: path})

	runTicks(lane, 50)

	if !lane.Idle() {
		t.Fatal("expected lane to return to idle after default-tag file load")
	}
}

func TestWallpaperBridgeUploadsImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 1, G: 2, B: 3, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := writeTempFile(t, buf.Bytes())

	var uploadedW, uploadedH int
	lane := New(testLogger(), 5, func(pixels []byte, w, h int) {
		uploadedW, uploadedH = w, h
	})
	lane.Queue.Push(msgqueue.Entry{Text: path + "|cb_menu_wallpaper"})

	runTicks(lane, 200)

	if !lane.Idle() {
		t.Fatal("expected lane to return to idle after wallpaper load")
	}
	if uploadedW != 4 || uploadedH != 4 {
		t.Fatalf("expected 4x4 upload, got %dx%d", uploadedW, uploadedH)
	}
}

func TestIntegrityCheckTagVerifiesBuffer(t *testing.T) {
	content := []byte("hello integrity")
	digest, err := integrity.HashBuffer(content, "sha256")
	if err != nil {
		t.Fatalf("HashBuffer: %v", err)
	}
	path := writeTempFile(t, content)

	lane := New(testLogger(), 5, nil)
	lane.Queue.Push(msgqueue.Entry{Text: path + "|cb_file_integrity_check:sha256:" + digest})

	lane.Tick() // opens the file
	for i := 0; i < 50 && lane.current != nil && !lane.current.isFinished; i++ {
		lane.Tick()
	}
	if lane.current == nil || lane.current.aborted || lane.current.err != nil {
		t.Fatal("expected the integrity check to pass before the task is freed")
	}

	runTicks(lane, 50)

	if !lane.Idle() {
		t.Fatal("expected lane to return to idle after integrity check")
	}
}

func TestSecondPostRefusedWhileActive(t *testing.T) {
	content := make([]byte, 10000)
	path := writeTempFile(t, content)

	lane := New(testLogger(), 1, nil)
	lane.Queue.Push(msgqueue.Entry{Text: path})
	lane.Tick() // opens the file, lane becomes active

	if lane.Idle() {
		t.Fatal("expected lane to be active immediately after open")
	}

	lane.Queue.Push(msgqueue.Entry{Text: path})
	if lane.Queue.Len() != 1 {
		t.Fatalf("expected second post to remain queued, queue len = %d", lane.Queue.Len())
	}
}
