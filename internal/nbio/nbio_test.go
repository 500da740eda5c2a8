package nbio

import (
	"os"
	"testing"
)

func TestOpenIterateReadsWholeFile(t *testing.T) {
	content := make([]byte, ChunkBytes*2+17)
	for i := range content {
		content[i] = byte(i)
	}
	tmp, err := os.CreateTemp("", "nbio_test")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	defer os.Remove(tmp.Name())
	tmp.Write(content)
	tmp.Close()

	h, err := Open(tmp.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Free()
	h.BeginRead()

	steps := 0
	for {
		done, err := h.Iterate()
		if err != nil {
			t.Fatalf("Iterate: %v", err)
		}
		steps++
		if done {
			break
		}
		if steps > 10 {
			t.Fatal("Iterate never reported done")
		}
	}

	got := h.GetPtr()
	if len(got) != len(content) {
		t.Fatalf("expected %d bytes, got %d", len(content), len(got))
	}
	for i := range content {
		if got[i] != content[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}

func TestOpenMissingFileFails(t *testing.T) {
	if _, err := Open("/nonexistent/path/does/not/exist"); err == nil {
		t.Fatal("expected error opening missing file")
	}
}
