package httplane

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"datarunloop/internal/httpclient"
	"datarunloop/internal/msgqueue"
	"datarunloop/internal/network"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runUntilIdle(t *testing.T, lane *Lane, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		if lane.Idle() {
			return
		}
		lane.Tick()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("lane never returned to idle")
}

func TestDefaultTagDropsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("some body"))
	}))
	defer srv.Close()

	called := false
	lane := New(testLogger(), httpclient.New(""), network.NewBandwidthManager(), network.NewCongestionController(1, 32), map[string]Sink{
		TagUpdaterList: func(body []byte) { called = true },
	})
	lane.Queue.Push(msgqueue.Entry{Text: srv.URL})

	lane.Tick() // poll -> connecting
	runUntilIdle(t, lane, 2000)

	if called {
		t.Fatal("default tag must not invoke any sink")
	}
}

func TestUpdaterListTagInvokesSink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"v2.0.0"}`))
	}))
	defer srv.Close()

	var received []byte
	lane := New(testLogger(), httpclient.New(""), network.NewBandwidthManager(), network.NewCongestionController(1, 32), map[string]Sink{
		TagUpdaterList: func(body []byte) { received = body },
	})
	lane.Queue.Push(msgqueue.Entry{Text: srv.URL + "|" + TagUpdaterList})

	lane.Tick()
	runUntilIdle(t, lane, 2000)

	if string(received) != `{"tag_name":"v2.0.0"}` {
		t.Fatalf("unexpected body received by sink: %q", received)
	}
}

type fakeSpeedRecorder struct {
	samples []int64
}

func (r *fakeSpeedRecorder) UpdateDownloadSpeed(bytesPerSec int64) {
	r.samples = append(r.samples, bytesPerSec)
}

func TestSpeedRecorderSamplesAndResetsOnCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 64*1024))
	}))
	defer srv.Close()

	lane := New(testLogger(), httpclient.New(""), network.NewBandwidthManager(), network.NewCongestionController(1, 32), nil)
	rec := &fakeSpeedRecorder{}
	lane.SetSpeedRecorder(rec)
	lane.Queue.Push(msgqueue.Entry{Text: srv.URL})

	lane.Tick()
	runUntilIdle(t, lane, 2000)

	if len(rec.samples) == 0 {
		t.Fatal("expected at least one speed sample")
	}
	if last := rec.samples[len(rec.samples)-1]; last != 0 {
		t.Fatalf("expected speed reset to 0 once the lane goes idle, got %d", last)
	}
}

func TestConnectionFailureReturnsToIdle(t *testing.T) {
	lane := New(testLogger(), httpclient.New(""), network.NewBandwidthManager(), network.NewCongestionController(1, 32), nil)
	lane.Queue.Push(msgqueue.Entry{Text: "http://127.0.0.1:1/closed"})

	lane.Tick()
	runUntilIdle(t, lane, 2000)
}
