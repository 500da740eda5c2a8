// Package banner implements the priority-ordered notification feed that
// consumes the priority/duration fields carried on every posted command.
// Lanes never read these fields — they exist purely so a host UI can show
// "fetching wallpaper..." style banners in an order distinct from the FIFO
// order the lanes themselves use.
package banner

import (
	"container/heap"
	"sync"
	"time"
)

// Notice is one banner-worthy event derived from a posted command.
type Notice struct {
	Text     string
	Priority int // higher drains first
	Duration time.Duration
	index    int // heap bookkeeping
}

// noticeHeap implements heap.Interface over *Notice, highest priority first
// and, for ties, oldest enqueued first (insertion order is the tiebreaker
// via index, which only grows).
type noticeHeap []*Notice

func (h noticeHeap) Len() int { return len(h) }

func (h noticeHeap) Less(i, j int) bool {
	if h[i].Priority == h[j].Priority {
		return h[i].index < h[j].index
	}
	return h[i].Priority > h[j].Priority
}

func (h noticeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *noticeHeap) Push(x any) {
	*h = append(*h, x.(*Notice))
}

func (h *noticeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Feed is a thread-safe priority feed of Notices.
type Feed struct {
	mu      sync.Mutex
	h       noticeHeap
	seq     int
	current *Notice
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	f := &Feed{}
	heap.Init(&f.h)
	return f
}

// Post enqueues a notice. Priority and duration are taken verbatim from the
// command that produced it; the banner never re-derives them.
func (f *Feed) Post(text string, priority int, durationMs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	heap.Push(&f.h, &Notice{
		Text:     text,
		Priority: priority,
		Duration: time.Duration(durationMs) * time.Millisecond,
		index:    f.seq,
	})
}

// Next pops the highest-priority notice, if any.
func (f *Feed) Next() (Notice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.h.Len() == 0 {
		return Notice{}, false
	}
	n := heap.Pop(&f.h).(*Notice)
	return *n, true
}

// Len reports the number of queued notices.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h.Len()
}
