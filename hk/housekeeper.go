// Package hk provides a mechanism for registering periodic callbacks —
// used by the TCP transport's heartbeat timer (spec.md §4.2) and the
// search manager's back-off ticker (spec.md §4.4) — so neither subsystem
// needs its own ad hoc time.Ticker/goroutine pair.
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/epics-pva/pvaclient-go/cmn/debug"
)

// F is a housekeeping callback. Its return value is the delay until it
// should run again; returning <=0 unregisters it.
type F func() time.Duration

type request struct {
	f        F
	name     string
	due      time.Time
	interval time.Duration
	index    int
}

// Housekeeper runs registered callbacks on their own schedule from a single
// goroutine, ordered by next-due time in a min-heap (mirrors the teacher's
// transport/collect.go stream collector).
type Housekeeper struct {
	mu      sync.Mutex
	heap    []*request
	byName  map[string]*request
	ctrlCh  chan func()
	stopCh  chan struct{}
	started chan struct{}
	once    sync.Once
}

var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{
		byName:  make(map[string]*request, 16),
		ctrlCh:  make(chan func(), 64),
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Reg registers f to run first after the given interval, then again after
// whatever duration f itself returns.
func (h *Housekeeper) Reg(name string, f F, interval time.Duration) {
	h.ctrlCh <- func() {
		if _, ok := h.byName[name]; ok {
			debug.Assert(false, "hk: duplicate registration ", name)
			return
		}
		r := &request{f: f, name: name, due: time.Now().Add(interval), interval: interval}
		h.byName[name] = r
		heap.Push(h, r)
	}
}

func (h *Housekeeper) Unreg(name string) {
	h.ctrlCh <- func() {
		r, ok := h.byName[name]
		if !ok {
			return
		}
		heap.Remove(h, r.index)
		delete(h.byName, name)
	}
}

func (h *Housekeeper) WaitStarted() { <-h.started }

func (h *Housekeeper) Stop() { close(h.stopCh) }

// Run is the housekeeper's main loop; call it from its own goroutine.
func (h *Housekeeper) Run() {
	h.once.Do(func() { close(h.started) })
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		timer.Reset(h.nextWait())
		select {
		case <-timer.C:
			h.fire()
		case ctrl := <-h.ctrlCh:
			ctrl()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Housekeeper) nextWait() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.heap) == 0 {
		return time.Hour
	}
	d := time.Until(h.heap[0].due)
	if d < 0 {
		return 0
	}
	return d
}

func (h *Housekeeper) fire() {
	now := time.Now()
	for {
		h.mu.Lock()
		if len(h.heap) == 0 || h.heap[0].due.After(now) {
			h.mu.Unlock()
			return
		}
		r := heap.Pop(h).(*request)
		h.mu.Unlock()

		next := r.f()
		if next <= 0 {
			h.mu.Lock()
			delete(h.byName, r.name)
			h.mu.Unlock()
			continue
		}
		r.due = now.Add(next)
		h.mu.Lock()
		heap.Push(h, r)
		h.mu.Unlock()
	}
}

// TestInit resets the default housekeeper for test isolation.
func TestInit() { DefaultHK = New() }

// heap.Interface. Every call site runs on the Run goroutine: fire holds
// h.mu around them, the Reg/Unreg control closures do not take it.
func (h *Housekeeper) Len() int { return len(h.heap) }
func (h *Housekeeper) Less(i, j int) bool {
	return h.heap[i].due.Before(h.heap[j].due)
}
func (h *Housekeeper) Swap(i, j int) {
	h.heap[i], h.heap[j] = h.heap[j], h.heap[i]
	h.heap[i].index = i
	h.heap[j].index = j
}
func (h *Housekeeper) Push(x any) {
	r := x.(*request)
	r.index = len(h.heap)
	h.heap = append(h.heap, r)
}
func (h *Housekeeper) Pop() any {
	old := h.heap
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	h.heap = old[:n-1]
	return r
}
