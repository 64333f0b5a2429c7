package client

import (
	"sync"
	"time"

	"github.com/epics-pva/pvaclient-go/pvdata"
)

// completion is the private holder spec.md §4.8 describes: a mutex, a
// one-shot signal channel standing in for a condition/event, and the
// terminal Event once delivered.
type completion struct {
	mu   sync.Mutex
	done bool
	ev   Event
	sig  chan struct{}
}

func newCompletion() *completion {
	return &completion{sig: make(chan struct{})}
}

// deliver is handed to Channel.Get/Put/PutGet/Rpc/Process/GetField as their
// callback. Disconnect notifications are not terminal (spec.md §7
// ConnectionClosed/§4: "operations are not auto-destroyed") so they pass
// through without completing the wait — the operation resubmits itself on
// reconnect and the blocking wrapper's own timeout is what eventually
// bounds the wait.
func (h *completion) deliver(ev Event) {
	if ev.Kind == EventDisconnect {
		return
	}
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	h.ev = ev
	h.mu.Unlock()
	close(h.sig)
}

func (h *completion) wait(timeout time.Duration, op *Operation) (pvdata.Serializable, error) {
	select {
	case <-h.sig:
	case <-time.After(timeout):
		op.cancel()
		return nil, ErrTimeout
	}
	h.mu.Lock()
	ev := h.ev
	h.mu.Unlock()
	switch ev.Kind {
	case EventSuccess:
		return ev.Value, nil
	case EventCancel:
		return nil, ErrCancelled
	default:
		return nil, ev.Err
	}
}

// GetSync is the blocking convenience for Get (spec.md §6 "channel.get
// (timeout|cb, pvRequest) → value | Operation", §4.8).
func (c *Channel) GetSync(pvRequest string, timeout time.Duration) (pvdata.Serializable, error) {
	h := newCompletion()
	op := c.Get(pvRequest, h.deliver)
	return h.wait(timeout, op)
}

// PutSync is the blocking convenience for Put.
func (c *Channel) PutSync(value pvdata.Serializable, pvRequest string, timeout time.Duration) error {
	h := newCompletion()
	op := c.Put(value, pvRequest, h.deliver)
	_, err := h.wait(timeout, op)
	return err
}

// PutGetSync is the blocking convenience for PutGet.
func (c *Channel) PutGetSync(value pvdata.Serializable, pvRequest string, timeout time.Duration) (pvdata.Serializable, error) {
	h := newCompletion()
	op := c.PutGet(value, pvRequest, h.deliver)
	return h.wait(timeout, op)
}

// RpcSync is the blocking convenience for Rpc.
func (c *Channel) RpcSync(args pvdata.Serializable, pvRequest string, timeout time.Duration) (pvdata.Serializable, error) {
	h := newCompletion()
	op := c.Rpc(args, pvRequest, h.deliver)
	return h.wait(timeout, op)
}

// ProcessSync is the blocking convenience for Process.
func (c *Channel) ProcessSync(pvRequest string, timeout time.Duration) error {
	h := newCompletion()
	op := c.Process(pvRequest, h.deliver)
	_, err := h.wait(timeout, op)
	return err
}

// GetFieldSync is the blocking convenience for GetField.
func (c *Channel) GetFieldSync(subField string, timeout time.Duration) (pvdata.Serializable, error) {
	h := newCompletion()
	op := c.GetField(subField, h.deliver)
	return h.wait(timeout, op)
}

// MonitorSync wraps a Monitor with an event multiple subscriptions may
// share (spec.md §4.8 "Synchronous monitor additionally allows multiple
// subscriptions to share one event by the caller providing it").
type MonitorSync struct {
	m     *Monitor
	event chan struct{}

	mu            sync.Mutex
	wakeRequested bool
}

// NewMonitorSync subscribes and wraps the resulting Monitor. sharedEvent
// may be nil (a private event is allocated) or an event shared across
// several MonitorSync instances the caller polls together.
func (c *Channel) NewMonitorSync(opts MonitorOptions, sharedEvent chan struct{}) *MonitorSync {
	ev := sharedEvent
	if ev == nil {
		ev = make(chan struct{}, 1)
	}
	ms := &MonitorSync{event: ev}
	ms.m = c.Monitor(opts, ms.signal)
	return ms
}

func (ms *MonitorSync) signal() {
	select {
	case ms.event <- struct{}{}:
	default:
	}
}

// Poll examines the holder under lock without blocking (spec.md §4.8).
func (ms *MonitorSync) Poll() (MonitorElement, bool) { return ms.m.Poll() }

// Wait blocks on the shared event, then polls (spec.md §4.8 "wait(timeout)
// blocks on the event and then polls"). A prior Wake causes Wait to return
// ErrCancelled instead of polling, standing in for the synthetic Fail event
// spec.md describes.
func (ms *MonitorSync) Wait(timeout time.Duration) (MonitorElement, error) {
	select {
	case <-ms.event:
	case <-time.After(timeout):
		return MonitorElement{}, ErrTimeout
	}
	ms.mu.Lock()
	woke := ms.wakeRequested
	ms.wakeRequested = false
	ms.mu.Unlock()
	if woke {
		return MonitorElement{}, ErrCancelled
	}
	el, ok := ms.m.Poll()
	if !ok {
		return MonitorElement{}, nil // spurious wake (e.g. a disconnect notification); caller re-waits
	}
	return el, nil
}

// Wake unblocks a waiter with a synthetic Fail event (spec.md §4.8).
func (ms *MonitorSync) Wake() {
	ms.mu.Lock()
	ms.wakeRequested = true
	ms.mu.Unlock()
	ms.signal()
}

// Cancel implements Monitor.Cancel.
func (ms *MonitorSync) Cancel() { ms.m.Cancel() }
