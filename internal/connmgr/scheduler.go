package connmgr

import (
	"sync"
	"time"
)

// scheduledTask wraps a timer handle behind a cancel() so the reconnect
// scheduler is portable across a single-threaded event loop or a threaded
// runtime, per the Design Notes' "timer handles held as opaque platform
// values" re-architecture point. cancel is synchronous and idempotent:
// once it returns, fn will not start; if fn had already started, cancel
// does not wait for it to finish.
type scheduledTask struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// schedule starts fn after d and returns a handle that can cancel it.
func schedule(d time.Duration, fn func()) *scheduledTask {
	t := &scheduledTask{}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			fn()
		}
	})
	return t
}

// cancel stops the timer. Safe to call multiple times and safe to call
// concurrently with the timer firing — at most one of {fn runs, cancel
// suppresses fn} happens, and by the time cancel returns the outcome is
// decided.
func (t *scheduledTask) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.timer.Stop()
}
