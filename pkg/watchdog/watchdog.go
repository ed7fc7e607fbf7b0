// Package watchdog detects a peer that has gone quiet.
package watchdog

import (
	"sync"
	"time"
)

const (
	DefaultThreshold = 10 * time.Second
	DefaultMargin    = 200 * time.Millisecond
)

// Watchdog calls onExpire when Refresh has not been called for longer than
// the threshold. The check re-arms itself until Stop, so onExpire may run
// more than once and must be idempotent.
type Watchdog struct {
	threshold time.Duration
	margin    time.Duration
	onExpire  func()

	mu       sync.Mutex
	deadline time.Time
	timer    *time.Timer
	stopped  bool
}

func New(threshold, margin time.Duration, onExpire func()) *Watchdog {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if margin < 0 {
		margin = 0
	}
	return &Watchdog{threshold: threshold, margin: margin, onExpire: onExpire}
}

func (w *Watchdog) Threshold() time.Duration { return w.threshold }

// Start sets the first deadline and arms the timer. Calling Start again
// only refreshes the deadline.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.deadline = time.Now().Add(w.threshold)
	if w.timer == nil {
		w.timer = time.AfterFunc(w.threshold+w.margin, w.fire)
	}
}

// Refresh pushes the deadline to now + threshold.
func (w *Watchdog) Refresh() {
	w.mu.Lock()
	w.deadline = time.Now().Add(w.threshold)
	w.mu.Unlock()
}

// Expired reports whether the deadline has passed.
func (w *Watchdog) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.deadline.IsZero() && time.Now().After(w.deadline)
}

// Stop cancels further checks. Safe to call repeatedly and from onExpire.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	remaining := time.Until(w.deadline)
	if remaining >= 0 {
		w.timer.Reset(remaining + w.margin)
		w.mu.Unlock()
		return
	}
	w.timer.Reset(w.threshold + w.margin)
	w.mu.Unlock()

	w.onExpire()
}
