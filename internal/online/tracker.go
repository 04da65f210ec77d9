// Package online tracks the sticky offline/online state shared by the
// identity dispatcher and the auth pipeline.
package online

import (
	"sync"
	"time"
)

// Tracker is a sticky offline flag with a timed automatic recovery window.
// Repeated requests during an outage do not hammer the directory server;
// recovery is implicit rather than probed — the next dispatched request
// reopens a connection, and if that fails it marks offline again.
type Tracker struct {
	mu             sync.RWMutex
	offline        bool
	wentOffline    time.Time
	offlineTimeout time.Duration
	now            func() time.Time
}

// New creates a Tracker that stays offline for offlineTimeout after MarkOffline is called.
func New(offlineTimeout time.Duration) *Tracker {
	return &Tracker{
		offlineTimeout: offlineTimeout,
		now:            time.Now,
	}
}

// MarkOffline records the current wall-clock time and sets the sticky offline flag.
// Idempotent: calling it again while already offline does not rewind wentOffline to a
// later time, so it never extends the recovery window. Once the window has elapsed, a
// new call starts a fresh window.
func (t *Tracker) MarkOffline() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.offline && t.now().Sub(t.wentOffline) < t.offlineTimeout {
		return
	}

	t.offline = true
	t.wentOffline = t.now()
}

// IsOffline reports whether the tracker is still within its sticky offline window.
func (t *Tracker) IsOffline() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.offline {
		return false
	}

	return t.now().Sub(t.wentOffline) < t.offlineTimeout
}

// WentOffline returns the time the current (or most recent) offline window started,
// or the zero value if the tracker has never gone offline.
func (t *Tracker) WentOffline() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.wentOffline
}
