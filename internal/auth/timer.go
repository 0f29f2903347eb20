package auth

import (
	"sync"
	"time"
)

// SessionTimer schedules a warning callback ahead of a token's expiry and an
// expiry callback at it. Reset reschedules both from a fresh expiry time;
// Stop cancels them. The timer never touches auth state itself: the owner
// decides what a firing means.
type SessionTimer struct {
	mu            sync.Mutex
	warningWindow time.Duration
	onWarning     func()
	onExpiry      func()

	warningTimer *time.Timer
	expiryTimer  *time.Timer
	generation   uint64
}

// NewSessionTimer creates a stopped timer. Either callback may be nil.
func NewSessionTimer(warningWindow time.Duration, onWarning, onExpiry func()) *SessionTimer {
	return &SessionTimer{
		warningWindow: warningWindow,
		onWarning:     onWarning,
		onExpiry:      onExpiry,
	}
}

// Reset cancels any pending callbacks and reschedules both relative to
// expiresAt. A warning point already in the past fires immediately.
func (t *SessionTimer) Reset(expiresAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.generation++
	gen := t.generation

	warnDelay := time.Until(expiresAt) - t.warningWindow
	if warnDelay < 0 {
		warnDelay = 0
	}
	expiryDelay := time.Until(expiresAt)
	if expiryDelay < 0 {
		expiryDelay = 0
	}

	t.warningTimer = time.AfterFunc(warnDelay, func() { t.fire(gen, t.onWarning) })
	t.expiryTimer = time.AfterFunc(expiryDelay, func() { t.fire(gen, t.onExpiry) })
}

// Stop cancels both pending callbacks. Stopping a stopped timer is a no-op.
func (t *SessionTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.generation++
}

func (t *SessionTimer) cancelLocked() {
	if t.warningTimer != nil {
		t.warningTimer.Stop()
		t.warningTimer = nil
	}
	if t.expiryTimer != nil {
		t.expiryTimer.Stop()
		t.expiryTimer = nil
	}
}

// fire runs a callback only if no Reset or Stop happened since it was
// scheduled. AfterFunc may deliver a firing that raced with Stop; the
// generation check drops it.
func (t *SessionTimer) fire(gen uint64, fn func()) {
	t.mu.Lock()
	stale := gen != t.generation
	t.mu.Unlock()
	if stale || fn == nil {
		return
	}
	fn()
}
