// Package timer provides re-armable countdown timers.
package timer

import (
	"sync"
	"time"
)

// Timer is a single logical countdown. Arming cancels any previously armed
// instance, so at most one callback is pending at a time.
type Timer struct {
	mu    sync.Mutex
	t     *time.Timer
	gen   uint64
	armed bool
}

// Arm schedules fn after d, replacing any pending callback.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.armed = true
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		t.armed = false
		t.t = nil
		t.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending callback, if any. A callback that already started
// running is not interrupted.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Armed reports whether a callback is pending.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *Timer) stopLocked() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	// Bumping the generation invalidates a callback that fired but has not
	// yet taken the lock.
	t.gen++
	t.armed = false
}

// Manager owns the two conversation timers.
type Manager struct {
	Inactivity Timer // commits the utterance after silence
	WakeIdle   Timer // abandons a wake phrase with no follow-up speech
}

// CancelAll cancels both timers.
func (m *Manager) CancelAll() {
	m.Inactivity.Cancel()
	m.WakeIdle.Cancel()
}

// AnyArmed reports whether either timer is pending.
func (m *Manager) AnyArmed() bool {
	return m.Inactivity.Armed() || m.WakeIdle.Armed()
}
