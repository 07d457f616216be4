package breaker

import (
	"sync"
	"time"
)

// Breaker is a failure-count circuit breaker for one downstream target.
// All state lives behind a single mutex; independent targets use independent
// Breaker instances and never block each other.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mutex     sync.Mutex
	failures  int
	openUntil time.Time

	now func() time.Time
}

// New creates a breaker that opens after threshold consecutive failures and
// stays open for the cooldown window. A threshold below 1 is treated as 1.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Name returns the downstream target this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Allow reports whether a call to the downstream may proceed. When the open
// window has elapsed, the failure count is reset and the call is admitted
// unconditionally; its outcome decides whether the breaker reopens.
func (b *Breaker) Allow() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.openUntil.IsZero() {
		return true
	}
	if b.now().Before(b.openUntil) {
		return false
	}
	// Cooldown elapsed: half-open by timeout, not by probe.
	b.openUntil = time.Time{}
	b.failures = 0
	return true
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

// RecordFailure counts one failure and reports whether this call opened the
// breaker. The count resets on the open transition so that the first call
// admitted after the cooldown starts from a clean slate.
func (b *Breaker) RecordFailure() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.failures++
	if b.failures < b.threshold {
		return false
	}
	b.openUntil = b.now().Add(b.cooldown)
	b.failures = 0
	return true
}

// Remaining returns the time left in the open window, floored at zero.
func (b *Breaker) Remaining() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.openUntil.IsZero() {
		return 0
	}
	d := b.openUntil.Sub(b.now())
	if d < 0 {
		return 0
	}
	return d
}

// IsOpen reports the current state without mutating it. Unlike Allow, an
// elapsed cooldown does not reset anything here; metrics and logs use this
// to observe the breaker without racing real callers.
func (b *Breaker) IsOpen() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return !b.openUntil.IsZero() && b.now().Before(b.openUntil)
}
