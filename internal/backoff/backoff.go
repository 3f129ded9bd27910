// Package backoff provides the single retry/backoff policy that §9
// mandates be shared by the TeamSpeak ingestor, the FFmpeg supervisor and
// the ZeroMQ command sender: exponential growth from a base delay, capped,
// and reset after a sustained period of success.
package backoff

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a parameterized exponential backoff: base, factor, cap and a
// reset-after-success duration, per §9's "first-class utility" note.
type Policy struct {
	Base       time.Duration
	Factor     float64
	Cap        time.Duration
	ResetAfter time.Duration
}

// Tracker is a stateful cursor over a Policy, safe for concurrent use. The
// exponential growth itself is delegated to backoff.ExponentialBackOff;
// Tracker only adds the domain-specific "reset the attempt count after a
// sustained Running interval" rule that library has no notion of.
type Tracker struct {
	policy Policy
	eb     *backoff.ExponentialBackOff

	mu          sync.Mutex
	attempt     int
	runningFrom time.Time
}

// NewTracker creates a Tracker for the given Policy.
func NewTracker(p Policy) *Tracker {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.Multiplier = p.Factor
	eb.MaxInterval = p.Cap
	eb.MaxElapsedTime = 0 // unbounded retries; §4.3 requires it
	eb.RandomizationFactor = 0
	eb.Reset() // start the current interval at p.Base rather than the library default
	return &Tracker{policy: p, eb: eb}
}

// NextDelay returns the delay to wait before the next attempt and
// increments the internal attempt counter.
func (t *Tracker) NextDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempt++
	d := t.eb.NextBackOff()
	if d == backoff.Stop {
		d = t.policy.Cap
	}
	return d
}

// MarkRunning records that the supervised unit entered a healthy running
// state now; call MarkStopped when it exits to evaluate the reset rule.
func (t *Tracker) MarkRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runningFrom = time.Now()
}

// MarkStopped evaluates whether the just-finished run was long enough to
// reset the attempt counter to zero, per the "Running interval >= 30s
// resets N to 0" supervision law.
func (t *Tracker) MarkStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.runningFrom.IsZero() && time.Since(t.runningFrom) >= t.policy.ResetAfter {
		t.attempt = 0
		t.eb.Reset()
	}
	t.runningFrom = time.Time{}
}

// Attempt returns the current attempt count (N in the supervision law).
func (t *Tracker) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// Reset zeroes the attempt counter unconditionally.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt = 0
	t.eb.Reset()
}

// Common policies named after the components that use them in §4.3/§4.4/§4.6.
var (
	TeamSpeakPolicy = Policy{Base: 500 * time.Millisecond, Factor: 2, Cap: 30 * time.Second, ResetAfter: 30 * time.Second}
	FFmpegPolicy    = Policy{Base: 500 * time.Millisecond, Factor: 2, Cap: 10 * time.Second, ResetAfter: 30 * time.Second}
	ZMQPolicy       = Policy{Base: 200 * time.Millisecond, Factor: 1, Cap: 200 * time.Millisecond, ResetAfter: 0}
)
