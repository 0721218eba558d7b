package ratelimit

import (
	"sync"
	"time"
)

// Token bucket refilled at rate tokens per second up to burst
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}

	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// What a session should do with one inbound message
type Verdict int

const (
	Accept Verdict = iota
	// Over the limit: drop the message, keep the connection.
	Drop
	// Over the limit too often, or over the limit with a message that may
	// not be lost: close the connection.
	Disconnect
)

// How an inbound message may be treated when its sender is over the limit
type Class int

const (
	// Superseded by the sender's next message, so it may be dropped.
	Lossy Class = iota
	// Changes shared state the sender has already applied locally. It is
	// never dropped; the session is closed instead and the client resyncs
	// on reconnect.
	Lossless
)

// Guard applies per-class limiters to one session's inbound stream. Lossy
// messages over the limit are dropped until MaxViolations is exceeded;
// a Lossless message over the limit disconnects at once. The two classes
// draw from separate buckets, so a lossy flood cannot starve edits.
type Guard struct {
	lossy         *Limiter
	lossless      *Limiter
	maxViolations int
	violations    int
}

func NewGuard(rate float64, burst, maxViolations int) *Guard {
	return newGuard(rate, burst, maxViolations, time.Now)
}

func newGuard(rate float64, burst, maxViolations int, now func() time.Time) *Guard {
	return &Guard{
		lossy:         newLimiter(rate, burst, now),
		lossless:      newLimiter(rate, burst, now),
		maxViolations: maxViolations,
	}
}

// Not safe for concurrent use; each session reads on one goroutine.
func (g *Guard) Check(class Class) Verdict {
	if class == Lossless {
		if g.lossless.Allow() {
			return Accept
		}
		g.violations++
		return Disconnect
	}

	if g.lossy.Allow() {
		return Accept
	}
	g.violations++
	if g.maxViolations > 0 && g.violations > g.maxViolations {
		return Disconnect
	}
	return Drop
}

// Number of messages refused so far
func (g *Guard) Violations() int {
	return g.violations
}
