// Package ratelimit implements a shared token-bucket throttle for the
// download pipeline's chunked reads (spec §4.6i: an optional bandwidth cap
// applied across every in-flight transfer, not per file).
package ratelimit

import (
	"io"
	"sync"
	"time"

	"github.com/Sakurayuki-A/stardriver/internal/bufpool"
)

// Limiter caps aggregate throughput across every Reader built from it.
// Safe for concurrent use by multiple workers.
type Limiter struct {
	mu        sync.Mutex
	ratePerS  int64 // bytes per second
	available int64
	lastFill  time.Time
}

// NewLimiter creates a limiter allowing ratePerS bytes/sec across all
// readers that share it, starting with a full bucket.
func NewLimiter(ratePerS int64) *Limiter {
	return &Limiter{
		ratePerS:  ratePerS,
		available: ratePerS,
		lastFill:  time.Now(),
	}
}

// consume blocks until n bytes of budget are available, then spends them.
func (l *Limiter) consume(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastFill)
	l.lastFill = now
	l.available += int64(elapsed.Seconds() * float64(l.ratePerS))
	if l.available > l.ratePerS {
		l.available = l.ratePerS
	}

	l.available -= int64(n)
	if l.available >= 0 {
		return
	}

	deficit := -l.available
	wait := time.Duration(float64(deficit) / float64(l.ratePerS) * float64(time.Second))
	l.mu.Unlock()
	time.Sleep(wait)
	l.mu.Lock()
	l.lastFill = time.Now()
	l.available = 0
}

// Reader throttles an underlying io.Reader against a shared Limiter.
type Reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader wraps r so every Read it serves is metered against limiter.
func NewReader(r io.Reader, limiter *Limiter) *Reader {
	return &Reader{r: r, limiter: limiter}
}

// Read never serves more than one pipeline chunk at a time, so a single
// call never holds the limiter's lock for longer than one chunk's worth
// of budget.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) > bufpool.ChunkSize {
		p = p[:bufpool.ChunkSize]
	}

	n, err := r.r.Read(p)
	if n > 0 {
		r.limiter.consume(n)
	}
	return n, err
}
