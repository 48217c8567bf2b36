package doc2pdf

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Concurrency sizing constants.
const (
	// MinConcurrency ensures at least one compilation can run.
	MinConcurrency = 1

	// MaxConcurrency caps simultaneous compiler processes. LibreOffice and
	// Chrome each hold hundreds of MB.
	MaxConcurrency = 8

	// cpuDivisor leaves headroom for compiler child processes.
	cpuDivisor = 2
)

// Limiter caps the number of compiler processes running at once.
type Limiter struct {
	sem   *semaphore.Weighted
	size  int
	inUse atomic.Int64
}

// NewLimiter creates a Limiter with n slots, resolved by ResolveConcurrency.
func NewLimiter(n int) *Limiter {
	n = ResolveConcurrency(n)
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Acquire blocks until a slot is free or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inUse.Add(1)
	return nil
}

// Release returns a slot taken by Acquire.
func (l *Limiter) Release() {
	l.inUse.Add(-1)
	l.sem.Release(1)
}

// Size returns the number of slots.
func (l *Limiter) Size() int { return l.size }

// InUse returns the number of slots currently held.
func (l *Limiter) InUse() int { return int(l.inUse.Load()) }

// ResolveConcurrency determines how many compilations may run at once.
// Priority: explicit value > GOMAXPROCS-based calculation.
// Exported for use by servers and CLIs.
func ResolveConcurrency(n int) int {
	if n > 0 {
		return n
	}

	// GOMAXPROCS is adjusted by automaxprocs for containers.
	available := runtime.GOMAXPROCS(0)
	return min(max(available/cpuDivisor, MinConcurrency), MaxConcurrency)
}
