// Package permit bounds the number of in-flight log fetches across the
// whole indexing session with a counting semaphore.
package permit

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool guards the concurrent-fetch count. It does not guard callback
// execution — only the window fetch that a caller wraps between Acquire
// and the returned release.
type Pool struct {
	sem *semaphore.Weighted
}

// New builds a Pool with the given capacity. Capacity must be positive;
// callers validate settings.max_concurrency > 0 before constructing one
// (see supervisor.Settings.Validate), so New does not repeat that check.
func New(maxConcurrency int64) *Pool {
	return &Pool{sem: semaphore.NewWeighted(maxConcurrency)}
}

// Acquire blocks until a permit is available or ctx is cancelled. The
// returned release func must be called exactly once on every completion
// path of the holding task; callers should defer it immediately.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.sem.Release(1) }, nil
}
