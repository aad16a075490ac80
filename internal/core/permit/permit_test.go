package permit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

// TestAcquireBoundsConcurrency asserts the number of outstanding holders
// never exceeds the pool's capacity.
func TestAcquireBoundsConcurrency(t *testing.T) {
	const capacity = 4
	const workers = 50

	p := New(capacity)
	var current int64
	var peak int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer release()

			n := atomic.AddInt64(&current, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			atomic.AddInt64(&current, -1)
		}()
	}

	wg.Wait()

	if peak > capacity {
		t.Fatalf("peak concurrent holders = %d, want <= %d", peak, capacity)
	}
}

func TestAcquireReleaseAllowsReuse(t *testing.T) {
	p := New(1)
	r1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	r1()

	r2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire failed after release: %v", err)
	}
	r2()
}
