// Package collective implements the lock-step synchronization primitives the
// distributed runner uses: a reusable W-party barrier with a hard arrival
// timeout, and a deterministic gradient allreduce built on it.
//
// A straggler is never skipped. Once one participant misses the arrival
// window the barrier breaks permanently and every participant, current and
// future, fails with *SynchronizationTimeoutError. Proceeding with a subset
// of workers would silently change the effective batch composition.
package collective

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SynchronizationTimeoutError reports a peer that failed to reach a barrier
// within the configured window. Always fatal; never retried.
type SynchronizationTimeoutError struct {
	Timeout time.Duration
}

func (e *SynchronizationTimeoutError) Error() string {
	return fmt.Sprintf("synchronization barrier timed out after %s; a peer is unavailable", e.Timeout)
}

// Barrier is a reusable synchronization point for a fixed party size.
type Barrier struct {
	n       int
	timeout time.Duration

	mu     sync.Mutex
	count  int
	gen    uint64
	ch     chan struct{}
	broken bool
}

// NewBarrier creates a barrier for n participants with the given arrival
// timeout.
func NewBarrier(n int, timeout time.Duration) *Barrier {
	if n <= 0 {
		panic("collective: barrier size must be positive")
	}
	return &Barrier{n: n, timeout: timeout, ch: make(chan struct{})}
}

// Await blocks until all n participants have arrived, the timeout expires,
// or ctx is canceled. Context cancellation is a graceful exit and returns
// ctx.Err(); a timeout breaks the barrier for everyone.
func (b *Barrier) Await(ctx context.Context) error {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		return &SynchronizationTimeoutError{Timeout: b.timeout}
	}
	gen := b.gen
	ch := b.ch
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen++
		b.ch = make(chan struct{})
		close(ch)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case <-ch:
		b.mu.Lock()
		broken := b.broken
		b.mu.Unlock()
		if broken {
			return &SynchronizationTimeoutError{Timeout: b.timeout}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		b.mu.Lock()
		released := b.gen != gen
		if !released && !b.broken {
			b.broken = true
			close(ch)
		}
		broken := b.broken
		b.mu.Unlock()
		if released && !broken {
			// The release and the timer raced; the barrier completed.
			return nil
		}
		return &SynchronizationTimeoutError{Timeout: b.timeout}
	}
}

// AllReducer sums equal-length gradient vectors across all workers. Every
// worker receives a bitwise-identical result: each one folds the slots in
// worker order, so no floating-point reassociation can diverge replicas.
type AllReducer struct {
	entry *Barrier
	exit  *Barrier
	slots [][]float64
}

// NewAllReducer creates an allreduce group of n workers sharing one arrival
// timeout.
func NewAllReducer(n int, timeout time.Duration) *AllReducer {
	return &AllReducer{
		entry: NewBarrier(n, timeout),
		exit:  NewBarrier(n, timeout),
		slots: make([][]float64, n),
	}
}

// Sum contributes worker's gradient vector and returns the element-wise sum
// over all workers. All workers must call Sum once per round with vectors of
// identical length.
func (r *AllReducer) Sum(ctx context.Context, worker int, grads []float64) ([]float64, error) {
	r.slots[worker] = grads
	if err := r.entry.Await(ctx); err != nil {
		return nil, err
	}

	out := make([]float64, len(grads))
	for _, slot := range r.slots {
		if len(slot) != len(out) {
			return nil, fmt.Errorf("collective: gradient length mismatch: %d vs %d", len(slot), len(out))
		}
		for i, g := range slot {
			out[i] += g
		}
	}

	// Nobody may write the next round's slots until everyone has read.
	if err := r.exit.Await(ctx); err != nil {
		return nil, err
	}
	return out, nil
}
