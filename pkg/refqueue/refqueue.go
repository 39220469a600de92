// Package refqueue implements a bounded, mutex-guarded FIFO queue of opaque
// references, shared by concurrent producers and consumers.
//
// The queue stores references in a fixed ring of capacity+1 slots. Keeping one
// slot permanently unused lets the head and tail indices alone distinguish an
// empty ring from a full one, so no separate element counter has to be kept
// consistent under concurrent mutation. Every operation runs inside a single
// critical section; the only suspension point is a blocking Pop on an empty
// queue, which waits on a condition variable until a Push signals it.
//
// Push never blocks: a full queue is an immediate ErrFull and the caller owns
// any retry policy. The protocol is deliberately asymmetric.
package refqueue

import (
	"errors"
	"sync"
)

var (
	// ErrInvalidArgument reports a nil or destroyed queue handle, or invalid
	// construction parameters.
	ErrInvalidArgument = errors.New("refqueue: invalid argument")

	// ErrFull reports that a push found no free slot. No state was mutated.
	ErrFull = errors.New("refqueue: queue full")

	// ErrEmpty reports that a non-blocking pop acquired the lock and found
	// no data.
	ErrEmpty = errors.New("refqueue: queue empty")

	// ErrWouldBlock reports that a non-blocking pop could not acquire the
	// lock. This reflects lock contention, not queue state; the queue may
	// well be non-empty. Callers must not conflate it with ErrEmpty.
	ErrWouldBlock = errors.New("refqueue: lock contended")
)

// Queue is a bounded FIFO of references of type T.
//
// All methods are safe for concurrent use except Destroy, which requires the
// caller to guarantee no other goroutine is operating on the queue.
type Queue[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	// slots has room for userCap+1 entries; the reserved slot is what makes
	// head == tail unambiguously mean empty.
	slots []T
	head  int
	tail  int

	userCap int
	waiters int

	// backing is the pool-mode object region. Nil outside pool mode.
	backing []byte

	destroyed bool
}

// New creates a queue that can hold up to capacity references.
func New[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidArgument
	}
	q := &Queue[T]{
		slots:   make([]T, capacity+1),
		userCap: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// NewPool creates a queue in object-pool mode: it allocates one contiguous
// backing region of capacity*objSize bytes and pre-enqueues a slice for each
// of the capacity objects, so the queue starts full and acts as a free list.
// Pop hands out use of a pooled object; Push returns it. The queue owns the
// backing region for its entire lifetime.
func NewPool(capacity, objSize int) (*Queue[[]byte], error) {
	if capacity <= 0 || objSize <= 0 {
		return nil, ErrInvalidArgument
	}
	q, err := New[[]byte](capacity)
	if err != nil {
		return nil, err
	}
	q.backing = make([]byte, capacity*objSize)
	for i := 0; i < capacity; i++ {
		obj := q.backing[i*objSize : (i+1)*objSize : (i+1)*objSize]
		if err := q.Push(obj); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Push appends v at the tail. It returns ErrFull, with no mutation, if the
// queue has no free slot. Push never blocks on fullness.
func (q *Queue[T]) Push(v T) error {
	if q == nil {
		return ErrInvalidArgument
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return ErrInvalidArgument
	}

	next := q.tail + 1
	if next >= len(q.slots) {
		next -= len(q.slots)
	}
	if next == q.head {
		return ErrFull
	}

	q.slots[q.tail] = v
	q.tail = next

	// Wake a blocked consumer. Signaling while still holding the lock keeps
	// the wakeup ordered with the state change.
	if q.waiters > 0 {
		q.cond.Signal()
	}
	return nil
}

// Pop removes and returns the reference at the head.
//
// With wait true, Pop blocks until the queue is non-empty; there is no
// timeout, so it can block indefinitely if no producer ever pushes. With wait
// false, Pop fails immediately: ErrWouldBlock if the lock is contended,
// ErrEmpty if the lock was acquired but the queue holds no data.
func (q *Queue[T]) Pop(wait bool) (T, error) {
	var zero T
	if q == nil {
		return zero, ErrInvalidArgument
	}

	if wait {
		q.mu.Lock()
	} else if !q.mu.TryLock() {
		return zero, ErrWouldBlock
	}
	defer q.mu.Unlock()
	if q.destroyed {
		return zero, ErrInvalidArgument
	}

	if q.head == q.tail {
		if !wait {
			return zero, ErrEmpty
		}
		// Monitor pattern: re-check the predicate after every wakeup, so
		// any number of consumers may block here concurrently.
		q.waiters++
		for q.head == q.tail && !q.destroyed {
			q.cond.Wait()
		}
		q.waiters--
		if q.destroyed {
			return zero, ErrInvalidArgument
		}
	}

	v := q.slots[q.head]
	q.slots[q.head] = zero
	q.head++
	if q.head >= len(q.slots) {
		q.head -= len(q.slots)
	}
	return v, nil
}

// Len returns the number of queued references, computed from the indices
// alone under the lock.
func (q *Queue[T]) Len() (int, error) {
	if q == nil {
		return 0, ErrInvalidArgument
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return 0, ErrInvalidArgument
	}
	switch {
	case q.head == q.tail:
		return 0, nil
	case q.tail > q.head:
		return q.tail - q.head, nil
	default:
		return (len(q.slots) - q.head) + q.tail, nil
	}
}

// IsEmpty reports whether the queue holds no references.
func (q *Queue[T]) IsEmpty() (bool, error) {
	if q == nil {
		return false, ErrInvalidArgument
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return false, ErrInvalidArgument
	}
	return q.head == q.tail, nil
}

// Cap returns the capacity advertised to callers. Zero for a nil handle.
func (q *Queue[T]) Cap() int {
	if q == nil {
		return 0
	}
	return q.userCap
}

// Destroy tears the queue down, waking any blocked consumers (they return
// ErrInvalidArgument) and releasing the slot array and pool backing region.
//
// Destroy is not synchronized against concurrent users beyond that wakeup:
// the caller must guarantee no other goroutine is operating on the queue.
// Any use after Destroy returns ErrInvalidArgument.
func (q *Queue[T]) Destroy() error {
	if q == nil {
		return ErrInvalidArgument
	}
	q.mu.Lock()
	q.destroyed = true
	q.slots = nil
	q.backing = nil
	q.head = 0
	q.tail = 0
	q.cond.Broadcast()
	q.mu.Unlock()
	return nil
}
