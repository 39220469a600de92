package refqueue_test

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quernar/refqueue/pkg/refqueue"
)

func TestNewValidation(t *testing.T) {
	_, err := refqueue.New[int](0)
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)

	_, err = refqueue.New[int](-3)
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)

	q, err := refqueue.New[int](1)
	require.NoError(t, err)
	require.Equal(t, 1, q.Cap())
}

func TestNewPoolValidation(t *testing.T) {
	_, err := refqueue.NewPool(0, 64)
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)

	_, err = refqueue.NewPool(4, 0)
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)

	_, err = refqueue.NewPool(-1, -1)
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)
}

// Exactly N pushes succeed on a capacity-N queue; the (N+1)-th fails with
// ErrFull and mutates nothing.
func TestCapacityDisambiguation(t *testing.T) {
	const capacity = 7
	q, err := refqueue.New[int](capacity)
	require.NoError(t, err)

	for i := 0; i < capacity; i++ {
		require.NoError(t, q.Push(i), "push %d should fit", i)
	}
	require.ErrorIs(t, q.Push(capacity), refqueue.ErrFull)

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, capacity, n, "failed push must not change the length")
}

// The concrete lifecycle: push 1..10, the 11th push fails, ten pops return
// 1..10 in order, the 11th pop reports empty.
func TestFillDrainScenario(t *testing.T) {
	q, err := refqueue.New[int](10)
	require.NoError(t, err)

	for v := 1; v <= 10; v++ {
		require.NoError(t, q.Push(v))
	}
	require.ErrorIs(t, q.Push(11), refqueue.ErrFull)

	for v := 1; v <= 10; v++ {
		got, err := q.Pop(v%2 == 0) // alternate blocking and non-blocking
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err = q.Pop(false)
	require.ErrorIs(t, err, refqueue.ErrEmpty)

	empty, err := q.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
}

// Interleaved pushes and pops drive the indices across the array boundary
// many times; the length must match the live element count at every step.
func TestWraparound(t *testing.T) {
	const capacity = 4
	q, err := refqueue.New[int](capacity)
	require.NoError(t, err)

	live := 0
	next := 0
	expect := 0
	for step := 0; step < 10*(capacity+1); step++ {
		doPush := step%2 == 0
		if live == capacity {
			doPush = false
		} else if live == 0 {
			doPush = true
		}
		if doPush {
			require.NoError(t, q.Push(next))
			next++
			live++
		} else {
			got, err := q.Pop(false)
			require.NoError(t, err)
			require.Equal(t, expect, got, "FIFO order across the wrap boundary")
			expect++
			live--
		}
		n, err := q.Len()
		require.NoError(t, err)
		require.Equal(t, live, n, "length after step %d", step)
		require.LessOrEqual(t, n, capacity)
	}
}

// Length always equals successful pushes minus successful pops, under
// concurrent producers and consumers.
func TestConservation(t *testing.T) {
	const (
		capacity   = 64
		goroutines = 8
		opsEach    = 5000
	)
	q, err := refqueue.New[*int](capacity)
	require.NoError(t, err)

	var pushed, popped atomic.Int64
	var wg sync.WaitGroup
	wg.Add(2 * goroutines)

	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < opsEach; i++ {
				v := i
				if q.Push(&v) == nil {
					pushed.Add(1)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < opsEach; i++ {
				if _, err := q.Pop(false); err == nil {
					popped.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	// Drain whatever is left.
	for {
		_, err := q.Pop(false)
		if errors.Is(err, refqueue.ErrEmpty) {
			break
		}
		if err == nil {
			popped.Add(1)
			continue
		}
		runtime.Gosched()
	}

	assert.Equal(t, pushed.Load(), popped.Load())
	n, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

// A single producer and a single consumer observe values in push order.
func TestFIFOOrderSingleProducerConsumer(t *testing.T) {
	const total = 20000
	q, err := refqueue.New[int](32)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		expect := 0
		for expect < total {
			v, err := q.Pop(false)
			if err != nil {
				runtime.Gosched()
				continue
			}
			if v != expect {
				done <- errors.New("out of order pop")
				return
			}
			expect++
		}
		done <- nil
	}()

	for i := 0; i < total; {
		if err := q.Push(i); err == nil {
			i++
		} else {
			runtime.Gosched()
		}
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("consumer did not finish")
	}
}

func TestPoolMode(t *testing.T) {
	const (
		capacity = 5
		objSize  = 32
	)
	q, err := refqueue.NewPool(capacity, objSize)
	require.NoError(t, err)

	n, err := q.Len()
	require.NoError(t, err)
	require.Equal(t, capacity, n, "pool starts full")

	seen := make(map[*byte]bool)
	var objs [][]byte
	for i := 0; i < capacity; i++ {
		obj, err := q.Pop(false)
		require.NoError(t, err)
		require.Len(t, obj, objSize)
		require.False(t, seen[&obj[0]], "objects must be distinct")
		seen[&obj[0]] = true
		objs = append(objs, obj)
	}

	_, err = q.Pop(false)
	require.ErrorIs(t, err, refqueue.ErrEmpty)

	// Returning an object makes it available again.
	require.NoError(t, q.Push(objs[0]))
	back, err := q.Pop(false)
	require.NoError(t, err)
	assert.Same(t, &objs[0][0], &back[0])
}

// A consumer blocked in Pop(wait=true) resumes with the value of a
// subsequent push, within bounded time.
func TestBlockingWakeup(t *testing.T) {
	q, err := refqueue.New[int](4)
	require.NoError(t, err)

	got := make(chan int, 1)
	go func() {
		v, err := q.Pop(true)
		if err == nil {
			got <- v
		}
	}()

	// Let the consumer reach the condition wait.
	waitForWaiters(t, q, 1)

	require.NoError(t, q.Push(42))

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked consumer was not woken by the push")
	}
}

// Several consumers may block at once; each push wakes exactly one of them
// and every pushed value is delivered exactly once.
func TestMultipleBlockedConsumers(t *testing.T) {
	const consumers = 3
	q, err := refqueue.New[int](consumers)
	require.NoError(t, err)

	got := make(chan int, consumers)
	for i := 0; i < consumers; i++ {
		go func() {
			v, err := q.Pop(true)
			if err == nil {
				got <- v
			}
		}()
	}
	waitForWaiters(t, q, consumers)

	for i := 1; i <= consumers; i++ {
		require.NoError(t, q.Push(i))
	}

	received := make(map[int]bool)
	for i := 0; i < consumers; i++ {
		select {
		case v := <-got:
			require.False(t, received[v], "value %d delivered twice", v)
			received[v] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d consumers woke up", i, consumers)
		}
	}
}

func TestNilHandle(t *testing.T) {
	var q *refqueue.Queue[int]

	require.ErrorIs(t, q.Push(1), refqueue.ErrInvalidArgument)
	_, err := q.Pop(false)
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)
	_, err = q.Len()
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)
	_, err = q.IsEmpty()
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)
	_, err = q.Snapshot()
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)
	require.ErrorIs(t, q.Destroy(), refqueue.ErrInvalidArgument)
	assert.Zero(t, q.Cap())
}

func TestDestroy(t *testing.T) {
	q, err := refqueue.New[int](4)
	require.NoError(t, err)
	require.NoError(t, q.Push(1))

	require.NoError(t, q.Destroy())

	require.ErrorIs(t, q.Push(2), refqueue.ErrInvalidArgument)
	_, err = q.Pop(false)
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)
	_, err = q.Len()
	require.ErrorIs(t, err, refqueue.ErrInvalidArgument)
}

func TestDestroyWakesBlockedConsumer(t *testing.T) {
	q, err := refqueue.New[int](4)
	require.NoError(t, err)

	res := make(chan error, 1)
	go func() {
		_, err := q.Pop(true)
		res <- err
	}()
	waitForWaiters(t, q, 1)

	require.NoError(t, q.Destroy())

	select {
	case err := <-res:
		require.ErrorIs(t, err, refqueue.ErrInvalidArgument)
	case <-time.After(5 * time.Second):
		t.Fatal("destroy did not wake the blocked consumer")
	}
}

func TestSnapshot(t *testing.T) {
	q, err := refqueue.New[int](3)
	require.NoError(t, err)
	require.NoError(t, q.Push(7))
	require.NoError(t, q.Push(8))

	s, err := q.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 4, s.ArrayCapacity, "one reserved slot on top of user capacity")
	assert.Equal(t, 3, s.UserCapacity)
	assert.Equal(t, 2, s.Length)
	assert.Equal(t, 0, s.Head)
	assert.Equal(t, 2, s.Tail)
	assert.Equal(t, 0, s.Waiters)
	assert.False(t, s.PoolMode)
	require.Len(t, s.Slots, 4)
	assert.Equal(t, 7, s.Slots[0])
	assert.Equal(t, 8, s.Slots[1])

	// The snapshot is a copy: later mutations must not show through.
	_, err = q.Pop(false)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Head)
	assert.Equal(t, 7, s.Slots[0])
}

func TestSnapshotReportsWaiter(t *testing.T) {
	q, err := refqueue.New[int](2)
	require.NoError(t, err)

	go q.Pop(true)
	waitForWaiters(t, q, 1)

	s, err := q.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Waiters)

	require.NoError(t, q.Push(1)) // release the consumer
}

// waitForWaiters polls the snapshot until the expected number of consumers
// is parked on the condition variable.
func waitForWaiters[T any](t *testing.T, q *refqueue.Queue[T], want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s, err := q.Snapshot()
		require.NoError(t, err)
		if s.Waiters == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d blocked consumer(s)", want)
}
