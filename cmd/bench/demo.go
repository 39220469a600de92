package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/quernar/refqueue/pkg/refqueue"
)

const (
	demoCapacity   = 10
	demoIterations = 10000
)

// printSnapshot renders a queue snapshot. The queue only produces the
// structured data; turning it into text is this side's job.
func printSnapshot[T any](w io.Writer, s refqueue.Snapshot[T]) {
	fmt.Fprintln(w, "Queue state ------------------------------")
	fmt.Fprintf(w, "  array capacity: %d\n", s.ArrayCapacity)
	fmt.Fprintf(w, "  user capacity:  %d\n", s.UserCapacity)
	fmt.Fprintf(w, "  length:         %d\n", s.Length)
	fmt.Fprintf(w, "  head:           %d\n", s.Head)
	fmt.Fprintf(w, "  tail:           %d\n", s.Tail)
	fmt.Fprintf(w, "  waiters:        %d\n", s.Waiters)
	fmt.Fprintf(w, "  pool mode:      %v\n", s.PoolMode)
	for i, v := range s.Slots {
		fmt.Fprintf(w, "  slot[%02d]:       %v\n", i, v)
	}
}

func mustSnapshot[T any](q *refqueue.Queue[T]) refqueue.Snapshot[T] {
	s, err := q.Snapshot()
	if err != nil {
		fmt.Fprintln(os.Stderr, "snapshot failed:", err)
		os.Exit(1)
	}
	return s
}

// fill pushes ascending values until the queue reports full.
func fill(w io.Writer, q *refqueue.Queue[int]) {
	fmt.Fprintln(w, "-----------------------------")
	fmt.Fprintln(w, "filling queue")
	for i := 1; ; i++ {
		err := q.Push(i)
		fmt.Fprintf(w, "pushed val:%d err:%v\n", i, err)
		if err != nil {
			return
		}
	}
}

// empty pops non-blocking until the queue reports empty.
func empty(w io.Writer, q *refqueue.Queue[int]) {
	fmt.Fprintln(w, "-----------------------------")
	fmt.Fprintln(w, "emptying queue")
	for i := 1; ; i++ {
		v, err := q.Pop(false)
		fmt.Fprintf(w, "popped i:%d val:%d err:%v\n", i, v, err)
		if err != nil {
			return
		}
	}
}

// iterate pushes and pops in lockstep often enough that the indices cross the
// array boundary many times.
func iterate(w io.Writer, q *refqueue.Queue[int]) {
	fmt.Fprintln(w, "-----------------------------")
	fmt.Fprintf(w, "iterations %d\n", demoIterations)
	for i := 1; i < demoIterations; i++ {
		if err := q.Push(i); err != nil {
			fmt.Fprintf(w, "%d push returned an error: %v\n", i, err)
			os.Exit(1)
		}
		// Each push must be matched by a pop or the loop drifts toward full;
		// a contended lock just means try the pop again.
		for {
			_, err := q.Pop(false)
			if err == nil {
				break
			}
			if !errors.Is(err, refqueue.ErrWouldBlock) {
				fmt.Fprintf(w, "%d pop returned an error: %v\n", i, err)
				os.Exit(1)
			}
			runtime.Gosched()
		}
	}
}

// threads runs one producer and one blocking consumer concurrently. The
// consumer starts first on an empty queue, so its first pop parks on the
// condition variable until the producer's push wakes it.
func threads(w io.Writer, q *refqueue.Queue[int]) {
	fmt.Fprintln(w, "-----------------------------")
	fmt.Fprintln(w, "producer/consumer threads")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		fmt.Fprintln(w, "consumer started")
		for i := 1; i < demoCapacity; i++ {
			v, err := q.Pop(true)
			fmt.Fprintf(w, "consumer popped %d err:%v\n", v, err)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	go func() {
		defer wg.Done()
		fmt.Fprintln(w, "producer started")
		for i := 1; i < demoCapacity; i++ {
			err := q.Push(i)
			fmt.Fprintf(w, "producer pushed val:%d err:%v\n", i, err)
		}
	}()

	wg.Wait()
	fmt.Fprintln(w, "threads joined")
}

// poolDemo drains a small object pool and hands every object back.
func poolDemo(w io.Writer) {
	fmt.Fprintln(w, "-----------------------------")
	fmt.Fprintln(w, "object pool")

	pool, err := refqueue.NewPool(4, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pool construction failed:", err)
		os.Exit(1)
	}
	defer pool.Destroy()

	var objs [][]byte
	for {
		obj, err := pool.Pop(false)
		if err != nil {
			fmt.Fprintf(w, "pool drained: %v\n", err)
			break
		}
		fmt.Fprintf(w, "checked out object of %d bytes\n", len(obj))
		objs = append(objs, obj)
	}
	for _, obj := range objs {
		if err := pool.Push(obj); err != nil {
			fmt.Fprintln(os.Stderr, "pool return failed:", err)
			os.Exit(1)
		}
	}
	n, _ := pool.Len()
	fmt.Fprintf(w, "all objects returned, pool length %d\n", n)
}

// runDemo walks the queue through its whole lifecycle: construction, fill to
// ErrFull, drain to ErrEmpty, wraparound iterations, a blocking consumer
// against a live producer, pool mode, and teardown.
func runDemo(w io.Writer) {
	q, err := refqueue.New[int](demoCapacity)
	if err != nil {
		fmt.Fprintln(os.Stderr, "queue construction failed:", err)
		os.Exit(1)
	}

	printSnapshot(w, mustSnapshot(q))
	fill(w, q)
	printSnapshot(w, mustSnapshot(q))
	empty(w, q)
	printSnapshot(w, mustSnapshot(q))
	iterate(w, q)
	threads(w, q)
	poolDemo(w)

	if err := q.Destroy(); err != nil {
		fmt.Fprintln(os.Stderr, "destroy failed:", err)
		os.Exit(1)
	}
}
