package testbench

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quernar/refqueue/internal/queue"
	"github.com/quernar/refqueue/pkg/config"
	"github.com/quernar/refqueue/pkg/refqueue"
)

// Config is only about concurrency: how many producers, how many consumers.
type Config = config.Config

// RunTimedTest spawns producers and consumers that run for the specified
// duration, measuring how many references are actually pushed/popped in that
// window. Once the context expires, producers stop and consumers drain any
// remaining references in the queue.
//
// The queue rejects pushes when full, so the producer-side retry policy lives
// here: on ErrFull a producer yields and tries the same value again.
// Consumers use non-blocking pops and yield on ErrEmpty or ErrWouldBlock.
//
// Returns the total references pushed, total popped, and the elapsed time.
func RunTimedTest[T any, Q queue.ValidationInterface[T]](
	q Q,
	cfg Config,
	testDuration time.Duration,
	valueGenerator func(int) T,
) (producedCount int64, consumedCount int64, elapsed time.Duration) {

	ctx, cancel := context.WithTimeout(context.Background(), testDuration)
	defer cancel()

	var totalProduced int64
	var totalConsumed int64

	start := time.Now()

	var msgIndex int64
	var prodWg sync.WaitGroup
	prodWg.Add(cfg.NumProducers)

	// productionDone is set to 1 when the test duration expires.
	var productionDone int32

	go func() {
		<-ctx.Done()
		atomic.StoreInt32(&productionDone, 1)
	}()

	// Spawn producers.
	for i := 0; i < cfg.NumProducers; i++ {
		go func() {
			defer prodWg.Done()
			for atomic.LoadInt32(&productionDone) == 0 {
				idx := atomic.AddInt64(&msgIndex, 1) - 1
				msg := valueGenerator(int(idx))
				// Retry the same value until it lands or the window closes.
				for {
					err := q.Push(msg)
					if err == nil {
						atomic.AddInt64(&totalProduced, 1)
						break
					}
					if !errors.Is(err, refqueue.ErrFull) {
						return
					}
					if atomic.LoadInt32(&productionDone) == 1 {
						return
					}
					runtime.Gosched()
				}
			}
		}()
	}

	// Spawn consumers.
	for i := 0; i < cfg.NumConsumers; i++ {
		go func() {
			for {
				// If production is done, drain remaining references.
				if atomic.LoadInt32(&productionDone) == 1 {
					for {
						_, err := q.Pop(false)
						if err == nil {
							atomic.AddInt64(&totalConsumed, 1)
							continue
						}
						if errors.Is(err, refqueue.ErrWouldBlock) {
							runtime.Gosched()
							continue
						}
						return
					}
				}
				// Normal consumption.
				if _, err := q.Pop(false); err == nil {
					atomic.AddInt64(&totalConsumed, 1)
				} else {
					runtime.Gosched()
				}
			}
		}()
	}

	// Wait for the context to expire, then for all producers to finish.
	<-ctx.Done()
	prodWg.Wait()

	// Give consumers a short period to drain the remaining references.
	time.Sleep(100 * time.Millisecond)

	elapsed = time.Since(start)
	producedCount = atomic.LoadInt64(&totalProduced)
	consumedCount = atomic.LoadInt64(&totalConsumed)
	return producedCount, consumedCount, elapsed
}

// RunPoolCycleTest measures pool-mode turnover: each worker pops an object
// from the pool and immediately returns it, counting one cycle per round
// trip. The queue must have been constructed in pool mode, so it starts full.
// Returns the total number of completed cycles and the elapsed time.
func RunPoolCycleTest[T any, Q queue.ValidationInterface[T]](
	q Q,
	numWorkers int,
	testDuration time.Duration,
) (cycles int64, elapsed time.Duration) {

	ctx, cancel := context.WithTimeout(context.Background(), testDuration)
	defer cancel()

	var total int64
	var done int32
	var wg sync.WaitGroup

	start := time.Now()

	go func() {
		<-ctx.Done()
		atomic.StoreInt32(&done, 1)
	}()

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for atomic.LoadInt32(&done) == 0 {
				obj, err := q.Pop(false)
				if err != nil {
					runtime.Gosched()
					continue
				}
				// A real caller would use the object here; the round trip is
				// the part under measurement.
				if err := q.Push(obj); err != nil {
					return
				}
				atomic.AddInt64(&total, 1)
			}
		}()
	}

	wg.Wait()
	elapsed = time.Since(start)
	return atomic.LoadInt64(&total), elapsed
}
