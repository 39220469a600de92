package queue

// ValidationInterface is a *type constraint* that ensures any queue type Q
// exposes the bounded-queue contract. We never store Q in a runtime
// interface — it is only used at compile time to ensure matching signatures.
type ValidationInterface[T any] interface {
	// Push appends an element. It must fail fast when the queue is full
	// rather than block.
	Push(T) error

	// Pop removes and returns the oldest element. With wait true it blocks
	// until data arrives; with wait false it fails immediately on an empty
	// queue or a contended lock.
	Pop(wait bool) (T, error)

	// Len returns how many elements are currently queued.
	Len() (int, error)

	// Cap returns the capacity advertised to callers.
	Cap() int

	// Destroy tears the queue down. The caller must guarantee no other
	// goroutine is still operating on the queue.
	Destroy() error
}
