package refqueue

// Snapshot is a consistent copy of the queue state, taken in one critical
// section. It is structured data only; rendering it is the caller's concern.
type Snapshot[T any] struct {
	ArrayCapacity int
	UserCapacity  int
	Length        int
	Head          int
	Tail          int
	Waiters       int
	PoolMode      bool

	// Slots is a copy of the full ring, reserved slot included. Entries
	// outside the live [Head, Tail) range hold the zero value.
	Slots []T
}

// Snapshot captures the current queue state for diagnostic inspection.
func (q *Queue[T]) Snapshot() (Snapshot[T], error) {
	if q == nil {
		return Snapshot[T]{}, ErrInvalidArgument
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return Snapshot[T]{}, ErrInvalidArgument
	}

	s := Snapshot[T]{
		ArrayCapacity: len(q.slots),
		UserCapacity:  q.userCap,
		Head:          q.head,
		Tail:          q.tail,
		Waiters:       q.waiters,
		PoolMode:      q.backing != nil,
		Slots:         make([]T, len(q.slots)),
	}
	copy(s.Slots, q.slots)

	switch {
	case q.tail > q.head:
		s.Length = q.tail - q.head
	case q.tail < q.head:
		s.Length = (len(q.slots) - q.head) + q.tail
	}
	return s, nil
}
