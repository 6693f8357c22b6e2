package buffer

import (
	"sync"
	"time"
)

// Record is a payload stamped with the time it entered the buffer.
type Record[T any] struct {
	Timestamp time.Time
	Payload   T
}

// Option configures a Stream.
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock overrides the time source used to stamp pushed records.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Stream is a fixed-capacity, insertion-ordered record store.
// When full, Push evicts the oldest record before appending.
// Timestamps strictly increase in storage order, so a reader can use the
// newest timestamp it has seen as an exclusive cursor for Since.
type Stream[T any] struct {
	mu       sync.RWMutex
	items    []Record[T]
	capacity int
	head     int // index of the oldest record
	count    int
	clock    func() time.Time
}

// New creates a Stream holding at most capacity records.
// A capacity below 1 is treated as 1.
func New[T any](capacity int, opts ...Option) *Stream[T] {
	if capacity < 1 {
		capacity = 1
	}

	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Stream[T]{
		items:    make([]Record[T], capacity),
		capacity: capacity,
		clock:    o.clock,
	}
}

// Push stamps v with the current time and appends it.
// Returns true if the oldest record was evicted to make room.
func (s *Stream[T]) Push(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.clock()
	if s.count > 0 {
		// A clock that repeats or steps back is nudged past the newest record.
		if newest := s.items[s.index(s.count-1)].Timestamp; !ts.After(newest) {
			ts = newest.Add(time.Nanosecond)
		}
	}

	rec := Record[T]{Timestamp: ts, Payload: v}

	if s.count < s.capacity {
		s.items[s.index(s.count)] = rec
		s.count++
		return false
	}

	s.items[s.head] = rec
	s.head = (s.head + 1) % s.capacity
	return true
}

// Snapshot returns a copy of every buffered record, oldest first.
func (s *Stream[T]) Snapshot() []Record[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyFrom(0)
}

// Latest returns the most recent min(n, Len()) records, oldest first.
func (s *Stream[T]) Latest(n int) []Record[T] {
	if n <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if s.count > n {
		start = s.count - n
	}
	return s.copyFrom(start)
}

// Since returns every record stamped strictly after t, oldest first.
func (s *Stream[T]) Since(t time.Time) []Record[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyFrom(s.firstAfter(t))
}

// LatestSince returns the most recent n of the records stamped after t.
func (s *Stream[T]) LatestSince(n int, t time.Time) []Record[T] {
	if n <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := s.firstAfter(t)
	if s.count-start > n {
		start = s.count - n
	}
	return s.copyFrom(start)
}

// Newest returns the most recently pushed record.
func (s *Stream[T]) Newest() (Record[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		var zero Record[T]
		return zero, false
	}
	return s.items[s.index(s.count-1)], true
}

// Len returns the number of buffered records.
func (s *Stream[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Cap returns the maximum number of records the stream retains.
func (s *Stream[T]) Cap() int {
	return s.capacity
}

// firstAfter returns the logical position of the first record after t,
// or count if there is none. Must be called with mu held.
func (s *Stream[T]) firstAfter(t time.Time) int {
	for i := 0; i < s.count; i++ {
		if s.items[s.index(i)].Timestamp.After(t) {
			return i
		}
	}
	return s.count
}

// copyFrom copies records from logical position start to the newest.
// Must be called with mu held.
func (s *Stream[T]) copyFrom(start int) []Record[T] {
	n := s.count - start
	if n <= 0 {
		return nil
	}

	out := make([]Record[T], n)
	for i := 0; i < n; i++ {
		out[i] = s.items[s.index(start+i)]
	}
	return out
}

// index maps a logical position (0 = oldest) to a slot in items.
func (s *Stream[T]) index(pos int) int {
	return (s.head + pos) % s.capacity
}
