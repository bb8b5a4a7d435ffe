// Package queue provides the bounded FIFO of pending playback requests.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/osa030/nyxbox/internal/domain/track"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 10

// Errors
var (
	ErrQueueFull       = errors.New("queue is full")
	ErrTimeout         = errors.New("timed out waiting for next entry")
	ErrIndexOutOfRange = errors.New("queue index out of range")
)

// Queue is a bounded FIFO of entries waiting to be played.
// The entry currently playing is not part of the queue.
type Queue struct {
	mu       sync.Mutex
	entries  []track.Entry
	capacity int

	// ready is closed and replaced on every enqueue to wake a waiting dequeue.
	ready chan struct{}
}

// New creates an empty queue holding at most capacity entries.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		entries:  make([]track.Entry, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}),
	}
}

// Capacity returns the maximum number of entries.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Enqueue appends an entry and returns its 1-based position.
// It fails with ErrQueueFull without altering the queue when at capacity.
func (q *Queue) Enqueue(e track.Entry) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.capacity {
		return 0, errors.Wrapf(ErrQueueFull, "capacity %d", q.capacity)
	}

	q.entries = append(q.entries, e)
	close(q.ready)
	q.ready = make(chan struct{})
	return len(q.entries), nil
}

// DequeueWait removes and returns the head entry, waiting until one is
// available. It returns ErrTimeout once timeout elapses (timeout <= 0 waits
// indefinitely) and ctx.Err() when ctx is cancelled first.
func (q *Queue) DequeueWait(ctx context.Context, timeout time.Duration) (track.Entry, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if e, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return e, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-expired:
			return track.Entry{}, ErrTimeout
		case <-ctx.Done():
			return track.Entry{}, ctx.Err()
		}
	}
}

// popLocked removes the head entry.
// Must be called with lock held.
func (q *Queue) popLocked() (track.Entry, bool) {
	if len(q.entries) == 0 {
		return track.Entry{}, false
	}
	e := q.entries[0]
	q.entries[0] = track.Entry{}
	q.entries = q.entries[1:]
	return e, true
}

// Snapshot returns an ordered copy of the queued entries.
func (q *Queue) Snapshot() []track.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]track.Entry, len(q.entries))
	copy(result, q.entries)
	return result
}

// Shuffle randomly permutes the queued entries.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) < 2 {
		return
	}
	lo.Shuffle(q.entries)
}

// RemoveAt deletes the entry at the 0-based index and returns it.
func (q *Queue) RemoveAt(index int) (track.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.entries) {
		return track.Entry{}, errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", index, len(q.entries))
	}

	removed := q.entries[index]
	q.entries = append(q.entries[:index], q.entries[index+1:]...)
	return removed, nil
}

// Clear empties the queue and returns what was removed.
// Waiters are not woken.
func (q *Queue) Clear() []track.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := q.entries
	q.entries = make([]track.Entry, 0, q.capacity)
	return removed
}
