package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQueueFull is returned by Enqueue when the bounded FIFO has no spare
// capacity.
var ErrQueueFull = errors.New("request queue is full")

// ErrQueueTimeout is the resolution error used by the timeout sweep for
// entries older than the configured request timeout.
var ErrQueueTimeout = errors.New("request timed out waiting in queue")

// ErrQueueCleared is the resolution error used by the admin Clear
// operation.
var ErrQueueCleared = errors.New("queue cleared")

// Entry is one request admitted to a model's queue. The caller that
// enqueued it blocks on Wait until the queue resolves it: nil means "the
// model is READY, forward now"; non-nil means the request must be failed
// with that error.
type Entry struct {
	ID         string
	EnqueuedAt time.Time

	ctx    context.Context
	result chan error
	once   sync.Once
}

// Wait blocks until the queue resolves this entry or the caller's context
// is cancelled, whichever comes first. On context cancellation the entry
// is left in place for the queue to discover via RemoveIfPresent/Drain
// filtering; callers should invoke RemoveIfPresent themselves if they stop
// waiting early so the queue doesn't hold a dead entry longer than needed.
func (e *Entry) Wait(ctx context.Context) error {
	select {
	case err := <-e.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Entry) resolve(err error) {
	e.once.Do(func() {
		e.result <- err
	})
}

// Queue is a bounded per-model FIFO. It holds no opinion about model
// state; callers (the Proxy Forwarder, via the Lifecycle Controller)
// decide when enqueuing is legal given the model's current state.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
	cap     int
}

// New creates a Queue with the given bounded capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{cap: capacity}
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Enqueue admits a new entry, returning ErrQueueFull if capacity is
// exhausted. The caller's ctx is retained so Drain can silently skip an
// entry whose client has already disconnected.
func (q *Queue) Enqueue(ctx context.Context, id string) (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.cap {
		return nil, ErrQueueFull
	}

	e := &Entry{ID: id, EnqueuedAt: time.Now(), ctx: ctx, result: make(chan error, 1)}
	q.entries = append(q.entries, e)
	return e, nil
}

// RemoveIfPresent removes e from the queue if it is still queued, used
// when a caller abandons its wait (client disconnect) before the queue
// resolves it. It is a no-op if e was already drained/failed/cleared.
func (q *Queue) RemoveIfPresent(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// Drain removes every entry in FIFO order and resolves each with nil,
// signaling "forward now". An entry whose client context is already
// done is resolved with context.Canceled instead and left out of the
// returned slice. The caller must
// consume the returned slice in order to preserve the FIFO handoff
// guarantee; resolution here merely unblocks each waiter, who still
// performs the forward itself.
func (q *Queue) Drain() []*Entry {
	q.mu.Lock()
	drained := q.entries
	q.entries = nil
	q.mu.Unlock()

	ordered := make([]*Entry, 0, len(drained))
	for _, e := range drained {
		if e.ctx.Err() != nil {
			e.resolve(context.Canceled)
			continue
		}
		e.resolve(nil)
		ordered = append(ordered, e)
	}
	return ordered
}

// Fail empties the queue, resolving every entry with reason. Used on the
// STARTING/RELOADING -> FAILED transition.
func (q *Queue) Fail(reason error) {
	q.mu.Lock()
	drained := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range drained {
		e.resolve(reason)
	}
}

// Clear is the admin recovery verb: it empties the queue and resolves
// every entry with ErrQueueCleared.
func (q *Queue) Clear() int {
	q.mu.Lock()
	drained := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range drained {
		e.resolve(ErrQueueCleared)
	}
	return len(drained)
}

// SweepTimeouts removes and resolves (with ErrQueueTimeout) every entry
// older than maxAge, returning the count removed. It is intended to run
// periodically from a background scheduler (pkg/reaper or a cron-driven
// ticker in the server wiring).
func (q *Queue) SweepTimeouts(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	q.mu.Lock()
	var kept, expired []*Entry
	for _, e := range q.entries {
		if e.EnqueuedAt.Before(cutoff) {
			expired = append(expired, e)
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	q.mu.Unlock()

	for _, e := range expired {
		e.resolve(ErrQueueTimeout)
	}
	return len(expired)
}

// RetryAfterSeconds returns a best-effort Retry-After value for a
// queue-full response: a quarter of requestTimeout, in whole seconds, and
// never less than 1.
func RetryAfterSeconds(requestTimeout time.Duration) int {
	seconds := int(requestTimeout.Seconds() / 4)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// String renders an entry for logging.
func (e *Entry) String() string {
	return fmt.Sprintf("queue.Entry{ID:%s EnqueuedAt:%s}", e.ID, e.EnqueuedAt.Format(time.RFC3339))
}
