// Package senblk implements the sentence-block queue that sits between the
// NMEA framing layer and every transport. It is the external collaborator
// spec.md §3/§6 describes as next_senblk/senblk_free/flush_queue/init_q: a
// blocking FIFO whose records are owned by whichever goroutine dequeued them
// until they call Free.
package senblk

import "sync"

// Senblk is one sentence-sized unit of payload plus metadata, the
// granularity of the outbound queue.
type Senblk struct {
	Data []byte
	// Tagged is true once the writer path has rendered a tag (see package
	// tag) for this record. The tag is written as its own segment ahead of
	// Data; Data itself is never modified.
	Tagged bool
}

// Queue is a FIFO of *Senblk. The zero value is not usable; use New.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Senblk
	size   int
	closed bool
}

// New creates a queue bounded at size records. size <= 0 means unbounded,
// matching init_q's size parameter (a filter/name pair is tracked by the
// caller, not the queue itself, since neither affects queue mechanics).
func New(size int) *Queue {
	q := &Queue{size: size}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues s, dropping the oldest record if the queue is bounded and
// full (matching a FIFO reader that cannot be allowed to stall the bus).
// Push on a closed queue is a silent no-op: nothing is reading it anymore.
func (q *Queue) Push(s *Senblk) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if q.size > 0 && len(q.items) >= q.size {
		q.items = q.items[1:]
	}
	q.items = append(q.items, s)
	q.cond.Signal()
}

// Next blocks until a record is available or the queue is closed, in which
// case it returns nil (next_senblk's NULL-on-close contract).
func (q *Queue) Next() *Senblk {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil
	}
	s := q.items[0]
	q.items = q.items[1:]
	return s
}

// Flush discards every buffered record without returning them to callers.
// Used immediately after a successful reconnect (spec.md §4.G step 4, §8
// "queue flush on reconnect"): records enqueued during the outage are lost
// by design, not delivered late.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Close unblocks every Next call with nil and marks the queue permanently
// closed; subsequent Push calls are no-ops.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Free releases a dequeued record. The queue itself holds no references
// after Next returns it, so Free exists for interface-contract symmetry
// with senblk_free and as the place a future pooled allocator would return
// s to its pool.
func (q *Queue) Free(s *Senblk) {
	_ = s
}

// Len reports the number of buffered records, for diagnostics/metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
