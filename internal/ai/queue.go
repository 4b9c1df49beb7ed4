package ai

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Request priorities. Higher values are admitted first when a slot frees.
const (
	PriorityLow    = 0 // autocomplete
	PriorityNormal = 1 // chat
	PriorityHigh   = 2 // inline assist
)

// DefaultMaxConcurrent is the default concurrency cap for backend requests.
const DefaultMaxConcurrent = 3

// ErrRequestCancelled is returned by Admit when the request was cancelled
// while waiting for a slot.
var ErrRequestCancelled = errors.New("request cancelled")

// Request identifies one pending or active backend call.
type Request struct {
	ID        string
	Priority  int
	CreatedAt time.Time

	cancelled bool
	ready     chan struct{}
}

// RequestQueue bounds concurrent backend requests. Waiters are admitted in
// priority order, FIFO within a priority.
type RequestQueue struct {
	mu      sync.Mutex
	waiting []*Request
	active  int
	max     int
}

// NewRequestQueue creates a queue with the given concurrency cap.
// A cap <= 0 falls back to DefaultMaxConcurrent.
func NewRequestQueue(maxConcurrent int) *RequestQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &RequestQueue{max: maxConcurrent}
}

// Admit blocks until the request holds a concurrency slot, the context is
// cancelled, or the request is cancelled by ID. On success the caller must
// call Release exactly once when the request finishes.
func (q *RequestQueue) Admit(ctx context.Context, id string, priority int) error {
	req := &Request{
		ID:        id,
		Priority:  priority,
		CreatedAt: time.Now(),
		ready:     make(chan struct{}),
	}

	q.mu.Lock()
	if q.active < q.max && len(q.waiting) == 0 {
		q.active++
		q.mu.Unlock()
		return nil
	}
	q.insert(req)
	q.mu.Unlock()

	select {
	case <-req.ready:
		q.mu.Lock()
		cancelled := req.cancelled
		q.mu.Unlock()
		if cancelled {
			return ErrRequestCancelled
		}
		return nil
	case <-ctx.Done():
		q.remove(req)
		return ctx.Err()
	}
}

// Release frees a slot and admits the highest-priority waiter, if any.
func (q *RequestQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active > 0 {
		q.active--
	}
	q.promote()
}

// Cancel removes a waiting request by ID. Returns true if the request was
// found and cancelled. Active requests are not affected; callers cancel
// those through their context.
func (q *RequestQueue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, req := range q.waiting {
		if req.ID == id {
			req.cancelled = true
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			close(req.ready)
			return true
		}
	}
	return false
}

// ActiveCount returns the number of requests currently holding slots.
func (q *RequestQueue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// WaitingCount returns the number of requests waiting for a slot.
func (q *RequestQueue) WaitingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// insert places req behind all waiters with priority >= req.Priority.
// Caller holds q.mu.
func (q *RequestQueue) insert(req *Request) {
	pos := len(q.waiting)
	for i, other := range q.waiting {
		if other.Priority < req.Priority {
			pos = i
			break
		}
	}
	q.waiting = append(q.waiting, nil)
	copy(q.waiting[pos+1:], q.waiting[pos:])
	q.waiting[pos] = req
}

// promote hands a freed slot to the front waiter. Caller holds q.mu.
func (q *RequestQueue) promote() {
	if q.active >= q.max || len(q.waiting) == 0 {
		return
	}
	req := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.active++
	close(req.ready)
}

// remove deletes req from the waiting list if still present (context
// cancellation racing with promotion). If req was already promoted its slot
// is returned.
func (q *RequestQueue) remove(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, other := range q.waiting {
		if other == req {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
	// Not waiting anymore: promotion won the race, give the slot back.
	select {
	case <-req.ready:
		if !req.cancelled && q.active > 0 {
			q.active--
			q.promote()
		}
	default:
	}
}
