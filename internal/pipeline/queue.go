package pipeline

import (
	"container/heap"
	"log/slog"
	"sort"
	"sync"

	"tokenbot/pkg/types"
)

// AdmissionQueue holds not-yet-dispatched requests ordered by priority,
// highest first. Requests with equal priority leave in the order they were
// pushed: each push stamps a monotonic sequence number that breaks ties,
// so the ordering is stable rather than an artifact of heap layout.
//
// PopHighestPriority and Remove are the only removal paths. Pushing an ID
// that is already queued is a logged no-op; the queue never holds the same
// request twice.
type AdmissionQueue struct {
	mu      sync.Mutex
	items   requestHeap
	present map[string]*queueItem // request ID -> queued item
	seq     uint64
	logger  *slog.Logger
}

// NewAdmissionQueue creates an empty queue.
func NewAdmissionQueue(logger *slog.Logger) *AdmissionQueue {
	return &AdmissionQueue{
		present: make(map[string]*queueItem),
		logger:  logger.With("component", "queue"),
	}
}

// Push admits a request. It reports false when a request with the same ID
// is already queued; the duplicate is dropped, not re-prioritized.
func (q *AdmissionQueue) Push(req types.TransactionRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.present[req.ID]; ok {
		q.logger.Warn("duplicate request ignored", "id", req.ID, "token", req.TokenAddress)
		return false
	}

	item := &queueItem{req: req, seq: q.seq}
	q.seq++
	q.present[req.ID] = item
	heap.Push(&q.items, item)
	return true
}

// PopHighestPriority removes and returns the best-ranked request.
func (q *AdmissionQueue) PopHighestPriority() (types.TransactionRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return types.TransactionRequest{}, false
	}
	item := heap.Pop(&q.items).(*queueItem)
	delete(q.present, item.req.ID)
	return item.req, true
}

// Remove deletes a queued request by ID. It reports false when the ID is
// not queued.
func (q *AdmissionQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.present[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.present, id)
	return true
}

// Contains reports whether a request with the given ID is queued.
func (q *AdmissionQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.present[id]
	return ok
}

// Len returns the number of queued requests.
func (q *AdmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Snapshot returns the queued requests in dispatch order without removing
// them.
func (q *AdmissionQueue) Snapshot() []types.TransactionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]*queueItem, len(q.items))
	copy(items, q.items)
	sort.Slice(items, func(i, j int) bool {
		if items[i].req.Priority != items[j].req.Priority {
			return items[i].req.Priority > items[j].req.Priority
		}
		return items[i].seq < items[j].seq
	})

	result := make([]types.TransactionRequest, len(items))
	for i, item := range items {
		result[i] = item.req
	}
	return result
}

type queueItem struct {
	req   types.TransactionRequest
	seq   uint64
	index int
}

// requestHeap implements heap.Interface with priority descending and
// sequence ascending.
type requestHeap []*queueItem

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority > h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
