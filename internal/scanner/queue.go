package scanner

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// PrioritizedFile is one recording candidate. Newer files are scanned
// first: priority is the negated creation time, so a min ordering
// yields newest first.
type PrioritizedFile struct {
	Path      string
	CreatedAt time.Time
}

func (f PrioritizedFile) priority() int64 { return -f.CreatedAt.Unix() }

// fileHeap is a min-heap on priority.
type fileHeap []PrioritizedFile

func (h fileHeap) Len() int           { return len(h) }
func (h fileHeap) Less(i, j int) bool { return h[i].priority() < h[j].priority() }
func (h fileHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *fileHeap) Push(x any)        { *h = append(*h, x.(PrioritizedFile)) }
func (h *fileHeap) Pop() any {
	old := *h
	n := len(old)
	f := old[n-1]
	*h = old[:n-1]
	return f
}

// queue merges the two scan sources. Watcher events go onto a heap and
// always win over the batch list; within each source, newer files come
// first.
type queue struct {
	mu       sync.Mutex
	watch    fileHeap
	batch    []PrioritizedFile
	batchPos int
	wake     chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// pushWatch enqueues a watcher event.
func (q *queue) pushWatch(f PrioritizedFile) {
	q.mu.Lock()
	heap.Push(&q.watch, f)
	q.mu.Unlock()
	q.signal()
}

// setBatch installs the batch walk result, sorted newest first.
func (q *queue) setBatch(files []PrioritizedFile) {
	sorted := make(fileHeap, len(files))
	copy(sorted, files)
	heap.Init(&sorted)
	ordered := make([]PrioritizedFile, 0, len(sorted))
	for sorted.Len() > 0 {
		ordered = append(ordered, heap.Pop(&sorted).(PrioritizedFile))
	}

	q.mu.Lock()
	q.batch = ordered
	q.batchPos = 0
	q.mu.Unlock()
	q.signal()
}

// pop returns the next file to scan: heap first, then the batch list.
func (q *queue) pop() (PrioritizedFile, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.watch.Len() > 0 {
		return heap.Pop(&q.watch).(PrioritizedFile), true
	}
	if q.batchPos < len(q.batch) {
		f := q.batch[q.batchPos]
		q.batchPos++
		return f, true
	}
	return PrioritizedFile{}, false
}

// wait blocks until new work is signalled or ctx is done.
func (q *queue) wait(ctx context.Context) error {
	select {
	case <-q.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
