package engine

import (
	"container/heap"
	"sync"
	"time"
)

// Job is a known future due time of one item.
type Job struct {
	ItemID string
	DueAt  time.Time
}

// jobHeap implements container/heap.Interface for Job, earliest DueAt first.
type jobHeap []Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].DueAt.Before(h[j].DueAt) }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(Job))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// delayQueue is a concurrency-safe min-heap of Jobs.
// It only decides when the engine wakes up; the store decides what is claimed.
type delayQueue struct {
	mu sync.Mutex
	h  jobHeap
}

func newDelayQueue() *delayQueue {
	d := &delayQueue{}
	heap.Init(&d.h)
	return d
}

// Push adds a job.
func (d *delayQueue) Push(j Job) {
	d.mu.Lock()
	heap.Push(&d.h, j)
	d.mu.Unlock()
}

// Next returns the earliest due time, if any.
func (d *delayQueue) Next() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.h.Len() == 0 {
		return time.Time{}, false
	}
	return d.h[0].DueAt, true
}

// PopDue removes and returns every job due at or before now.
func (d *delayQueue) PopDue(now time.Time) []Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	var due []Job
	for d.h.Len() > 0 && !d.h[0].DueAt.After(now) {
		due = append(due, heap.Pop(&d.h).(Job))
	}
	return due
}

// Len returns the number of pending jobs.
func (d *delayQueue) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.h.Len()
}
