/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pacer

import (
	"container/list"
	"sync"
)

type queuedTask struct {
	rec  *record
	call Call
}

// taskQueue is an unbounded FIFO of submitted tasks.
// Cancelling a request does not remove its entry; cancelled entries are dropped by the worker
// when it reaches them and are invisible to position and waiting-count queries.
type taskQueue struct {
	mu    sync.Mutex
	tasks *list.List
	wake  chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{tasks: list.New(), wake: make(chan struct{}, 1)}
}

// enqueue appends the task and wakes the worker if it is sleeping.
func (q *taskQueue) enqueue(t *queuedTask) {
	q.mu.Lock()
	q.tasks.PushBack(t)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dequeueRunnable removes and returns the oldest task that has not been cancelled,
// dropping cancelled entries found on the way. It returns nil if no runnable task is queued.
func (q *taskQueue) dequeueRunnable() *queuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		front := q.tasks.Front()
		if front == nil {
			return nil
		}
		q.tasks.Remove(front)
		task := front.Value.(*queuedTask)
		if task.rec.currentStatus() != StatusCancelled {
			return task
		}
	}
}

// positionOf returns the number of non-cancelled tasks queued ahead of the given request,
// or -1 if the request is not queued.
func (q *taskQueue) positionOf(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	pos := 0
	for e := q.tasks.Front(); e != nil; e = e.Next() {
		task := e.Value.(*queuedTask)
		if task.rec.currentStatus() == StatusCancelled {
			continue
		}
		if task.rec.id == id {
			return pos
		}
		pos++
	}
	return -1
}

// waitingCount returns the number of queued tasks that have not been cancelled.
func (q *taskQueue) waitingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for e := q.tasks.Front(); e != nil; e = e.Next() {
		if e.Value.(*queuedTask).rec.currentStatus() != StatusCancelled {
			n++
		}
	}
	return n
}

// len returns the raw number of queued entries, cancelled ones included.
func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// wakeChan signals that at least one task was enqueued since the last receive.
func (q *taskQueue) wakeChan() <-chan struct{} {
	return q.wake
}
