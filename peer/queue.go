package peer

import (
	"sync"

	"github.com/joeycumines/clustered/capsule"
)

// TaskQueue is a peer's per-node task queue: a mutex-protected LIFO,
// popped from the tail. It is shared by the scheduler loop, the
// steal-responder in the peer-to-peer handler, and the local submission
// API. The lock is held only for O(1) push/pop/len operations, never
// across I/O or GPU dispatch.
type TaskQueue struct {
	mu    sync.Mutex
	tasks []capsule.Task
}

// NewTaskQueue constructs an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Push appends a task to the queue.
func (q *TaskQueue) Push(t capsule.Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// Len reports the current queue length.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Pop removes and returns the most recently pushed task (LIFO), reporting
// false if the queue is empty.
func (q *TaskQueue) Pop() (capsule.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return capsule.Task{}, false
	}
	last := len(q.tasks) - 1
	t := q.tasks[last]
	q.tasks[last] = capsule.Task{}
	q.tasks = q.tasks[:last]
	return t, true
}

// PopForSteal pops and returns a task for a remote steal request, but only
// if the queue holds more than noStealThreshold tasks — a lightly loaded
// peer refuses to donate its last tasks, since the
// round-trip cost of a steal dominates the work at that point.
func (q *TaskQueue) PopForSteal(noStealThreshold int) (capsule.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) <= noStealThreshold {
		return capsule.Task{}, false
	}
	last := len(q.tasks) - 1
	t := q.tasks[last]
	q.tasks[last] = capsule.Task{}
	q.tasks = q.tasks[:last]
	return t, true
}
