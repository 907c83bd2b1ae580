package core

import (
	"container/heap"
	"errors"
	"sync"
)

// TaskPriority orders tasks in a queue (lower value is served first).
type TaskPriority int

const (
	// TaskPriorityRetry is used for requeued tasks so that a round is not held
	// back by its slowest partition.
	TaskPriorityRetry TaskPriority = 0
	TaskPriorityFresh TaskPriority = 1
)

// ErrQueueEmpty is returned by Pop when no pending task is queued.
var ErrQueueEmpty = errors.New("priority queue is empty")

// TaskPriorityQueue is a thread-safe min-heap of tasks. Tasks of equal
// priority are served in FIFO order. Entries whose task is no longer pending
// are dropped when they reach the top.
type TaskPriorityQueue interface {
	Push(task *Task, priority TaskPriority) error
	Pop() (*Task, error)
	Len() int
	Clear()
}

type heapTaskPriorityQueue struct {
	pq       priorityQueue
	mu       sync.Mutex
	sequence uint64
}

func NewTaskPriorityQueue() TaskPriorityQueue {
	pq := make(priorityQueue, 0)
	heap.Init(&pq)
	return &heapTaskPriorityQueue{pq: pq}
}

func (tpq *heapTaskPriorityQueue) Push(task *Task, priority TaskPriority) error {
	if task == nil {
		return errors.New("cannot push nil task")
	}

	tpq.mu.Lock()
	defer tpq.mu.Unlock()

	heap.Push(&tpq.pq, &item{
		task:     task,
		priority: priority,
		sequence: tpq.sequence,
	})
	tpq.sequence++
	return nil
}

// Pop removes and returns the first pending task. Callers must hold whatever
// lock guards task status.
func (tpq *heapTaskPriorityQueue) Pop() (*Task, error) {
	tpq.mu.Lock()
	defer tpq.mu.Unlock()

	for tpq.pq.Len() > 0 {
		it := heap.Pop(&tpq.pq).(*item)
		if it.task.Status == TaskStatusPending {
			return it.task, nil
		}
	}
	return nil, ErrQueueEmpty
}

// Len counts queued entries, including ones that will be dropped on Pop.
func (tpq *heapTaskPriorityQueue) Len() int {
	tpq.mu.Lock()
	defer tpq.mu.Unlock()
	return tpq.pq.Len()
}

func (tpq *heapTaskPriorityQueue) Clear() {
	tpq.mu.Lock()
	defer tpq.mu.Unlock()
	tpq.pq = tpq.pq[:0]
}

type item struct {
	task     *Task
	priority TaskPriority
	sequence uint64
	index    int
}

type priorityQueue []*item

func (pq priorityQueue) Len() int {
	return len(pq)
}

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].sequence < pq[j].sequence
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*pq)
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}
