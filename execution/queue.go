package execution

import (
	"time"

	"github.com/dlmmcore/engine/types"
)

// queueItem is one pending execution, ordered by (effectiveUrgency,
// enqueuedAt).
type queueItem struct {
	signal types.ExecutionSignal

	enqueuedAt       time.Time
	effectiveUrgency types.Urgency
	agePromoted      bool
	attempt          int

	index int
}

// priorityQueue orders items by urgency descending, then FIFO by
// enqueuedAt within the same urgency.
type priorityQueue []*queueItem

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].effectiveUrgency != q[j].effectiveUrgency {
		return q[i].effectiveUrgency > q[j].effectiveUrgency
	}
	return q[i].enqueuedAt.Before(q[j].enqueuedAt)
}

func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *priorityQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *priorityQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}
