// Package scheduler implements the tiered concurrent scheduler of spec
// §4.5: three size-bucketed queues with worker affinity and work-stealing
// between tiers.
package scheduler

import (
	"sync"

	"github.com/Sakurayuki-A/stardriver/internal/model"
)

// Worker counts per tier (spec §4.5: "16 workers affine to Large, 6 to
// Medium, 6 to Small").
const (
	LargeWorkers  = 16
	MediumWorkers = 6
	SmallWorkers  = 6
	TotalWorkers  = LargeWorkers + MediumWorkers + SmallWorkers
)

// queue is a simple mutex-guarded deque. A literal lock-free MPMC queue
// was judged unnecessary here: every critical section is a handful of
// slice operations, never I/O, so a mutex costs nothing observable and
// keeps the implementation readable.
type queue struct {
	mu    sync.Mutex
	tasks []*model.DownloadTask
}

func (q *queue) pushBack(t *model.DownloadTask) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// pushSorted inserts t keeping the slice sorted by descending expected
// size (spec §4.5: "Large and Medium are enqueued in descending size").
func (q *queue) pushSorted(t *model.DownloadTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := 0
	for i < len(q.tasks) && q.tasks[i].Entry.Size >= t.Entry.Size {
		i++
	}
	q.tasks = append(q.tasks, nil)
	copy(q.tasks[i+1:], q.tasks[i:])
	q.tasks[i] = t
}

func (q *queue) tryPop() (*model.DownloadTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Scheduler holds the three tiered queues and routes work by size.
type Scheduler struct {
	large  queue
	medium queue
	small  queue
}

// New creates an empty Scheduler.
func New() *Scheduler { return &Scheduler{} }

func (s *Scheduler) queueFor(tier model.Tier) *queue {
	switch tier {
	case model.TierLarge:
		return &s.large
	case model.TierMedium:
		return &s.medium
	default:
		return &s.small
	}
}

// Enqueue adds t to the queue matching its tier, in the order spec §4.5
// requires (descending size for Large/Medium, insertion order for Small).
func (s *Scheduler) Enqueue(t *model.DownloadTask) {
	switch t.Tier() {
	case model.TierLarge:
		s.large.pushSorted(t)
	case model.TierMedium:
		s.medium.pushSorted(t)
	default:
		s.small.pushBack(t)
	}
}

// Requeue re-enqueues a failed task into the tier matching its size, not
// its worker's affinity (spec §4.5).
func (s *Scheduler) Requeue(t *model.DownloadTask) {
	s.Enqueue(t)
}

// pollOrder is the tier-specific fallback order a worker with the given
// affinity polls in once its own tier is empty (spec §4.5 table).
func pollOrder(affinity model.Tier) [3]model.Tier {
	switch affinity {
	case model.TierLarge:
		return [3]model.Tier{model.TierLarge, model.TierMedium, model.TierSmall}
	case model.TierMedium:
		return [3]model.Tier{model.TierMedium, model.TierSmall, model.TierLarge}
	default:
		return [3]model.Tier{model.TierSmall, model.TierMedium, model.TierLarge}
	}
}

// Acquire returns the next task for a worker with the given affinity,
// polling its own tier first and then work-stealing from the other two in
// the order spec §4.5 specifies. The second return value is false when
// all three queues are empty.
func (s *Scheduler) Acquire(affinity model.Tier) (*model.DownloadTask, bool) {
	for _, tier := range pollOrder(affinity) {
		if t, ok := s.queueFor(tier).tryPop(); ok {
			return t, true
		}
	}
	return nil, false
}

// TryDequeueLarge, TryDequeueMedium, TryDequeueSmall are the non-blocking
// per-tier accessors spec §4.5 calls for directly.
func (s *Scheduler) TryDequeueLarge() (*model.DownloadTask, bool)  { return s.large.tryPop() }
func (s *Scheduler) TryDequeueMedium() (*model.DownloadTask, bool) { return s.medium.tryPop() }
func (s *Scheduler) TryDequeueSmall() (*model.DownloadTask, bool)  { return s.small.tryPop() }

// IsEmpty reports whether all three queues are empty.
func (s *Scheduler) IsEmpty() bool {
	return s.large.len() == 0 && s.medium.len() == 0 && s.small.len() == 0
}

// Len returns the total number of tasks currently queued across all tiers.
func (s *Scheduler) Len() int {
	return s.large.len() + s.medium.len() + s.small.len()
}
