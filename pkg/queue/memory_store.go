package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Jobs do not survive a restart and are
// not shared between processes.
type MemoryStore struct {
	mu     sync.RWMutex
	queues map[string]*memoryQueue
	closed bool
}

type memoryQueue struct {
	jobs   map[string]*Job
	index  map[JobStatus]map[string]struct{}
	seq    int64
	paused bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queues: make(map[string]*memoryQueue)}
}

func (s *MemoryStore) queue(name string) *memoryQueue {
	q, ok := s.queues[name]
	if !ok {
		q = &memoryQueue{
			jobs:  make(map[string]*Job),
			index: make(map[JobStatus]map[string]struct{}),
		}
		s.queues[name] = q
	}
	return q
}

func (q *memoryQueue) indexAdd(status JobStatus, id string) {
	set, ok := q.index[status]
	if !ok {
		set = make(map[string]struct{})
		q.index[status] = set
	}
	set[id] = struct{}{}
}

func (q *memoryQueue) indexRemove(status JobStatus, id string) {
	delete(q.index[status], id)
}

func (s *MemoryStore) Add(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	q := s.queue(job.Queue)
	q.seq++
	job.Seq = q.seq
	q.jobs[job.ID] = job.Clone()
	q.indexAdd(job.Status, job.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, queue, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if q, ok := s.queues[queue]; ok {
		if job, ok := q.jobs[id]; ok {
			return job.Clone(), nil
		}
	}
	return nil, NewNotFoundError("job", id)
}

func (s *MemoryStore) Update(_ context.Context, job *Job, from JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	q, ok := s.queues[job.Queue]
	if !ok {
		return NewNotFoundError("job", job.ID)
	}
	current, ok := q.jobs[job.ID]
	if !ok {
		return NewNotFoundError("job", job.ID)
	}
	if current.Status != from {
		return conflictError(job.ID, from, current.Status)
	}
	q.jobs[job.ID] = job.Clone()
	q.indexRemove(from, job.ID)
	q.indexAdd(job.Status, job.ID)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, queue, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	q, ok := s.queues[queue]
	if !ok {
		return NewNotFoundError("job", id)
	}
	job, ok := q.jobs[id]
	if !ok {
		return NewNotFoundError("job", id)
	}
	delete(q.jobs, id)
	q.indexRemove(job.Status, id)
	return nil
}

func (s *MemoryStore) Dequeue(_ context.Context, queue string, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	q, ok := s.queues[queue]
	if !ok {
		return nil, nil
	}

	var next *Job
	for id := range q.index[StatusWaiting] {
		job := q.jobs[id]
		if next == nil || waitingScore(job.Priority, job.Seq) < waitingScore(next.Priority, next.Seq) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}

	q.indexRemove(StatusWaiting, next.ID)
	next.Status = StatusActive
	next.StartedAt = now
	next.Progress = 0
	q.indexAdd(StatusActive, next.ID)
	return next.Clone(), nil
}

func (s *MemoryStore) PromoteDue(_ context.Context, queue string, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	q, ok := s.queues[queue]
	if !ok {
		return 0, nil
	}

	due := make([]*Job, 0)
	for id := range q.index[StatusDelayed] {
		if job := q.jobs[id]; !job.ProcessAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ProcessAt.Before(due[j].ProcessAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, job := range due {
		q.indexRemove(StatusDelayed, job.ID)
		job.Status = StatusWaiting
		q.indexAdd(StatusWaiting, job.ID)
	}
	return len(due), nil
}

func (s *MemoryStore) Counts(_ context.Context, queue string) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Counts{}, ErrClosed
	}
	q, ok := s.queues[queue]
	if !ok {
		return Counts{}, nil
	}
	return Counts{
		Waiting:   int64(len(q.index[StatusWaiting])),
		Active:    int64(len(q.index[StatusActive])),
		Completed: int64(len(q.index[StatusCompleted])),
		Failed:    int64(len(q.index[StatusFailed])),
		Delayed:   int64(len(q.index[StatusDelayed])),
	}, nil
}

// terminalByAge returns the jobs in status ordered oldest finish first.
func (q *memoryQueue) terminalByAge(status JobStatus) []*Job {
	jobs := make([]*Job, 0, len(q.index[status]))
	for id := range q.index[status] {
		jobs = append(jobs, q.jobs[id])
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].FinishedAt.Equal(jobs[j].FinishedAt) {
			return jobs[i].Seq < jobs[j].Seq
		}
		return jobs[i].FinishedAt.Before(jobs[j].FinishedAt)
	})
	return jobs
}

func (s *MemoryStore) Finished(_ context.Context, queue string, status JobStatus, before time.Time, limit int) ([]string, error) {
	if !status.IsTerminal() {
		return nil, ErrInvalidStatus
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	q, ok := s.queues[queue]
	if !ok {
		return nil, nil
	}
	var ids []string
	for _, job := range q.terminalByAge(status) {
		if !job.FinishedAt.Before(before) {
			break
		}
		ids = append(ids, job.ID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (s *MemoryStore) Surplus(_ context.Context, queue string, status JobStatus, keep int) ([]string, error) {
	if !status.IsTerminal() {
		return nil, ErrInvalidStatus
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	q, ok := s.queues[queue]
	if !ok {
		return nil, nil
	}
	jobs := q.terminalByAge(status)
	if keep < 0 || len(jobs) <= keep {
		return nil, nil
	}
	ids := make([]string, 0, len(jobs)-keep)
	for _, job := range jobs[:len(jobs)-keep] {
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func (s *MemoryStore) SetPaused(_ context.Context, queue string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.queue(queue).paused = paused
	return nil
}

func (s *MemoryStore) IsPaused(_ context.Context, queue string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	q, ok := s.queues[queue]
	return ok && q.paused, nil
}

// Close discards all jobs. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queues = make(map[string]*memoryQueue)
	return nil
}
