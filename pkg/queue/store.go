package queue

import (
	"context"
	"time"
)

// Store is the durable job store behind the Manager. Implementations keep one
// record per job plus an index per status so counts and dequeues stay cheap.
type Store interface {
	// Add persists a new job and indexes it under job.Status, which must be
	// waiting or delayed. Add assigns job.Seq.
	Add(ctx context.Context, job *Job) error

	// Get returns a copy of the job or a NotFoundError.
	Get(ctx context.Context, queue, id string) (*Job, error)

	// Update persists job and moves its index entry from the from status to
	// job.Status, provided the stored job is still in status from. It returns
	// a NotFoundError if the job was removed and ErrConflict if another
	// writer changed its status meanwhile.
	Update(ctx context.Context, job *Job, from JobStatus) error

	// Remove deletes the job and all of its index entries atomically.
	Remove(ctx context.Context, queue, id string) error

	// Dequeue atomically claims the highest-priority waiting job and marks it
	// active. It returns nil, nil when nothing is waiting.
	Dequeue(ctx context.Context, queue string, now time.Time) (*Job, error)

	// PromoteDue moves up to limit delayed jobs whose ProcessAt <= now to waiting.
	PromoteDue(ctx context.Context, queue string, now time.Time, limit int) (int, error)

	// Counts returns the number of jobs per status.
	Counts(ctx context.Context, queue string) (Counts, error)

	// Finished returns the ids of jobs in a terminal status that finished
	// before the given time, oldest first.
	Finished(ctx context.Context, queue string, status JobStatus, before time.Time, limit int) ([]string, error)

	// Surplus returns the ids of the oldest terminal jobs beyond the newest keep.
	Surplus(ctx context.Context, queue string, status JobStatus, keep int) ([]string, error)

	SetPaused(ctx context.Context, queue string, paused bool) error
	IsPaused(ctx context.Context, queue string) (bool, error)

	Close() error
}

// Counts is the per-status job count of a queue.
type Counts struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
}

// Total sums all statuses.
func (c Counts) Total() int64 {
	return c.Waiting + c.Active + c.Completed + c.Failed + c.Delayed
}

// waitingScore orders waiting jobs: higher priority first, then FIFO.
// Priorities are bounded to +-1000 so the score stays exact in a float64.
func waitingScore(priority int, seq int64) float64 {
	return float64(-priority)*1e12 + float64(seq)
}
