// Package queue implements the job queue manager: named queues, job lifecycle,
// retry with backoff, retention sweeps and the worker pool that executes jobs.
//
// Job state lives in a Store. RedisStore is used when several processes share
// queues; MemoryStore serves single-process deployments and tests.
package queue

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusWaiting   JobStatus = "waiting"
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusDelayed   JobStatus = "delayed"

	// StatusNotFound is only reported in snapshots, never stored.
	StatusNotFound JobStatus = "not_found"
)

// IsTerminal reports whether no worker will touch a job in this status again.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a storable status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusCompleted, StatusFailed, StatusDelayed:
		return true
	}
	return false
}

// Job is a unit of work identified by (Queue, ID).
type Job struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
	Name  string `json:"name"`

	// Data is the serialized producer payload.
	Data json.RawMessage `json:"data"`

	// Priority orders waiting jobs; higher values are dispatched first.
	Priority int `json:"priority"`

	AttemptsMade int     `json:"attemptsMade"`
	MaxAttempts  int     `json:"maxAttempts"`
	Backoff      Backoff `json:"backoff"`

	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`

	// Seq is assigned by the store and keeps FIFO order within a priority.
	Seq int64 `json:"seq"`

	EnqueuedAt time.Time `json:"enqueuedAt"`
	ProcessAt  time.Time `json:"processAt"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Clone returns a copy of the job that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Data != nil {
		c.Data = append(json.RawMessage(nil), j.Data...)
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &c
}

// FinalAttempt reports whether the attempt currently running is the last one
// allowed by MaxAttempts.
func (j *Job) FinalAttempt() bool {
	return j.AttemptsMade+1 >= j.MaxAttempts
}

// JobHandle is returned to producers after a successful enqueue.
type JobHandle struct {
	ID        string `json:"id"`
	QueueName string `json:"queueName"`
}

// JobOptions are per-job overrides supplied at enqueue time.
type JobOptions struct {
	// JobID replaces the generated id. Enqueueing an id that already exists
	// returns the existing job's handle.
	JobID    string        `json:"jobId,omitempty" validate:"omitempty,max=256"`
	Priority int           `json:"priority,omitempty" validate:"min=-1000,max=1000"`
	Delay    time.Duration `json:"delay,omitempty" validate:"min=0"`
	Attempts int           `json:"attempts,omitempty" validate:"min=0,max=100"`
	Backoff  *Backoff      `json:"backoff,omitempty"`
}

// Timestamps groups the lifecycle times reported in a snapshot.
type Timestamps struct {
	Enqueued time.Time  `json:"enqueued"`
	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`
}

// JobSnapshot is the point-in-time view returned by status queries.
type JobSnapshot struct {
	QueueName    string          `json:"queueName"`
	JobID        string          `json:"jobId"`
	Name         string          `json:"name,omitempty"`
	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts,omitempty"`
	Timestamps   *Timestamps     `json:"timestamps,omitempty"`
}

func snapshotOf(j *Job) JobSnapshot {
	ts := &Timestamps{Enqueued: j.EnqueuedAt}
	if !j.StartedAt.IsZero() {
		started := j.StartedAt
		ts.Started = &started
	}
	if !j.FinishedAt.IsZero() {
		finished := j.FinishedAt
		ts.Finished = &finished
	}
	return JobSnapshot{
		QueueName:    j.Queue,
		JobID:        j.ID,
		Name:         j.Name,
		Status:       j.Status,
		Progress:     j.Progress,
		Result:       j.Result,
		FailedReason: j.FailedReason,
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		Timestamps:   ts,
	}
}

// QueueStats holds point-in-time job counts. The counts are read without a
// transaction and may be slightly inconsistent under concurrent mutation.
type QueueStats struct {
	QueueName string `json:"queueName"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Delayed   int64  `json:"delayed"`
	Paused    bool   `json:"paused"`
	Total     int64  `json:"total"`
}
