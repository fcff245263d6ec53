package event

import "time"

// Channel name prefixes.
const (
	JobChannelPrefix   = "job:"
	QueueChannelPrefix = "queue:"
)

// JobChannel returns the channel carrying updates for one job.
func JobChannel(jobID string) string { return JobChannelPrefix + jobID }

// QueueChannel returns the channel carrying updates for one queue.
func QueueChannel(queueName string) string { return QueueChannelPrefix + queueName }

// JobUpdateStatus is the status reported to live subscribers of a job.
type JobUpdateStatus string

const (
	JobInProgress JobUpdateStatus = "in_progress"
	JobCompleted  JobUpdateStatus = "completed"
	// JobRetrying reports a failed attempt that will be retried. Subscribers
	// see it as a progress reset, not a failure.
	JobRetrying JobUpdateStatus = "retrying"
	JobFailed   JobUpdateStatus = "failed"
)

// JobUpdate is published on job:<id>.
type JobUpdate struct {
	JobID       string          `json:"jobId"`
	QueueName   string          `json:"queueName,omitempty"`
	Status      JobUpdateStatus `json:"status"`
	Progress    int             `json:"progress"`
	Stage       string          `json:"stage,omitempty"`
	Message     string          `json:"message,omitempty"`
	Result      any             `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempt     int             `json:"attempt,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// QueueUpdate is published on queue:<name>.
type QueueUpdate struct {
	QueueName string    `json:"queueName"`
	Waiting   int64     `json:"waiting"`
	Active    int64     `json:"active"`
	Completed int64     `json:"completed"`
	Failed    int64     `json:"failed"`
	Delayed   int64     `json:"delayed"`
	Paused    bool      `json:"paused"`
	Timestamp time.Time `json:"timestamp"`
}
