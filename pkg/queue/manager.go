package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resumind/resumind/pkg/event"
)

// Notifier publishes queue state changes. *event.Bus satisfies it.
type Notifier interface {
	Publish(ctx context.Context, channel string, v any) (int, error)
}

// Queue is the handle of a registered queue.
type Queue struct {
	Name    string
	Options QueueOptions
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithNotifier publishes a queue_update on queue:<name> after every state change.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns named queues on top of a Store. Producer operations are safe
// for concurrent use; worker operations are registered with Process and run
// between Start and Stop.
type Manager struct {
	store    Store
	cfg      Config
	logger   zerolog.Logger
	notifier Notifier
	now      func() time.Time
	validate *validator.Validate

	mu         sync.RWMutex
	queues     map[string]*Queue
	processors map[string]processorReg

	runMu   sync.Mutex
	started bool
	cancel  context.CancelFunc
	abort   context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager backed by store.
func NewManager(store Store, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		cfg:        cfg.withDefaults(),
		logger:     log.With().Str("component", "queue").Logger(),
		now:        time.Now,
		validate:   validator.New(),
		queues:     make(map[string]*Queue),
		processors: make(map[string]processorReg),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterQueue registers a queue. Registering an existing name returns the
// existing handle unchanged and logs a warning.
func (m *Manager) RegisterQueue(name string, opts QueueOptions) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[name]; ok {
		m.logger.Warn().Str("queue", name).Msg("Queue already registered")
		return q
	}
	q := &Queue{Name: name, Options: opts.withDefaults(m.cfg.Defaults)}
	m.queues[name] = q
	m.logger.Debug().
		Str("queue", name).
		Int("attempts", q.Options.DefaultAttempts).
		Str("backoff", string(q.Options.Backoff.Type)).
		Msg("Queue registered")
	return q
}

// ensureQueue returns the named queue, registering it with defaults if absent.
func (m *Manager) ensureQueue(name string) *Queue {
	m.mu.RLock()
	q, ok := m.queues[name]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q
	}
	q = &Queue{Name: name, Options: m.cfg.Defaults}
	m.queues[name] = q
	return q
}

// Queue returns a registered queue.
func (m *Manager) Queue(name string) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[name]
	return q, ok
}

// Queues returns the names of all registered queues, sorted.
func (m *Manager) Queues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enqueue adds a job to queueName, registering the queue with defaults if
// needed. Payload must serialize to JSON. When opts.JobID names an existing
// job, its handle is returned and nothing is enqueued.
func (m *Manager) Enqueue(ctx context.Context, queueName, jobName string, payload any, opts JobOptions) (JobHandle, error) {
	if queueName == "" {
		return JobHandle{}, NewInvalidPayloadError("queueName", "required")
	}
	if jobName == "" {
		return JobHandle{}, NewInvalidPayloadError("name", "required")
	}
	if err := m.validate.Struct(opts); err != nil {
		return JobHandle{}, invalidFromValidation(err)
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return JobHandle{}, err
	}

	q := m.ensureQueue(queueName)
	now := m.now()

	id := opts.JobID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d-%s", queueName, jobName, now.UnixMilli(), uuid.NewString()[:8])
	} else {
		existing, err := m.store.Get(ctx, queueName, id)
		if err == nil {
			return JobHandle{ID: existing.ID, QueueName: queueName}, nil
		}
		if !IsNotFound(err) {
			return JobHandle{}, wrapStore("enqueue", err)
		}
	}

	job := &Job{
		ID:          id,
		Queue:       queueName,
		Name:        jobName,
		Data:        data,
		Priority:    opts.Priority,
		MaxAttempts: q.Options.DefaultAttempts,
		Backoff:     q.Options.Backoff,
		Status:      StatusWaiting,
		EnqueuedAt:  now,
		ProcessAt:   now,
	}
	if opts.Attempts > 0 {
		job.MaxAttempts = opts.Attempts
	}
	if opts.Backoff != nil {
		job.Backoff = *opts.Backoff
	}
	if opts.Delay > 0 {
		job.Status = StatusDelayed
		job.ProcessAt = now.Add(opts.Delay)
	}

	err = m.withDispatchRetry(ctx, "enqueue", func() error {
		return m.store.Add(ctx, job)
	})
	if err != nil {
		m.logger.Error().Err(err).Str("queue", queueName).Str("job_id", id).Msg("Enqueue failed")
		return JobHandle{}, err
	}

	m.logger.Debug().
		Str("queue", queueName).
		Str("job_id", id).
		Str("job_name", jobName).
		Str("status", string(job.Status)).
		Msg("Job enqueued")
	m.notifyQueue(ctx, queueName)
	return JobHandle{ID: id, QueueName: queueName}, nil
}

// withDispatchRetry runs fn and retries transient store failures with a
// short exponential pause.
func (m *Manager) withDispatchRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= m.cfg.DispatchRetries; attempt++ {
		if err = wrapStore(op, fn()); err == nil || !IsTransient(err) {
			return err
		}
		if attempt == m.cfg.DispatchRetries {
			break
		}
		m.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Job store unavailable, retrying")
		if !sleepCtx(ctx, 50*time.Millisecond<<attempt) {
			return err
		}
	}
	return err
}

// RemoveJob deletes a job in any status.
func (m *Manager) RemoveJob(ctx context.Context, queueName, jobID string) error {
	if err := m.store.Remove(ctx, queueName, jobID); err != nil {
		return wrapStore("remove", err)
	}
	m.logger.Debug().Str("queue", queueName).Str("job_id", jobID).Msg("Job removed")
	m.notifyQueue(ctx, queueName)
	return nil
}

// RetryJob moves a failed job back to waiting with a fresh attempt budget, or
// makes a delayed job due immediately. An active job is retried only once it
// has stalled, i.e. it started longer ago than any live worker can run it,
// which happens when the process running it died. Other statuses, and jobs
// that change status while being retried, return ErrNotRetryable.
func (m *Manager) RetryJob(ctx context.Context, queueName, jobID string) error {
	job, err := m.store.Get(ctx, queueName, jobID)
	if err != nil {
		return wrapStore("retry", err)
	}

	from := job.Status
	switch {
	case from == StatusActive && !m.stalled(job):
		return fmt.Errorf("%w: job %s is active since %s", ErrNotRetryable, jobID, job.StartedAt.Format(time.RFC3339))
	case from == StatusFailed || from == StatusActive:
		job.AttemptsMade = 0
		job.Progress = 0
		job.FailedReason = ""
		job.Result = nil
		job.StartedAt = time.Time{}
		job.FinishedAt = time.Time{}
	case from == StatusDelayed:
	default:
		return fmt.Errorf("%w: job %s is %s", ErrNotRetryable, jobID, from)
	}
	job.Status = StatusWaiting
	job.ProcessAt = m.now()

	if err := m.store.Update(ctx, job, from); err != nil {
		if IsConflict(err) {
			return fmt.Errorf("%w: %w", ErrNotRetryable, err)
		}
		return wrapStore("retry", err)
	}
	m.logger.Info().Str("queue", queueName).Str("job_id", jobID).Str("from", string(from)).Msg("Job retried")
	m.notifyQueue(ctx, queueName)
	return nil
}

// stalled reports whether an active job has outlived its attempt timeout and
// the outcome write that follows it.
func (m *Manager) stalled(job *Job) bool {
	return m.now().Sub(job.StartedAt) > m.cfg.JobTimeout+finishTimeout
}

// GetJobStatus returns a snapshot of the job. A missing job yields a snapshot
// with status not_found rather than an error.
func (m *Manager) GetJobStatus(ctx context.Context, queueName, jobID string) (JobSnapshot, error) {
	job, err := m.store.Get(ctx, queueName, jobID)
	if IsNotFound(err) {
		return JobSnapshot{QueueName: queueName, JobID: jobID, Status: StatusNotFound}, nil
	}
	if err != nil {
		return JobSnapshot{}, wrapStore("status", err)
	}
	return snapshotOf(job), nil
}

// GetQueueStats returns approximate per-status counts.
func (m *Manager) GetQueueStats(ctx context.Context, queueName string) (QueueStats, error) {
	counts, err := m.store.Counts(ctx, queueName)
	if err != nil {
		return QueueStats{}, wrapStore("stats", err)
	}
	paused, err := m.store.IsPaused(ctx, queueName)
	if err != nil {
		return QueueStats{}, wrapStore("stats", err)
	}
	return QueueStats{
		QueueName: queueName,
		Waiting:   counts.Waiting,
		Active:    counts.Active,
		Completed: counts.Completed,
		Failed:    counts.Failed,
		Delayed:   counts.Delayed,
		Paused:    paused,
		Total:     counts.Total(),
	}, nil
}

// PauseQueue stops dispatch of new jobs. Jobs already active keep running.
func (m *Manager) PauseQueue(ctx context.Context, queueName string) error {
	return m.setPaused(ctx, queueName, true)
}

// ResumeQueue restarts dispatch.
func (m *Manager) ResumeQueue(ctx context.Context, queueName string) error {
	return m.setPaused(ctx, queueName, false)
}

func (m *Manager) setPaused(ctx context.Context, queueName string, paused bool) error {
	m.ensureQueue(queueName)
	if err := m.store.SetPaused(ctx, queueName, paused); err != nil {
		return wrapStore("pause", err)
	}
	m.logger.Info().Str("queue", queueName).Bool("paused", paused).Msg("Queue pause state changed")
	m.notifyQueue(ctx, queueName)
	return nil
}

// CleanQueue removes up to limit jobs in the terminal status that finished
// more than grace ago. A limit <= 0 removes all matches. It returns the ids
// removed.
func (m *Manager) CleanQueue(ctx context.Context, queueName string, grace time.Duration, status JobStatus, limit int) ([]string, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: clean accepts completed or failed, got %q", ErrInvalidStatus, status)
	}
	ids, err := m.store.Finished(ctx, queueName, status, m.now().Add(-grace), limit)
	if err != nil {
		return nil, wrapStore("clean", err)
	}
	removed, err := m.removeAll(ctx, queueName, ids)
	if len(removed) > 0 {
		m.logger.Info().
			Str("queue", queueName).
			Str("status", string(status)).
			Int("removed", len(removed)).
			Msg("Queue cleaned")
		m.notifyQueue(ctx, queueName)
	}
	return removed, err
}

func (m *Manager) removeAll(ctx context.Context, queueName string, ids []string) ([]string, error) {
	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		err := m.store.Remove(ctx, queueName, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return removed, wrapStore("clean", err)
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// Sweep applies every registered queue's retention policy once and returns
// the number of jobs removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	var errs []error
	total := 0
	for _, name := range m.Queues() {
		q, _ := m.Queue(name)
		rules := []struct {
			status JobStatus
			age    time.Duration
			keep   int
		}{
			{StatusCompleted, q.Options.CompletedRetention, q.Options.CompletedKeep},
			{StatusFailed, q.Options.FailedRetention, q.Options.FailedKeep},
		}
		for _, r := range rules {
			if r.age > 0 {
				removed, err := m.CleanQueue(ctx, name, r.age, r.status, 0)
				total += len(removed)
				if err != nil {
					errs = append(errs, err)
				}
			}
			if r.keep > 0 {
				ids, err := m.store.Surplus(ctx, name, r.status, r.keep)
				if err != nil {
					errs = append(errs, wrapStore("sweep", err))
					continue
				}
				removed, err := m.removeAll(ctx, name, ids)
				total += len(removed)
				if err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return total, errors.Join(errs...)
}

// Shutdown stops the workers and closes the store.
func (m *Manager) Shutdown(ctx context.Context) error {
	stopErr := m.Stop(ctx)
	return errors.Join(stopErr, m.store.Close())
}

func (m *Manager) notifyQueue(ctx context.Context, queueName string) {
	if m.notifier == nil {
		return
	}
	stats, err := m.GetQueueStats(ctx, queueName)
	if err != nil {
		m.logger.Debug().Err(err).Str("queue", queueName).Msg("Skipping queue update")
		return
	}
	update := event.QueueUpdate{
		QueueName: stats.QueueName,
		Waiting:   stats.Waiting,
		Active:    stats.Active,
		Completed: stats.Completed,
		Failed:    stats.Failed,
		Delayed:   stats.Delayed,
		Paused:    stats.Paused,
		Timestamp: m.now(),
	}
	if _, err := m.notifier.Publish(ctx, event.QueueChannel(queueName), update); err != nil {
		m.logger.Debug().Err(err).Str("queue", queueName).Msg("Queue update not published")
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	var data []byte
	switch p := payload.(type) {
	case nil:
		return nil, NewInvalidPayloadError("data", "required")
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, NewInvalidPayloadError("data", err.Error())
		}
		data = b
	}
	if !json.Valid(data) {
		return nil, NewInvalidPayloadError("data", "not valid JSON")
	}
	return append(json.RawMessage(nil), data...), nil
}

func invalidFromValidation(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewInvalidPayloadError(fe.Field(), fmt.Sprintf("failed on %q", fe.Tag()))
	}
	return NewInvalidPayloadError("", err.Error())
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
