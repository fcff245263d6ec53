package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumind/resumind/pkg/event"
)

type recordingNotifier struct {
	mu      sync.Mutex
	updates map[string][]event.QueueUpdate
}

func (n *recordingNotifier) Publish(_ context.Context, channel string, v any) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.updates == nil {
		n.updates = make(map[string][]event.QueueUpdate)
	}
	n.updates[channel] = append(n.updates[channel], v.(event.QueueUpdate))
	return 0, nil
}

func (n *recordingNotifier) last(channel string) (event.QueueUpdate, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	u := n.updates[channel]
	if len(u) == 0 {
		return event.QueueUpdate{}, false
	}
	return u[len(u)-1], true
}

func fastConfig() Config {
	return Config{
		Defaults: QueueOptions{
			DefaultAttempts: 3,
			Backoff:         Backoff{Type: BackoffExponential, Delay: time.Millisecond},
		},
		PollInterval:    5 * time.Millisecond,
		PromoteInterval: 5 * time.Millisecond,
		JobTimeout:      time.Second,
		DispatchRetries: 2,
	}
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	m := NewManager(NewMemoryStore(), fastConfig(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func startManager(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Start(context.Background()))
}

func TestRegisterQueue_Idempotent(t *testing.T) {
	m := newTestManager(t)

	first := m.RegisterQueue("resume-analysis", QueueOptions{DefaultAttempts: 5})
	second := m.RegisterQueue("resume-analysis", QueueOptions{DefaultAttempts: 1})

	require.Same(t, first, second)
	require.Equal(t, 5, second.Options.DefaultAttempts)
	require.Equal(t, []string{"resume-analysis"}, m.Queues())
}

func TestEnqueue_AutoRegistersAndGeneratesID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	h, err := m.Enqueue(ctx, "emails", "welcome", map[string]any{"to": "a@b.c"}, JobOptions{})
	require.NoError(t, err)
	require.Equal(t, "emails", h.QueueName)
	require.Regexp(t, `^emails-welcome-\d+-[0-9a-f]{8}$`, h.ID)

	q, ok := m.Queue("emails")
	require.True(t, ok)
	require.Equal(t, 3, q.Options.DefaultAttempts)

	snap, err := m.GetJobStatus(ctx, "emails", h.ID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, snap.Status)
	require.Equal(t, 0, snap.AttemptsMade)
	require.NotNil(t, snap.Timestamps)
	require.Nil(t, snap.Timestamps.Started)
}

func TestEnqueue_InvalidPayload(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload any
		opts    JobOptions
	}{
		{"nil payload", nil, JobOptions{}},
		{"unserializable", map[string]any{"fn": func() {}}, JobOptions{}},
		{"invalid raw json", json.RawMessage(`{"a":`), JobOptions{}},
		{"priority out of range", map[string]any{}, JobOptions{Priority: 5000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Enqueue(ctx, "q", "job", tt.payload, tt.opts)
			require.Error(t, err)
			require.True(t, IsInvalidPayload(err), "got %v", err)
			require.True(t, IsPermanent(err))
		})
	}
}

func TestEnqueue_DuplicateJobIDReturnsExisting(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	h1, err := m.Enqueue(ctx, "q", "job", map[string]int{"n": 1}, JobOptions{JobID: "fixed"})
	require.NoError(t, err)
	h2, err := m.Enqueue(ctx, "q", "job", map[string]int{"n": 2}, JobOptions{JobID: "fixed"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	stats, err := m.GetQueueStats(ctx, "q")
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Total)
}

func TestEnqueue_Delayed(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	h, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{Delay: time.Hour})
	require.NoError(t, err)

	snap, err := m.GetJobStatus(ctx, "q", h.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDelayed, snap.Status)

	require.NoError(t, m.RetryJob(ctx, "q", h.ID))
	snap, err = m.GetJobStatus(ctx, "q", h.ID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, snap.Status)
}

func TestGetJobStatus_NotFound(t *testing.T) {
	m := newTestManager(t)

	snap, err := m.GetJobStatus(context.Background(), "q", "missing")
	require.NoError(t, err)
	require.Equal(t, StatusNotFound, snap.Status)
	require.Equal(t, "missing", snap.JobID)
	require.Equal(t, "q", snap.QueueName)
}

func TestRemoveAndRetry_NotFound(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	err := m.RemoveJob(ctx, "q", "missing")
	require.True(t, IsNotFound(err))

	err = m.RetryJob(ctx, "q", "missing")
	require.True(t, IsNotFound(err))

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "job", nf.ResourceType)
}

func TestRetryJob_NotRetryable(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	h, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{})
	require.NoError(t, err)

	err = m.RetryJob(ctx, "q", h.ID)
	require.ErrorIs(t, err, ErrNotRetryable)
}

func TestProcess_Completes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Process("q", 1, func(ctx context.Context, job *Job, report ProgressFunc) (any, error) {
		for _, p := range []int{10, 50, 30, 90} {
			report(p)
		}
		return map[string]string{"summary": "ok"}, nil
	}))
	startManager(t, m)

	h, err := m.Enqueue(ctx, "q", "job", map[string]int{"n": 1}, JobOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := m.GetJobStatus(ctx, "q", h.ID)
		return err == nil && snap.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := m.GetJobStatus(ctx, "q", h.ID)
	require.NoError(t, err)
	require.Equal(t, 100, snap.Progress)
	require.Equal(t, 1, snap.AttemptsMade)
	require.JSONEq(t, `{"summary":"ok"}`, string(snap.Result))
	require.NotNil(t, snap.Timestamps.Started)
	require.NotNil(t, snap.Timestamps.Finished)
}

func TestProcess_AlwaysFailingJobExhaustsAttempts(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, m.Process("q", 2, func(ctx context.Context, job *Job, _ ProgressFunc) (any, error) {
		calls.Add(1)
		return nil, errors.New("stage exploded")
	}))
	startManager(t, m)

	h, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{Attempts: 3})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := m.GetJobStatus(ctx, "q", h.ID)
		return err == nil && snap.Status == StatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	snap, err := m.GetJobStatus(ctx, "q", h.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, snap.Status)
	require.Equal(t, 3, snap.AttemptsMade)
	require.Equal(t, "stage exploded", snap.FailedReason)
	require.EqualValues(t, 3, calls.Load())
}

func TestProcess_PermanentErrorIsNotRetried(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, m.Process("q", 1, func(ctx context.Context, job *Job, _ ProgressFunc) (any, error) {
		calls.Add(1)
		return nil, Permanent(errors.New("bad input"))
	}))
	startManager(t, m)

	h, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{Attempts: 5})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := m.GetJobStatus(ctx, "q", h.ID)
		return snap.Status == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, calls.Load())
}

func TestProcess_PanicIsAFailedAttempt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Process("q", 1, func(ctx context.Context, job *Job, _ ProgressFunc) (any, error) {
		panic("boom")
	}))
	startManager(t, m)

	h, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{Attempts: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := m.GetJobStatus(ctx, "q", h.ID)
		return snap.Status == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	snap, _ := m.GetJobStatus(ctx, "q", h.ID)
	require.Contains(t, snap.FailedReason, "processor panic: boom")
}

func TestProcess_RetrySucceedsOnSecondAttempt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Process("q", 1, func(ctx context.Context, job *Job, _ ProgressFunc) (any, error) {
		if job.AttemptsMade == 0 {
			return nil, errors.New("transient")
		}
		return "done", nil
	}))
	startManager(t, m)

	h, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := m.GetJobStatus(ctx, "q", h.ID)
		return snap.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	snap, _ := m.GetJobStatus(ctx, "q", h.ID)
	require.Equal(t, 2, snap.AttemptsMade)
	require.Empty(t, snap.FailedReason)
}

func TestPauseQueue_StopsDispatch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, m.Process("q", 1, func(ctx context.Context, job *Job, _ ProgressFunc) (any, error) {
		calls.Add(1)
		return nil, nil
	}))
	require.NoError(t, m.PauseQueue(ctx, "q"))
	startManager(t, m)

	h, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, calls.Load())

	stats, err := m.GetQueueStats(ctx, "q")
	require.NoError(t, err)
	require.True(t, stats.Paused)
	require.EqualValues(t, 1, stats.Waiting)

	require.NoError(t, m.ResumeQueue(ctx, "q"))
	require.Eventually(t, func() bool {
		snap, _ := m.GetJobStatus(ctx, "q", h.ID)
		return snap.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPriorityOrdering(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, "q", "low", map[string]int{}, JobOptions{JobID: "low", Priority: -5})
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "q", "first", map[string]int{}, JobOptions{JobID: "first"})
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "q", "high", map[string]int{}, JobOptions{JobID: "high", Priority: 10})
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "q", "second", map[string]int{}, JobOptions{JobID: "second"})
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	require.NoError(t, m.Process("q", 1, func(ctx context.Context, job *Job, _ ProgressFunc) (any, error) {
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		return nil, nil
	}))
	startManager(t, m)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"high", "first", "second", "low"}, order)
}

func TestCleanQueue(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := newTestManager(t, WithClock(clock))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{JobID: id})
		require.NoError(t, err)
	}
	completeAll(t, m, "q", now.Add(-2*time.Hour))

	_, err := m.CleanQueue(ctx, "q", time.Hour, StatusActive, 0)
	require.ErrorIs(t, err, ErrInvalidStatus)

	removed, err := m.CleanQueue(ctx, "q", 3*time.Hour, StatusCompleted, 0)
	require.NoError(t, err)
	require.Empty(t, removed)

	removed, err = m.CleanQueue(ctx, "q", time.Hour, StatusCompleted, 1)
	require.NoError(t, err)
	require.Len(t, removed, 1)

	stats, err := m.GetQueueStats(ctx, "q")
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Completed)
}

func TestSweep_RetentionAndKeep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	m.RegisterQueue("old", QueueOptions{CompletedRetention: time.Hour})
	m.RegisterQueue("capped", QueueOptions{CompletedRetention: 48 * time.Hour, CompletedKeep: 2})

	for _, id := range []string{"o1", "o2"} {
		_, err := m.Enqueue(ctx, "old", "job", map[string]int{}, JobOptions{JobID: id})
		require.NoError(t, err)
	}
	completeAll(t, m, "old", now.Add(-2*time.Hour))

	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		_, err := m.Enqueue(ctx, "capped", "job", map[string]int{}, JobOptions{JobID: id})
		require.NoError(t, err)
	}
	completeAll(t, m, "capped", now.Add(-time.Minute))

	removed, err := m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, removed)

	old, _ := m.GetQueueStats(ctx, "old")
	assert.EqualValues(t, 0, old.Total)
	capped, _ := m.GetQueueStats(ctx, "capped")
	assert.EqualValues(t, 2, capped.Completed)

	snap, _ := m.GetJobStatus(ctx, "capped", "c4")
	assert.Equal(t, StatusCompleted, snap.Status)
	snap, _ = m.GetJobStatus(ctx, "capped", "c1")
	assert.Equal(t, StatusNotFound, snap.Status)
}

func TestNotifier_ReceivesQueueUpdates(t *testing.T) {
	n := &recordingNotifier{}
	m := newTestManager(t, WithNotifier(n))
	ctx := context.Background()

	_, err := m.Enqueue(ctx, "resume-analysis", "analyze", map[string]int{}, JobOptions{})
	require.NoError(t, err)

	u, ok := n.last(event.QueueChannel("resume-analysis"))
	require.True(t, ok)
	require.Equal(t, "resume-analysis", u.QueueName)
	require.EqualValues(t, 1, u.Waiting)
}

func TestStartStop(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Process("q", 0, func(context.Context, *Job, ProgressFunc) (any, error) { return nil, nil }))

	startManager(t, m)
	require.Error(t, m.Start(context.Background()), "second start must fail")
	require.Error(t, m.Process("other", 1, func(context.Context, *Job, ProgressFunc) (any, error) { return nil, nil }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx), "stop is idempotent")
}

func TestStop_TimesOutOnStuckJob(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	started := make(chan struct{})
	require.NoError(t, m.Process("q", 1, func(ctx context.Context, job *Job, _ ProgressFunc) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	startManager(t, m)

	_, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{})
	require.NoError(t, err)
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Stop(stopCtx), context.DeadlineExceeded)
}

type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
}

func (s *flakyStore) Add(ctx context.Context, job *Job) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("connection refused")
	}
	return s.MemoryStore.Add(ctx, job)
}

func TestEnqueue_RetriesTransientStoreFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(2)
	m := NewManager(store, fastConfig(), WithLogger(zerolog.Nop()))

	_, err := m.Enqueue(context.Background(), "q", "job", map[string]int{}, JobOptions{})
	require.NoError(t, err)

	store.failures.Store(5)
	_, err = m.Enqueue(context.Background(), "q", "job", map[string]int{}, JobOptions{})
	require.True(t, IsTransient(err))

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	require.Equal(t, "enqueue", de.Op)
}

// completeAll moves every waiting job of queue to completed at finishedAt.
func completeAll(t *testing.T, m *Manager, queue string, finishedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	for {
		job, err := m.store.Dequeue(ctx, queue, finishedAt)
		require.NoError(t, err)
		if job == nil {
			return
		}
		job.Status = StatusCompleted
		job.FinishedAt = finishedAt
		require.NoError(t, m.store.Update(ctx, job, StatusActive))
		// distinct finish times keep the order deterministic
		finishedAt = finishedAt.Add(time.Millisecond)
	}
}

// interleavingStore runs hook once, right after the first Get of a job, to
// simulate another process acting between a read and the following write.
type interleavingStore struct {
	Store
	once sync.Once
	hook func()
}

func (s *interleavingStore) Get(ctx context.Context, queue, id string) (*Job, error) {
	job, err := s.Store.Get(ctx, queue, id)
	s.once.Do(s.hook)
	return job, err
}

func TestRetryJob_DelayedJobClaimedConcurrently(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := newStore(t)
			var claimed *Job
			store := &interleavingStore{Store: base, hook: func() {
				// The promoter and a worker get to the job first.
				later := time.Now().Add(time.Hour)
				_, err := base.PromoteDue(ctx, "q", later, 10)
				require.NoError(t, err)
				claimed, err = base.Dequeue(ctx, "q", later)
				require.NoError(t, err)
			}}
			m := NewManager(store, fastConfig(), WithLogger(zerolog.Nop()))

			h, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{Delay: time.Minute})
			require.NoError(t, err)

			err = m.RetryJob(ctx, "q", h.ID)
			require.ErrorIs(t, err, ErrNotRetryable)
			require.ErrorIs(t, err, ErrConflict)
			require.NotNil(t, claimed)

			counts, err := base.Counts(ctx, "q")
			require.NoError(t, err)
			require.Equal(t, Counts{Active: 1}, counts)

			again, err := base.Dequeue(ctx, "q", time.Now())
			require.NoError(t, err)
			require.Nil(t, again, "job must not be dispatched twice")
		})
	}
}

func TestRetryJob_StalledActiveJob(t *testing.T) {
	now := time.Now()
	var clock atomic.Int64
	clock.Store(now.UnixNano())
	m := newTestManager(t, WithClock(func() time.Time { return time.Unix(0, clock.Load()) }))
	ctx := context.Background()

	h, err := m.Enqueue(ctx, "q", "job", map[string]int{}, JobOptions{})
	require.NoError(t, err)
	running, err := m.store.Dequeue(ctx, "q", now)
	require.NoError(t, err)
	require.Equal(t, h.ID, running.ID)

	err = m.RetryJob(ctx, "q", h.ID)
	require.ErrorIs(t, err, ErrNotRetryable, "a job inside its timeout may still be running")

	// The process running it died; the job outlived timeout plus outcome write.
	clock.Store(now.Add(fastConfig().JobTimeout + finishTimeout + time.Second).UnixNano())
	require.NoError(t, m.RetryJob(ctx, "q", h.ID))

	snap, err := m.GetJobStatus(ctx, "q", h.ID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, snap.Status)
	require.Zero(t, snap.AttemptsMade)

	counts, err := m.store.Counts(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, Counts{Waiting: 1}, counts)

	// A late outcome from the original attempt no longer applies.
	running.Status = StatusCompleted
	running.FinishedAt = now
	require.ErrorIs(t, m.store.Update(ctx, running, StatusActive), ErrConflict)
}
