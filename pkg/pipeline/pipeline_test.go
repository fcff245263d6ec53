package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumind/resumind/pkg/event"
	"github.com/resumind/resumind/pkg/queue"
)

type recordingPublisher struct {
	mu      sync.Mutex
	updates []event.JobUpdate
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, v any) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := v.(event.JobUpdate); ok {
		if channel != event.JobChannel(u.JobID) {
			return 0, errors.New("wrong channel " + channel)
		}
		p.updates = append(p.updates, u)
	}
	return 1, nil
}

func (p *recordingPublisher) snapshot() []event.JobUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.JobUpdate(nil), p.updates...)
}

type state struct {
	visited []string
}

func stage(name string, progress int, fn func(context.Context, *state, Reporter) error) Stage[*state] {
	return Stage[*state]{
		Name:     name,
		Progress: progress,
		Run: func(ctx context.Context, s *state, report Reporter) error {
			s.visited = append(s.visited, name)
			if fn != nil {
				return fn(ctx, s, report)
			}
			return nil
		},
	}
}

func summarize(s *state) any { return map[string]int{"stages": len(s.visited)} }

func TestNew_Validation(t *testing.T) {
	pub := &recordingPublisher{}
	tests := []struct {
		name   string
		stages []Stage[*state]
	}{
		{"no stages", nil},
		{"empty name", []Stage[*state]{stage("", 10, nil)}},
		{"duplicate", []Stage[*state]{stage("a", 10, nil), stage("a", 20, nil)}},
		{"not increasing", []Stage[*state]{stage("a", 30, nil), stage("b", 30, nil)}},
		{"reserved 100", []Stage[*state]{stage("a", 100, nil)}},
		{"nil run", []Stage[*state]{{Name: "a", Progress: 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(pub, summarize, tt.stages)
			require.Error(t, err)
		})
	}

	_, err := New[*state](nil, summarize, []Stage[*state]{stage("a", 10, nil)})
	require.Error(t, err)
}

func TestRun_ProgressIsMonotonicAndCompletes(t *testing.T) {
	pub := &recordingPublisher{}
	p, err := New(pub, summarize, []Stage[*state]{
		stage("fetch", 10, func(_ context.Context, _ *state, report Reporter) error {
			report(5, "below checkpoint")
			report(25, "half way")
			report(20, "going back")
			report(80, "beyond next checkpoint")
			return nil
		}),
		stage("parse", 30, nil),
		stage("store", 90, nil),
	}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.Equal(t, []string{"fetch", "parse", "store"}, p.Stages())

	var progress []int
	s := &state{}
	result, err := p.Run(context.Background(), Attempt{JobID: "J1", QueueName: "q", Attempt: 1, MaxAttempts: 3}, s,
		func(pct int) { progress = append(progress, pct) })
	require.NoError(t, err)
	require.Equal(t, map[string]int{"stages": 3}, result)
	require.Equal(t, []string{"fetch", "parse", "store"}, s.visited)

	updates := pub.snapshot()
	require.NotEmpty(t, updates)
	last := -1
	for _, u := range updates {
		require.GreaterOrEqual(t, u.Progress, last, "progress decreased at %+v", u)
		last = u.Progress
		assert.Equal(t, "J1", u.JobID)
		assert.Equal(t, 1, u.Attempt)
	}

	final := updates[len(updates)-1]
	require.Equal(t, event.JobCompleted, final.Status)
	require.Equal(t, 100, final.Progress)
	require.Equal(t, map[string]int{"stages": 3}, final.Result)

	require.Equal(t, []int{10, 25, 29, 30, 90, 100}, progress)
	require.Equal(t, "fetch", updates[0].Stage)
	require.Equal(t, event.JobInProgress, updates[0].Status)
}

func TestRun_StageFailure(t *testing.T) {
	boom := errors.New("parser crashed")
	newPipeline := func(pub *recordingPublisher) *Pipeline[*state] {
		p, err := New(pub, summarize, []Stage[*state]{
			stage("fetch", 10, nil),
			stage("parse", 30, func(context.Context, *state, Reporter) error { return boom }),
			stage("store", 90, nil),
		}, WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		return p
	}

	t.Run("retrying before the final attempt", func(t *testing.T) {
		pub := &recordingPublisher{}
		s := &state{}
		_, err := newPipeline(pub).Run(context.Background(), Attempt{JobID: "J1", Attempt: 1, MaxAttempts: 3}, s, nil)

		var se *StageError
		require.ErrorAs(t, err, &se)
		require.Equal(t, "parse", se.Stage)
		require.ErrorIs(t, err, boom)
		require.Equal(t, []string{"fetch", "parse"}, s.visited)

		updates := pub.snapshot()
		final := updates[len(updates)-1]
		require.Equal(t, event.JobRetrying, final.Status)
		require.Equal(t, "parse", final.Stage)
		require.Equal(t, "parser crashed", final.Error)
		require.Equal(t, 30, final.Progress)
	})

	t.Run("failed on the final attempt", func(t *testing.T) {
		pub := &recordingPublisher{}
		_, err := newPipeline(pub).Run(context.Background(), Attempt{JobID: "J1", Attempt: 3, MaxAttempts: 3}, &state{}, nil)
		require.Error(t, err)

		updates := pub.snapshot()
		require.Equal(t, event.JobFailed, updates[len(updates)-1].Status)
	})

	t.Run("permanent errors fail immediately", func(t *testing.T) {
		pub := &recordingPublisher{}
		p, err := New(pub, summarize, []Stage[*state]{
			stage("fetch", 10, func(context.Context, *state, Reporter) error {
				return queue.Permanent(errors.New("404 from storage"))
			}),
		}, WithLogger(zerolog.Nop()))
		require.NoError(t, err)

		_, err = p.Run(context.Background(), Attempt{JobID: "J1", Attempt: 1, MaxAttempts: 3}, &state{}, nil)
		require.True(t, queue.IsPermanent(err))
		updates := pub.snapshot()
		require.Equal(t, event.JobFailed, updates[len(updates)-1].Status)
	})
}

func TestRun_StagePanicIsStageError(t *testing.T) {
	pub := &recordingPublisher{}
	p, err := New(pub, summarize, []Stage[*state]{
		stage("analyze", 70, func(context.Context, *state, Reporter) error { panic("model exploded") }),
	}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Attempt{JobID: "J1", Attempt: 1, MaxAttempts: 1}, &state{}, nil)
	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "analyze", se.Stage)
	require.Contains(t, err.Error(), "model exploded")
}

func TestRun_CancelledContext(t *testing.T) {
	pub := &recordingPublisher{}
	p, err := New(pub, summarize, []Stage[*state]{stage("fetch", 10, nil)}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, Attempt{JobID: "J1", Attempt: 1, MaxAttempts: 1}, &state{}, nil)
	require.ErrorIs(t, err, context.Canceled)

	updates := pub.snapshot()
	require.Equal(t, event.JobFailed, updates[len(updates)-1].Status, "failure still published")
}

func TestProcessor_AlwaysFailingJob(t *testing.T) {
	pub := &recordingPublisher{}
	p, err := New(pub, summarize, []Stage[*state]{
		stage("fetch", 10, nil),
		stage("analyze", 70, func(context.Context, *state, Reporter) error { return errors.New("inference timeout") }),
	}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	m := queue.NewManager(queue.NewMemoryStore(), queue.Config{
		Defaults:        queue.QueueOptions{Backoff: queue.Backoff{Type: queue.BackoffFixed, Delay: time.Millisecond}},
		PollInterval:    5 * time.Millisecond,
		PromoteInterval: 5 * time.Millisecond,
	}, queue.WithLogger(zerolog.Nop()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	require.NoError(t, m.Process("q", 1, p.Processor(func(*queue.Job) (*state, error) { return &state{}, nil })))
	require.NoError(t, m.Start(context.Background()))

	ctx := context.Background()
	h, err := m.Enqueue(ctx, "q", "analyze", map[string]string{"resumeId": "r1"}, queue.JobOptions{JobID: "J1", Attempts: 3})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := m.GetJobStatus(ctx, "q", h.ID)
		return snap.Status == queue.StatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	snap, err := m.GetJobStatus(ctx, "q", h.ID)
	require.NoError(t, err)
	require.Equal(t, 3, snap.AttemptsMade)
	require.Equal(t, "stage analyze: inference timeout", snap.FailedReason)

	var failures, failed, completed int
	for _, u := range pub.snapshot() {
		if u.Error != "" {
			failures++
			require.Equal(t, "analyze", u.Stage)
		}
		switch u.Status {
		case event.JobFailed:
			failed++
		case event.JobCompleted:
			completed++
		}
	}
	require.Equal(t, 3, failures, "one failure publish per attempt")
	require.Equal(t, 1, failed, "only exhaustion is reported as failed")
	require.Zero(t, completed)
}

func TestProcessor_DecodeFailureIsPermanent(t *testing.T) {
	pub := &recordingPublisher{}
	p, err := New(pub, summarize, []Stage[*state]{stage("fetch", 10, nil)}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	proc := p.Processor(func(job *queue.Job) (*state, error) {
		var s state
		if err := json.Unmarshal(job.Data, &s); err != nil {
			return nil, queue.NewInvalidPayloadError("data", err.Error())
		}
		return &s, nil
	})

	_, err = proc(context.Background(), &queue.Job{ID: "J1", Queue: "q", Data: []byte(`not json`), MaxAttempts: 3}, nil)
	require.True(t, queue.IsPermanent(err))
	require.True(t, queue.IsInvalidPayload(err))

	updates := pub.snapshot()
	require.Len(t, updates, 1)
	require.Equal(t, event.JobFailed, updates[0].Status)
	require.Equal(t, DecodeStage, updates[0].Stage)
}
