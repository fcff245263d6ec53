// Package pipeline runs a job through ordered, checkpointed stages and
// publishes a job_update on job:<id> at every stage boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resumind/resumind/pkg/event"
	"github.com/resumind/resumind/pkg/queue"
)

// DecodeStage names the pseudo-stage reported when a payload cannot be decoded.
const DecodeStage = "validate"

// Reporter reports progress inside a stage. Values are clamped between the
// stage checkpoint and the next one.
type Reporter func(pct int, message string)

// Stage is one named unit of work. Progress is the checkpoint published
// when the stage starts.
type Stage[S any] struct {
	Name     string
	Progress int
	Run      func(ctx context.Context, state S, report Reporter) error
}

// Summarizer reduces the final state to the bounded result published with
// the completed update and stored on the job.
type Summarizer[S any] func(state S) any

// Publisher is the channel bus as seen by the pipeline.
type Publisher interface {
	Publish(ctx context.Context, channel string, v any) (int, error)
}

// Attempt identifies one execution of a job.
type Attempt struct {
	JobID       string
	QueueName   string
	Attempt     int // 1-based
	MaxAttempts int
}

// Final reports whether no retry follows this attempt.
func (a Attempt) Final() bool { return a.Attempt >= a.MaxAttempts }

// StageError is returned when a stage fails.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

type settings struct {
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*settings)

// WithLogger sets the pipeline logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithClock replaces time.Now for update timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// Pipeline is an immutable stage list. It is safe for concurrent use; each
// Run works only on its own state.
type Pipeline[S any] struct {
	stages    []Stage[S]
	publisher Publisher
	summarize Summarizer[S]
	settings
}

// New validates the stages and builds a pipeline. Checkpoints must be
// strictly increasing and below 100, which is reserved for completion.
func New[S any](publisher Publisher, summarize Summarizer[S], stages []Stage[S], opts ...Option) (*Pipeline[S], error) {
	if publisher == nil {
		return nil, errors.New("pipeline: nil publisher")
	}
	if len(stages) == 0 {
		return nil, errors.New("pipeline: no stages")
	}
	seen := make(map[string]bool, len(stages))
	prev := -1
	for _, st := range stages {
		switch {
		case st.Name == "":
			return nil, errors.New("pipeline: stage without name")
		case seen[st.Name]:
			return nil, fmt.Errorf("pipeline: duplicate stage %q", st.Name)
		case st.Run == nil:
			return nil, fmt.Errorf("pipeline: stage %q has no run function", st.Name)
		case st.Progress <= prev || st.Progress >= 100:
			return nil, fmt.Errorf("pipeline: stage %q checkpoint %d must be above %d and below 100", st.Name, st.Progress, prev)
		}
		seen[st.Name] = true
		prev = st.Progress
	}

	p := &Pipeline[S]{
		stages:    append([]Stage[S](nil), stages...),
		publisher: publisher,
		summarize: summarize,
		settings: settings{
			logger: log.With().Str("component", "pipeline").Logger(),
			now:    time.Now,
		},
	}
	for _, opt := range opts {
		opt(&p.settings)
	}
	return p, nil
}

// Stages returns the stage names in order.
func (p *Pipeline[S]) Stages() []string {
	names := make([]string, len(p.stages))
	for i, st := range p.stages {
		names[i] = st.Name
	}
	return names
}

// run carries the publishing state of one attempt.
type run struct {
	ctx       context.Context
	attempt   Attempt
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
	progress  func(int)
	last      int
}

func (r *run) publish(u event.JobUpdate) {
	u.JobID = r.attempt.JobID
	u.QueueName = r.attempt.QueueName
	u.Attempt = r.attempt.Attempt
	u.MaxAttempts = r.attempt.MaxAttempts
	u.Timestamp = r.now()
	if _, err := r.publisher.Publish(r.ctx, event.JobChannel(u.JobID), u); err != nil {
		r.logger.Debug().Err(err).Str("status", string(u.Status)).Msg("Job update not published")
	}
}

// advance publishes an in_progress update if pct moves progress forward.
func (r *run) advance(stage string, pct int, message string) {
	if pct <= r.last {
		return
	}
	r.last = pct
	if r.progress != nil {
		r.progress(pct)
	}
	r.publish(event.JobUpdate{Status: event.JobInProgress, Progress: pct, Stage: stage, Message: message})
}

func (r *run) fail(stage string, err error) {
	status := event.JobRetrying
	message := fmt.Sprintf("%s failed, retrying", stage)
	if r.attempt.Final() || queue.IsPermanent(err) {
		status = event.JobFailed
		message = fmt.Sprintf("%s failed", stage)
	}
	r.publish(event.JobUpdate{Status: status, Progress: r.last, Stage: stage, Message: message, Error: err.Error()})
}

// Run executes every stage in order. progress, if set, receives each
// published progress value. On failure the failing stage is published and a
// *StageError is returned; retry policy is left to the caller.
func (p *Pipeline[S]) Run(ctx context.Context, attempt Attempt, state S, progress func(int)) (any, error) {
	r := &run{
		ctx:       context.WithoutCancel(ctx),
		attempt:   attempt,
		publisher: p.publisher,
		logger: p.logger.With().
			Str("job_id", attempt.JobID).
			Int("attempt", attempt.Attempt).
			Logger(),
		now:      p.now,
		progress: progress,
	}

	for i, st := range p.stages {
		next := 100
		if i+1 < len(p.stages) {
			next = p.stages[i+1].Progress
		}
		r.advance(st.Name, st.Progress, fmt.Sprintf("Starting %s", st.Name))
		r.logger.Debug().Str("stage", st.Name).Int("progress", st.Progress).Msg("Stage started")

		report := func(pct int, message string) {
			r.advance(st.Name, min(max(pct, st.Progress), next-1), message)
		}
		if err := runStage(ctx, st, state, report); err != nil {
			r.logger.Warn().Err(err).Str("stage", st.Name).Msg("Stage failed")
			r.fail(st.Name, err)
			return nil, &StageError{Stage: st.Name, Err: err}
		}
	}

	var summary any
	if p.summarize != nil {
		summary = p.summarize(state)
	}
	r.last = 100
	if progress != nil {
		progress(100)
	}
	r.publish(event.JobUpdate{Status: event.JobCompleted, Progress: 100, Message: "Completed", Result: summary})
	return summary, nil
}

func runStage[S any](ctx context.Context, st Stage[S], state S, report Reporter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return st.Run(ctx, state, report)
}

// Processor adapts the pipeline to the queue worker pool. decode builds the
// per-job state from the payload; a decode error fails the job without retry.
func (p *Pipeline[S]) Processor(decode func(job *queue.Job) (S, error)) queue.Processor {
	return func(ctx context.Context, job *queue.Job, progress queue.ProgressFunc) (any, error) {
		attempt := Attempt{
			JobID:       job.ID,
			QueueName:   job.Queue,
			Attempt:     job.AttemptsMade + 1,
			MaxAttempts: job.MaxAttempts,
		}
		state, err := decode(job)
		if err != nil {
			err = queue.Permanent(err)
			r := &run{
				ctx:       context.WithoutCancel(ctx),
				attempt:   attempt,
				publisher: p.publisher,
				logger:    p.logger,
				now:       p.now,
			}
			r.fail(DecodeStage, err)
			return nil, &StageError{Stage: DecodeStage, Err: err}
		}
		return p.Run(ctx, attempt, state, progress)
	}
}
