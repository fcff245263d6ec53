package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProgressFunc records the progress of the running attempt. Values are
// clamped to 0..100 and lower values than the current one are ignored.
type ProgressFunc func(pct int)

// Processor executes one attempt of a job. The returned result is stored as
// JSON on success. Errors wrapped with Permanent fail the job without retry.
type Processor func(ctx context.Context, job *Job, progress ProgressFunc) (any, error)

type processorReg struct {
	proc        Processor
	concurrency int
}

// defaultConcurrency is used when Process is given concurrency <= 0.
const defaultConcurrency = 4

// promoteBatch bounds the delayed jobs promoted per queue and tick.
const promoteBatch = 100

// finishTimeout bounds the store write that records an attempt outcome.
const finishTimeout = 10 * time.Second

// Process registers proc to run jobs of queueName with the given number of
// worker goroutines. It must be called before Start.
func (m *Manager) Process(queueName string, concurrency int, proc Processor) error {
	if proc == nil {
		return fmt.Errorf("queue %s: nil processor", queueName)
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.started {
		return fmt.Errorf("queue manager already started")
	}

	m.ensureQueue(queueName)
	m.mu.Lock()
	m.processors[queueName] = processorReg{proc: proc, concurrency: concurrency}
	m.mu.Unlock()
	return nil
}

// Start launches the workers of every processed queue, the delayed-job
// promoter and, if configured, the retention sweeper.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.started {
		return fmt.Errorf("queue manager already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	// In-flight jobs outlive the dispatch loops until Stop gives up waiting.
	jobCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.abort = abort

	m.mu.RLock()
	workers := 0
	for name, reg := range m.processors {
		for i := 0; i < reg.concurrency; i++ {
			m.wg.Add(1)
			go m.worker(loopCtx, jobCtx, name, reg.proc, i)
		}
		workers += reg.concurrency
	}
	m.mu.RUnlock()

	m.wg.Add(1)
	go m.promoter(loopCtx)
	if m.cfg.SweepInterval > 0 {
		m.wg.Add(1)
		go m.sweeper(loopCtx)
	}

	m.started = true
	m.logger.Info().Int("workers", workers).Msg("Queue workers started")
	return nil
}

// Stop stops dispatching and waits for in-flight jobs. When ctx expires first,
// in-flight jobs are cancelled and ctx.Err() is returned.
func (m *Manager) Stop(ctx context.Context) error {
	m.runMu.Lock()
	if !m.started {
		m.runMu.Unlock()
		return nil
	}
	m.cancel()
	abort := m.abort
	m.started = false
	m.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		abort()
		m.logger.Info().Msg("Queue workers stopped gracefully")
		return nil
	case <-ctx.Done():
		abort()
		m.logger.Warn().Msg("Queue worker shutdown timed out, cancelling in-flight jobs")
		return ctx.Err()
	}
}

func (m *Manager) worker(ctx, jobCtx context.Context, queueName string, proc Processor, id int) {
	defer m.wg.Done()

	logger := m.logger.With().Str("queue", queueName).Int("worker_id", id).Logger()
	logger.Debug().Msg("Worker started")
	defer logger.Debug().Msg("Worker stopping")

	for ctx.Err() == nil {
		paused, err := m.store.IsPaused(ctx, queueName)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Pause check failed")
			}
			sleepCtx(ctx, m.cfg.PollInterval)
			continue
		}
		if paused {
			sleepCtx(ctx, m.cfg.PollInterval)
			continue
		}

		job, err := m.store.Dequeue(ctx, queueName, m.now())
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Dequeue failed")
			}
			sleepCtx(ctx, m.cfg.PollInterval)
			continue
		}
		if job == nil {
			sleepCtx(ctx, m.cfg.PollInterval)
			continue
		}

		m.notifyQueue(ctx, queueName)
		m.execute(jobCtx, job, proc, logger)
	}
}

// attempt is the worker-side state of one running job.
type attempt struct {
	m      *Manager
	job    *Job
	logger zerolog.Logger

	mu       sync.Mutex
	finished bool
}

func (a *attempt) progress(ctx context.Context) ProgressFunc {
	return func(pct int) {
		pct = min(max(pct, 0), 100)

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.finished || pct <= a.job.Progress {
			return
		}
		a.job.Progress = pct
		if err := a.m.store.Update(ctx, a.job.Clone(), StatusActive); err != nil {
			a.logger.Debug().Err(err).Int("progress", pct).Msg("Progress not persisted")
		}
	}
}

func (m *Manager) execute(ctx context.Context, job *Job, proc Processor, logger zerolog.Logger) {
	a := &attempt{
		m:      m,
		job:    job,
		logger: logger.With().Str("job_id", job.ID).Int("attempt", job.AttemptsMade+1).Logger(),
	}
	a.logger.Debug().Msg("Processing job")

	runCtx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	result, err := runProcessor(runCtx, proc, job.Clone(), a.progress(runCtx))
	cancel()

	a.mu.Lock()
	a.finished = true
	a.mu.Unlock()

	m.finish(ctx, a, result, err)
}

func runProcessor(ctx context.Context, proc Processor, job *Job, progress ProgressFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc(ctx, job, progress)
}

// finish records the outcome of an attempt: completed, delayed for retry, or
// failed once attempts are exhausted or the error is permanent.
func (m *Manager) finish(ctx context.Context, a *attempt, result any, procErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	job := a.job
	now := m.now()
	job.AttemptsMade++

	if procErr == nil {
		data, err := marshalResult(result)
		if err != nil {
			procErr = Permanent(fmt.Errorf("encode result: %w", err))
		} else {
			job.Status = StatusCompleted
			job.Progress = 100
			job.Result = data
			job.FailedReason = ""
			job.FinishedAt = now
		}
	}

	if procErr != nil {
		job.FailedReason = procErr.Error()
		if IsPermanent(procErr) || job.AttemptsMade >= job.MaxAttempts {
			job.Status = StatusFailed
			job.FinishedAt = now
		} else {
			job.Status = StatusDelayed
			job.Progress = 0
			job.ProcessAt = now.Add(job.Backoff.Duration(job.AttemptsMade))
		}
	}

	if err := m.store.Update(ctx, job, StatusActive); err != nil {
		switch {
		case IsNotFound(err):
			a.logger.Info().Msg("Job removed while active, outcome discarded")
		case IsConflict(err):
			a.logger.Warn().Err(err).Msg("Job retried while active, outcome discarded")
		default:
			a.logger.Error().Err(err).Str("status", string(job.Status)).Msg("Failed to record job outcome")
		}
		return
	}

	switch job.Status {
	case StatusCompleted:
		a.logger.Info().Dur("duration", now.Sub(job.StartedAt)).Msg("Job completed")
	case StatusDelayed:
		a.logger.Warn().Err(procErr).Time("retry_at", job.ProcessAt).Msg("Job attempt failed, retry scheduled")
	default:
		a.logger.Error().Err(procErr).Int("attempts_made", job.AttemptsMade).Msg("Job failed")
	}
	m.notifyQueue(ctx, job.Queue)
}

func marshalResult(result any) (json.RawMessage, error) {
	switch r := result.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(r) {
			return nil, errors.New("result is not valid JSON")
		}
		return r, nil
	default:
		return json.Marshal(r)
	}
}

func (m *Manager) promoter(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PromoteDue(ctx)
		}
	}
}

// PromoteDue moves every due delayed job of every registered queue to waiting.
func (m *Manager) PromoteDue(ctx context.Context) int {
	total := 0
	for _, name := range m.Queues() {
		n, err := m.store.PromoteDue(ctx, name, m.now(), promoteBatch)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn().Err(err).Str("queue", name).Msg("Delayed job promotion failed")
			}
			continue
		}
		if n > 0 {
			m.logger.Debug().Str("queue", name).Int("promoted", n).Msg("Delayed jobs promoted")
			m.notifyQueue(ctx, name)
		}
		total += n
	}
	return total
}

func (m *Manager) sweeper(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := m.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				m.logger.Warn().Err(err).Msg("Retention sweep incomplete")
			}
			if removed > 0 {
				m.logger.Info().Int("removed", removed).Msg("Retention sweep finished")
			}
		}
	}
}
