// Package service wires the queue manager, channel bus and result store
// from configuration. Redis mode shares state across processes; memory mode
// runs everything inside one process.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/resumind/resumind/pkg/analysis"
	"github.com/resumind/resumind/pkg/config"
	"github.com/resumind/resumind/pkg/event"
	"github.com/resumind/resumind/pkg/pipeline"
	"github.com/resumind/resumind/pkg/queue"
)

// Services holds the long-lived backend components shared by the HTTP
// server, the worker pool and the CLI.
type Services struct {
	Queue   *queue.Manager
	Bus     *event.Bus
	Results analysis.ResultStore

	cfg     config.Config
	logger  zerolog.Logger
	closers []func() error
}

// New connects the backends described by cfg. Redis clients are pinged so
// a bad address fails here rather than on the first job.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Services, error) {
	s := &Services{cfg: cfg, logger: logger}

	var (
		store     queue.Store
		transport event.Transport
		results   analysis.ResultStore
	)
	if cfg.Redis.Enabled {
		opts := &redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		// Subscribing puts a connection in pub/sub mode, so publish and
		// commands use their own client.
		rdb := redis.NewClient(opts)
		sub := redis.NewClient(opts)
		s.closers = append(s.closers, rdb.Close, sub.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = s.closeAll()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		store = queue.NewRedisStore(rdb, cfg.Redis.Prefix)
		transport = event.NewRedisTransport(ctx, rdb, sub)
		results = analysis.NewRedisResultStore(rdb, cfg.Redis.Prefix, cfg.Analysis.ResultTTL)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis job store and channel bus")
	} else {
		store = queue.NewMemoryStore()
		transport = event.NewMemoryBroker().NewTransport()
		results = analysis.NewMemoryResultStore()
		logger.Warn().Msg("Redis disabled: jobs and events are kept in process memory")
	}

	if dsn := cfg.Analysis.DatabaseDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			_ = transport.Close()
			_ = s.closeAll()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		pg := analysis.NewPostgresResultStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = transport.Close()
			_ = s.closeAll()
			return nil, err
		}
		results = pg
		logger.Info().Msg("Analysis results stored in Postgres")
	}

	s.Bus = event.New(transport,
		event.WithLogger(logger.With().Str("component", "event").Logger()),
		event.WithMailboxSize(cfg.Stream.MailboxSize))
	s.Queue = queue.NewManager(store, QueueConfig(cfg.Queue),
		queue.WithLogger(logger.With().Str("component", "queue").Logger()),
		queue.WithNotifier(s.Bus))
	s.Queue.RegisterQueue(analysis.QueueName, QueueOptions(cfg.Queue))
	s.Results = results
	return s, nil
}

// QueueConfig maps the queue section onto the manager configuration.
func QueueConfig(c config.QueueConfig) queue.Config {
	return queue.Config{
		Defaults:        QueueOptions(c),
		PollInterval:    c.PollInterval,
		PromoteInterval: c.PromoteInterval,
		SweepInterval:   c.SweepInterval,
		JobTimeout:      c.JobTimeout,
		DispatchRetries: queue.DefaultConfig().DispatchRetries,
	}
}

// QueueOptions maps the queue section onto per-queue defaults.
func QueueOptions(c config.QueueConfig) queue.QueueOptions {
	return queue.QueueOptions{
		DefaultAttempts:    c.DefaultAttempts,
		Backoff:            queue.Backoff{Type: queue.BackoffType(c.BackoffType), Delay: c.BackoffDelay},
		CompletedRetention: c.CompletedRetention,
		FailedRetention:    c.FailedRetention,
		CompletedKeep:      c.CompletedKeep,
		FailedKeep:         c.FailedKeep,
	}
}

// EnableWorkers attaches the analysis pipeline to the analysis queue. The
// workers run once Queue.Start is called.
func (s *Services) EnableWorkers(concurrency int, fetcher analysis.Fetcher) error {
	if fetcher == nil {
		fetcher = analysis.NewHTTPFetcher(s.cfg.Analysis.FetchTimeout, s.cfg.Analysis.MaxResumeBytes)
	}
	logger := s.logger.With().Str("component", "analysis").Logger()
	p, err := analysis.NewPipeline(s.Bus, analysis.Deps{
		Fetcher: fetcher,
		Results: s.Results,
		Logger:  &logger,
	}, pipeline.WithLogger(s.logger.With().Str("component", "pipeline").Logger()))
	if err != nil {
		return err
	}
	return analysis.Register(s.Queue, p, concurrency, QueueOptions(s.cfg.Queue))
}

// Close stops the workers, closes the bus and releases connections.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Queue != nil {
		errs = append(errs, s.Queue.Shutdown(ctx))
	}
	if s.Bus != nil {
		errs = append(errs, s.Bus.Close())
	}
	errs = append(errs, s.closeAll())
	return errors.Join(errs...)
}

func (s *Services) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
