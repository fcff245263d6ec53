package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/resumind/resumind/pkg/queue"
)

// Result is the full analysis outcome persisted by the store stage.
type Result struct {
	JobID          string    `json:"jobId"`
	ResumeID       string    `json:"resumeId"`
	CandidateID    string    `json:"candidateId"`
	OrganizationID string    `json:"organizationId"`
	Profile        Profile   `json:"profile"`
	Analysis       Analysis  `json:"analysis"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ResultStore persists analysis results keyed by resume id. Save overwrites
// so a retried job does not duplicate rows.
type ResultStore interface {
	Save(ctx context.Context, r *Result) error
	Get(ctx context.Context, resumeID string) (*Result, error)
}

func notFound(resumeID string) error {
	return queue.NewNotFoundError("result", resumeID)
}

// MemoryResultStore keeps results in process memory.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]*Result
}

// NewMemoryResultStore creates an empty store.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[string]*Result)}
}

func (s *MemoryResultStore) Save(_ context.Context, r *Result) error {
	cp := *r
	s.mu.Lock()
	s.results[r.ResumeID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryResultStore) Get(_ context.Context, resumeID string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[resumeID]
	if !ok {
		return nil, notFound(resumeID)
	}
	cp := *r
	return &cp, nil
}

// RedisResultStore stores results as JSON strings under <prefix>:result:<resumeId>.
type RedisResultStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisResultStore creates a store; ttl 0 keeps results forever.
func NewRedisResultStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisResultStore {
	if prefix == "" {
		prefix = queue.DefaultKeyPrefix
	}
	return &RedisResultStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisResultStore) key(resumeID string) string {
	return s.prefix + ":result:" + resumeID
}

func (s *RedisResultStore) Save(ctx context.Context, r *Result) error {
	b, err := json.Marshal(r)
	if err != nil {
		return queue.Permanent(fmt.Errorf("encode result: %w", err))
	}
	if err := s.rdb.Set(ctx, s.key(r.ResumeID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (s *RedisResultStore) Get(ctx context.Context, resumeID string) (*Result, error) {
	b, err := s.rdb.Get(ctx, s.key(resumeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(resumeID)
	}
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}

// DB is the subset of *pgxpool.Pool used by PostgresResultStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresResultStore stores results in the resume_analyses table.
type PostgresResultStore struct{ db DB }

// NewPostgresResultStore wraps a pool (or any DB).
func NewPostgresResultStore(db DB) *PostgresResultStore { return &PostgresResultStore{db: db} }

const createResultsTable = `create table if not exists resume_analyses (
resume_id text primary key,
job_id text not null,
candidate_id text not null,
organization_id text not null,
score integer not null,
profile jsonb not null,
analysis jsonb not null,
created_at timestamptz not null
)`

// EnsureSchema creates the results table if it does not exist.
func (s *PostgresResultStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createResultsTable); err != nil {
		return fmt.Errorf("create resume_analyses: %w", err)
	}
	return nil
}

func (s *PostgresResultStore) Save(ctx context.Context, r *Result) error {
	profile, err := json.Marshal(r.Profile)
	if err != nil {
		return queue.Permanent(fmt.Errorf("encode profile: %w", err))
	}
	analysis, err := json.Marshal(r.Analysis)
	if err != nil {
		return queue.Permanent(fmt.Errorf("encode analysis: %w", err))
	}
	_, err = s.db.Exec(ctx, `insert into resume_analyses(
resume_id, job_id, candidate_id, organization_id, score, profile, analysis, created_at
) values ($1,$2,$3,$4,$5,$6,$7,$8)
on conflict (resume_id) do update set
job_id=excluded.job_id, score=excluded.score, profile=excluded.profile,
analysis=excluded.analysis, created_at=excluded.created_at`,
		r.ResumeID, r.JobID, r.CandidateID, r.OrganizationID, r.Analysis.Score, profile, analysis, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (s *PostgresResultStore) Get(ctx context.Context, resumeID string) (*Result, error) {
	var (
		r                 Result
		profile, analysis []byte
	)
	err := s.db.QueryRow(ctx, `select resume_id, job_id, candidate_id, organization_id, profile, analysis, created_at
from resume_analyses where resume_id=$1`, resumeID).
		Scan(&r.ResumeID, &r.JobID, &r.CandidateID, &r.OrganizationID, &profile, &analysis, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(resumeID)
	}
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	if err := json.Unmarshal(profile, &r.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := json.Unmarshal(analysis, &r.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &r, nil
}
