package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by RedisStore.
const DefaultKeyPrefix = "resumind"

// watchRetries bounds optimistic-lock retries of a status transition.
const watchRetries = 3

// RedisStore keeps jobs in Redis so several processes can share queues.
//
// Layout per queue (prefix p, queue q):
//
//	p:q:job:<id>   string   JSON job record
//	p:q:waiting    zset     score = priority/sequence order
//	p:q:delayed    zset     score = ProcessAt (unix ms)
//	p:q:active     set
//	p:q:completed  zset     score = FinishedAt (unix ms)
//	p:q:failed     zset     score = FinishedAt (unix ms)
//	p:q:paused     string   present while paused
//	p:q:seq        counter
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a store on rdb. The client stays owned by the caller.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(queue string, parts ...string) string {
	k := s.prefix + ":" + queue
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) jobKey(queue, id string) string { return s.key(queue, "job", id) }

func (s *RedisStore) indexKey(queue string, status JobStatus) string {
	return s.key(queue, string(status))
}

func (s *RedisStore) index(ctx context.Context, pipe redis.Pipeliner, job *Job) {
	key := s.indexKey(job.Queue, job.Status)
	switch job.Status {
	case StatusWaiting:
		pipe.ZAdd(ctx, key, redis.Z{Score: waitingScore(job.Priority, job.Seq), Member: job.ID})
	case StatusDelayed:
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(job.ProcessAt.UnixMilli()), Member: job.ID})
	case StatusActive:
		pipe.SAdd(ctx, key, job.ID)
	case StatusCompleted, StatusFailed:
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(job.FinishedAt.UnixMilli()), Member: job.ID})
	}
}

func (s *RedisStore) unindex(ctx context.Context, pipe redis.Pipeliner, queue string, status JobStatus, id string) {
	switch status {
	case StatusActive:
		pipe.SRem(ctx, s.indexKey(queue, status), id)
	case StatusWaiting, StatusDelayed, StatusCompleted, StatusFailed:
		pipe.ZRem(ctx, s.indexKey(queue, status), id)
	}
}

func (s *RedisStore) Add(ctx context.Context, job *Job) error {
	seq, err := s.rdb.Incr(ctx, s.key(job.Queue, "seq")).Result()
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}
	job.Seq = seq

	data, err := json.Marshal(job)
	if err != nil {
		return NewInvalidPayloadError("", err.Error())
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(job.Queue, job.ID), data, 0)
		s.index(ctx, pipe, job)
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, queue, id string) (*Job, error) {
	data, err := s.rdb.Get(ctx, s.jobKey(queue, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, NewNotFoundError("job", id)
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// storedStatus reads the status of the job record at key inside tx.
func storedStatus(ctx context.Context, tx *redis.Tx, key, id string) (JobStatus, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", NewNotFoundError("job", id)
	}
	if err != nil {
		return "", err
	}
	var rec struct {
		Status JobStatus `json:"status"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("decode job %s: %w", id, err)
	}
	return rec.Status, nil
}

// watch runs fn under WATCH on keys, retrying when a watched key changed
// before EXEC.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < watchRetries; i++ {
		err = s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *RedisStore) Update(ctx context.Context, job *Job, from JobStatus) error {
	data, err := json.Marshal(job)
	if err != nil {
		return NewInvalidPayloadError("", err.Error())
	}
	key := s.jobKey(job.Queue, job.ID)

	return s.watch(ctx, func(tx *redis.Tx) error {
		current, err := storedStatus(ctx, tx, key, job.ID)
		if err != nil {
			return err
		}
		if current != from {
			return conflictError(job.ID, from, current)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.unindex(ctx, pipe, job.Queue, from, job.ID)
			s.index(ctx, pipe, job)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) Remove(ctx context.Context, queue, id string) error {
	var removed *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, s.jobKey(queue, id))
		for _, status := range []JobStatus{StatusWaiting, StatusActive, StatusDelayed, StatusCompleted, StatusFailed} {
			s.unindex(ctx, pipe, queue, status, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if removed.Val() == 0 {
		return NewNotFoundError("job", id)
	}
	return nil
}

// errStaleEntry reports an index entry whose job record is gone or in
// another status. The entry has been dropped and the caller moves on.
var errStaleEntry = errors.New("stale index entry")

// dequeueAttempts bounds how often Dequeue retries a contended claim before
// reporting nothing claimed for this poll.
const dequeueAttempts = 10

func (s *RedisStore) Dequeue(ctx context.Context, queue string, now time.Time) (*Job, error) {
	waitingKey := s.indexKey(queue, StatusWaiting)
	var claimed *Job

	claim := func(tx *redis.Tx) error {
		claimed = nil
		ids, err := tx.ZRange(ctx, waitingKey, 0, 0).Result()
		if err != nil || len(ids) == 0 {
			return err
		}
		id := ids[0]
		key := s.jobKey(queue, id)
		if err := tx.Watch(ctx, key).Err(); err != nil {
			return err
		}

		job, err := s.Get(ctx, queue, id)
		if err != nil && !IsNotFound(err) {
			return err
		}
		if job == nil || job.Status != StatusWaiting {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, waitingKey, id)
				return nil
			})
			if err != nil {
				return err
			}
			return errStaleEntry
		}

		job.Status = StatusActive
		job.StartedAt = now
		job.Progress = 0
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, waitingKey, id)
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.indexKey(queue, StatusActive), id)
			return nil
		})
		if err == nil {
			claimed = job
		}
		return err
	}

	for i := 0; i < dequeueAttempts; i++ {
		err := s.rdb.Watch(ctx, claim, waitingKey)
		switch {
		case err == nil:
			return claimed, nil
		case errors.Is(err, redis.TxFailedErr), errors.Is(err, errStaleEntry):
			continue
		default:
			return nil, err
		}
	}
	return nil, nil
}

func (s *RedisStore) PromoteDue(ctx context.Context, queue string, now time.Time, limit int) (int, error) {
	delayedKey := s.indexKey(queue, StatusDelayed)
	ids, err := s.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		job, err := s.Get(ctx, queue, id)
		if IsNotFound(err) {
			s.rdb.ZRem(ctx, delayedKey, id)
			continue
		}
		if err != nil {
			return promoted, err
		}
		job.Status = StatusWaiting
		// Another promoter or a retry may have moved the job first.
		err = s.Update(ctx, job, StatusDelayed)
		if IsNotFound(err) || IsConflict(err) {
			continue
		}
		if err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (s *RedisStore) Counts(ctx context.Context, queue string) (Counts, error) {
	var waiting, active, completed, failed, delayed *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.ZCard(ctx, s.indexKey(queue, StatusWaiting))
		active = pipe.SCard(ctx, s.indexKey(queue, StatusActive))
		completed = pipe.ZCard(ctx, s.indexKey(queue, StatusCompleted))
		failed = pipe.ZCard(ctx, s.indexKey(queue, StatusFailed))
		delayed = pipe.ZCard(ctx, s.indexKey(queue, StatusDelayed))
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

func (s *RedisStore) Finished(ctx context.Context, queue string, status JobStatus, before time.Time, limit int) ([]string, error) {
	if !status.IsTerminal() {
		return nil, ErrInvalidStatus
	}
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	return s.rdb.ZRangeByScore(ctx, s.indexKey(queue, status), opt).Result()
}

func (s *RedisStore) Surplus(ctx context.Context, queue string, status JobStatus, keep int) ([]string, error) {
	if !status.IsTerminal() {
		return nil, ErrInvalidStatus
	}
	key := s.indexKey(queue, status)
	n, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if keep < 0 || n <= int64(keep) {
		return nil, nil
	}
	return s.rdb.ZRange(ctx, key, 0, n-int64(keep)-1).Result()
}

func (s *RedisStore) SetPaused(ctx context.Context, queue string, paused bool) error {
	if paused {
		return s.rdb.Set(ctx, s.key(queue, "paused"), "1", 0).Err()
	}
	return s.rdb.Del(ctx, s.key(queue, "paused")).Err()
}

func (s *RedisStore) IsPaused(ctx context.Context, queue string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(queue, "paused")).Result()
	return n > 0, err
}

// Close is a no-op; the Redis client is closed by its owner.
func (s *RedisStore) Close() error { return nil }
