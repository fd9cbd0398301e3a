package jobstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

const (
	fieldName      = "name"
	fieldStatus    = "status"
	fieldProgress  = "progress"
	fieldResult    = "result"
	fieldError     = "error"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"

	scanCount = 100
)

// createScript writes the whole record only if the key is absent.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// updateScript merges ARGV[2..] into the hash after checking the transition
// from the stored status to ARGV[1] (empty means "keep current status").
// Mirrors models.JobUpdate.AllowedFrom.
var updateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
  return 'NOTFOUND'
end
local allowed = {
  pending   = {pending = true, running = true, failed = true},
  running   = {running = true, completed = true, failed = true},
  completed = {completed = true, failed = true},
  failed    = {completed = true, failed = true},
}
local nxt = ARGV[1]
if nxt == '' then
  if cur == 'completed' or cur == 'failed' then
    return 'INVALID:' .. cur
  end
elseif not (allowed[cur] and allowed[cur][nxt]) then
  return 'INVALID:' .. cur
end
if nxt == 'completed' then
  redis.call('HDEL', KEYS[1], 'error')
elseif nxt == 'failed' then
  redis.call('HDEL', KEYS[1], 'result')
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
return 'OK'
`)

// RedisStore implements Store with one Redis hash per job.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a RedisStore from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opts)), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Create(ctx context.Context, job *models.Job) error {
	if job.TrackingID == "" {
		return fmt.Errorf("create job: tracking id is required")
	}
	if !job.Status.Valid() {
		return fmt.Errorf("create job: invalid status %q", job.Status)
	}

	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	args := []any{
		fieldName, job.Name,
		fieldStatus, string(job.Status),
		fieldProgress, job.Progress,
		fieldCreatedAt, job.CreatedAt.Format(time.RFC3339Nano),
		fieldUpdatedAt, job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if job.Result != "" {
		args = append(args, fieldResult, job.Result)
	}
	if job.Error != "" {
		args = append(args, fieldError, job.Error)
	}

	created, err := createScript.Run(ctx, s.client, []string{JobKey(job.TrackingID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if created == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, trackingID string, opts ...UpdateOption) error {
	u := BuildUpdate(opts...)
	if err := u.Validate(); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	status := ""
	args := []any{}
	if u.Status != nil {
		status = string(*u.Status)
		args = append(args, fieldStatus, status)
	}
	if u.Progress != nil {
		args = append(args, fieldProgress, *u.Progress)
	}
	if u.Result != nil {
		args = append(args, fieldResult, *u.Result)
	}
	if u.Error != nil {
		args = append(args, fieldError, *u.Error)
	}
	args = append(args, fieldUpdatedAt, s.now().Format(time.RFC3339Nano))

	reply, err := updateScript.Run(ctx, s.client, []string{JobKey(trackingID)},
		append([]any{status}, args...)...).Text()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	switch {
	case reply == "OK":
		return nil
	case reply == "NOTFOUND":
		return ErrNotFound
	case strings.HasPrefix(reply, "INVALID:"):
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition,
			strings.TrimPrefix(reply, "INVALID:"), describeTarget(status))
	default:
		return fmt.Errorf("update job: unexpected script reply %q", reply)
	}
}

func (s *RedisStore) Get(ctx context.Context, trackingID string) (*models.Job, error) {
	fields, err := s.client.HGetAll(ctx, JobKey(trackingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	job, err := decodeJob(trackingID, fields)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List enumerates all jobs with SCAN. Each call starts a fresh cursor, so the
// sequence can be ranged over again; order is unspecified.
func (s *RedisStore) List(ctx context.Context) iter.Seq2[models.JobSummary, error] {
	return func(yield func(models.JobSummary, error) bool) {
		seen := make(map[string]struct{})
		it := s.client.Scan(ctx, 0, JobKeyPattern, scanCount).Iterator()
		for it.Next(ctx) {
			key := it.Val()
			// SCAN may return a key more than once.
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			status, err := s.client.HGet(ctx, key, fieldStatus).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				yield(models.JobSummary{}, fmt.Errorf("list jobs: %w", err))
				return
			}
			summary := models.JobSummary{
				TrackingID: TrackingIDFromKey(key),
				Status:     models.JobStatus(status),
			}
			if !yield(summary, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(models.JobSummary{}, fmt.Errorf("list jobs: %w", err))
		}
	}
}

func decodeJob(trackingID string, fields map[string]string) (*models.Job, error) {
	job := &models.Job{
		TrackingID: trackingID,
		Name:       fields[fieldName],
		Status:     models.JobStatus(fields[fieldStatus]),
		Result:     fields[fieldResult],
		Error:      fields[fieldError],
	}

	if v := fields[fieldProgress]; v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode progress %q: %w", v, err)
		}
		job.Progress = p
	}
	if v := fields[fieldCreatedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		job.CreatedAt = t
	}
	if v := fields[fieldUpdatedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode updated_at: %w", err)
		}
		job.UpdatedAt = t
	}
	return job, nil
}

func describeTarget(status string) string {
	if status == "" {
		return "(unchanged)"
	}
	return status
}
