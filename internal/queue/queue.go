// Package queue is the Redis-backed job queue fronting run ingestion:
// idempotent enqueue keyed by run id, retention-bounded completed/failed
// job history, and a processing set that lets a later worker generation
// reclaim jobs abandoned by a crashed worker.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPending    = "validation:queue:pending"
	keyProcessing = "validation:queue:processing"
	keyPayloads   = "validation:queue:payloads"
	keyActive     = "validation:queue:active"
	keyCompleted  = "validation:queue:completed"
	keyFailed     = "validation:queue:failed"

	completedRetention = time.Hour
	completedMaxCount  = 100
	failedRetention    = 24 * time.Hour
	failedMaxCount     = 1000
)

// Job is the queue payload. No PHI travels through the queue, only the
// run id and the uploaded file's storage name.
type Job struct {
	ID         string    `json:"id"`
	RunID      string    `json:"runId"`
	FileName   string    `json:"fileName"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempt    int       `json:"attempt"`
}

// Queue is a Redis-backed FIFO-best-effort job queue.
type Queue struct {
	client *redis.Client
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// JobID derives a deterministic job id from runID so Enqueue is idempotent
// across retries of the same upload.
func JobID(runID string) string {
	sum := sha256.Sum256([]byte("validation-job:" + runID))
	return hex.EncodeToString(sum[:])[:16]
}

// Enqueue pushes a job for runID/fileName, returning its id. Calling this
// twice for the same runID produces the same job id, and the second call
// is a no-op while the first job is still pending or processing: the
// active set guards against double-dispatching one run.
func (q *Queue) Enqueue(ctx context.Context, runID, fileName string) (string, error) {
	job := Job{ID: JobID(runID), RunID: runID, FileName: fileName, EnqueuedAt: nowFunc()}

	added, err := q.client.SAdd(ctx, keyActive, job.ID).Result()
	if err != nil {
		return "", fmt.Errorf("mark job active: %w", err)
	}
	if added == 0 {
		// Already pending or processing.
		return job.ID, nil
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, keyPending, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

// Dequeue blocks up to timeout for the next job and marks it processing.
// The job's payload is parked under keyPayloads so ReclaimStale can
// re-enqueue it if this worker dies mid-run. A nil job with a nil error
// means the timeout elapsed with no work.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, keyPending).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	payload := result[1]
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}

	if err := q.client.ZAdd(ctx, keyProcessing, redis.Z{Score: float64(nowFunc().Unix()), Member: job.ID}).Err(); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	if err := q.client.HSet(ctx, keyPayloads, job.ID, payload).Err(); err != nil {
		return nil, fmt.Errorf("park job payload: %w", err)
	}
	return &job, nil
}

// Complete removes jobID from the processing state and records it in the
// completed history, trimmed to the retention policy.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	if err := q.clearInFlight(ctx, jobID); err != nil {
		return err
	}
	if err := q.client.SRem(ctx, keyActive, jobID).Err(); err != nil {
		return fmt.Errorf("clear active marker: %w", err)
	}
	return q.recordHistory(ctx, keyCompleted, jobID, completedRetention, completedMaxCount)
}

// Fail removes the job from the processing state. When terminal is false
// it re-enqueues the job with attempt+1 (the job stays in the active set
// so a concurrent Enqueue cannot double-dispatch it); when terminal it
// records the job in the failed history, trimmed to the retention policy.
func (q *Queue) Fail(ctx context.Context, job Job, terminal bool) error {
	if err := q.clearInFlight(ctx, job.ID); err != nil {
		return err
	}
	if !terminal {
		job.Attempt++
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal retry job: %w", err)
		}
		return q.client.RPush(ctx, keyPending, payload).Err()
	}
	if err := q.client.SRem(ctx, keyActive, job.ID).Err(); err != nil {
		return fmt.Errorf("clear active marker: %w", err)
	}
	return q.recordHistory(ctx, keyFailed, job.ID, failedRetention, failedMaxCount)
}

// ReclaimStale returns jobs that have sat in the processing set longer
// than olderThan back to the pending list, so the next worker generation
// picks up work a crashed or drained-out worker abandoned. Returns the
// number of jobs re-enqueued. Entries with no parked payload (a pre-crash
// state that never finished Dequeue) are dropped from the processing set.
func (q *Queue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := fmt.Sprintf("%d", nowFunc().Add(-olderThan).Unix())
	ids, err := q.client.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, fmt.Errorf("list stale processing jobs: %w", err)
	}

	reclaimed := 0
	for _, id := range ids {
		payload, err := q.client.HGet(ctx, keyPayloads, id).Result()
		if err == redis.Nil {
			if err := q.clearInFlight(ctx, id); err != nil {
				return reclaimed, err
			}
			if err := q.client.SRem(ctx, keyActive, id).Err(); err != nil {
				return reclaimed, fmt.Errorf("clear active marker: %w", err)
			}
			continue
		}
		if err != nil {
			return reclaimed, fmt.Errorf("load parked payload for job %s: %w", id, err)
		}
		if err := q.client.RPush(ctx, keyPending, payload).Err(); err != nil {
			return reclaimed, fmt.Errorf("re-enqueue stale job %s: %w", id, err)
		}
		if err := q.clearInFlight(ctx, id); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// clearInFlight removes a job's processing marker and parked payload.
func (q *Queue) clearInFlight(ctx context.Context, jobID string) error {
	if err := q.client.ZRem(ctx, keyProcessing, jobID).Err(); err != nil {
		return fmt.Errorf("clear processing: %w", err)
	}
	if err := q.client.HDel(ctx, keyPayloads, jobID).Err(); err != nil {
		return fmt.Errorf("clear parked payload: %w", err)
	}
	return nil
}

func (q *Queue) recordHistory(ctx context.Context, key, jobID string, retention time.Duration, maxCount int64) error {
	now := nowFunc()
	if err := q.client.ZAdd(ctx, key, redis.Z{Score: float64(now.Unix()), Member: jobID}).Err(); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	cutoff := now.Add(-retention).Unix()
	if err := q.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return fmt.Errorf("trim history by age: %w", err)
	}
	if err := q.client.ZRemRangeByRank(ctx, key, 0, -maxCount-1).Err(); err != nil {
		return fmt.Errorf("trim history by count: %w", err)
	}
	return nil
}

// Depth returns the number of jobs awaiting a worker.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, keyPending).Result()
}

var nowFunc = time.Now
