package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client), mr
}

func TestJobID_DeterministicFromRunID(t *testing.T) {
	assert.Equal(t, JobID("run-1"), JobID("run-1"))
	assert.NotEqual(t, JobID("run-1"), JobID("run-2"))
}

func TestEnqueue_ReEnqueueIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, "run-1", "file.csv")
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, "run-1", "file.csv")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	// The second call is a no-op while the first job is still active: one
	// run never dispatches twice.
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestEnqueue_AllowedAgainAfterComplete(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "run-1", "file.csv")
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, q.Complete(ctx, job.ID))

	_, err = q.Enqueue(ctx, "run-1", "file.csv")
	require.NoError(t, err)
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestReclaimStale_RequeuesAbandonedJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "run-1", "file.csv")
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	// The worker that dequeued the job never completed or failed it.
	n, err := q.ReclaimStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reclaimed, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
	assert.Equal(t, "run-1", reclaimed.RunID)
}

func TestReclaimStale_LeavesFreshJobsAlone(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "run-1", "file.csv")
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	n, err := q.ReclaimStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestDequeue_ReturnsJobAndMarksProcessing(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "run-1", "file.csv")
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "run-1", job.RunID)
	assert.Equal(t, "file.csv", job.FileName)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestDequeue_TimesOutWithNilJob(t *testing.T) {
	q, _ := newTestQueue(t)
	job, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestFail_NonTerminalReEnqueuesWithIncrementedAttempt(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "run-1", "file.csv")
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, q.Fail(ctx, *job, false))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	retried, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, 1, retried.Attempt)
}

func TestFail_TerminalDoesNotReEnqueue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "run-1", "file.csv")
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, q.Fail(ctx, *job, true))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestComplete_ClearsProcessing(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "run-1", "file.csv")
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, q.Complete(ctx, job.ID))
}
