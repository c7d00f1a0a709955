package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/apierrors"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeProcessor struct {
	mu       sync.Mutex
	processed []Job
	failUntil int
	failErr   error
	calls     int
}

func (f *fakeProcessor) Process(ctx context.Context, job Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		if f.failErr != nil {
			return f.failErr
		}
		return errors.New("boom")
	}
	f.processed = append(f.processed, job)
	return nil
}

func (f *fakeProcessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.processed)
}

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPool_ProcessesEnqueuedJob(t *testing.T) {
	q, _ := newTestQueue(t)
	proc := &fakeProcessor{}
	pool := NewPool(q, proc, PoolConfig{Workers: 1, DrainWindow: time.Second}, testLog())

	_, err := q.Enqueue(context.Background(), "run-1", "file.csv")
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool { return proc.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPool_RetriesFailedJobUntilMaxAttempts(t *testing.T) {
	q, _ := newTestQueue(t)
	proc := &fakeProcessor{failUntil: 2}
	pool := NewPool(q, proc, PoolConfig{Workers: 1, DrainWindow: time.Second}, testLog())

	_, err := q.Enqueue(context.Background(), "run-1", "file.csv")
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool { return proc.count() == 1 }, 8*time.Second, 10*time.Millisecond)
}

func TestPool_NonRetryableErrorFailsImmediately(t *testing.T) {
	q, _ := newTestQueue(t)
	proc := &fakeProcessor{
		failUntil: 99,
		failErr:   apierrors.Newf(apierrors.KindIngestionFatal, "unreadable file"),
	}
	pool := NewPool(q, proc, PoolConfig{Workers: 1, DrainWindow: time.Second}, testLog())

	_, err := q.Enqueue(context.Background(), "run-1", "file.csv")
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool { return proc.callCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// A deterministic failure is terminal on the first attempt: after the
	// retry backoff would have elapsed, no second attempt happened.
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 1, proc.callCount())

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestPool_StopDrainsInFlightWork(t *testing.T) {
	q, _ := newTestQueue(t)
	proc := &fakeProcessor{}
	pool := NewPool(q, proc, PoolConfig{Workers: 1, DrainWindow: 2 * time.Second}, testLog())

	_, err := q.Enqueue(context.Background(), "run-1", "file.csv")
	require.NoError(t, err)

	pool.Start()
	time.Sleep(50 * time.Millisecond)
	pool.Stop()

	assert.Equal(t, 1, proc.count())
}

func TestDefaultPoolConfig_MatchesRetentionDefaults(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.DrainWindow)
}
