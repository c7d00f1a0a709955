package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/montignypatrik/facnet-validator-core/internal/apierrors"
)

// MaxAttempts bounds job attempts; the backoff before each retry starts at
// 1s and doubles, so three attempts wait 1s and then 2s.
const MaxAttempts = 3

// staleJobAge is how long a job may sit in the processing set before a
// reclaim pass treats its worker as dead. It must exceed the per-job
// processing timeout so an alive-but-slow worker is never raced.
const staleJobAge = 15 * time.Minute

// reclaimInterval paces the periodic reclaim pass between the startup one
// and worker shutdown.
const reclaimInterval = 5 * time.Minute

func backoff(attempt int) time.Duration {
	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Processor handles one dequeued job. A non-nil error is retried (up to
// MaxAttempts) unless the error's taxonomy kind marks it deterministic
// (apierrors.Retryable reports false) or the job has exhausted its
// attempts, at which point the failure is final.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

// PoolConfig controls worker concurrency and shutdown behavior.
type PoolConfig struct {
	Workers     int
	DrainWindow time.Duration
}

// DefaultPoolConfig is a fixed 2-worker pool and a
// 30-second drain window on shutdown.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 2, DrainWindow: 30 * time.Second}
}

// Pool is a fixed-size in-process worker pool draining one Redis queue.
// Each worker runs its own dequeue loop; the pool only coordinates
// start/stop.
type Pool struct {
	queue     *Queue
	processor Processor
	config    PoolConfig
	log       *logrus.Entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewPool(q *Queue, processor Processor, config PoolConfig, log *logrus.Entry) *Pool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.DrainWindow <= 0 {
		config.DrainWindow = 30 * time.Second
	}
	return &Pool{queue: q, processor: processor, config: config, log: log, stopCh: make(chan struct{})}
}

// Start launches the worker goroutines plus a reclaim loop that returns
// jobs abandoned by a previous worker generation to the pending list.
// Returns immediately; call Stop to shut down.
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.runReclaimer()

	for i := 0; i < p.config.Workers; i++ {
		id := i
		p.wg.Add(1)
		go p.runWorker(id)
	}
}

// Stop signals workers to stop accepting new jobs and waits up to
// DrainWindow for in-flight jobs to finish. Jobs still running past the
// window stay in the queue's processing set; once they age past
// staleJobAge, the next generation's reclaim loop re-enqueues them, so
// handlers must be safe to restart from the beginning.
func (p *Pool) Stop() {
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.DrainWindow):
		p.log.Warn("worker pool drain window elapsed with jobs still in flight")
	}
}

// runReclaimer sweeps the processing set once at startup and then on an
// interval, so jobs orphaned by a crashed or force-killed worker are
// eventually handed back to a live one.
func (p *Pool) runReclaimer() {
	defer p.wg.Done()

	p.reclaim()
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reclaim()
		}
	}
}

func (p *Pool) reclaim() {
	n, err := p.queue.ReclaimStale(context.Background(), staleJobAge)
	if err != nil {
		p.log.WithError(err).Error("failed to reclaim stale jobs")
		return
	}
	if n > 0 {
		p.log.WithField("count", n).Warn("re-enqueued jobs abandoned by a previous worker generation")
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	entry := p.log.WithField("worker", id)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		p.processNext(entry)
	}
}

func (p *Pool) processNext(log *logrus.Entry) {
	ctx := context.Background()
	job, err := p.queue.Dequeue(ctx, 5*time.Second)
	if err != nil {
		log.WithError(err).Error("dequeue failed")
		time.Sleep(time.Second)
		return
	}
	if job == nil {
		return
	}

	jobLog := log.WithFields(logrus.Fields{"jobId": job.ID, "runId": job.RunID, "attempt": job.Attempt})
	jobCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	procErr := p.processor.Process(jobCtx, *job)
	if procErr == nil {
		if err := p.queue.Complete(ctx, job.ID); err != nil {
			jobLog.WithError(err).Error("failed to mark job complete")
		}
		return
	}

	// Deterministic failures (ingestion-fatal, persistence-integrity) are
	// final on the first attempt; retrying them cannot change the outcome.
	terminal := job.Attempt+1 >= MaxAttempts || !apierrors.Retryable(procErr)
	fields := logrus.Fields{"terminal": terminal}
	if kind, ok := apierrors.KindOf(procErr); ok {
		fields["kind"] = string(kind)
	}
	jobLog.WithError(procErr).WithFields(fields).Warn("job processing failed")

	if !terminal {
		time.Sleep(backoff(job.Attempt))
	}
	if err := p.queue.Fail(ctx, *job, terminal); err != nil {
		jobLog.WithError(err).Error("failed to record job failure")
	}
}
