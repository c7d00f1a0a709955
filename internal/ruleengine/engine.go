package ruleengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// ProgressFunc reports rule-engine progress in [50,90].
type ProgressFunc func(percent int)

// Engine runs every handler in a Registry against one run's records.
type Engine struct {
	registry    *Registry
	log         *logrus.Entry
	concurrency int
}

// New builds an Engine. concurrency bounds how many handlers run at once;
// values <1 are treated as 1.
func New(registry *Registry, log *logrus.Entry, concurrency int) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{registry: registry, log: log, concurrency: concurrency}
}

// Run evaluates every registered handler against records, isolating any
// handler that errors or panics (logged and skipped)
// and reporting progress as handlers complete. The returned slice
// concatenates every surviving handler's drafts; ordering across handlers
// is not meaningful, only within a single handler's own output.
func (e *Engine) Run(ctx context.Context, runID string, records []domain.BillingRecord, progress ProgressFunc) []domain.ValidationResult {
	handlers := e.registry.Handlers()
	total := len(handlers)
	if total == 0 {
		if progress != nil {
			progress(90)
		}
		return nil
	}

	var mu sync.Mutex
	var results []domain.ValidationResult
	completed := 0

	report := func() {
		mu.Lock()
		completed++
		n := completed
		mu.Unlock()
		if progress != nil {
			progress(50 + (n*40)/total)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, h := range handlers {
		h := h
		g.Go(func() error {
			defer report()

			drafts := e.evaluateIsolated(gctx, h, runID, records)
			if len(drafts) == 0 {
				return nil
			}
			mu.Lock()
			results = append(results, drafts...)
			mu.Unlock()
			return nil
		})
	}

	// evaluateIsolated never returns an error (failures are logged and
	// skipped), so Wait only surfaces context cancellation.
	_ = g.Wait()
	return results
}

// evaluateIsolated runs a single handler, converting both returned errors
// and recovered panics into a logged-and-skipped outcome so one broken
// rule never fails the run.
func (e *Engine) evaluateIsolated(ctx context.Context, h Handler, runID string, records []domain.BillingRecord) (drafts []domain.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(logrus.Fields{
				"ruleId": h.ID(),
				"runId":  runID,
				"panic":  fmt.Sprintf("%v", r),
			}).Error("rule handler panicked, skipping")
			drafts = nil
		}
	}()

	out, err := h.Evaluate(ctx, runID, records)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"ruleId": h.ID(),
			"runId":  runID,
			"error":  err.Error(),
		}).Error("rule handler failed, skipping")
		return nil
	}
	return out
}
