// Package ruleengine runs the registered rule catalogue over one run's
// billing records, isolating per-rule failures and reporting progress.
package ruleengine

import (
	"context"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// Handler produces ValidationResult drafts (no ID, no CreatedAt; the
// orchestrator assigns those at persistence time) for one rule, given the
// full set of billing records belonging to a run.
type Handler interface {
	// ID is the stable rule identifier results are tagged with.
	ID() string
	Evaluate(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error)
}

// HandlerFunc adapts a plain function to Handler for rules with no
// internal state (most of the catalogue).
type HandlerFunc struct {
	RuleID string
	Fn     func(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error)
}

func (h HandlerFunc) ID() string { return h.RuleID }

func (h HandlerFunc) Evaluate(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
	return h.Fn(ctx, runID, records)
}
