package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

func TestGMFForfaitRule_DuplicateAfterFirstPaid(t *testing.T) {
	records := []domain.BillingRecord{
		{ID: "f1", Patient: "PAT1", DateService: mustDate(t, "2025-02-01"), Code: "8875", MontantPaye: "200.00", MontantPreliminaire: "200.00"},
		{ID: "f2", Patient: "PAT1", DateService: mustDate(t, "2025-06-01"), Code: "8875", MontantPaye: "0", MontantPreliminaire: "200.00"},
	}

	rule := NewGMFForfaitRule(nil, nil)
	results, err := rule.Evaluate(context.Background(), "run-dup", records)
	require.NoError(t, err)

	errs := findBySeverity(results, domain.SeverityError)
	require.Len(t, errs, 1)
	assert.Equal(t, "f2", *errs[0].BillingRecordID)
	require.NotNil(t, errs[0].Solution)
}

func TestGMFForfaitRule_NoDuplicateWhenNonePaid(t *testing.T) {
	records := []domain.BillingRecord{
		{ID: "f1", Patient: "PAT1", DateService: mustDate(t, "2025-02-01"), Code: "8875", MontantPaye: "0"},
		{ID: "f2", Patient: "PAT1", DateService: mustDate(t, "2025-06-01"), Code: "8875", MontantPaye: "0"},
	}
	rule := NewGMFForfaitRule(nil, nil)
	results, err := rule.Evaluate(context.Background(), "run-nodup", records)
	require.NoError(t, err)
	errs := findBySeverity(results, domain.SeverityError)
	assert.Empty(t, errs)
}
