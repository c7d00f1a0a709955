package rules

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

func TestOfficeFeeRule_IneligibleThresholdEmitsError(t *testing.T) {
	date := mustDate(t, "2025-04-01")
	records := []domain.BillingRecord{
		{ID: "r1", DoctorInfo: "Dr Levesque", DateService: date, Code: "19928", MontantPreliminaire: "32.10", MontantPaye: "32.10"},
	}

	rule := NewOfficeFeeRule()
	results, err := rule.Evaluate(context.Background(), "run-x", records)
	require.NoError(t, err)

	errs := findBySeverity(results, domain.SeverityError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "19928")
	assert.Equal(t, 0.0, errs[0].RuleData.MonetaryImpact)

	wantStats := map[string]interface{}{
		"registeredPaid": 0, "registeredUnpaid": 0,
		"walkInPaid": 0, "walkInUnpaid": 0,
		"code": "19928",
	}
	assert.Empty(t, cmp.Diff(wantStats, errs[0].RuleData.Specific))
}

func TestOfficeFeeRule_NoFeeRecordsYieldsOnlySummary(t *testing.T) {
	records := []domain.BillingRecord{
		{ID: "c1", DoctorInfo: "Dr Levesque", DateService: mustDate(t, "2025-04-01"), Code: "CONSULT"},
	}
	rule := NewOfficeFeeRule()
	results, err := rule.Evaluate(context.Background(), "run-y", records)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.SeverityInfo, results[0].Severity)
}
