package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

var annualTestCodes = []domain.Code{
	{Code: "15815", Leaf: "Visite de prise en charge", TariffValue: 100.00, Active: true},
	{Code: "00103", Leaf: "Examen ordinaire", TariffValue: 45.00, Active: true},
}

func TestAnnualCodeRule_SingleOccurrenceIsInfo(t *testing.T) {
	records := []domain.BillingRecord{
		{ID: "a1", Patient: "P1", DateService: mustDate(t, "2025-03-10"), Code: "15815", MontantPaye: "100.00"},
	}

	rule := NewAnnualCodeRule(annualTestCodes)
	results, err := rule.Evaluate(context.Background(), "run-a", records)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.SeverityInfo, results[0].Severity)
	assert.Equal(t, 0.0, results[0].RuleData.MonetaryImpact)
}

func TestAnnualCodeRule_MultiplePaidIsCriticalError(t *testing.T) {
	records := []domain.BillingRecord{
		{ID: "a1", Patient: "P1", DateService: mustDate(t, "2025-01-15"), Code: "15815", MontantPaye: "100.00"},
		{ID: "a2", Patient: "P1", DateService: mustDate(t, "2025-06-20"), Code: "15815", MontantPaye: "100.00"},
	}

	rule := NewAnnualCodeRule(annualTestCodes)
	results, err := rule.Evaluate(context.Background(), "run-a", records)
	require.NoError(t, err)

	errs := findBySeverity(results, domain.SeverityError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "RAMQ")
	assert.Equal(t, 0.0, errs[0].RuleData.MonetaryImpact)
	assert.Equal(t, []string{"a1", "a2"}, errs[0].RuleData.Specific["paidInvoiceIds"])
}

func TestAnnualCodeRule_OnePaidRestUnpaidSuggestsCancellation(t *testing.T) {
	records := []domain.BillingRecord{
		{ID: "a1", Patient: "P1", DateService: mustDate(t, "2025-01-15"), Code: "15815", MontantPaye: "100.00"},
		{ID: "a2", Patient: "P1", DateService: mustDate(t, "2025-06-20"), Code: "15815", MontantPaye: "0"},
	}

	rule := NewAnnualCodeRule(annualTestCodes)
	results, err := rule.Evaluate(context.Background(), "run-a", records)
	require.NoError(t, err)

	errs := findBySeverity(results, domain.SeverityError)
	require.Len(t, errs, 1)
	require.NotNil(t, errs[0].Solution)
	assert.Contains(t, *errs[0].Solution, "a2")
	assert.Equal(t, []string{"a2"}, errs[0].RuleData.Specific["unpaidInvoiceIds"])
}

func TestAnnualCodeRule_GroupsByCalendarYearAndPatient(t *testing.T) {
	// Same code for the same patient in different years, and for a second
	// patient in the same year: three independent groups, no errors.
	records := []domain.BillingRecord{
		{ID: "a1", Patient: "P1", DateService: mustDate(t, "2024-11-01"), Code: "15815", MontantPaye: "100.00"},
		{ID: "a2", Patient: "P1", DateService: mustDate(t, "2025-02-01"), Code: "15815", MontantPaye: "100.00"},
		{ID: "a3", Patient: "P2", DateService: mustDate(t, "2025-02-01"), Code: "15815", MontantPaye: "100.00"},
	}

	rule := NewAnnualCodeRule(annualTestCodes)
	results, err := rule.Evaluate(context.Background(), "run-a", records)
	require.NoError(t, err)

	assert.Empty(t, findBySeverity(results, domain.SeverityError))
	assert.Len(t, findBySeverity(results, domain.SeverityInfo), 3)
}

func TestAnnualCodeRule_IgnoresNonAnnualCodes(t *testing.T) {
	records := []domain.BillingRecord{
		{ID: "a1", Patient: "P1", DateService: mustDate(t, "2025-01-15"), Code: "00103", MontantPaye: "45.00"},
		{ID: "a2", Patient: "P1", DateService: mustDate(t, "2025-06-20"), Code: "00103", MontantPaye: "45.00"},
	}

	rule := NewAnnualCodeRule(annualTestCodes)
	results, err := rule.Evaluate(context.Background(), "run-a", records)
	require.NoError(t, err)
	assert.Empty(t, results)
}
