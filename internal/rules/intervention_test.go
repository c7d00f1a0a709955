package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

func TestInterventionRule_OverCapWithUnpaidIsError(t *testing.T) {
	date := mustDate(t, "2025-03-01")
	units := 180.0
	records := []domain.BillingRecord{
		{ID: "i1", DoctorInfo: "Dr Roy", DateService: date, Code: "8857", MontantPreliminaire: "59.70", MontantPaye: "59.70"},
		{ID: "i2", DoctorInfo: "Dr Roy", DateService: date, Code: "8859", Unites: &units, MontantPreliminaire: "120.00", MontantPaye: "0"},
	}

	rule := NewInterventionCliniqueRule()
	results, err := rule.Evaluate(context.Background(), "run-i", records)
	require.NoError(t, err)

	errs := findBySeverity(results, domain.SeverityError)
	require.Len(t, errs, 1)
	assert.Equal(t, -120.00, errs[0].RuleData.MonetaryImpact)
	assert.Equal(t, 210, errs[0].RuleData.Specific["totalMinutes"])
	assert.Equal(t, 30, errs[0].RuleData.Specific["excessMinutes"])
	require.NotNil(t, errs[0].Solution)
}

func TestInterventionRule_ExcludedContextRecordsDoNotCount(t *testing.T) {
	date := mustDate(t, "2025-03-01")
	units := 300.0
	records := []domain.BillingRecord{
		{ID: "i1", DoctorInfo: "Dr Roy", DateService: date, Code: "8857", MontantPaye: "59.70"},
		{ID: "i2", DoctorInfo: "Dr Roy", DateService: date, Code: "8859", Unites: &units, ElementContexte: "ICEP", MontantPaye: "0"},
	}

	rule := NewInterventionCliniqueRule()
	results, err := rule.Evaluate(context.Background(), "run-i", records)
	require.NoError(t, err)
	assert.Empty(t, findBySeverity(results, domain.SeverityError))
}

func TestInterventionRule_ContextMatchIsExactNotSubstring(t *testing.T) {
	date := mustDate(t, "2025-03-01")
	units := 240.0
	// EPICENE must not match the excluded tag ICEP: this record counts.
	records := []domain.BillingRecord{
		{ID: "i1", DoctorInfo: "Dr Roy", DateService: date, Code: "8859", Unites: &units, ElementContexte: "EPICENE", MontantPaye: "0", MontantPreliminaire: "150.00"},
	}

	rule := NewInterventionCliniqueRule()
	results, err := rule.Evaluate(context.Background(), "run-i", records)
	require.NoError(t, err)
	require.Len(t, findBySeverity(results, domain.SeverityError), 1)
}

func TestInterventionRule_UnderCapEmitsOnlySummary(t *testing.T) {
	date := mustDate(t, "2025-03-01")
	records := []domain.BillingRecord{
		{ID: "i1", DoctorInfo: "Dr Roy", DateService: date, Code: "8857", MontantPaye: "59.70"},
	}

	rule := NewInterventionCliniqueRule()
	results, err := rule.Evaluate(context.Background(), "run-i", records)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.SeverityInfo, results[0].Severity)
	assert.Equal(t, 1, results[0].RuleData.Specific["groupCount"])
	assert.Equal(t, 0, results[0].RuleData.Specific["overCapGroups"])
}

func TestInterventionRule_SeparateDoctorsAreSeparateGroups(t *testing.T) {
	date := mustDate(t, "2025-03-01")
	units := 200.0
	records := []domain.BillingRecord{
		{ID: "i1", DoctorInfo: "Dr Roy", DateService: date, Code: "8859", Unites: &units, MontantPaye: "100.00"},
		{ID: "i2", DoctorInfo: "Dr Tremblay", DateService: date, Code: "8859", Unites: &units, MontantPaye: "100.00"},
	}

	rule := NewInterventionCliniqueRule()
	results, err := rule.Evaluate(context.Background(), "run-i", records)
	require.NoError(t, err)

	// Both doctors exceed the cap independently, all paid: two info
	// findings plus the summary.
	infos := findBySeverity(results, domain.SeverityInfo)
	assert.Len(t, infos, 3)
	assert.Empty(t, findBySeverity(results, domain.SeverityError))
}
