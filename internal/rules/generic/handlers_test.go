package generic

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestLoader_UnknownRuleTypeIsSkipped(t *testing.T) {
	loader := NewLoader(nil, nil, testLogger())
	h := loader.Build(domain.Rule{ID: "r1", RuleType: "not_a_real_type", Condition: `{}`})
	assert.Nil(t, h)
}

func TestLoader_InvalidConditionIsSkipped(t *testing.T) {
	loader := NewLoader(nil, nil, testLogger())
	h := loader.Build(domain.Rule{ID: "r2", RuleType: string(TypeProhibition), Condition: `{"codes": ["only-one"]}`})
	assert.Nil(t, h)
}

func TestGenericRule_ProhibitionFlagsCombinedCodes(t *testing.T) {
	loader := NewLoader(nil, nil, testLogger())
	h := loader.Build(domain.Rule{ID: "no-combine", RuleType: string(TypeProhibition), Condition: `{"codes": ["A1", "A2"]}`})
	require.NotNil(t, h)

	records := []domain.BillingRecord{
		{ID: "r1", Facture: "F1", Code: "A1", DateService: mustDate(t, "2025-01-01")},
		{ID: "r2", Facture: "F1", Code: "A2", DateService: mustDate(t, "2025-01-01")},
	}
	results, err := h.Evaluate(context.Background(), "run-1", records)
	require.NoError(t, err)

	var errs int
	for _, r := range results {
		if r.Severity == domain.SeverityError {
			errs++
		}
	}
	assert.Equal(t, 1, errs)
}

func TestGenericRule_RequirementFlagsMissingTag(t *testing.T) {
	loader := NewLoader(nil, nil, testLogger())
	h := loader.Build(domain.Rule{ID: "needs-tag", RuleType: string(TypeRequirement), Condition: `{"codes": ["B1"], "requiredTag": "MUST"}`})
	require.NotNil(t, h)

	records := []domain.BillingRecord{
		{ID: "r1", Code: "B1", ElementContexte: "OTHER", DateService: mustDate(t, "2025-01-01")},
	}
	results, err := h.Evaluate(context.Background(), "run-1", records)
	require.NoError(t, err)

	found := false
	for _, r := range results {
		if r.Severity == domain.SeverityError {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGenericRule_AmountLimitFlagsOverage(t *testing.T) {
	loader := NewLoader(nil, nil, testLogger())
	h := loader.Build(domain.Rule{ID: "cap-50", RuleType: string(TypeAmountLimit), Condition: `{"codes": ["C1"], "groupBy": "doctor_date", "threshold": 50}`})
	require.NotNil(t, h)

	date := mustDate(t, "2025-01-01")
	records := []domain.BillingRecord{
		{ID: "r1", DoctorInfo: "Dr A", Code: "C1", MontantPreliminaire: "30.00", DateService: date},
		{ID: "r2", DoctorInfo: "Dr A", Code: "C1", MontantPreliminaire: "30.00", DateService: date},
	}
	results, err := h.Evaluate(context.Background(), "run-1", records)
	require.NoError(t, err)

	found := false
	for _, r := range results {
		if r.Severity == domain.SeverityError {
			found = true
			assert.InDelta(t, -10.0, r.RuleData.MonetaryImpact, 0.001)
		}
	}
	assert.True(t, found)
}

func TestGenericRule_TimeRestrictionUsesCompiledExpression(t *testing.T) {
	loader := NewLoader(nil, nil, testLogger())
	h := loader.Build(domain.Rule{
		ID:        "business-hours",
		RuleType:  string(TypeTimeRestriction),
		Condition: `{"codes": ["D1"], "expression": "debut >= '08:00' && fin <= '18:00'"}`,
	})
	require.NotNil(t, h)

	records := []domain.BillingRecord{
		{ID: "r1", Code: "D1", Debut: "22:00", Fin: "23:00", DateService: mustDate(t, "2025-01-01")},
	}
	results, err := h.Evaluate(context.Background(), "run-1", records)
	require.NoError(t, err)

	found := false
	for _, r := range results {
		if r.Severity == domain.SeverityError {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGenericRule_MutualExclusionFlagsBothGroupsPresent(t *testing.T) {
	loader := NewLoader(nil, nil, testLogger())
	h := loader.Build(domain.Rule{
		ID:        "excl",
		RuleType:  string(TypeMutualExclusion),
		Condition: `{"codesA": ["X1"], "codesB": ["Y1"], "groupBy": "facture"}`,
	})
	require.NotNil(t, h)

	records := []domain.BillingRecord{
		{ID: "r1", Facture: "F1", Code: "X1", DateService: mustDate(t, "2025-01-01")},
		{ID: "r2", Facture: "F1", Code: "Y1", DateService: mustDate(t, "2025-01-01")},
	}
	results, err := h.Evaluate(context.Background(), "run-1", records)
	require.NoError(t, err)

	found := false
	for _, r := range results {
		if r.Severity == domain.SeverityError {
			found = true
		}
	}
	assert.True(t, found)
}
