package phi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

func TestHashPatient_Deterministic(t *testing.T) {
	r := NewBoundaryRedactor("s3cr3t")
	a := r.HashPatient("JDOE01010101")
	b := r.HashPatient("JDOE01010101")
	assert.Equal(t, a, b)
	assert.Len(t, a, 8)
}

func TestHashPatient_DifferentPatientsDiffer(t *testing.T) {
	r := NewBoundaryRedactor("s3cr3t")
	a := r.HashPatient("JDOE01010101")
	b := r.HashPatient("ASMITH02020202")
	assert.NotEqual(t, a, b)
}

func TestRedactRecord_NeverRedactsIDRamq(t *testing.T) {
	r := NewBoundaryRedactor("salt")
	rec := domain.BillingRecord{Patient: "Jane Doe", DoctorInfo: "Dr. Smith", IDRamq: "RAMQ-123456"}

	redacted := r.RedactRecord(rec, true)
	assert.Equal(t, "RAMQ-123456", redacted.IDRamq)
	assert.Equal(t, "[REDACTED]", redacted.DoctorInfo)
	assert.Contains(t, redacted.Patient, "[PATIENT-")
}

func TestRedactRecord_PassthroughWhenDisabled(t *testing.T) {
	r := NewBoundaryRedactor("salt")
	rec := domain.BillingRecord{Patient: "Jane Doe", DoctorInfo: "Dr. Smith"}
	redacted := r.RedactRecord(rec, false)
	assert.Equal(t, rec, redacted)
}

func TestContextTagMatch_NoSubstringFalsePositive(t *testing.T) {
	rec := domain.BillingRecord{ElementContexte: "EPICENE, #AR"}
	assert.False(t, rec.HasContextTag("ICEP"))
	assert.True(t, rec.HasContextTag("#AR"))
}

func TestSweepPHIPatterns(t *testing.T) {
	msg := "failed for patient 4821 card 1234 5678 9012 doctor: Jean Tremblay"
	swept := SweepPHIPatterns(msg)
	assert.NotContains(t, swept, "4821")
	assert.NotContains(t, swept, "1234 5678 9012")
	assert.NotContains(t, swept, "Jean Tremblay")
}

func TestTelemetryRedactor_WhitelistAndBlocklist(t *testing.T) {
	tr := NewTelemetryRedactor()
	event := map[string]interface{}{
		"rowCount": 10,
		"patient":  "Jane Doe",
		"category": map[string]interface{}{
			"ruleId":  "office-fee",
			"Patient": "should be dropped",
		},
	}

	out, ok := tr.SanitizeEvent(event)
	assert.True(t, ok)
	assert.Equal(t, 10, out["rowCount"])
	assert.NotContains(t, out, "patient")
	nested, isMap := out["category"].(map[string]interface{})
	require.True(t, isMap, "nested map should survive under a whitelisted key")
	assert.Equal(t, "office-fee", nested["ruleId"])
	assert.NotContains(t, nested, "Patient")
}
