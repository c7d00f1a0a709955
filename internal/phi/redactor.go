// Package phi implements PHI redaction: a boundary
// redactor that scrubs patient/doctor identifiers from records and results
// returned to callers, and a telemetry redactor that whitelists technical
// metadata fields and sweeps outbound error messages for PHI-shaped
// substrings before they are logged, persisted, or transmitted.
package phi

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// BoundaryRedactor produces PHI-safe copies of records and results for
// callers whose phiRedactionEnabled flag is true. The rule engine itself
// always sees full, unredacted data; redaction only happens at this
// single boundary.
type BoundaryRedactor struct {
	salt string
}

// NewBoundaryRedactor builds a redactor using salt read once from
// configuration (PHI_HASH_SALT).
func NewBoundaryRedactor(salt string) *BoundaryRedactor {
	return &BoundaryRedactor{salt: salt}
}

// HashPatient deterministically derives the 8-hex-char token used in place
// of a raw patient identifier: the first 8 hex characters of
// SHA-256(salt ∥ patient). Pure function of (salt, patient): same input
// always yields the same token, enabling grouping analytics without
// identity leakage.
func (r *BoundaryRedactor) HashPatient(patient string) string {
	sum := sha256.Sum256([]byte(r.salt + patient))
	return hex.EncodeToString(sum[:])[:8]
}

// RedactPatient returns the bracketed patient token, or the original value
// when enabled is false.
func (r *BoundaryRedactor) RedactPatient(patient string, enabled bool) string {
	if !enabled || patient == "" {
		return patient
	}
	return "[PATIENT-" + r.HashPatient(patient) + "]"
}

// RedactDoctor returns a fixed marker in place of doctor info, or the
// original value when enabled is false.
func (r *BoundaryRedactor) RedactDoctor(doctorInfo string, enabled bool) string {
	if !enabled || doctorInfo == "" {
		return doctorInfo
	}
	return "[REDACTED]"
}

// RedactRecord returns a copy of rec with Patient/DoctorInfo redacted per
// enabled. IDRamq is never redacted: it is business-critical for RAMQ
// corrections.
func (r *BoundaryRedactor) RedactRecord(rec domain.BillingRecord, enabled bool) domain.BillingRecord {
	out := rec
	out.Patient = r.RedactPatient(rec.Patient, enabled)
	out.DoctorInfo = r.RedactDoctor(rec.DoctorInfo, enabled)
	return out
}

// RedactRecords redacts a full slice.
func (r *BoundaryRedactor) RedactRecords(recs []domain.BillingRecord, enabled bool) []domain.BillingRecord {
	out := make([]domain.BillingRecord, len(recs))
	for i, rec := range recs {
		out[i] = r.RedactRecord(rec, enabled)
	}
	return out
}

// RedactResult returns a copy of res with PHI-shaped substrings swept out
// of its free-form Message/Solution text. Results carry idRamq (never
// redacted), but a rule may have echoed patient/doctor text into those
// fields, so they go through the same pattern sweep as telemetry.
func (r *BoundaryRedactor) RedactResult(res domain.ValidationResult, enabled bool) domain.ValidationResult {
	if !enabled {
		return res
	}
	out := res
	out.Message = SweepPHIPatterns(res.Message)
	if res.Solution != nil {
		swept := SweepPHIPatterns(*res.Solution)
		out.Solution = &swept
	}
	return out
}

// --- Telemetry redactor ---

// allowedMetadataKeys whitelists technical fields permitted in outbound
// telemetry payloads (error-tracking breadcrumbs, extra context). Any key
// not in this set is dropped, not merely masked.
var allowedMetadataKeys = map[string]bool{
	"rowCount": true, "durationMs": true, "encoding": true, "delimiter": true,
	"errorCode": true, "ruleId": true, "jobId": true, "progress": true,
	"batchSize": true, "attemptCount": true, "status": true, "runId": true,
	"component": true, "severity": true, "category": true,
}

// blockedFieldNames is a case-insensitive blocklist of known PHI field
// names, checked in addition to (not instead of) the whitelist, so a
// nested object that happens to reuse an allowed key name for PHI content
// is still caught.
var blockedFieldNames = map[string]bool{
	"patient": true, "patientname": true, "doctorinfo": true, "doctor": true,
	"idramq": true, "healthcard": true, "nam": true, "diagnostic": true,
}

var (
	healthCardPattern = regexp.MustCompile(`\b\d{4}\s?\d{4}\s?\d{4}\b`)
	patientRefPattern = regexp.MustCompile(`(?i)\bpatient\s+\d+\b`)
	doctorRefPattern  = regexp.MustCompile(`(?i)\bdoctor:\s*[A-Za-zÀ-ÿ\-' ]+`)
)

const redactionMarker = "[REDACTED]"

// SweepPHIPatterns replaces substrings resembling 12-digit health-card
// numbers, "patient <digits>", and "doctor: <Name>" with a redaction
// marker. Used on any outbound error message before persistence or
// transmission.
func SweepPHIPatterns(s string) string {
	s = healthCardPattern.ReplaceAllString(s, redactionMarker)
	s = patientRefPattern.ReplaceAllString(s, redactionMarker)
	s = doctorRefPattern.ReplaceAllString(s, redactionMarker)
	return s
}

// TelemetryRedactor rebuilds outbound events from scratch using the
// whitelist/blocklist above. On any internal failure it fails safe by
// dropping the event entirely rather than risk a PHI leak.
type TelemetryRedactor struct{}

// NewTelemetryRedactor constructs a TelemetryRedactor.
func NewTelemetryRedactor() *TelemetryRedactor { return &TelemetryRedactor{} }

// SanitizeEvent rebuilds event using only whitelisted keys, recursing into
// nested maps, and sweeping any string value for PHI-shaped patterns. ok
// is false if the event could not be safely processed and must be dropped.
func (t *TelemetryRedactor) SanitizeEvent(event map[string]interface{}) (out map[string]interface{}, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			out, ok = nil, false
		}
	}()
	return t.sanitizeTop(event), true
}

// sanitizeTop enforces the whitelist on top-level keys; values that are
// themselves maps recurse through sanitizeNested, which applies only the
// PHI blocklist.
func (t *TelemetryRedactor) sanitizeTop(event map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range event {
		if !allowedMetadataKeys[k] {
			continue
		}
		out[k] = t.sanitizeValue(v)
	}
	return out
}

func (t *TelemetryRedactor) sanitizeNested(m map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range m {
		if blockedFieldNames[strings.ToLower(k)] {
			continue
		}
		out[k] = t.sanitizeValue(v)
	}
	return out
}

func (t *TelemetryRedactor) sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return SweepPHIPatterns(val)
	case map[string]interface{}:
		return t.sanitizeNested(val)
	case []interface{}:
		sweptList := make([]interface{}, len(val))
		for i, item := range val {
			sweptList[i] = t.sanitizeValue(item)
		}
		return sweptList
	default:
		return v
	}
}

// SanitizeMessage sweeps a single free-form error message for PHI
// patterns. Used by the orchestrator before persisting ValidationRun
// errorMessage and by any outbound exception report.
func (t *TelemetryRedactor) SanitizeMessage(msg string) string {
	return SweepPHIPatterns(msg)
}
