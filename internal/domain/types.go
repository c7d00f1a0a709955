// Package domain holds the canonical data model shared across the
// ingestion, rule-engine, and persistence layers: users, uploaded files,
// validation runs, billing records, validation results, and the
// reference-data entities consulted by the rule engine.
package domain

import "time"

// Role is the access level granted to a User.
type Role string

const (
	RolePending Role = "pending"
	RoleViewer  Role = "viewer"
	RoleEditor  Role = "editor"
	RoleAdmin   Role = "admin"
)

// RedactionLevel controls how much PHI a user is shown at the API boundary.
type RedactionLevel string

const (
	RedactionFull RedactionLevel = "full"
	RedactionNone RedactionLevel = "none"
)

// User is an authenticated subject of the platform. Created on first
// authenticated request; mutated only by the administration surface.
type User struct {
	ID                  string
	SubjectID           string
	DisplayName         string
	Email               string
	Role                Role
	PHIRedactionEnabled bool
	RedactionLevel      RedactionLevel
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UploadedFile is the metadata row for an ingested CSV. Immutable after
// create. The blob is deleted by the run orchestrator once the owning run
// completes (a failed run keeps its blob); this row is retained.
type UploadedFile struct {
	ID             string
	OriginalName   string
	StoredName     string
	ByteSize       int64
	MIMEType       string
	UploadedBy     string
	BlobDeletedAt  *time.Time
	CreatedAt      time.Time
}

// RunStatus is the state-machine value of a ValidationRun.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether the status is an absorbing state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// ValidationRun is one ingestion+validation job over one uploaded file.
//
// Invariants: Progress is monotonically non-decreasing until Status
// reaches a terminal value; ErrorMessage is non-empty only when
// Status == RunFailed; JobID is assigned at enqueue time.
type ValidationRun struct {
	ID           string
	FileID       string
	FileName     string
	CreatedBy    string
	Status       RunStatus
	Progress     int
	JobID        string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// BillingRecord is one canonicalized CSV line belonging to exactly one run.
// Ordering within a run mirrors CSV row order.
type BillingRecord struct {
	ID                string
	ValidationRunID   string
	Facture           string
	IDRamq            string
	Patient           string
	DoctorInfo        string
	DateService       time.Time
	Debut             string // HH:MM
	Fin               string // HH:MM
	LieuPratique      string
	SecteurActivite   string
	Diagnostic        string
	Code              string
	Unites            *float64
	ElementContexte   string // comma-separated tags, as parsed from the CSV
	MontantPreliminaire string // decimal string, two fractional digits
	MontantPaye         string // decimal string, two fractional digits
	CustomFields      map[string]string
	CreatedAt         time.Time
}

// ContextTags splits ElementContexte into trimmed, non-empty tags. Matching
// against these tags must always be exact equality, never substring; see
// domain.HasContextTag.
func (b BillingRecord) ContextTags() []string {
	return splitTrim(b.ElementContexte)
}

// HasContextTag reports whether tag is present in ElementContexte under
// exact, trimmed, comma-split equality. A tag like "ICEP" never matches a
// record whose context merely contains it as a substring (e.g. "EPICENE").
func (b BillingRecord) HasContextTag(tag string) bool {
	for _, t := range b.ContextTags() {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAnyContextTag reports whether any of tags is present.
func (b BillingRecord) HasAnyContextTag(tags ...string) bool {
	for _, tag := range tags {
		if b.HasContextTag(tag) {
			return true
		}
	}
	return false
}

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			tok := trimSpace(s[start:i])
			if tok != "" {
				out = append(out, tok)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && isSpace(s[i]) {
		i++
	}
	for j > i && isSpace(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Severity is the classification of a ValidationResult.
type Severity string

const (
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityOptimization Severity = "optimization"
	SeverityInfo        Severity = "info"
)

// ValidationResult is one finding produced by a rule handler.
//
// Invariant: RuleData.MonetaryImpact, when present, follows the sign
// convention positive=gain, negative=loss, zero=informational.
//
// AffectedRecords contract: for
// Severity in {error,warning,optimization} this is the complete set of
// implicated BillingRecord ids; for SeverityInfo it is a representative
// sample, capped at rules.InfoSampleSize.
type ValidationResult struct {
	ID              string
	ValidationRunID string
	RuleID          string
	BillingRecordID *string
	IDRamq          *string
	Severity        Severity
	Category        string
	Message         string
	Solution        *string
	AffectedRecords []string
	RuleData        RuleData
	CreatedAt       time.Time
}

// RuleData is the open, rule-specific structured payload of a
// ValidationResult, keyed by the producing rule id: Specific is an untyped
// map holding the rule-specific fields of each finding, for hard-coded and
// generic ruleType handlers alike. MonetaryImpact is always populated.
type RuleData struct {
	MonetaryImpact float64
	Specific       map[string]interface{}
}

// Code is a reference billing-code entity.
type Code struct {
	Code        string
	Description string
	TariffValue float64
	Leaf        string
	TopLevel    string
	Level1Group string
	Active      bool
}

// Context is a reference service-context entity (e.g. walk-in tags).
type Context struct {
	Code        string
	Description string
}

// Establishment is a reference practice-location entity.
type Establishment struct {
	Numero string
	Nom    string
	EP33   bool // GMF designation
}

// Rule is a database-declared, data-driven rule row.
type Rule struct {
	ID        string
	Name      string
	RuleType  string
	Condition string // raw JSON
	Threshold *float64
	Enabled   bool
}

// LogLevel is the severity of a ValidationLog line.
type LogLevel string

const (
	LogDebug LogLevel = "DEBUG"
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// ValidationLog is one append-only structured log line tied to a run.
type ValidationLog struct {
	ID              string
	ValidationRunID string
	Timestamp       time.Time
	Level           LogLevel
	Source          string
	Message         string
	Metadata        map[string]interface{}
}

// AuditLog records a PHI raw-access event (an admin bypassing redaction).
type AuditLog struct {
	ID          string
	UserID      string
	Email       string
	Endpoint    string
	RunID       string
	Timestamp   time.Time
	RecordCount int
}

// RunFilter scopes a GetValidationRuns query.
type RunFilter struct {
	OwnerUserID string // empty means admin/unfiltered
	Status      RunStatus
	Limit       int
	Page        int
	PageSize    int
}
