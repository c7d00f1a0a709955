// Package generic implements the data-driven rule types declared in the
// rules table's ruleType discriminator: each row's
// condition JSON is validated against a per-type JSON Schema at load time,
// then evaluated by direct Go logic or, for time_restriction, by a CEL
// expression compiled once per rule.
package generic

// RuleType is the rules.ruleType discriminator value.
type RuleType string

const (
	TypeProhibition             RuleType = "prohibition"
	TypeTimeRestriction         RuleType = "time_restriction"
	TypeRequirement             RuleType = "requirement"
	TypeLocationRestriction     RuleType = "location_restriction"
	TypeAgeRestriction          RuleType = "age_restriction"
	TypeAmountLimit             RuleType = "amount_limit"
	TypeMutualExclusion         RuleType = "mutual_exclusion"
	TypeMissingAnnualOpportunity RuleType = "missing_annual_opportunity"
	TypeAnnualLimit             RuleType = "annual_limit"
)

// KnownTypes lists every RuleType the catalogue can execute; anything else
// is an unknown ruleType, logged and skipped at load time.
var KnownTypes = map[RuleType]bool{
	TypeProhibition:              true,
	TypeTimeRestriction:          true,
	TypeRequirement:              true,
	TypeLocationRestriction:      true,
	TypeAgeRestriction:           true,
	TypeAmountLimit:              true,
	TypeMutualExclusion:          true,
	TypeMissingAnnualOpportunity: true,
	TypeAnnualLimit:              true,
}

// ProhibitionCondition: codes that may not coexist on the same invoice.
type ProhibitionCondition struct {
	Codes []string `json:"codes"`
}

// TimeRestrictionCondition: code(s) plus an allowed time-of-day window, and
// an expression over the record used to compute the actual comparison
// (compiled to CEL once at load time).
type TimeRestrictionCondition struct {
	Codes      []string `json:"codes"`
	WindowFrom string   `json:"windowFrom"` // HH:MM
	WindowTo   string   `json:"windowTo"`   // HH:MM
	Expression string   `json:"expression"` // CEL boolean expression; true = compliant
}

// RequirementCondition: code(s) that require a context tag to be present.
type RequirementCondition struct {
	Codes       []string `json:"codes"`
	RequiredTag string   `json:"requiredTag"`
}

// LocationRestrictionCondition: code(s) restricted to establishments
// matching a predicate on establishment fields.
type LocationRestrictionCondition struct {
	Codes            []string `json:"codes"`
	RequireEP33      bool     `json:"requireEp33"`
	AllowedNumeros   []string `json:"allowedNumeros,omitempty"`
}

// AgeRestrictionCondition: code(s) requiring a minimum/maximum patient age.
type AgeRestrictionCondition struct {
	Codes  []string `json:"codes"`
	MinAge *int     `json:"minAge,omitempty"`
	MaxAge *int     `json:"maxAge,omitempty"`
}

// AmountLimitCondition: sum of montantPreliminaire per grouping key must
// not exceed threshold; GroupBy selects the grouping key.
type AmountLimitCondition struct {
	Codes      []string `json:"codes"`
	GroupBy    string   `json:"groupBy"` // "doctor_date" | "patient_year"
	Threshold  float64  `json:"threshold"`
}

// MutualExclusionCondition: two code sets that may not both appear within
// the same grouping window.
type MutualExclusionCondition struct {
	CodesA  []string `json:"codesA"`
	CodesB  []string `json:"codesB"`
	GroupBy string   `json:"groupBy"` // "doctor_date" | "patient_year" | "facture"
}

// MissingAnnualOpportunityCondition: generalized 8875-style missed
// opportunity. BilledCode is the forfait that should have been billed;
// QualifyingCodes/QualifyingLevel1Groups define an eligible visit;
// RequireEP33 and ExcludedTags mirror the GMF rule's establishment and
// context exclusions.
type MissingAnnualOpportunityCondition struct {
	BilledCode             string   `json:"billedCode"`
	QualifyingCodes        []string `json:"qualifyingCodes"`
	QualifyingLevel1Groups []string `json:"qualifyingLevel1Groups"`
	RequireEP33            bool     `json:"requireEp33"`
	ExcludedTags           []string `json:"excludedTags"`
	MonetaryImpact         float64  `json:"monetaryImpact"`
}

// AnnualLimitCondition: generalized annual billing-code cardinality rule.
type AnnualLimitCondition struct {
	Codes    []string `json:"codes"`
	MaxCount int      `json:"maxCount"`
}
