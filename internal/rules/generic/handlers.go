package generic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// Loader builds Handler instances from database rule rows, validating and
// parsing each row's condition exactly once.
type Loader struct {
	codes          codeIndex
	establishments establishmentIndex
	log            *logrus.Entry
}

func NewLoader(codes []domain.Code, establishments []domain.Establishment, log *logrus.Entry) *Loader {
	return &Loader{codes: newCodeIndex(codes), establishments: newEstablishmentIndex(establishments), log: log}
}

// Build validates rule.Condition against the schema for rule.RuleType,
// compiles any CEL expression it carries, and returns a ready-to-run
// Handler. An unknown ruleType or schema/expression failure is logged and
// nil is returned, and the caller skips registering this rule.
func (l *Loader) Build(rule domain.Rule) *GenericRule {
	ruleType := RuleType(rule.RuleType)
	if !KnownTypes[ruleType] {
		l.log.WithFields(logrus.Fields{"ruleId": rule.ID, "ruleType": rule.RuleType}).Warn("unknown rule type, skipping")
		return nil
	}

	parsed, err := ValidateCondition(ruleType, rule.Condition)
	if err != nil {
		l.log.WithFields(logrus.Fields{"ruleId": rule.ID, "ruleType": rule.RuleType, "error": err.Error()}).Warn("rule condition failed validation, skipping")
		return nil
	}

	g := &GenericRule{id: rule.ID, ruleType: ruleType, codes: l.codes, establishments: l.establishments}

	raw, _ := json.Marshal(parsed)
	switch ruleType {
	case TypeProhibition:
		var c ProhibitionCondition
		json.Unmarshal(raw, &c)
		g.prohibition = &c
	case TypeTimeRestriction:
		var c TimeRestrictionCondition
		json.Unmarshal(raw, &c)
		pred, err := CompileExpression(c.Expression)
		if err != nil {
			l.log.WithFields(logrus.Fields{"ruleId": rule.ID, "error": err.Error()}).Warn("time_restriction expression failed to compile, skipping")
			return nil
		}
		g.timeRestriction = &c
		g.predicate = pred
	case TypeRequirement:
		var c RequirementCondition
		json.Unmarshal(raw, &c)
		g.requirement = &c
	case TypeLocationRestriction:
		var c LocationRestrictionCondition
		json.Unmarshal(raw, &c)
		g.locationRestriction = &c
	case TypeAgeRestriction:
		var c AgeRestrictionCondition
		json.Unmarshal(raw, &c)
		g.ageRestriction = &c
	case TypeAmountLimit:
		var c AmountLimitCondition
		json.Unmarshal(raw, &c)
		g.amountLimit = &c
	case TypeMutualExclusion:
		var c MutualExclusionCondition
		json.Unmarshal(raw, &c)
		g.mutualExclusion = &c
	case TypeMissingAnnualOpportunity:
		var c MissingAnnualOpportunityCondition
		json.Unmarshal(raw, &c)
		g.missingAnnualOpportunity = &c
	case TypeAnnualLimit:
		var c AnnualLimitCondition
		json.Unmarshal(raw, &c)
		g.annualLimit = &c
	}

	return g
}

// GenericRule evaluates one database-declared rule row. Exactly one of its
// condition fields is populated, matching its ruleType.
type GenericRule struct {
	id       string
	ruleType RuleType

	codes          codeIndex
	establishments establishmentIndex
	predicate      *CompiledPredicate

	prohibition              *ProhibitionCondition
	timeRestriction          *TimeRestrictionCondition
	requirement              *RequirementCondition
	locationRestriction      *LocationRestrictionCondition
	ageRestriction           *AgeRestrictionCondition
	amountLimit              *AmountLimitCondition
	mutualExclusion          *MutualExclusionCondition
	missingAnnualOpportunity *MissingAnnualOpportunityCondition
	annualLimit              *AnnualLimitCondition
}

func (g *GenericRule) ID() string { return g.id }

func (g *GenericRule) Evaluate(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
	switch g.ruleType {
	case TypeProhibition:
		return g.evalProhibition(runID, records), nil
	case TypeTimeRestriction:
		return g.evalTimeRestriction(runID, records), nil
	case TypeRequirement:
		return g.evalRequirement(runID, records), nil
	case TypeLocationRestriction:
		return g.evalLocationRestriction(runID, records), nil
	case TypeAgeRestriction:
		return g.evalAgeRestriction(runID, records), nil
	case TypeAmountLimit:
		return g.evalAmountLimit(runID, records), nil
	case TypeMutualExclusion:
		return g.evalMutualExclusion(runID, records), nil
	case TypeMissingAnnualOpportunity:
		return g.evalMissingAnnualOpportunity(runID, records), nil
	case TypeAnnualLimit:
		return g.evalAnnualLimit(runID, records), nil
	default:
		return nil, fmt.Errorf("generic rule %s has no evaluator for type %s", g.id, g.ruleType)
	}
}

func (g *GenericRule) result(runID string, severity domain.Severity, message string, affected []string, impact float64, specific map[string]interface{}) domain.ValidationResult {
	return domain.ValidationResult{
		ValidationRunID: runID,
		RuleID:          g.id,
		Severity:        severity,
		Category:        string(g.ruleType),
		Message:         message,
		AffectedRecords: affectedRecords(severity, affected),
		RuleData:        domain.RuleData{MonetaryImpact: impact, Specific: specific},
	}
}

// --- prohibition ---

func (g *GenericRule) evalProhibition(runID string, records []domain.BillingRecord) []domain.ValidationResult {
	c := g.prohibition
	byInvoice := map[string][]domain.BillingRecord{}
	var order []string
	for _, rec := range records {
		if containsString(c.Codes, rec.Code) {
			if _, ok := byInvoice[rec.Facture]; !ok {
				order = append(order, rec.Facture)
			}
			byInvoice[rec.Facture] = append(byInvoice[rec.Facture], rec)
		}
	}

	var results []domain.ValidationResult
	violations := 0
	for _, facture := range order {
		recs := byInvoice[facture]
		seen := map[string]bool{}
		for _, rec := range recs {
			seen[rec.Code] = true
		}
		if len(seen) < 2 {
			continue
		}
		violations++
		results = append(results, g.result(runID, domain.SeverityError,
			fmt.Sprintf("La facture %s combine des codes qui ne peuvent coexister.", facture),
			recordIDs(recs), 0, map[string]interface{}{"facture": facture, "codes": c.Codes}))
	}
	results = append(results, g.result(runID, domain.SeverityInfo,
		fmt.Sprintf("%d facture(s) verifiee(s) pour des combinaisons de codes interdites, %d violation(s).", len(byInvoice), violations),
		nil, 0, map[string]interface{}{"checked": len(byInvoice), "violations": violations}))
	return results
}

// --- time_restriction ---

func (g *GenericRule) evalTimeRestriction(runID string, records []domain.BillingRecord) []domain.ValidationResult {
	c := g.timeRestriction
	var results []domain.ValidationResult
	analyzed, violations := 0, 0
	for _, rec := range records {
		if !containsString(c.Codes, rec.Code) {
			continue
		}
		analyzed++
		vars := RecordVars{
			Code: rec.Code, Debut: rec.Debut, Fin: rec.Fin,
			MontantPreliminaire: parseAmount(rec.MontantPreliminaire),
			MontantPaye:         parseAmount(rec.MontantPaye),
			ElementContexte:     rec.ElementContexte,
			DayOfWeek:           int(rec.DateService.Weekday()),
		}
		if rec.Unites != nil {
			vars.Unites = *rec.Unites
		}
		if g.predicate.Eval(vars) {
			continue
		}
		violations++
		results = append(results, g.result(runID, domain.SeverityError,
			fmt.Sprintf("Code %s facture hors de la fenetre horaire permise.", rec.Code),
			[]string{rec.ID}, 0, map[string]interface{}{"code": rec.Code, "debut": rec.Debut, "fin": rec.Fin}))
	}
	results = append(results, g.result(runID, domain.SeverityInfo,
		fmt.Sprintf("%d facturation(s) analysee(s) pour restriction horaire, %d violation(s).", analyzed, violations),
		nil, 0, map[string]interface{}{"analyzed": analyzed, "violations": violations}))
	return results
}

// --- requirement ---

func (g *GenericRule) evalRequirement(runID string, records []domain.BillingRecord) []domain.ValidationResult {
	c := g.requirement
	var results []domain.ValidationResult
	analyzed, violations := 0, 0
	for _, rec := range records {
		if !containsString(c.Codes, rec.Code) {
			continue
		}
		analyzed++
		if rec.HasContextTag(c.RequiredTag) {
			continue
		}
		violations++
		results = append(results, g.result(runID, domain.SeverityError,
			fmt.Sprintf("Code %s facture sans le contexte requis %s.", rec.Code, c.RequiredTag),
			[]string{rec.ID}, 0, map[string]interface{}{"code": rec.Code, "requiredTag": c.RequiredTag}))
	}
	results = append(results, g.result(runID, domain.SeverityInfo,
		fmt.Sprintf("%d facturation(s) analysee(s) pour contexte requis, %d violation(s).", analyzed, violations),
		nil, 0, map[string]interface{}{"analyzed": analyzed, "violations": violations}))
	return results
}

// --- location_restriction ---

func (g *GenericRule) evalLocationRestriction(runID string, records []domain.BillingRecord) []domain.ValidationResult {
	c := g.locationRestriction
	var results []domain.ValidationResult
	analyzed, violations := 0, 0
	for _, rec := range records {
		if !containsString(c.Codes, rec.Code) {
			continue
		}
		analyzed++
		ok := true
		if c.RequireEP33 {
			est, found := g.establishments.get(rec.LieuPratique)
			ok = found && est.EP33
		}
		if ok && len(c.AllowedNumeros) > 0 {
			ok = containsString(c.AllowedNumeros, rec.LieuPratique)
		}
		if ok {
			continue
		}
		violations++
		results = append(results, g.result(runID, domain.SeverityError,
			fmt.Sprintf("Code %s facture dans un etablissement non admissible.", rec.Code),
			[]string{rec.ID}, 0, map[string]interface{}{"code": rec.Code, "lieuPratique": rec.LieuPratique}))
	}
	results = append(results, g.result(runID, domain.SeverityInfo,
		fmt.Sprintf("%d facturation(s) analysee(s) pour restriction d'etablissement, %d violation(s).", analyzed, violations),
		nil, 0, map[string]interface{}{"analyzed": analyzed, "violations": violations}))
	return results
}

// --- age_restriction ---

func (g *GenericRule) evalAgeRestriction(runID string, records []domain.BillingRecord) []domain.ValidationResult {
	c := g.ageRestriction
	var results []domain.ValidationResult
	analyzed, skippedNoAge, violations := 0, 0, 0
	for _, rec := range records {
		if !containsString(c.Codes, rec.Code) {
			continue
		}
		analyzed++
		age, ok := ageFromPatientID(rec.Patient)
		if !ok {
			skippedNoAge++
			continue
		}
		if c.MinAge != nil && age < *c.MinAge {
			violations++
		} else if c.MaxAge != nil && age > *c.MaxAge {
			violations++
		} else {
			continue
		}
		results = append(results, g.result(runID, domain.SeverityError,
			fmt.Sprintf("Code %s facture pour un patient hors de la tranche d'age permise.", rec.Code),
			[]string{rec.ID}, 0, map[string]interface{}{"code": rec.Code, "age": age}))
	}
	results = append(results, g.result(runID, domain.SeverityInfo,
		fmt.Sprintf("%d facturation(s) analysee(s) pour restriction d'age, %d violation(s), %d sans age inferable.", analyzed, violations, skippedNoAge),
		nil, 0, map[string]interface{}{"analyzed": analyzed, "violations": violations, "skippedNoAge": skippedNoAge}))
	return results
}

// ageFromPatientID infers an age from a patient identifier when ingestion
// has captured a birth date for it. The CSV contract carries no such field
// today, so every call declines rather than guess from an unverified digit
// position; age_restriction rules count these as skippedNoAge until an
// ingestion source supplies one.
func ageFromPatientID(patientID string) (int, bool) {
	return 0, false
}

// --- amount_limit ---

func (g *GenericRule) evalAmountLimit(runID string, records []domain.BillingRecord) []domain.ValidationResult {
	c := g.amountLimit
	groups := map[string][]domain.BillingRecord{}
	var order []string
	for _, rec := range records {
		if !containsString(c.Codes, rec.Code) {
			continue
		}
		key := groupKey(c.GroupBy, rec)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	var results []domain.ValidationResult
	violations := 0
	for _, key := range order {
		recs := groups[key]
		var sum float64
		for _, rec := range recs {
			sum += parseAmount(rec.MontantPreliminaire)
		}
		if sum <= c.Threshold {
			continue
		}
		violations++
		overage := roundMoney(sum - c.Threshold)
		results = append(results, g.result(runID, domain.SeverityError,
			fmt.Sprintf("Le total facture (%.2f$) depasse le plafond de %.2f$.", sum, c.Threshold),
			recordIDs(recs), -overage, map[string]interface{}{"groupKey": key, "total": roundMoney(sum), "overage": overage}))
	}
	results = append(results, g.result(runID, domain.SeverityInfo,
		fmt.Sprintf("%d groupe(s) analyse(s) pour plafond de montant, %d depassement(s).", len(order), violations),
		nil, 0, map[string]interface{}{"groups": len(order), "violations": violations}))
	return results
}

func groupKey(groupBy string, rec domain.BillingRecord) string {
	switch groupBy {
	case "patient_year":
		return fmt.Sprintf("%s|%d", rec.Patient, rec.DateService.Year())
	case "facture":
		return rec.Facture
	default: // doctor_date
		return rec.DoctorInfo + "|" + rec.DateService.Format("2006-01-02")
	}
}

// --- mutual_exclusion ---

func (g *GenericRule) evalMutualExclusion(runID string, records []domain.BillingRecord) []domain.ValidationResult {
	c := g.mutualExclusion
	type bucket struct {
		a, b []domain.BillingRecord
	}
	groups := map[string]*bucket{}
	var order []string
	for _, rec := range records {
		inA, inB := containsString(c.CodesA, rec.Code), containsString(c.CodesB, rec.Code)
		if !inA && !inB {
			continue
		}
		key := groupKey(c.GroupBy, rec)
		b, ok := groups[key]
		if !ok {
			b = &bucket{}
			groups[key] = b
			order = append(order, key)
		}
		if inA {
			b.a = append(b.a, rec)
		}
		if inB {
			b.b = append(b.b, rec)
		}
	}

	var results []domain.ValidationResult
	violations := 0
	for _, key := range order {
		b := groups[key]
		if len(b.a) == 0 || len(b.b) == 0 {
			continue
		}
		violations++
		affected := append(append([]domain.BillingRecord(nil), b.a...), b.b...)
		results = append(results, g.result(runID, domain.SeverityError,
			"Deux groupes de codes mutuellement exclusifs ont ete factures ensemble.",
			recordIDs(affected), 0, map[string]interface{}{"groupKey": key}))
	}
	results = append(results, g.result(runID, domain.SeverityInfo,
		fmt.Sprintf("%d groupe(s) analyse(s) pour exclusion mutuelle, %d violation(s).", len(order), violations),
		nil, 0, map[string]interface{}{"groups": len(order), "violations": violations}))
	return results
}

// --- missing_annual_opportunity ---

func (g *GenericRule) evalMissingAnnualOpportunity(runID string, records []domain.BillingRecord) []domain.ValidationResult {
	c := g.missingAnnualOpportunity
	type key struct {
		patient string
		year    int
	}
	billed := map[key]bool{}
	candidates := map[key][]domain.BillingRecord{}
	var order []key

	qualifies := func(rec domain.BillingRecord) bool {
		if !containsString(c.QualifyingCodes, rec.Code) {
			if codeInfo, ok := g.codes.lookup(rec.Code); !ok || !containsString(c.QualifyingLevel1Groups, codeInfo.Level1Group) {
				return false
			}
		}
		if c.RequireEP33 {
			est, found := g.establishments.get(rec.LieuPratique)
			if !found || !est.EP33 {
				return false
			}
		}
		if rec.HasAnyContextTag(c.ExcludedTags...) {
			return false
		}
		return true
	}

	for _, rec := range records {
		k := key{patient: rec.Patient, year: rec.DateService.Year()}
		if rec.Code == c.BilledCode {
			billed[k] = true
			continue
		}
		if qualifies(rec) {
			if _, ok := candidates[k]; !ok {
				order = append(order, k)
			}
			candidates[k] = append(candidates[k], rec)
		}
	}

	var results []domain.ValidationResult
	missed := 0
	for _, k := range order {
		if billed[k] {
			continue
		}
		recs := sortByDate(candidates[k])
		earliest := recs[0]
		missed++
		results = append(results, g.result(runID, domain.SeverityOptimization,
			fmt.Sprintf("Visite admissible au forfait %s mais aucun forfait facture pour ce patient cette annee.", c.BilledCode),
			[]string{earliest.ID}, c.MonetaryImpact, map[string]interface{}{"suggestedCode": c.BilledCode}))
	}
	results = append(results, g.result(runID, domain.SeverityInfo,
		fmt.Sprintf("%d groupe(s) patient/annee analyse(s), %d occasion(s) manquee(s).", len(order), missed),
		nil, 0, map[string]interface{}{"groups": len(order), "missed": missed}))
	return results
}

// --- annual_limit ---

func (g *GenericRule) evalAnnualLimit(runID string, records []domain.BillingRecord) []domain.ValidationResult {
	c := g.annualLimit
	type key struct {
		patient string
		year    int
	}
	groups := map[key][]domain.BillingRecord{}
	var order []key
	for _, rec := range records {
		if !containsString(c.Codes, rec.Code) {
			continue
		}
		k := key{patient: rec.Patient, year: rec.DateService.Year()}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rec)
	}

	var results []domain.ValidationResult
	violations := 0
	for _, k := range order {
		recs := groups[k]
		if len(recs) <= c.MaxCount {
			continue
		}
		violations++
		results = append(results, g.result(runID, domain.SeverityError,
			fmt.Sprintf("Code facture %d fois pour ce patient cette annee, au-dela du maximum de %d.", len(recs), c.MaxCount),
			recordIDs(recs), 0, map[string]interface{}{"count": len(recs), "maxCount": c.MaxCount}))
	}
	results = append(results, g.result(runID, domain.SeverityInfo,
		fmt.Sprintf("%d groupe(s) patient/annee analyse(s) pour limite annuelle, %d depassement(s).", len(order), violations),
		nil, 0, map[string]interface{}{"groups": len(order), "violations": violations}))
	return results
}
