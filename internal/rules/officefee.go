package rules

import (
	"context"
	"fmt"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

const (
	codeOfficeFee19928 = "19928"
	codeOfficeFee19929 = "19929"

	tariff19928 = 32.10
	tariff19929 = 64.20

	dailyOfficeFeeCap = 64.80

	threshold19928Registered = 6
	threshold19929Registered = 12
	threshold19928WalkIn     = 10
	threshold19929WalkIn     = 20
)

// walkInTags are the context tags that mark a visit as walk-in rather than
// with a registered patient.
var walkInTags = []string{"#G160", "#AR"}

type officeFeeStats struct {
	registeredPaid   int
	registeredUnpaid int
	walkInPaid       int
	walkInUnpaid     int
}

func (s officeFeeStats) registered() int { return s.registeredPaid + s.registeredUnpaid }
func (s officeFeeStats) walkIn() int     { return s.walkInPaid + s.walkInUnpaid }

func (s officeFeeStats) toMap() map[string]interface{} {
	return map[string]interface{}{
		"registeredPaid":   s.registeredPaid,
		"registeredUnpaid": s.registeredUnpaid,
		"walkInPaid":       s.walkInPaid,
		"walkInUnpaid":     s.walkInUnpaid,
	}
}

// OfficeFeeRule implements the codes 19928/19929 daily office-fee cap and
// eligibility checks.
type OfficeFeeRule struct{}

func NewOfficeFeeRule() OfficeFeeRule { return OfficeFeeRule{} }

func (OfficeFeeRule) ID() string { return "office_fee_validation" }

// officeFeeGroup is one (doctor, date) bucket. allRecs is every billing
// record for that doctor/day, used to count distinct registered/walk-in
// visits for eligibility; feeRecs is the subset billed under 19928/19929,
// used for the cap sum and the eligibility-vs-billed comparison.
type officeFeeGroup struct {
	doctor  string
	date    dateKey
	allRecs []domain.BillingRecord
	feeRecs []domain.BillingRecord
}

func (r OfficeFeeRule) Evaluate(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
	allByKey := map[string][]domain.BillingRecord{}
	for _, rec := range records {
		key := rec.DoctorInfo + "|" + rec.DateService.Format("2006-01-02")
		allByKey[key] = append(allByKey[key], rec)
	}

	groups := map[string]*officeFeeGroup{}
	var order []string

	for _, rec := range records {
		if rec.Code != codeOfficeFee19928 && rec.Code != codeOfficeFee19929 {
			continue
		}
		key := rec.DoctorInfo + "|" + rec.DateService.Format("2006-01-02")
		g, ok := groups[key]
		if !ok {
			g = &officeFeeGroup{doctor: rec.DoctorInfo, date: dateKeyOf(rec.DateService), allRecs: allByKey[key]}
			groups[key] = g
			order = append(order, key)
		}
		g.feeRecs = append(g.feeRecs, rec)
	}

	var results []domain.ValidationResult
	for _, key := range order {
		g := groups[key]
		results = append(results, r.evaluateGroup(runID, g)...)
	}

	results = append(results, domain.ValidationResult{
		ValidationRunID: runID,
		RuleID:          r.ID(),
		Severity:        domain.SeverityInfo,
		Category:        "office_fees",
		Message:         fmt.Sprintf("%d groupe(s) medecin/jour avec frais de bureau analyse(s).", len(order)),
		AffectedRecords: AffectedRecords(domain.SeverityInfo, r.allRecordIDs(groups, order)),
		RuleData:        domain.RuleData{MonetaryImpact: 0, Specific: map[string]interface{}{"groupCount": len(order)}},
	})

	return results, nil
}

func (r OfficeFeeRule) allRecordIDs(groups map[string]*officeFeeGroup, order []string) []string {
	var ids []string
	for _, key := range order {
		ids = append(ids, recordIDs(groups[key].allRecs)...)
	}
	return ids
}

func (r OfficeFeeRule) evaluateGroup(runID string, g *officeFeeGroup) []domain.ValidationResult {
	// Eligibility counts distinct patients seen by this doctor that day,
	// not billing rows; the 19928/19929 rows themselves are forfaits, not
	// visits, and are excluded. A patient with any walk-in-tagged visit is
	// a walk-in patient, and one with any paid visit counts as paid.
	type patientVisits struct {
		walkIn bool
		paid   bool
	}
	seen := map[string]*patientVisits{}
	var patientOrder []string
	for _, rec := range g.allRecs {
		if rec.Code == codeOfficeFee19928 || rec.Code == codeOfficeFee19929 {
			continue
		}
		p, ok := seen[rec.Patient]
		if !ok {
			p = &patientVisits{}
			seen[rec.Patient] = p
			patientOrder = append(patientOrder, rec.Patient)
		}
		if rec.HasAnyContextTag(walkInTags...) {
			p.walkIn = true
		}
		if parseAmount(rec.MontantPaye) > 0 {
			p.paid = true
		}
	}

	stats := &officeFeeStats{}
	for _, patient := range patientOrder {
		p := seen[patient]
		switch {
		case p.walkIn && p.paid:
			stats.walkInPaid++
		case p.walkIn:
			stats.walkInUnpaid++
		case p.paid:
			stats.registeredPaid++
		default:
			stats.registeredUnpaid++
		}
	}

	var total float64
	var allPaid = true
	var unpaidIDs []string
	billed := map[string][]domain.BillingRecord{}
	for _, rec := range g.feeRecs {
		billed[rec.Code] = append(billed[rec.Code], rec)
		total += parseAmount(rec.MontantPreliminaire)
		if parseAmount(rec.MontantPaye) <= 0 {
			allPaid = false
			unpaidIDs = append(unpaidIDs, rec.ID)
		}
	}

	redactedDoctor := redactDoctorName(g.doctor)
	var results []domain.ValidationResult

	for _, code := range []string{codeOfficeFee19928, codeOfficeFee19929} {
		recs := billed[code]
		if len(recs) == 0 {
			continue
		}
		regThreshold, wiThreshold := threshold19928Registered, threshold19928WalkIn
		if code == codeOfficeFee19929 {
			regThreshold, wiThreshold = threshold19929Registered, threshold19929WalkIn
		}
		if stats.registered() < regThreshold && stats.walkIn() < wiThreshold {
			results = append(results, domain.ValidationResult{
				ValidationRunID: runID,
				RuleID:          r.ID(),
				Severity:        domain.SeverityError,
				Category:        "office_fees",
				Message:         fmt.Sprintf("Frais de bureau %s facture pour %s sans seuil d'eligibilite atteint (ni %d patients inscrits ni %d sans rendez-vous).", code, redactedDoctor, regThreshold, wiThreshold),
				AffectedRecords: AffectedRecords(domain.SeverityError, recordIDs(recs)),
				RuleData: domain.RuleData{
					MonetaryImpact: 0,
					Specific:       mergeMap(stats.toMap(), map[string]interface{}{"code": code}),
				},
			})
		}
	}

	if total > dailyOfficeFeeCap {
		overage := roundMoney(total - dailyOfficeFeeCap)
		severity := domain.SeverityError
		message := fmt.Sprintf("Total des frais de bureau de %s pour la journee (%.2f$) depasse le plafond quotidien de %.2f$.", redactedDoctor, total, dailyOfficeFeeCap)
		solution := fmt.Sprintf("Annuler les factures non payees en exces: %v", unpaidIDs)
		var solutionPtr *string
		if allPaid {
			severity = domain.SeverityWarning
			message = fmt.Sprintf("Total des frais de bureau de %s pour la journee (%.2f$) depasse le plafond quotidien, mais tout est deja paye; la RAMQ ne paie normalement pas au-dela du plafond.", redactedDoctor, total)
		} else {
			solutionPtr = &solution
		}
		affected := AffectedRecords(severity, recordIDs(g.feeRecs))
		results = append(results, domain.ValidationResult{
			ValidationRunID: runID,
			RuleID:          r.ID(),
			Severity:        severity,
			Category:        "office_fees",
			Message:         message,
			Solution:        solutionPtr,
			AffectedRecords: affected,
			RuleData: domain.RuleData{
				MonetaryImpact: -overage,
				Specific:       map[string]interface{}{"overage": formatAmountFR(overage)},
			},
		})
	}

	results = append(results, r.optimizations(runID, g, stats, billed)...)
	return results
}

func (r OfficeFeeRule) optimizations(runID string, g *officeFeeGroup, stats *officeFeeStats, billed map[string][]domain.BillingRecord) []domain.ValidationResult {
	var results []domain.ValidationResult

	eligible19928Reg := stats.registered() >= threshold19928Registered
	eligible19929Reg := stats.registered() >= threshold19929Registered
	eligible19928WI := stats.walkIn() >= threshold19928WalkIn
	eligible19929WI := stats.walkIn() >= threshold19929WalkIn

	redactedDoctor := redactDoctorName(g.doctor)

	affected := recordIDs(g.allRecs)
	addOpt := func(message string, impact float64, specific map[string]interface{}) {
		results = append(results, domain.ValidationResult{
			ValidationRunID: runID,
			RuleID:          r.ID(),
			Severity:        domain.SeverityOptimization,
			Category:        "office_fees",
			Message:         message,
			AffectedRecords: AffectedRecords(domain.SeverityOptimization, affected),
			RuleData:        domain.RuleData{MonetaryImpact: impact, Specific: specific},
		})
	}

	billed19928 := len(billed[codeOfficeFee19928]) > 0
	billed19929 := len(billed[codeOfficeFee19929]) > 0

	if eligible19929Reg && billed19928 && !billed19929 {
		addOpt(fmt.Sprintf("%s est eligible au code 19929 (patients inscrits) mais seul le 19928 a ete facture.", redactedDoctor),
			roundMoney(tariff19929-tariff19928), map[string]interface{}{"suggestedCode": codeOfficeFee19929})
	}
	if eligible19928Reg && !billed19928 && !billed19929 {
		addOpt(fmt.Sprintf("%s est eligible au code 19928 (patients inscrits) mais aucun frais de bureau n'a ete facture.", redactedDoctor),
			tariff19928, map[string]interface{}{"suggestedCode": codeOfficeFee19928})
	}
	if eligible19929Reg && !billed19928 && !billed19929 {
		addOpt(fmt.Sprintf("%s est eligible au code 19929 (patients inscrits) mais aucun frais de bureau n'a ete facture.", redactedDoctor),
			tariff19929, map[string]interface{}{"suggestedCode": codeOfficeFee19929})
	}
	if eligible19928WI && !billed19928 && !billed19929 {
		addOpt(fmt.Sprintf("%s est eligible au code 19928 (sans rendez-vous) mais aucun frais de bureau n'a ete facture.", redactedDoctor),
			tariff19928, map[string]interface{}{"suggestedCode": codeOfficeFee19928})
	}
	if eligible19929WI && !billed19928 && !billed19929 {
		addOpt(fmt.Sprintf("%s est eligible au code 19929 (sans rendez-vous) mais aucun frais de bureau n'a ete facture.", redactedDoctor),
			tariff19929, map[string]interface{}{"suggestedCode": codeOfficeFee19929})
	}

	for _, code := range []string{codeOfficeFee19928, codeOfficeFee19929} {
		recs := billed[code]
		if len(recs) == 0 {
			continue
		}
		hasWalkInContext := false
		for _, rec := range recs {
			if rec.HasAnyContextTag(walkInTags...) {
				hasWalkInContext = true
				break
			}
		}
		wiThreshold := threshold19928WalkIn
		if code == codeOfficeFee19929 {
			wiThreshold = threshold19929WalkIn
		}
		if !hasWalkInContext && stats.walkIn() >= wiThreshold {
			addOpt(fmt.Sprintf("%s a facture le code %s sans le contexte sans-rendez-vous requis, malgre l'eligibilite.", redactedDoctor, code),
				0, map[string]interface{}{"suggestedContext": "#G160 ou #AR", "code": code})
		}
	}

	return results
}

func redactDoctorName(name string) string {
	if name == "" {
		return "Dr. X***"
	}
	r := []rune(name)
	return "Dr. " + string(r[0]) + "***"
}

func mergeMap(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
