package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

const (
	code8875        = "8875"
	code8857        = "8857"
	code8859        = "8859"
	gmfMissedImpact = 9.35
)

// GMFForfaitRule implements the code-8875 duplicate and missed-opportunity
// checks.
type GMFForfaitRule struct {
	codes          codeIndex
	establishments establishmentIndex
}

func NewGMFForfaitRule(codes []domain.Code, establishments []domain.Establishment) GMFForfaitRule {
	return GMFForfaitRule{codes: newCodeIndex(codes), establishments: newEstablishmentIndex(establishments)}
}

func (GMFForfaitRule) ID() string { return "gmf_forfait_8875" }

type patientYearKey struct {
	patient string
	year    int
}

func (r GMFForfaitRule) Evaluate(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
	forfaits := map[patientYearKey][]domain.BillingRecord{}
	var forfaitOrder []patientYearKey
	candidates := map[patientYearKey][]domain.BillingRecord{}
	var candidateOrder []patientYearKey

	for _, rec := range records {
		key := patientYearKey{patient: rec.Patient, year: rec.DateService.Year()}
		if rec.Code == code8875 {
			if _, ok := forfaits[key]; !ok {
				forfaitOrder = append(forfaitOrder, key)
			}
			forfaits[key] = append(forfaits[key], rec)
			continue
		}
		if r.isQualifyingVisit(rec) {
			if _, ok := candidates[key]; !ok {
				candidateOrder = append(candidateOrder, key)
			}
			candidates[key] = append(candidates[key], rec)
		}
	}

	var results []domain.ValidationResult
	duplicateCount := 0
	for _, key := range forfaitOrder {
		recs := forfaits[key]
		dup, found := r.evaluateDuplicates(runID, recs)
		if found {
			duplicateCount++
			results = append(results, dup...)
		}
	}

	missedCount := 0
	for _, key := range candidateOrder {
		if _, billed := forfaits[key]; billed {
			continue
		}
		recs := candidates[key]
		sort.Slice(recs, func(i, j int) bool { return recs[i].DateService.Before(recs[j].DateService) })
		earliest := recs[0]
		missedCount++
		results = append(results, domain.ValidationResult{
			ValidationRunID: runID,
			RuleID:          r.ID(),
			Severity:        domain.SeverityOptimization,
			Category:        "gmf_forfait",
			BillingRecordID: ptr(earliest.ID),
			Message:         "Visite admissible au forfait GMF 8875 mais aucun forfait n'a ete facture pour ce patient cette annee.",
			AffectedRecords: AffectedRecords(domain.SeverityOptimization, []string{earliest.ID}),
			RuleData:        domain.RuleData{MonetaryImpact: gmfMissedImpact, Specific: map[string]interface{}{"suggestedCode": code8875}},
		})
	}

	results = append(results, domain.ValidationResult{
		ValidationRunID: runID,
		RuleID:          r.ID(),
		Severity:        domain.SeverityInfo,
		Category:        "gmf_forfait",
		Message:         fmt.Sprintf("%d groupe(s) patient/annee avec forfait 8875 facture, %d occasion(s) manquee(s) detectee(s).", len(forfaitOrder), missedCount),
		RuleData:        domain.RuleData{MonetaryImpact: 0, Specific: map[string]interface{}{"forfaitGroups": len(forfaitOrder), "missedOpportunities": missedCount}},
	})

	return results, nil
}

func (r GMFForfaitRule) evaluateDuplicates(runID string, recs []domain.BillingRecord) ([]domain.ValidationResult, bool) {
	if len(recs) <= 1 {
		return nil, false
	}
	var paid []domain.BillingRecord
	for _, rec := range recs {
		if parseAmount(rec.MontantPaye) > 0 {
			paid = append(paid, rec)
		}
	}
	if len(paid) == 0 {
		return nil, false
	}
	sorted := append([]domain.BillingRecord(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DateService.Before(sorted[j].DateService) })
	sort.SliceStable(paid, func(i, j int) bool { return paid[i].DateService.Before(paid[j].DateService) })
	firstPaid := paid[0]

	firstPaidIdx := 0
	for i, rec := range sorted {
		if rec.ID == firstPaid.ID {
			firstPaidIdx = i
			break
		}
	}

	// Every occurrence after the first paid one is a duplicate, including
	// same-day rebillings.
	var results []domain.ValidationResult
	for _, rec := range sorted[firstPaidIdx+1:] {
		solution := fmt.Sprintf("Forfait 8875 deja paye le %s pour ce patient; annuler cette occurrence en double.", firstPaid.DateService.Format("2006-01-02"))
		results = append(results, domain.ValidationResult{
			ValidationRunID: runID,
			RuleID:          r.ID(),
			Severity:        domain.SeverityError,
			Category:        "gmf_forfait",
			BillingRecordID: ptr(rec.ID),
			Message:         "Forfait GMF 8875 facture en double pour ce patient cette annee.",
			Solution:        &solution,
			AffectedRecords: AffectedRecords(domain.SeverityError, []string{rec.ID}),
			RuleData:        domain.RuleData{MonetaryImpact: -parseAmount(rec.MontantPreliminaire)},
		})
	}
	return results, len(results) > 0
}

func (r GMFForfaitRule) isQualifyingVisit(rec domain.BillingRecord) bool {
	if rec.Code != code8857 && rec.Code != code8859 && !r.codes.isGMFQualifyingLevel1(rec.Code) {
		return false
	}
	if !r.establishments.isEP33(rec.LieuPratique) {
		return false
	}
	if rec.HasAnyContextTag(gmfExcludedContextTags...) {
		return false
	}
	return true
}
