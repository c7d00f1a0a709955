package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// AnnualCodeRule flags billing codes that may be billed only once (or with
// tightly controlled exceptions) per patient per calendar year.
type AnnualCodeRule struct {
	codes codeIndex
}

func NewAnnualCodeRule(codes []domain.Code) AnnualCodeRule {
	return AnnualCodeRule{codes: newCodeIndex(codes)}
}

func (AnnualCodeRule) ID() string { return "annual_billing_code" }

type annualGroup struct {
	patient string
	year    int
	recs    []domain.BillingRecord
}

func (r AnnualCodeRule) Evaluate(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
	groups := map[string]*annualGroup{}
	var order []string

	for _, rec := range records {
		if !r.codes.isAnnual(rec.Code) {
			continue
		}
		key := fmt.Sprintf("%s|%d", rec.Patient, rec.DateService.Year())
		g, ok := groups[key]
		if !ok {
			g = &annualGroup{patient: rec.Patient, year: rec.DateService.Year()}
			groups[key] = g
			order = append(order, key)
		}
		g.recs = append(g.recs, rec)
	}

	var results []domain.ValidationResult
	for _, key := range order {
		results = append(results, r.evaluateGroup(runID, groups[key])...)
	}
	return results, nil
}

func (r AnnualCodeRule) evaluateGroup(runID string, g *annualGroup) []domain.ValidationResult {
	recs := append([]domain.BillingRecord(nil), g.recs...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].DateService.Before(recs[j].DateService) })

	if len(recs) == 1 {
		return []domain.ValidationResult{{
			ValidationRunID: runID,
			RuleID:          r.ID(),
			Severity:        domain.SeverityInfo,
			Category:        "annual_codes",
			BillingRecordID: ptr(recs[0].ID),
			Message:         "Code annuel facture une seule fois pour ce patient cette annee, aucune anomalie.",
			AffectedRecords: AffectedRecords(domain.SeverityInfo, recordIDs(recs)),
			RuleData:        domain.RuleData{MonetaryImpact: 0},
		}}
	}

	var paid, unpaid []domain.BillingRecord
	for _, rec := range recs {
		if parseAmount(rec.MontantPaye) > 0 {
			paid = append(paid, rec)
		} else {
			unpaid = append(unpaid, rec)
		}
	}

	tariff := 0.0
	if c, ok := r.codes.lookup(recs[0].Code); ok {
		tariff = c.TariffValue
	}

	switch {
	case len(paid) > 1:
		return []domain.ValidationResult{{
			ValidationRunID: runID,
			RuleID:          r.ID(),
			Severity:        domain.SeverityError,
			Category:        "annual_codes",
			Message:         "Code annuel facture et paye plus d'une fois pour le meme patient dans l'annee: contacter la RAMQ.",
			AffectedRecords: AffectedRecords(domain.SeverityError, recordIDs(recs)),
			RuleData: domain.RuleData{
				MonetaryImpact: 0,
				Specific:       map[string]interface{}{"paidInvoiceIds": recordIDs(paid), "dates": dateStrings(paid)},
			},
		}}
	case len(paid) == 1 && len(unpaid) > 0:
		solution := fmt.Sprintf("Annuler les factures non payees: %v", recordIDs(unpaid))
		return []domain.ValidationResult{{
			ValidationRunID: runID,
			RuleID:          r.ID(),
			Severity:        domain.SeverityError,
			Category:        "annual_codes",
			Message:         "Code annuel deja paye pour ce patient cette annee; les autres occurrences devraient etre annulees.",
			Solution:        &solution,
			AffectedRecords: AffectedRecords(domain.SeverityError, recordIDs(recs)),
			RuleData: domain.RuleData{
				MonetaryImpact: 0,
				Specific:       map[string]interface{}{"paidInvoiceIds": recordIDs(paid), "unpaidInvoiceIds": recordIDs(unpaid)},
			},
		}}
	default:
		solution := "Valider le motif de refus aupres de la RAMQ."
		return []domain.ValidationResult{{
			ValidationRunID: runID,
			RuleID:          r.ID(),
			Severity:        domain.SeverityError,
			Category:        "annual_codes",
			Message:         "Code annuel facture plusieurs fois pour ce patient, toutes les occurrences sont non payees.",
			Solution:        &solution,
			AffectedRecords: AffectedRecords(domain.SeverityError, recordIDs(recs)),
			RuleData: domain.RuleData{
				MonetaryImpact: tariff,
				Specific:       map[string]interface{}{"totalUnpaidAmount": tariff * float64(len(recs)), "unpaidInvoiceIds": recordIDs(unpaid)},
			},
		}}
	}
}

func dateStrings(recs []domain.BillingRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.DateService.Format("2006-01-02")
	}
	return out
}

func ptr(s string) *string { return &s }
