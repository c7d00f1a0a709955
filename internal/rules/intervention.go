package rules

import (
	"context"
	"fmt"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

const (
	interventionDailyCapMinutes = 180
	fixedMinutes8857            = 30
)

var interventionExcludedContextTags = []string{"ICEP", "ICSM", "ICTOX"}

// InterventionCliniqueRule implements the daily 180-minute cap on codes
// 8857/8859.
type InterventionCliniqueRule struct{}

func NewInterventionCliniqueRule() InterventionCliniqueRule { return InterventionCliniqueRule{} }

func (InterventionCliniqueRule) ID() string { return "intervention_clinique_daily_limit" }

type interventionGroup struct {
	doctor string
	recs   []domain.BillingRecord
}

func (r InterventionCliniqueRule) Evaluate(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
	groups := map[string]*interventionGroup{}
	var order []string

	for _, rec := range records {
		if rec.Code != code8857 && rec.Code != code8859 {
			continue
		}
		if rec.HasAnyContextTag(interventionExcludedContextTags...) {
			continue
		}
		key := rec.DoctorInfo + "|" + rec.DateService.Format("2006-01-02")
		g, ok := groups[key]
		if !ok {
			g = &interventionGroup{doctor: rec.DoctorInfo}
			groups[key] = g
			order = append(order, key)
		}
		g.recs = append(g.recs, rec)
	}

	var results []domain.ValidationResult
	overCapGroups := 0
	for _, key := range order {
		g := groups[key]
		total := 0.0
		var unpaid []domain.BillingRecord
		unpaidAmount := 0.0
		for _, rec := range g.recs {
			minutes := fixedMinutes8857
			if rec.Code == code8859 {
				minutes = 0
				if rec.Unites != nil {
					minutes = int(*rec.Unites)
				}
			}
			total += float64(minutes)
			if parseAmount(rec.MontantPaye) <= 0 {
				unpaid = append(unpaid, rec)
				unpaidAmount += parseAmount(rec.MontantPreliminaire)
			}
		}

		if total <= interventionDailyCapMinutes {
			continue
		}
		overCapGroups++
		excess := total - interventionDailyCapMinutes
		metrics := map[string]interface{}{"totalMinutes": int(total), "excessMinutes": int(excess)}

		if len(unpaid) > 0 {
			solution := "Ajouter un contexte exclu (ICEP, ICSM ou ICTOX) ou annuler les factures non payees en exces."
			results = append(results, domain.ValidationResult{
				ValidationRunID: runID,
				RuleID:          r.ID(),
				Severity:        domain.SeverityError,
				Category:        "intervention_clinique",
				Message:         fmt.Sprintf("Total des interventions cliniques de %s pour la journee (%d min) depasse le plafond de %d min.", redactDoctorName(g.doctor), int(total), interventionDailyCapMinutes),
				Solution:        &solution,
				AffectedRecords: AffectedRecords(domain.SeverityError, recordIDs(g.recs)),
				RuleData:        domain.RuleData{MonetaryImpact: -roundMoney(unpaidAmount), Specific: metrics},
			})
		} else {
			results = append(results, domain.ValidationResult{
				ValidationRunID: runID,
				RuleID:          r.ID(),
				Severity:        domain.SeverityInfo,
				Category:        "intervention_clinique",
				Message:         fmt.Sprintf("Total des interventions cliniques de %s pour la journee (%d min) depasse le plafond de %d min, mais tout est deja paye.", redactDoctorName(g.doctor), int(total), interventionDailyCapMinutes),
				AffectedRecords: AffectedRecords(domain.SeverityInfo, recordIDs(g.recs)),
				RuleData:        domain.RuleData{MonetaryImpact: 0, Specific: metrics},
			})
		}
	}

	results = append(results, domain.ValidationResult{
		ValidationRunID: runID,
		RuleID:          r.ID(),
		Severity:        domain.SeverityInfo,
		Category:        "intervention_clinique",
		Message:         fmt.Sprintf("%d groupe(s) medecin/jour analyse(s), %d depassement(s) du plafond de %d minutes.", len(order), overCapGroups, interventionDailyCapMinutes),
		RuleData:        domain.RuleData{MonetaryImpact: 0, Specific: map[string]interface{}{"groupCount": len(order), "overCapGroups": overCapGroups}},
	})

	return results, nil
}
