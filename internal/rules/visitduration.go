package rules

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

const (
	visitDurationMinMinutes  = 30
	interventionBaseAmount   = 59.70
	interventionPer15Minutes = 29.85
)

// VisitDurationRule flags consultation/visit records whose billed amount
// undershoots the revenue an equivalent intervention-clinique billing
// would have yielded.
type VisitDurationRule struct {
	codes codeIndex
}

func NewVisitDurationRule(codes []domain.Code) VisitDurationRule {
	return VisitDurationRule{codes: newCodeIndex(codes)}
}

func (VisitDurationRule) ID() string { return "visit_duration_optimization" }

func (r VisitDurationRule) Evaluate(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
	var results []domain.ValidationResult
	analyzed := 0
	var totalPotential float64

	for _, rec := range records {
		if rec.Code == code8857 || rec.Code == code8859 {
			continue
		}
		if !r.codes.isConsultation(rec.Code) {
			continue
		}
		if rec.Debut == "" || rec.Fin == "" {
			continue
		}
		minutes, ok := durationMinutes(rec.Debut, rec.Fin)
		if !ok || minutes < visitDurationMinMinutes {
			continue
		}
		analyzed++

		equivalent := interventionEquivalent(minutes)
		billed := parseAmount(rec.MontantPreliminaire)
		if equivalent <= billed {
			continue
		}
		gain := roundMoney(equivalent - billed)
		totalPotential += gain

		suggested := []string{code8857}
		if minutes > fixedMinutes8857 {
			suggested = []string{code8857, code8859}
		}

		results = append(results, domain.ValidationResult{
			ValidationRunID: runID,
			RuleID:          r.ID(),
			Severity:        domain.SeverityOptimization,
			Category:        "visit_duration",
			BillingRecordID: ptr(rec.ID),
			Message:         fmt.Sprintf("La duree facturee (%d min) genererait davantage en intervention clinique que le montant facture.", minutes),
			AffectedRecords: AffectedRecords(domain.SeverityOptimization, []string{rec.ID}),
			RuleData: domain.RuleData{
				MonetaryImpact: gain,
				Specific:       map[string]interface{}{"suggestedCodes": suggested, "durationMinutes": minutes},
			},
		})
	}

	results = append(results, domain.ValidationResult{
		ValidationRunID: runID,
		RuleID:          r.ID(),
		Severity:        domain.SeverityInfo,
		Category:        "visit_duration",
		Message:         fmt.Sprintf("%d visite(s) analysee(s), revenu potentiel additionnel de %.2f$.", analyzed, totalPotential),
		RuleData:        domain.RuleData{MonetaryImpact: 0, Specific: map[string]interface{}{"analyzed": analyzed, "totalPotential": roundMoney(totalPotential)}},
	})

	return results, nil
}

// durationMinutes computes the minutes between two "HH:MM" times, adding
// 24h when fin precedes debut (midnight crossing).
func durationMinutes(debut, fin string) (int, bool) {
	d, err1 := time.Parse("15:04", debut)
	f, err2 := time.Parse("15:04", fin)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	diff := f.Sub(d)
	if diff < 0 {
		diff += 24 * time.Hour
	}
	return int(diff.Minutes()), true
}

// interventionEquivalent is the intervention-clinique billing amount that
// would correspond to the given duration: $59.70 base plus $29.85 per
// additional 15-minute period beyond the first 30 minutes, rounded up.
func interventionEquivalent(minutes int) float64 {
	if minutes <= fixedMinutes8857 {
		return interventionBaseAmount
	}
	extraMinutes := minutes - fixedMinutes8857
	periods := math.Ceil(float64(extraMinutes) / 15.0)
	return roundMoney(interventionBaseAmount + periods*interventionPer15Minutes)
}
