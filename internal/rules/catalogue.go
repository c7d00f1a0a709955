package rules

import (
	"github.com/montignypatrik/facnet-validator-core/internal/domain"
	"github.com/montignypatrik/facnet-validator-core/internal/ruleengine"
)

// BuildCatalogue constructs every hard-coded rule handler,
// snapshotting the reference Code/Establishment tables once so no handler
// queries the cache mid-run.
func BuildCatalogue(codes []domain.Code, establishments []domain.Establishment) []ruleengine.Handler {
	return []ruleengine.Handler{
		NewOfficeFeeRule(),
		NewAnnualCodeRule(codes),
		NewGMFForfaitRule(codes, establishments),
		NewInterventionCliniqueRule(),
		NewVisitDurationRule(codes),
	}
}
