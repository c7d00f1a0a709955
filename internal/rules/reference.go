package rules

import "github.com/montignypatrik/facnet-validator-core/internal/domain"

// annualLeafCategories are the Code.Leaf values that mark a billing code
// as an "annual" code subject to the once (or tightly controlled) per
// patient per calendar year rule.
var annualLeafCategories = map[string]bool{
	"Visite de prise en charge": true,
	"Visite periodique":         true,
	"Visite périodique":         true, // RAMQ exports carry both spellings
}

// consultationTopLevel is the Code.TopLevel value identifying
// consultation/visit codes eligible for visit-duration optimization
// and excluded from it only for the intervention codes themselves.
const consultationTopLevel = "B - CONSULTATION, EXAMEN ET VISITE"

// gmfQualifyingLevel1Groups are the Code.Level1Group values that qualify a
// visit as a GMF forfait 8875 missed opportunity alongside codes 8857/8859.
var gmfQualifyingLevel1Groups = map[string]bool{
	"Visites sur rendez-vous (patient de 80 ans ou plus)":    true,
	"Visites sur rendez-vous (patient de moins de 80 ans)":   true,
}

// gmfExcludedContextTags exclude an otherwise-qualifying GMF visit.
var gmfExcludedContextTags = []string{"MTA13", "GMFU", "GAP", "G160", "AR"}

// codeIndex is a lookup snapshot of the reference Code table, built once
// per run and passed to the handlers that need it. Handlers never query
// the reference cache directly; the orchestrator resolves the snapshot
// ahead of rule-engine invocation.
type codeIndex struct {
	byCode map[string]domain.Code
}

func newCodeIndex(codes []domain.Code) codeIndex {
	idx := codeIndex{byCode: make(map[string]domain.Code, len(codes))}
	for _, c := range codes {
		idx.byCode[c.Code] = c
	}
	return idx
}

func (idx codeIndex) lookup(code string) (domain.Code, bool) {
	c, ok := idx.byCode[code]
	return c, ok
}

func (idx codeIndex) isAnnual(code string) bool {
	c, ok := idx.lookup(code)
	return ok && annualLeafCategories[c.Leaf]
}

func (idx codeIndex) isConsultation(code string) bool {
	c, ok := idx.lookup(code)
	return ok && c.TopLevel == consultationTopLevel
}

func (idx codeIndex) isGMFQualifyingLevel1(code string) bool {
	c, ok := idx.lookup(code)
	return ok && gmfQualifyingLevel1Groups[c.Level1Group]
}

// establishmentIndex is a lookup snapshot of the Establishment table.
type establishmentIndex struct {
	byNumero map[string]domain.Establishment
}

func newEstablishmentIndex(establishments []domain.Establishment) establishmentIndex {
	idx := establishmentIndex{byNumero: make(map[string]domain.Establishment, len(establishments))}
	for _, e := range establishments {
		idx.byNumero[e.Numero] = e
	}
	return idx
}

func (idx establishmentIndex) isEP33(numero string) bool {
	e, ok := idx.byNumero[numero]
	return ok && e.EP33
}
