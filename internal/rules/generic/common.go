package generic

import (
	"math"
	"sort"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// InfoSampleSize mirrors the builtin catalogue's affected-records sampling
// cap for info-severity findings.
const InfoSampleSize = 10

func affectedRecords(severity domain.Severity, ids []string) []string {
	if severity != domain.SeverityInfo || len(ids) <= InfoSampleSize {
		return ids
	}
	out := make([]string, InfoSampleSize)
	copy(out, ids[:InfoSampleSize])
	return out
}

func recordIDs(records []domain.BillingRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

func roundMoney(v float64) float64 { return math.Round(v*100) / 100 }

func parseAmount(s string) float64 {
	if s == "" {
		return 0
	}
	var v, frac float64 = 0, 0.1
	neg, afterDot := false, false
	for _, c := range s {
		switch {
		case c == '-':
			neg = true
		case c == '.':
			afterDot = true
		case c >= '0' && c <= '9':
			d := float64(c - '0')
			if afterDot {
				v += d * frac
				frac /= 10
			} else {
				v = v*10 + d
			}
		}
	}
	if neg {
		v = -v
	}
	return v
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// codeIndex is a lookup snapshot of the reference Code table, mirroring
// the builtin catalogue's approach of resolving reference data once per
// run rather than per record.
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

func (idx establishmentIndex) get(numero string) (domain.Establishment, bool) {
	e, ok := idx.byNumero[numero]
	return e, ok
}

func sortByDate(records []domain.BillingRecord) []domain.BillingRecord {
	out := append([]domain.BillingRecord(nil), records...)
	sort.Slice(out, func(i, j int) bool { return out[i].DateService.Before(out[j].DateService) })
	return out
}
