// Package rules is the built-in rule catalogue (office-fee caps, annual
// billing codes, GMF forfait 8875, intervention clinique daily limits,
// visit-duration optimization) plus shared helpers used by every handler.
package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

// InfoSampleSize bounds the number of BillingRecord ids carried in an
// info-severity finding's AffectedRecords: error/warning/optimization
// carry the full implicated set, info carries a representative sample
// capped here.
const InfoSampleSize = 10

// AffectedRecords returns ids unchanged for non-info severities, and the
// first InfoSampleSize ids (in their given order) for info.
func AffectedRecords(severity domain.Severity, ids []string) []string {
	if severity != domain.SeverityInfo || len(ids) <= InfoSampleSize {
		return ids
	}
	out := make([]string, InfoSampleSize)
	copy(out, ids[:InfoSampleSize])
	return out
}

// recordIDs extracts BillingRecord.ID in input order.
func recordIDs(records []domain.BillingRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// roundMoney rounds to two decimal places, matching the storage
// convention of decimal strings with two fractional digits.
func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// formatAmountFR renders an amount the way RAMQ statements do, with a
// decimal comma: 31.5 becomes "31,50$".
func formatAmountFR(v float64) string {
	return strings.Replace(fmt.Sprintf("%.2f$", v), ".", ",", 1)
}

// parseAmount converts a BillingRecord's decimal-string amount to a float;
// malformed input (should not occur post-ingestion) is treated as zero.
func parseAmount(s string) float64 {
	if s == "" {
		return 0
	}
	var v float64
	var frac float64 = 0.1
	neg := false
	afterDot := false
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

// sortedDates returns distinct calendar dates in ascending order.
func sortedDates(dates []dateKey) []dateKey {
	out := append([]dateKey(nil), dates...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// dateKey compares dates by calendar day, never by time component.
type dateKey struct {
	Year, Month, Day int
}

func dateKeyOf(t time.Time) dateKey {
	y, m, d := t.Date()
	return dateKey{Year: y, Month: int(m), Day: d}
}

func (k dateKey) Before(o dateKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	if k.Month != o.Month {
		return k.Month < o.Month
	}
	return k.Day < o.Day
}
