package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDate accepts "YYYY-MM-DD" or "DD/MM/YYYY".
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("02/01/2006", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", raw)
}

// ParseAmount accepts either '.' or ',' as the decimal separator (e.g.
// "32,40" -> "32.40") and returns a normalized two-fractional-digit
// decimal string, matching the storage convention for amounts.
func ParseAmount(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "0.00", nil
	}
	normalized := raw
	// A comma used as the decimal separator is the only comma present, or
	// the rightmost separator when both appear (thousands-grouping with a
	// '.' grouping and ',' decimal, rare but tolerated).
	if strings.Contains(raw, ",") && !strings.Contains(raw, ".") {
		normalized = strings.ReplaceAll(raw, ",", ".")
	} else if strings.Contains(raw, ",") && strings.Contains(raw, ".") {
		if strings.LastIndex(raw, ",") > strings.LastIndex(raw, ".") {
			normalized = strings.ReplaceAll(raw, ".", "")
			normalized = strings.ReplaceAll(normalized, ",", ".")
		} else {
			normalized = strings.ReplaceAll(raw, ",", "")
		}
	}

	f, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return strconv.FormatFloat(f, 'f', 2, 64), nil
}

// ParseBool accepts O/N, Oui/Non, true/false (case-insensitive).
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "o", "oui", "true", "1", "y", "yes":
		return true, nil
	case "n", "non", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

// ParseUnites accepts integer and fractional unit counts; an empty string
// is a valid "no units" value and returns nil.
func ParseUnites(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	normalized := strings.ReplaceAll(raw, ",", ".")
	f, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid unites %q: %w", raw, err)
	}
	return &f, nil
}

// ParseTimeOfDay validates an "HH:MM" string, returning it unchanged
// (BillingRecord stores Debut/Fin as strings) or an error if malformed.
func ParseTimeOfDay(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if _, err := time.Parse("15:04", raw); err != nil {
		return "", fmt.Errorf("invalid time %q: %w", raw, err)
	}
	return raw, nil
}
