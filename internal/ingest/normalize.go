package ingest

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const nbsp = " "

var (
	// \b in Go regexp is ASCII-only, so alternatives ending in a Czech
	// letter cannot carry a trailing boundary.
	czkPattern = regexp.MustCompile(`(?i)(\bCZK\b|\bKč|koruna\s*česká)`)
	eurPattern = regexp.MustCompile(`(?i)(\bEUR\b|€|\beuro\b)`)

	// First numeric run in free text: digits with space/dot/comma grouping
	// and at most one trailing decimal separator ("400 000,00", "1 234.5",
	// "1.234.567"). The run must start and end on a digit.
	numberPattern = regexp.MustCompile(`\d[\d .,]*\d|\d`)

	groupingPattern = regexp.MustCompile(`[ .,]`)
)

// ParseAmount extracts the first monetary figure from text as an exact
// decimal. Returns nil when no number is found or it does not parse. The
// intermediate is never a binary float; converting to one for storage is the
// caller's (accepted, lossy) concern.
func ParseAmount(text string) *decimal.Decimal {
	if text == "" {
		return nil
	}
	t := strings.TrimSpace(strings.ReplaceAll(text, nbsp, " "))
	run := numberPattern.FindString(t)
	if run == "" {
		return nil
	}

	// The last separator is the decimal one when it is followed by 1-2
	// digits; three trailing digits mean grouping ("1.234.567").
	intPart, frac := run, ""
	if i := strings.LastIndexAny(run, ".,"); i >= 0 && len(run)-i-1 <= 2 {
		intPart, frac = run[:i], "."+run[i+1:]
	}
	intPart = groupingPattern.ReplaceAllString(intPart, "")
	if intPart == "" {
		return nil
	}
	d, err := decimal.NewFromString(intPart + frac)
	if err != nil {
		return nil
	}
	return &d
}

// DetectCurrency maps currency keywords and symbols to an ISO code. First
// match wins; "" when nothing matches.
func DetectCurrency(text string) string {
	if text == "" {
		return ""
	}
	if czkPattern.MatchString(text) {
		return "CZK"
	}
	if eurPattern.MatchString(text) {
		return "EUR"
	}
	return ""
}

// NormalizeMoney resolves a value/currency text pair into an exact amount and
// ISO code. Currency is detected across both texts; either result may be
// absent independently.
func NormalizeMoney(valueText, currencyText string) (*decimal.Decimal, string) {
	val := ParseAmount(valueText)
	cur := DetectCurrency(valueText + " " + currencyText)
	return val, cur
}

// statusMap translates the NEN status vocabulary into the controlled one.
var statusMap = map[string]string{
	"Neukončen":       "open",
	"Neukončeno":      "open",
	"Ukončen":         "closed",
	"Ukončení plnění": "completed",
	"Zadané":          "awarded",
	"Zadán":           "awarded",
	"Zadáno":          "awarded",
	"Zrušené":         "cancelled",
	"Zrušeno":         "cancelled",
}

// NormalizeStatus returns (normalized, original). The original trimmed label
// is always preserved for audit, even when no canonical mapping exists.
func NormalizeStatus(raw string) (string, string) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return "", ""
	}
	return statusMap[clean], clean
}

// deadlineLayouts are tried in order; NEN renders deadlines as
// "17. 06. 2025 10:00" with inconsistent spacing around the dots.
var deadlineLayouts = []string{
	"2. 1. 2006 15:04",
	"2.1.2006 15:04",
	"2. 1. 2006",
	"2.1.2006",
}

// ParseDeadline parses source deadline text into its date component,
// discarding time of day. Returns nil when no layout matches.
func ParseDeadline(text string) *time.Time {
	t := normalizeSpace(text)
	if t == "" {
		return nil
	}
	for _, layout := range deadlineLayouts {
		parsed, err := time.Parse(layout, t)
		if err != nil {
			continue
		}
		d := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		return &d
	}
	return nil
}
