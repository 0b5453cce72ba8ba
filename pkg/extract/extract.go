// Package extract pulls structured transaction fields out of a matched
// notification message using the provider's ordered pattern lists.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
	"github.com/matisarralde/finanzas-pwa/pkg/provider"
)

// maxDescriptionLen is the hard cap on the stored description (the
// message subject).
const maxDescriptionLen = 200

// dateFormats are tried in order against the captured date string.
// Source notifications use day-first dates.
var dateFormats = []string{
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
}

// Extract parses transaction fields from a message using the given
// provider configuration. The amount is mandatory: when no amount pattern
// yields a parseable value, Extract returns api.ErrNoAmount and the
// message should be skipped. Date, merchant and card tail are optional.
func Extract(msg api.RawMessage, cfg *provider.Config) (*api.Extracted, error) {
	text := msg.Subject + "\n" + msg.Body

	amount, ok := extractAmount(text, cfg.Amount)
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", cfg.Name, api.ErrNoAmount)
	}

	ext := &api.Extracted{
		Amount:      amount,
		Date:        extractDate(text, cfg.Date),
		Merchant:    strings.TrimSpace(firstCapture(text, cfg.Merchant)),
		CardTail:    firstCapture(text, cfg.Card),
		Provider:    cfg.Name,
		Description: truncate(msg.Subject, maxDescriptionLen),
	}

	return ext, nil
}

// extractAmount tries each amount pattern in declared order and returns
// the first captured value that parses as a decimal. A capture that fails
// to parse falls through to the next pattern. A parsed amount of zero
// fails the extraction: notifications carry no zero-value charges, so a
// zero capture means the pattern grabbed the wrong numeral.
func extractAmount(text string, patterns []*regexp.Regexp) (decimal.Decimal, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}

		amount, err := decimal.NewFromString(normalizeAmount(m[1]))
		if err != nil {
			continue
		}
		return amount, !amount.IsZero()
	}
	return decimal.Decimal{}, false
}

// normalizeAmount converts a captured numeral from the source locale
// (period as thousands separator, comma as decimal separator) to a
// parseable decimal string: "15.990" -> "15990", "1.234,56" -> "1234.56".
func normalizeAmount(s string) string {
	s = strings.ReplaceAll(s, ".", "")
	return strings.ReplaceAll(s, ",", ".")
}

// extractDate returns the first captured date string that parses against
// one of the known formats, or the zero time when none does.
func extractDate(text string, patterns []*regexp.Regexp) time.Time {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}

		for _, format := range dateFormats {
			if t, err := time.Parse(format, m[1]); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func firstCapture(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
