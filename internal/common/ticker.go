// Package common provides shared utilities across the application.
package common

import (
	"regexp"
	"strings"
)

// usExchanges are exchange prefixes accepted (and dropped) in front of a ticker
var usExchanges = map[string]bool{
	"NYSE":   true,
	"NASDAQ": true,
	"AMEX":   true,
	"ARCA":   true,
	"US":     true,
}

var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9-]{0,9}$`)

// NormalizeTicker converts user input to the SEC ticker form.
// Supports formats:
//   - "aapl" -> "AAPL"
//   - "NASDAQ:AAPL" -> "AAPL" (US exchange prefix dropped)
//   - "brk.b" -> "BRK-B" (SEC uses dash share classes)
//
// Returns "" and false when the input cannot be a ticker.
func NormalizeTicker(input string) (string, bool) {
	t := strings.ToUpper(strings.TrimSpace(input))
	t = strings.TrimPrefix(t, "$")

	if idx := strings.Index(t, ":"); idx > 0 {
		if !usExchanges[t[:idx]] {
			return "", false
		}
		t = t[idx+1:]
	}

	t = strings.ReplaceAll(t, ".", "-")
	t = strings.ReplaceAll(t, "/", "-")

	if !tickerPattern.MatchString(t) {
		return "", false
	}
	return t, true
}
