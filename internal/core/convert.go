package core

// convert.go turns CSV cells into typed values.
//
// These functions handle the messy reality of exported master data:
//   - Currency symbols and codes (€, $, EUR, USD)
//   - German (1.234,50) and English (1,234.50) separators
//   - Accounting format for negatives, (12.50)
//   - Various boolean representations (ja/nein, yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value")
//
// Empty input yields the caller's default; unparseable input yields an error
// whose text starts with "invalid".

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// numericRegex validates a number after currency and separator cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

var currencyReplacer = strings.NewReplacer(
	"€", "", "$", "", "£", "",
	"EUR", "", "eur", "", "Eur", "",
	"USD", "", "usd", "",
	" ", "", "\u00a0", "", "'", "",
)

// normalizeNumber strips currency markers and resolves the decimal separator.
// When both separators occur the last one is the decimal point; a single
// comma is a decimal comma; repeated identical separators group thousands.
func normalizeNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = currencyReplacer.Replace(s)

	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		}
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case commas == 1:
		s = strings.ReplaceAll(s, ",", ".")
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	if negative {
		s = "-" + strings.TrimPrefix(s, "+")
	}
	return s, numericRegex.MatchString(s)
}

// ParseDecimal parses a number in any supported notation.
func ParseDecimal(s string) (decimal.Decimal, error) {
	raw := CleanCell(s)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("invalid number: empty")
	}
	n, ok := normalizeNumber(raw)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid number %q", raw)
	}
	d, err := decimal.NewFromString(n)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", raw)
	}
	return d, nil
}

// ParsePrice parses a non-negative amount rounded to 2 places.
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid price %q: negative", CleanCell(s))
	}
	return d.Round(2), nil
}

// ParseQuantity parses a non-negative quantity. Empty input yields def.
func ParseQuantity(s string, def decimal.Decimal) (decimal.Decimal, error) {
	if CleanCell(s) == "" {
		return def, nil
	}
	d, err := ParseDecimal(s)
	if err != nil {
		return def, err
	}
	if d.IsNegative() {
		return def, fmt.Errorf("invalid quantity %q: negative", CleanCell(s))
	}
	return d, nil
}

// ParseBool accepts true/false, yes/no, ja/nein, t/f, y/n, x and 1/0.
// Empty input yields def.
func ParseBool(s string, def bool) (bool, error) {
	switch strings.ToLower(CleanCell(s)) {
	case "":
		return def, nil
	case "true", "t", "yes", "y", "ja", "j", "x", "1":
		return true, nil
	case "false", "f", "no", "n", "nein", "0", "-":
		return false, nil
	default:
		return def, fmt.Errorf("invalid boolean %q", CleanCell(s))
	}
}

// ParseInt parses an integer, tolerating a trailing ".0". Empty input yields def.
func ParseInt(s string, def int) (int, error) {
	raw := CleanCell(s)
	if raw == "" {
		return def, nil
	}
	raw = strings.TrimSuffix(raw, ".0")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("invalid integer %q", raw)
	}
	return n, nil
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// Keys are cleaned and lowercased for case-insensitive matching; the first
// occurrence of a duplicated header wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if key == "" {
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	// Remove leading '='
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	// Remove any surrounding quotes
	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}
