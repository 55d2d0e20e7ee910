// Package money converts heterogeneous price inputs into integer
// minor-unit amounts. Normalization never fails: invalid input becomes 0.
package money

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NormalizeToCents converts a price value into integer cents.
//
// Numbers that are already integral are assumed to be minor units;
// fractional numbers are major units, multiplied by 100 and rounded.
// Strings are cleaned down to digits and ".,-" before parsing: a lone comma
// with no dot acts as the decimal separator, otherwise commas are thousands
// separators; a cleaned string with no decimal point and at most two digits
// is major units, anything longer is minor units already.
//
// The function is idempotent on already-normalized integers.
func NormalizeToCents(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		return normalizeFloat(x)
	case string:
		return normalizeString(x)
	default:
		return 0
	}
}

func normalizeFloat(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f == math.Trunc(f) {
		return int64(f)
	}
	return int64(math.Round(f * 100))
}

func normalizeString(s string) int64 {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0
	}

	neg := strings.HasPrefix(cleaned, "-")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	if cleaned == "" {
		return 0
	}

	sign := int64(1)
	if neg {
		sign = -1
	}

	hasDot := strings.Contains(cleaned, ".")
	commas := strings.Count(cleaned, ",")

	switch {
	case hasDot:
		// Commas are thousands separators.
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		return sign * int64(math.Round(f*100))
	case commas == 1:
		// Lone comma acts as the decimal separator.
		f, err := strconv.ParseFloat(strings.Replace(cleaned, ",", ".", 1), 64)
		if err != nil {
			return 0
		}
		return sign * int64(math.Round(f*100))
	default:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		n, err := strconv.ParseInt(cleaned, 10, 64)
		if err != nil {
			return 0
		}
		// Short digit runs read as major units ("5" means $5, not 5 cents).
		if len(cleaned) <= 2 {
			return sign * n * 100
		}
		return sign * n
	}
}

// FormatFromCents renders cents as a localized display string for the given
// ISO currency code. Unknown codes fall back to USD. For two-decimal
// currencies, NormalizeToCents(FormatFromCents(x)) == x.
func FormatFromCents(cents int64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit = currency.USD
	}
	p := message.NewPrinter(language.English)
	return p.Sprintf("%v", currency.Symbol(unit.Amount(float64(cents)/100)))
}
