package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeToCents_IntegralNumber(t *testing.T) {
	// Integral numbers are already minor units.
	assert.Equal(t, int64(1299), NormalizeToCents(1299))
	assert.Equal(t, int64(1299), NormalizeToCents(int64(1299)))
	assert.Equal(t, int64(1299), NormalizeToCents(float64(1299)))
}

func TestNormalizeToCents_FractionalNumber(t *testing.T) {
	// Fractional numbers are major units.
	assert.Equal(t, int64(1299), NormalizeToCents(12.99))
	assert.Equal(t, int64(50), NormalizeToCents(0.5))
	assert.Equal(t, int64(1000), NormalizeToCents(9.999))
}

func TestNormalizeToCents_DecimalString(t *testing.T) {
	assert.Equal(t, int64(1299), NormalizeToCents("12.99"))
	assert.Equal(t, int64(1299), NormalizeToCents("$12.99"))
	assert.Equal(t, int64(123456), NormalizeToCents("1,234.56"))
}

func TestNormalizeToCents_CommaDecimal(t *testing.T) {
	// A lone comma without a dot is a decimal separator.
	assert.Equal(t, int64(1299), NormalizeToCents("12,99"))
	assert.Equal(t, int64(1299), NormalizeToCents("€12,99"))
}

func TestNormalizeToCents_MultipleCommasNoDot(t *testing.T) {
	// Multiple commas without a dot are thousands separators; the long
	// digit run reads as minor units.
	assert.Equal(t, int64(1234567), NormalizeToCents("1,234,567"))
}

func TestNormalizeToCents_ShortDigitsAreMajorUnits(t *testing.T) {
	assert.Equal(t, int64(500), NormalizeToCents("5"))
	assert.Equal(t, int64(1200), NormalizeToCents("12"))
	// Three or more digits without a decimal are minor units already.
	assert.Equal(t, int64(999), NormalizeToCents("999"))
	assert.Equal(t, int64(1299), NormalizeToCents("1299"))
}

func TestNormalizeToCents_Negative(t *testing.T) {
	assert.Equal(t, int64(-1299), NormalizeToCents("-12.99"))
	assert.Equal(t, int64(-500), NormalizeToCents("-5"))
	assert.Equal(t, int64(-250), NormalizeToCents(-2.5))
}

func TestNormalizeToCents_Invalid(t *testing.T) {
	assert.Equal(t, int64(0), NormalizeToCents(""))
	assert.Equal(t, int64(0), NormalizeToCents("free!"))
	assert.Equal(t, int64(0), NormalizeToCents(nil))
	assert.Equal(t, int64(0), NormalizeToCents([]string{"12.99"}))
	assert.Equal(t, int64(0), NormalizeToCents("-"))
}

func TestNormalizeToCents_Idempotent(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 1299, 1000000} {
		assert.Equal(t, cents, NormalizeToCents(cents))
		assert.Equal(t, cents, NormalizeToCents(NormalizeToCents(cents)))
	}
}

func TestFormatFromCents_RoundTrip(t *testing.T) {
	for _, cents := range []int64{50, 100, 1299, 12000, 15000, 999999} {
		formatted := FormatFromCents(cents, "USD")
		assert.Equal(t, cents, NormalizeToCents(formatted), "formatted %q", formatted)
	}
}

func TestFormatFromCents_UnknownCurrencyFallsBack(t *testing.T) {
	got := FormatFromCents(1299, "not-a-code")
	assert.Contains(t, got, "12.99")
}
