package payment

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies the provider charges in whole units (no minor unit).
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

func exponent(currency string) int32 {
	if zeroDecimal[strings.ToLower(currency)] {
		return 0
	}
	return -2
}

// FromMinor converts an amount in minor units (e.g. cents) to a decimal
// amount in the currency's major unit: 4000 usd → 40.00.
func FromMinor(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, exponent(currency))
}

// ToMinor converts a major-unit amount to minor units, rounding half away
// from zero: 19.999 usd → 2000.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(-exponent(currency)).Round(0).IntPart()
}
