package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round rounds v to the given number of decimal places, half away from zero,
// using decimal arithmetic so that values like 1.005 round as written.
// Non-finite values are returned unchanged.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
