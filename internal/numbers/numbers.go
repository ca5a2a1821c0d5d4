// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package numbers

import (
	"math"
)

// RoundTo rounds value half away from zero to the given number of decimal places.
func RoundTo(value float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))

	return math.Round(value*factor) / factor
}

// RoundToSats rounds a fractional satoshi value to the nearest whole satoshi.
func RoundToSats(value float64) int64 {
	return int64(math.Round(value))
}
