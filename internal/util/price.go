// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// Mid returns the bid/ask midpoint.
func Mid(bid, ask float64) float64 {
	return (bid + ask) / 2
}

// SpreadRatio returns (ask-bid)/mid, or +Inf when the mid is not positive.
// Used to reject quotes too wide to trust.
func SpreadRatio(bid, ask float64) float64 {
	mid := Mid(bid, ask)
	if mid <= 0 {
		return math.Inf(1)
	}
	return (ask - bid) / mid
}
