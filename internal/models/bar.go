package models

import (
	"sort"
	"time"
)

// HistoricalBar is one daily OHLCV bar.
type HistoricalBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// SortBarsAscending sorts bars in place by date, oldest first. All volatility
// and move computations assume this order.
func SortBarsAscending(bars []HistoricalBar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})
}

// FindBarIndex returns the index of the bar whose date matches the given
// calendar day, or -1 if absent.
func FindBarIndex(bars []HistoricalBar, date time.Time) int {
	y, m, d := date.Date()
	for i := range bars {
		by, bm, bd := bars[i].Date.Date()
		if by == y && bm == m && bd == d {
			return i
		}
	}
	return -1
}

// EarningsRecord is one historical earnings event for a ticker.
// Zero-valued EPS entries are kept; only the date matters downstream.
type EarningsRecord struct {
	Date        time.Time `json:"date"`
	ActualEPS   float64   `json:"actual_eps"`
	EstimateEPS float64   `json:"estimate_eps"`
}
