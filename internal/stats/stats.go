// Package stats computes the volatility and earnings-move statistics behind
// the gatekeeper filters. Sentinel -1 marks "not computable"; callers must
// check it before comparing against thresholds.
package stats

import (
	"math"
	"time"

	"github.com/pbaumgartner/ivcrush/internal/models"
)

// TradingDaysPerYear annualizes daily volatility.
const TradingDaysPerYear = 252

// HistoricalVolatility returns the annualized sample standard deviation of
// daily log returns. Bars must be sorted ascending. Returns 0 when fewer
// than two usable returns exist.
func HistoricalVolatility(bars []models.HistoricalBar) float64 {
	returns := make([]float64, 0, len(bars))
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Close, bars[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sqSum float64
	for _, r := range returns {
		d := r - mean
		sqSum += d * d
	}
	variance := sqSum / float64(len(returns)-1)
	return math.Sqrt(variance) * math.Sqrt(TradingDaysPerYear)
}

// BarsInWindow returns the bars whose dates fall in [start, end], inclusive
// on both ends by calendar day.
func BarsInWindow(bars []models.HistoricalBar, start, end time.Time) []models.HistoricalBar {
	out := make([]models.HistoricalBar, 0)
	startDay := truncateDay(start)
	endDay := truncateDay(end)
	for _, b := range bars {
		d := truncateDay(b.Date)
		if !d.Before(startDay) && !d.After(endDay) {
			out = append(out, b)
		}
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EarningsDayMove returns |close-open|/open for the bar on the earnings
// date, or -1 when no bar matches or the open is non-positive.
func EarningsDayMove(bars []models.HistoricalBar, earningsDate time.Time) float64 {
	i := models.FindBarIndex(bars, earningsDate)
	if i < 0 || bars[i].Open <= 0 {
		return -1
	}
	return math.Abs(bars[i].Close-bars[i].Open) / bars[i].Open
}

// EarningsDayMoveWithGap returns the earnings-day move measured against the
// previous trading day's close, capturing the overnight gap. Falls back to
// the intraday move when no prior bar exists; -1 when nothing is computable.
func EarningsDayMoveWithGap(bars []models.HistoricalBar, earningsDate time.Time) float64 {
	i := models.FindBarIndex(bars, earningsDate)
	if i < 0 {
		return -1
	}
	if i == 0 {
		return EarningsDayMove(bars, earningsDate)
	}
	prevClose := bars[i-1].Close
	if prevClose <= 0 {
		return -1
	}
	return math.Abs(bars[i].Close-prevClose) / prevClose
}

// RecencyWeight weights recent earnings events double. cutoff is typically
// two years before the scan date.
func RecencyWeight(earningsDate, cutoff time.Time) float64 {
	if earningsDate.After(cutoff) {
		return 2.0
	}
	return 1.0
}

// WeightedAverageMove returns the recency-weighted mean of the moves, where
// moves[i] belongs to records[i]. Negative moves are sentinels and are
// skipped. Returns -1 when no record has a valid move.
func WeightedAverageMove(records []models.EarningsRecord, moves []float64, cutoff time.Time) float64 {
	var weightedSum, weightSum float64
	for i, rec := range records {
		if i >= len(moves) || moves[i] < 0 {
			continue
		}
		w := RecencyWeight(rec.Date, cutoff)
		weightedSum += moves[i] * w
		weightSum += w
	}
	if weightSum == 0 {
		return -1
	}
	return weightedSum / weightSum
}

// maxQuoteSpreadRatio rejects straddle legs whose quote is too wide to trust.
const maxQuoteSpreadRatio = 0.5

// StraddleImpliedMove estimates the market-implied earnings move from the
// at-the-money straddle: (call mid + put mid) / price. A leg counts only if
// its strike is within atmThreshold of price (as a fraction) and its quote
// validates (mid > 0, spread/mid <= 50%). With a single valid leg the move
// doubles that side; with none it returns -1.
func StraddleImpliedMove(calls, puts models.OptionChain, price, atmThreshold float64) float64 {
	if price <= 0 {
		return -1
	}

	callMid, callOK := atmLegMid(calls, price, atmThreshold)
	putMid, putOK := atmLegMid(puts, price, atmThreshold)

	switch {
	case callOK && putOK:
		return (callMid + putMid) / price
	case callOK:
		return 2 * callMid / price
	case putOK:
		return 2 * putMid / price
	default:
		return -1
	}
}

// atmLegMid picks the validated contract nearest the underlying price within
// the ATM band. Symbols iterate in sorted order so ties are stable.
func atmLegMid(c models.OptionChain, price, atmThreshold float64) (float64, bool) {
	band := atmThreshold * price
	bestDiff := math.MaxFloat64
	var bestMid float64
	found := false

	for _, sym := range c.SortedSymbols() {
		contract := c[sym]
		diff := math.Abs(contract.Strike - price)
		if diff > band || diff >= bestDiff {
			continue
		}
		mid := contract.Mid()
		if mid <= 0 {
			continue
		}
		if (contract.Ask-contract.Bid)/mid > maxQuoteSpreadRatio {
			continue
		}
		bestDiff = diff
		bestMid = mid
		found = true
	}
	return bestMid, found
}
