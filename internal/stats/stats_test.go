package stats

import (
	"math"
	"testing"
	"time"

	"github.com/pbaumgartner/ivcrush/internal/models"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func barsFromCloses(start string, closes ...float64) []models.HistoricalBar {
	bars := make([]models.HistoricalBar, len(closes))
	d := day(start)
	for i, c := range closes {
		bars[i] = models.HistoricalBar{
			Date:  d.AddDate(0, 0, i),
			Open:  c,
			Close: c,
		}
	}
	return bars
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestHistoricalVolatility(t *testing.T) {
	// Constant prices have zero volatility.
	if hv := HistoricalVolatility(barsFromCloses("2026-01-01", 100, 100, 100, 100)); hv != 0 {
		t.Errorf("constant closes: got %v, want 0", hv)
	}

	// Alternating +10%/-~9.1% log returns: r = +/-ln(1.1), mean 0,
	// sample stdev = ln(1.1) * sqrt(n/(n-1)).
	bars := barsFromCloses("2026-01-01", 100, 110, 100, 110, 100)
	r := math.Log(1.1)
	want := r * math.Sqrt(4.0/3.0) * math.Sqrt(TradingDaysPerYear)
	if hv := HistoricalVolatility(bars); math.Abs(hv-want) > 1e-9 {
		t.Errorf("got %v, want %v", hv, want)
	}
}

func TestHistoricalVolatilityInsufficientData(t *testing.T) {
	if hv := HistoricalVolatility(nil); hv != 0 {
		t.Errorf("nil bars: got %v, want 0", hv)
	}
	if hv := HistoricalVolatility(barsFromCloses("2026-01-01", 100, 110)); hv != 0 {
		t.Errorf("single return: got %v, want 0", hv)
	}
	// Non-positive closes are skipped, leaving too few returns.
	bars := barsFromCloses("2026-01-01", 100, 0, 110)
	if hv := HistoricalVolatility(bars); hv != 0 {
		t.Errorf("bad closes: got %v, want 0", hv)
	}
}

func TestBarsInWindow(t *testing.T) {
	bars := barsFromCloses("2026-08-01", 1, 2, 3, 4, 5)
	got := BarsInWindow(bars, day("2026-08-02"), day("2026-08-04"))
	if len(got) != 3 {
		t.Fatalf("got %d bars, want 3", len(got))
	}
	if got[0].Close != 2 || got[2].Close != 4 {
		t.Errorf("window bounds must be inclusive: %v", got)
	}
}

func TestEarningsDayMove(t *testing.T) {
	bars := []models.HistoricalBar{
		{Date: day("2026-08-24"), Open: 100, Close: 98},
		{Date: day("2026-08-25"), Open: 100, Close: 107},
	}

	if got := EarningsDayMove(bars, day("2026-08-25")); !almostEqual(got, 0.07) {
		t.Errorf("got %v, want 0.07", got)
	}
	if got := EarningsDayMove(bars, day("2026-08-20")); got != -1 {
		t.Errorf("no matching bar: got %v, want -1", got)
	}

	bars[1].Open = 0
	if got := EarningsDayMove(bars, day("2026-08-25")); got != -1 {
		t.Errorf("non-positive open: got %v, want -1", got)
	}
}

func TestEarningsDayMoveWithGap(t *testing.T) {
	bars := []models.HistoricalBar{
		{Date: day("2026-08-24"), Open: 100, Close: 100},
		{Date: day("2026-08-25"), Open: 104, Close: 106},
	}

	// Measured against the prior close, the overnight gap counts.
	if got := EarningsDayMoveWithGap(bars, day("2026-08-25")); !almostEqual(got, 0.06) {
		t.Errorf("got %v, want 0.06", got)
	}

	// First bar falls back to the intraday move.
	if got := EarningsDayMoveWithGap(bars, day("2026-08-24")); !almostEqual(got, 0.0) {
		t.Errorf("fallback: got %v, want 0", got)
	}

	if got := EarningsDayMoveWithGap(bars, day("2026-08-20")); got != -1 {
		t.Errorf("no matching bar: got %v, want -1", got)
	}
}

func TestRecencyWeight(t *testing.T) {
	cutoff := day("2024-08-26")
	if w := RecencyWeight(day("2025-01-15"), cutoff); w != 2.0 {
		t.Errorf("recent event: got %v, want 2.0", w)
	}
	if w := RecencyWeight(day("2023-01-15"), cutoff); w != 1.0 {
		t.Errorf("old event: got %v, want 1.0", w)
	}
	if w := RecencyWeight(cutoff, cutoff); w != 1.0 {
		t.Errorf("cutoff itself is not after cutoff: got %v, want 1.0", w)
	}
}

func TestWeightedAverageMove(t *testing.T) {
	cutoff := day("2024-08-26")
	records := []models.EarningsRecord{
		{Date: day("2025-04-30")}, // weight 2
		{Date: day("2023-04-30")}, // weight 1
		{Date: day("2022-04-30")}, // invalid move, skipped
	}
	moves := []float64{0.04, 0.10, -1}

	// (0.04*2 + 0.10*1) / 3 = 0.06
	if got := WeightedAverageMove(records, moves, cutoff); !almostEqual(got, 0.06) {
		t.Errorf("got %v, want 0.06", got)
	}

	if got := WeightedAverageMove(records, []float64{-1, -1, -1}, cutoff); got != -1 {
		t.Errorf("all invalid: got %v, want -1", got)
	}
	if got := WeightedAverageMove(nil, nil, cutoff); got != -1 {
		t.Errorf("empty records: got %v, want -1", got)
	}
}

func TestStraddleImpliedMove(t *testing.T) {
	calls := models.OptionChain{
		"AAPL260828C00100000": {Symbol: "AAPL260828C00100000", Strike: 100, Bid: 1.90, Ask: 2.10},
	}
	puts := models.OptionChain{
		"AAPL260828P00100000": {Symbol: "AAPL260828P00100000", Strike: 100, Bid: 1.40, Ask: 1.60},
	}

	// Call mid 2.00, put mid 1.50, price 100 -> 3.50/100.
	if got := StraddleImpliedMove(calls, puts, 100, 0.02); !almostEqual(got, 0.035) {
		t.Errorf("got %v, want 0.035", got)
	}
}

func TestStraddleImpliedMoveSingleLegDoubles(t *testing.T) {
	calls := models.OptionChain{
		"AAPL260828C00100000": {Symbol: "AAPL260828C00100000", Strike: 100, Bid: 1.90, Ask: 2.10},
	}
	// Put quote too wide: spread/mid > 50%.
	puts := models.OptionChain{
		"AAPL260828P00100000": {Symbol: "AAPL260828P00100000", Strike: 100, Bid: 0.50, Ask: 2.50},
	}

	if got := StraddleImpliedMove(calls, puts, 100, 0.02); !almostEqual(got, 0.04) {
		t.Errorf("got %v, want doubled call side 0.04", got)
	}
}

func TestStraddleImpliedMoveNoValidLegs(t *testing.T) {
	// Strikes outside the 2% ATM band.
	calls := models.OptionChain{
		"AAPL260828C00110000": {Symbol: "AAPL260828C00110000", Strike: 110, Bid: 1.90, Ask: 2.10},
	}
	if got := StraddleImpliedMove(calls, nil, 100, 0.02); got != -1 {
		t.Errorf("got %v, want -1", got)
	}
	if got := StraddleImpliedMove(calls, nil, 0, 0.02); got != -1 {
		t.Errorf("non-positive price: got %v, want -1", got)
	}
}
