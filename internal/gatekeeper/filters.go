package gatekeeper

import (
	"context"
	"fmt"

	"github.com/pbaumgartner/ivcrush/internal/cache"
	"github.com/pbaumgartner/ivcrush/internal/config"
	"github.com/pbaumgartner/ivcrush/internal/models"
	"github.com/pbaumgartner/ivcrush/internal/stats"
	"github.com/pbaumgartner/ivcrush/internal/util"
)

// Filter names, recorded on every TradeDecision.
const (
	FilterLiquidity       = "liquidity"
	FilterIVRatio         = "iv-ratio"
	FilterTermStructure   = "term-structure"
	FilterExecutionSpread = "execution-spread"
	FilterVolCrush        = "volatility-crush"
	FilterStability       = "earnings-stability"
)

// volumeLookbackBars is the window for the average-daily-volume check.
const volumeLookbackBars = 30

// liquidityFilter gates on share volume, price range, leg quote quality,
// quote depth, and option trading activity.
func (p *Pipeline) liquidityFilter(ctx context.Context, tc *tickerContext) (models.FilterResult, string) {
	fail := func(detail string) (models.FilterResult, string) {
		return models.FilterResult{Name: FilterLiquidity}, FilterLiquidity + ": " + detail
	}
	cfg := p.filters.Liquidity

	recent := lastNBars(tc.bars, volumeLookbackBars)
	if len(recent) == 0 {
		return fail("no volume history")
	}
	var totalVol int64
	for _, b := range recent {
		totalVol += b.Volume
	}
	avgVol := totalVol / int64(len(recent))
	if avgVol < cfg.MinAvgVolume {
		return fail(fmt.Sprintf("average volume %d below %d", avgVol, cfg.MinAvgVolume))
	}

	if tc.price < cfg.MinPrice || tc.price > cfg.MaxPrice {
		return fail(fmt.Sprintf("price %.2f outside [%.2f, %.2f]", tc.price, cfg.MinPrice, cfg.MaxPrice))
	}

	// Every leg that carries a quote must show a tight spread and real depth.
	// When only one leg has option data, that leg alone decides.
	quoted := make([]models.OptionContract, 0, 2)
	for _, leg := range []models.OptionContract{tc.shortLeg, tc.longLeg} {
		if leg.HasQuote() {
			quoted = append(quoted, leg)
		}
	}
	if len(quoted) == 0 {
		return fail("no quoted legs")
	}
	for _, leg := range quoted {
		if r := util.SpreadRatio(leg.Bid, leg.Ask); r > cfg.MaxSpreadPct {
			return fail(fmt.Sprintf("%s spread ratio %.3f exceeds %.3f", leg.Symbol, r, cfg.MaxSpreadPct))
		}
		if depth := minInt(leg.BidSize, leg.AskSize); depth < cfg.MinQuoteDepth {
			return fail(fmt.Sprintf("%s quote depth %d below %d", leg.Symbol, depth, cfg.MinQuoteDepth))
		}
	}

	trades, err := cache.Fetch(p.cache, "opttrades:"+tc.shortLeg.Symbol, func() (int, error) {
		return p.broker.GetOptionDayTradeCount(ctx, tc.shortLeg.Symbol)
	})
	if err != nil {
		return fail(fmt.Sprintf("option trade count unavailable: %v", err))
	}
	if trades < cfg.MinOptionTrades {
		return fail(fmt.Sprintf("option trades %d below %d", trades, cfg.MinOptionTrades))
	}

	return models.FilterResult{Name: FilterLiquidity, Passed: true}, ""
}

// ivRatioFilter gates on IV(short leg) / IV(long leg) at the common strike.
// When option IV is missing and the hv_proxy fallback is enabled, realized
// volatility substitutes for the missing side.
func (p *Pipeline) ivRatioFilter(_ context.Context, tc *tickerContext) (models.FilterResult, string) {
	fail := func(detail string) (models.FilterResult, string) {
		return models.FilterResult{Name: FilterIVRatio}, FilterIVRatio + ": " + detail
	}
	cfg := p.filters.IVRatio

	shortIV := tc.shortLeg.ImpliedVol
	longIV := tc.longLeg.ImpliedVol
	if shortIV <= 0 || longIV <= 0 {
		if cfg.Fallback != config.FallbackHVProxy {
			return fail("option IV unavailable")
		}
		proxy := stats.HistoricalVolatility(lastNBars(tc.bars, 31))
		if proxy <= 0 {
			return fail("option IV unavailable and realized-vol proxy not computable")
		}
		if shortIV <= 0 {
			shortIV = proxy
		}
		if longIV <= 0 {
			longIV = proxy
		}
	}

	ratio := shortIV / longIV
	if ratio < cfg.Threshold {
		return fail(fmt.Sprintf("ratio %.3f below %.3f", ratio, cfg.Threshold))
	}
	return models.FilterResult{Name: FilterIVRatio, Passed: true}, ""
}

// termStructureFilter gates on volatility backwardation: the earnings-week
// IV must sit above the longer-dated legs, or realized volatility must show
// the same inversion.
func (p *Pipeline) termStructureFilter(_ context.Context, tc *tickerContext) (models.FilterResult, string) {
	cfg := p.filters.TermStructure

	ivOK := false
	if tc.shortLeg.ImpliedVol > 0 && tc.longLeg.ImpliedVol > 0 {
		maxLong := tc.longLeg.ImpliedVol
		if tc.hasLeg2 && tc.longLeg2.ImpliedVol > maxLong {
			maxLong = tc.longLeg2.ImpliedVol
		}
		ivOK = tc.shortLeg.ImpliedVol-maxLong >= cfg.SlopeThreshold
	}

	hvOK := false
	rv30 := stats.HistoricalVolatility(lastNBars(tc.bars, 31))
	rv60 := stats.HistoricalVolatility(lastNBars(tc.bars, 61))
	if rv30 > 0 && rv60 > 0 {
		hvOK = rv60-rv30 <= cfg.HVSlope
	}

	if !ivOK && !hvOK {
		return models.FilterResult{Name: FilterTermStructure},
			fmt.Sprintf("%s: no backwardation (IV slope below %.3f, realized-vol inversion absent)",
				FilterTermStructure, cfg.SlopeThreshold)
	}
	return models.FilterResult{Name: FilterTermStructure, Passed: true}, ""
}

// executionSpreadFilter gates on entry cost and the calendar-spread theta
// edge: the net debit must be a small fraction of the share price, and the
// long leg must decay slower than the short leg.
func (p *Pipeline) executionSpreadFilter(_ context.Context, tc *tickerContext) (models.FilterResult, string) {
	fail := func(detail string) (models.FilterResult, string) {
		return models.FilterResult{Name: FilterExecutionSpread}, FilterExecutionSpread + ": " + detail
	}
	cfg := p.filters.ExecutionSpread

	if !tc.shortLeg.HasQuote() || !tc.longLeg.HasQuote() {
		return fail("missing leg quotes")
	}

	debit := tc.longLeg.Ask - tc.shortLeg.Bid
	ratio := debit / tc.price
	if ratio > cfg.MaxDebitRatio {
		return fail(fmt.Sprintf("net debit ratio %.4f exceeds %.4f", ratio, cfg.MaxDebitRatio))
	}

	netTheta := tc.longLeg.Theta - tc.shortLeg.Theta
	if netTheta <= 0 {
		return fail(fmt.Sprintf("net theta %.4f not positive", netTheta))
	}

	return models.FilterResult{Name: FilterExecutionSpread, Passed: true}, ""
}

// volCrushFilter scores whether implied volatility has historically
// collapsed after this ticker's earnings: post-event realized vol divided by
// pre-event realized vol below the crush ratio in enough past events.
func (p *Pipeline) volCrushFilter(_ context.Context, tc *tickerContext) (models.FilterResult, string) {
	cfg := p.filters.VolCrush
	today := p.now()

	counted, crushed := 0, 0
	for _, ev := range tc.events {
		if !ev.Date.Before(today) {
			continue
		}
		if counted >= cfg.LookbackEvents {
			break
		}
		pre := stats.HistoricalVolatility(stats.BarsInWindow(tc.bars, ev.Date.AddDate(0, 0, -7), ev.Date.AddDate(0, 0, -1)))
		post := stats.HistoricalVolatility(stats.BarsInWindow(tc.bars, ev.Date.AddDate(0, 0, 1), ev.Date.AddDate(0, 0, 7)))
		if pre <= 0 || post <= 0 {
			continue
		}
		counted++
		if post/pre < cfg.CrushRatio {
			crushed++
		}
	}

	if counted == 0 {
		return models.FilterResult{Name: FilterVolCrush}, "no measurable earnings events"
	}
	freq := float64(crushed) / float64(counted)
	if freq < cfg.MinFrequency {
		return models.FilterResult{Name: FilterVolCrush},
			fmt.Sprintf("crush frequency %.2f below %.2f over %d events", freq, cfg.MinFrequency, counted)
	}
	return models.FilterResult{Name: FilterVolCrush, Passed: true, Score: 2},
		fmt.Sprintf("crush frequency %.2f over %d events", freq, counted)
}

// stabilityFilter scores whether the stock historically sits still through
// earnings while the market currently prices in an outsized move. Without
// straddle data the historical half alone earns a partial score.
func (p *Pipeline) stabilityFilter(_ context.Context, tc *tickerContext) (models.FilterResult, string) {
	cfg := p.filters.Stability
	today := p.now()
	cutoff := today.AddDate(-2, 0, 0)

	considered := make([]models.EarningsRecord, 0, p.filters.VolCrush.LookbackEvents)
	moves := make([]float64, 0, p.filters.VolCrush.LookbackEvents)
	for _, ev := range tc.events {
		if !ev.Date.Before(today) {
			continue
		}
		if len(considered) >= p.filters.VolCrush.LookbackEvents {
			break
		}
		considered = append(considered, ev)
		moves = append(moves, stats.EarningsDayMoveWithGap(tc.bars, ev.Date))
	}

	valid, stable := 0, 0
	for _, m := range moves {
		if m < 0 {
			continue
		}
		valid++
		if m <= cfg.MoveThreshold {
			stable++
		}
	}
	if valid == 0 {
		return models.FilterResult{Name: FilterStability}, "no measurable earnings moves"
	}
	ratio := float64(stable) / float64(valid)
	if ratio < cfg.StabilityThreshold {
		return models.FilterResult{Name: FilterStability},
			fmt.Sprintf("stability ratio %.2f below %.2f over %d events", ratio, cfg.StabilityThreshold, valid)
	}

	avgMove := stats.WeightedAverageMove(considered, moves, cutoff)
	implied := stats.StraddleImpliedMove(tc.shortChain, tc.shortPuts, tc.price, p.filters.ATMThresholdPct)
	if implied < 0 || avgMove < 0 {
		return models.FilterResult{Name: FilterStability, Passed: true, Score: 1},
			"partial: stable history, no straddle data"
	}
	if implied <= cfg.ImpliedMoveMultiplier*avgMove {
		return models.FilterResult{Name: FilterStability},
			fmt.Sprintf("implied move %.4f does not exceed %.1fx historical %.4f",
				implied, cfg.ImpliedMoveMultiplier, avgMove)
	}
	return models.FilterResult{Name: FilterStability, Passed: true, Score: 2},
		fmt.Sprintf("implied move %.4f vs historical %.4f", implied, avgMove)
}

// lastNBars returns up to the last n bars.
func lastNBars(bars []models.HistoricalBar, n int) []models.HistoricalBar {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
