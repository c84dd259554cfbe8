// Package gatekeeper evaluates tickers against the calendar-spread entry
// criteria: four mandatory pass/fail filters in fixed order, two optional
// scoring filters, position sizing, and the batch-level allocation cap.
package gatekeeper

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pbaumgartner/ivcrush/internal/broker"
	"github.com/pbaumgartner/ivcrush/internal/cache"
	"github.com/pbaumgartner/ivcrush/internal/chain"
	"github.com/pbaumgartner/ivcrush/internal/config"
	"github.com/pbaumgartner/ivcrush/internal/models"
)

// barHistoryYears bounds the daily-bar lookback: two years of recency-
// weighted earnings history plus room for the post-earnings vol window.
const barHistoryYears = 2

// EarningsSource supplies historical earnings events for a ticker.
type EarningsSource interface {
	HistoricalEarnings(ctx context.Context, symbol string) ([]models.EarningsRecord, error)
}

// Pipeline runs the gatekeeper filters for a scan. Ticker evaluations are
// independent; they share only the fetch cache.
type Pipeline struct {
	broker   broker.Broker
	earnings EarningsSource
	cache    *cache.Manager
	filters  config.FiltersConfig
	sizing   config.SizingConfig
	scan     config.ScanConfig
	logger   *log.Logger
	now      func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(b broker.Broker, e EarningsSource, c *cache.Manager, cfg *config.Config, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(os.Stdout, "[GATEKEEPER] ", log.LstdFlags)
	}
	return &Pipeline{
		broker:   b,
		earnings: e,
		cache:    c,
		filters:  cfg.Filters,
		sizing:   cfg.Sizing,
		scan:     cfg.Scan,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the pipeline's time source. Tests only.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// EvaluateAll runs the pipeline for every ticker on a bounded worker pool,
// waits for the whole batch, then rescales approved sizes to the daily
// allocation cap. A ticker that fails evaluation yields a rejected decision;
// it never aborts the batch.
func (p *Pipeline) EvaluateAll(ctx context.Context, tickers []string) []models.TradeDecision {
	decisions := make([]models.TradeDecision, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.scan.WorkerCount)
	for i, ticker := range tickers {
		i, ticker := i, ticker
		g.Go(func() error {
			decisions[i] = p.Evaluate(gctx, ticker)
			return nil
		})
	}
	// Workers never return errors; the barrier is what matters. Scaling must
	// not start until every decision is in place.
	_ = g.Wait()

	ScaleToDailyCap(decisions, p.sizing.MaxDailyAllocPct)
	return decisions
}

// Evaluate runs the full filter sequence for one ticker. Mandatory filters
// short-circuit at the first failure; optional filters only adjust sizing.
func (p *Pipeline) Evaluate(ctx context.Context, ticker string) models.TradeDecision {
	decision := models.TradeDecision{
		ID:          uuid.NewString(),
		Ticker:      ticker,
		EvaluatedAt: p.now(),
	}

	tc, err := p.buildContext(ctx, ticker)
	if err != nil {
		decision.Reason = fmt.Sprintf("market data unavailable: %v", err)
		p.logger.Printf("%s rejected: %s", ticker, decision.Reason)
		return decision
	}

	mandatory := []func(context.Context, *tickerContext) (models.FilterResult, string){
		p.liquidityFilter,
		p.ivRatioFilter,
		p.termStructureFilter,
		p.executionSpreadFilter,
	}
	for _, filter := range mandatory {
		result, detail := filter(ctx, tc)
		decision.RecordFilter(result)
		if !result.Passed {
			decision.Reason = detail
			p.logger.Printf("%s rejected: %s", ticker, detail)
			return decision
		}
	}

	crush, crushDetail := p.volCrushFilter(ctx, tc)
	decision.RecordFilter(crush)
	stability, stabilityDetail := p.stabilityFilter(ctx, tc)
	decision.RecordFilter(stability)

	decision.Approved = true
	decision.Reason = "approved"
	decision.PositionSizePct = PositionSize(p.sizing, crush.Score, stability.Score)
	p.logger.Printf("%s approved at %.2f%% (crush: %s, stability: %s)",
		ticker, decision.PositionSizePct, crushDetail, stabilityDetail)
	return decision
}

// tickerContext holds the per-ticker market data every filter reads. It is
// assembled once, through the cache, before any filter runs.
type tickerContext struct {
	ticker string
	price  float64
	bars   []models.HistoricalBar
	events []models.EarningsRecord

	shortExp  time.Time
	longExp   time.Time // primary long leg (first target, e.g. 30d)
	longExp2  time.Time // secondary long leg (second target, e.g. 60d)
	hasSecond bool

	shortChain models.OptionChain // calls at the short expiration
	shortPuts  models.OptionChain // puts at the short expiration
	longChain  models.OptionChain // calls at the primary long expiration
	longChain2 models.OptionChain // calls at the secondary long expiration

	strike   float64
	shortLeg models.OptionContract
	longLeg  models.OptionContract
	longLeg2 models.OptionContract
	hasLeg2  bool
}

// buildContext fetches and derives everything the filters need. Any missing
// piece of required data is an error; the caller rejects the ticker
// (fail-closed).
func (p *Pipeline) buildContext(ctx context.Context, ticker string) (*tickerContext, error) {
	today := p.now()

	price, err := cache.Fetch(p.cache, "trade:"+ticker, func() (float64, error) {
		trade, err := p.broker.GetLatestTrade(ctx, ticker)
		if err != nil {
			return 0, err
		}
		return trade.Price, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: latest trade: %w", ticker, err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%s: non-positive last trade price %.4f", ticker, price)
	}

	bars, err := cache.Fetch(p.cache, "bars:"+ticker, func() ([]models.HistoricalBar, error) {
		return p.broker.GetDailyBars(ctx, ticker, today.AddDate(-barHistoryYears, 0, -7), today)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: daily bars: %w", ticker, err)
	}

	events, err := cache.Fetch(p.cache, "earnings:"+ticker, func() ([]models.EarningsRecord, error) {
		return p.earnings.HistoricalEarnings(ctx, ticker)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: earnings history: %w", ticker, err)
	}

	targets := p.scan.LongLegTargetDays
	maxTarget := targets[len(targets)-1]
	windowEnd := today.AddDate(0, 0, maxTarget+45)

	calls, err := cache.Fetch(p.cache, "chain:call:"+ticker, func() (models.OptionChain, error) {
		return p.broker.GetOptionChain(ctx, ticker, today, windowEnd, models.OptionTypeCall)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: call chain: %w", ticker, err)
	}

	exps := expirationsOf(calls)
	shortExp, ok := chain.ShortLegExpiration(exps, today)
	if !ok {
		return nil, fmt.Errorf("%s: no expiration after %s", ticker, today.Format("2006-01-02"))
	}
	longExp, ok := chain.LongLegExpiration(exps, today, shortExp, targets[0])
	if !ok {
		return nil, fmt.Errorf("%s: no long-leg expiration after %s", ticker, shortExp.Format("2006-01-02"))
	}

	tc := &tickerContext{
		ticker:     ticker,
		price:      price,
		bars:       bars,
		events:     events,
		shortExp:   shortExp,
		longExp:    longExp,
		shortChain: chainAtExpiration(calls, shortExp),
		longChain:  chainAtExpiration(calls, longExp),
	}

	if len(targets) > 1 {
		if longExp2, ok := chain.LongLegExpiration(exps, today, shortExp, targets[1]); ok && !longExp2.Equal(longExp) {
			tc.longExp2 = longExp2
			tc.longChain2 = chainAtExpiration(calls, longExp2)
			tc.hasSecond = true
		}
	}

	unionFallback := p.filters.StrikeFallback == config.StrikeUnion
	tc.strike = chain.BestCommonStrike(tc.shortChain, tc.longChain, price, unionFallback)
	if tc.strike < 0 {
		return nil, fmt.Errorf("%s: no common strike between %s and %s legs",
			ticker, shortExp.Format("2006-01-02"), longExp.Format("2006-01-02"))
	}

	tc.shortLeg, ok = chain.OptionForStrike(tc.shortChain, tc.strike)
	if !ok {
		return nil, fmt.Errorf("%s: no short-leg contract at strike %.2f", ticker, tc.strike)
	}
	tc.longLeg, ok = chain.OptionForStrike(tc.longChain, tc.strike)
	if !ok {
		return nil, fmt.Errorf("%s: no long-leg contract at strike %.2f", ticker, tc.strike)
	}
	if tc.hasSecond {
		tc.longLeg2, tc.hasLeg2 = chain.OptionForStrike(tc.longChain2, tc.strike)
	}

	// Puts at the short expiration feed the straddle-implied move; their
	// absence only degrades the optional stability filter.
	puts, err := cache.Fetch(p.cache, "chain:put:"+ticker, func() (models.OptionChain, error) {
		return p.broker.GetOptionChain(ctx, ticker, shortExp, shortExp, models.OptionTypePut)
	})
	if err != nil {
		p.logger.Printf("%s: put chain unavailable, straddle move degrades: %v", ticker, err)
	} else {
		tc.shortPuts = puts
	}

	return tc, nil
}

// expirationsOf returns the distinct expirations present in a chain.
func expirationsOf(c models.OptionChain) []time.Time {
	seen := make(map[time.Time]bool)
	exps := make([]time.Time, 0)
	for _, contract := range c {
		if !seen[contract.Expiration] {
			seen[contract.Expiration] = true
			exps = append(exps, contract.Expiration)
		}
	}
	return exps
}

// chainAtExpiration filters a chain down to one expiration date.
func chainAtExpiration(c models.OptionChain, exp time.Time) models.OptionChain {
	out := make(models.OptionChain)
	for sym, contract := range c {
		if contract.Expiration.Equal(exp) {
			out[sym] = contract
		}
	}
	return out
}
