// Package monitor manages in-flight multi-leg orders through a time-phased
// lifecycle: fresh orders are re-priced when the market drifts, aging orders
// are canceled or re-priced aggressively, and stale exits are converted to
// market orders. Multi-leg orders cannot be modified in place, so every
// price change is a cancel, confirm, resubmit sequence.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbaumgartner/ivcrush/internal/broker"
	"github.com/pbaumgartner/ivcrush/internal/config"
	"github.com/pbaumgartner/ivcrush/internal/models"
	"github.com/pbaumgartner/ivcrush/internal/util"
)

// ErrInsufficientCapital aborts a single order's resubmission when the
// equity guard fails. Other orders in the same pass are unaffected.
var ErrInsufficientCapital = errors.New("insufficient capital for resubmission")

// contractMultiplier converts an option price to dollars per contract.
const contractMultiplier = 100

// pollInterval spaces the cancel-confirmation status polls.
const pollInterval = 500 * time.Millisecond

// Action is the lifecycle decision for one order in one monitoring pass.
type Action int

const (
	// ActionNone leaves the order alone.
	ActionNone Action = iota
	// ActionRepriceIfDrifted re-prices the order when fair value has moved.
	ActionRepriceIfDrifted
	// ActionCancel cancels without resubmitting.
	ActionCancel
	// ActionRepriceAggressive re-prices an exit below fair for a likelier fill.
	ActionRepriceAggressive
	// ActionConvertToMarket resubmits an exit as a market order.
	ActionConvertToMarket
)

// ClassifyAction maps elapsed minutes and trade type to a lifecycle action.
// It is a pure function; the caller applies the entry-market policy for the
// ActionNone case past the force window.
func ClassifyAction(minutesElapsed float64, tradeType models.TradeType, cfg config.MonitorConfig) Action {
	switch {
	case minutesElapsed < float64(cfg.RepriceWindowMin):
		return ActionRepriceIfDrifted
	case minutesElapsed < float64(cfg.ForceWindowMin):
		if tradeType == models.TradeTypeEntry {
			return ActionCancel
		}
		return ActionRepriceAggressive
	default:
		if tradeType == models.TradeTypeEntry {
			return ActionNone
		}
		return ActionConvertToMarket
	}
}

// Monitor drives the order lifecycle over the broker.
type Monitor struct {
	broker broker.Broker
	cfg    config.MonitorConfig
	sizing config.SizingConfig
	logger *log.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Monitor.
func New(b broker.Broker, cfg config.MonitorConfig, sizing config.SizingConfig, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stdout, "[MONITOR] ", log.LstdFlags)
	}
	return &Monitor{
		broker: b,
		cfg:    cfg,
		sizing: sizing,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// WithClock overrides the time source. Tests only.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// WithSleep overrides the confirmation-poll sleep. Tests only.
func (m *Monitor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Monitor {
	m.sleep = sleep
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce reads all open orders fresh and applies one lifecycle pass. A
// failure on one order is logged and never aborts the rest.
func (m *Monitor) RunOnce(ctx context.Context) error {
	orders, err := m.broker.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("listing open orders: %w", err)
	}

	for i := range orders {
		if err := m.processOrder(ctx, &orders[i]); err != nil {
			m.logger.Printf("order %s: %v", orders[i].ID, err)
		}
	}
	return nil
}

func (m *Monitor) processOrder(ctx context.Context, order *models.OpenOrder) error {
	if order.OrderClass != "mleg" || len(order.Legs) < 2 {
		return nil
	}

	tradeType, err := order.ClassifyTradeType()
	if err != nil {
		return fmt.Errorf("classifying: %w", err)
	}

	elapsed := m.now().Sub(order.SubmittedAt).Minutes()
	action := ClassifyAction(elapsed, tradeType, m.cfg)

	switch action {
	case ActionNone:
		if m.cfg.EntryMarketPolicy == config.EntryMarketCancel {
			m.logger.Printf("order %s: stale entry past force window, canceling per policy", order.ID)
			return m.cancelAndConfirm(ctx, order.ID)
		}
		m.logger.Printf("order %s: WARNING entry order still open after %.0f minutes, leaving untouched", order.ID, elapsed)
		return nil

	case ActionCancel:
		m.logger.Printf("order %s: entry stale after %.1f minutes, canceling", order.ID, elapsed)
		return m.cancelAndConfirm(ctx, order.ID)

	case ActionRepriceIfDrifted:
		fair, err := m.fairPrice(ctx, order)
		if err != nil {
			return fmt.Errorf("computing fair price: %w", err)
		}
		if order.LimitPrice <= 0 {
			return nil
		}
		drift := math.Abs(fair-order.LimitPrice) / order.LimitPrice
		if drift <= m.cfg.DriftThreshold {
			return nil
		}
		m.logger.Printf("order %s: drift %.5f exceeds %.5f, re-pricing %.2f -> %.2f",
			order.ID, drift, m.cfg.DriftThreshold, order.LimitPrice, fair)
		return m.replaceOrder(ctx, order, "limit", fair)

	case ActionRepriceAggressive:
		fair, err := m.fairPrice(ctx, order)
		if err != nil {
			return fmt.Errorf("computing fair price: %w", err)
		}
		aggressive := util.RoundToTick(fair*(1-m.cfg.ExitDiscount), 0.01)
		m.logger.Printf("order %s: exit in force window, re-pricing aggressively at %.2f", order.ID, aggressive)
		return m.replaceOrder(ctx, order, "limit", aggressive)

	case ActionConvertToMarket:
		fair, err := m.fairPrice(ctx, order)
		if err != nil {
			// The equity guard needs a price estimate; the resting limit is
			// the best available when quotes are gone.
			fair = order.LimitPrice
		}
		m.logger.Printf("order %s: exit past market window, converting to market", order.ID)
		return m.replaceOrder(ctx, order, "market", fair)
	}
	return nil
}

// fairPrice recomputes the spread's fair value from live leg quotes: the
// absolute signed sum of leg midpoints (bought legs add, sold legs
// subtract), rounded to the cent.
func (m *Monitor) fairPrice(ctx context.Context, order *models.OpenOrder) (float64, error) {
	var signed float64
	for _, leg := range order.Legs {
		quote, err := m.broker.GetOptionQuote(ctx, leg.Symbol)
		if err != nil {
			return 0, fmt.Errorf("quote for leg %s: %w", leg.Symbol, err)
		}
		mid := util.Mid(quote.Bid, quote.Ask)
		if mid <= 0 {
			return 0, fmt.Errorf("leg %s has no usable quote", leg.Symbol)
		}
		if leg.Side == models.SideBuy {
			signed += mid * float64(leg.RatioQty)
		} else {
			signed -= mid * float64(leg.RatioQty)
		}
	}
	return util.RoundToTick(math.Abs(signed), 0.01), nil
}

// replaceOrder runs the cancel, confirm, resubmit sequence. Legs, sides, and
// quantities carry over verbatim; only the price or order type changes. The
// equity guard runs before the resubmission so a failed guard aborts this
// order only, after the cancel already went out.
func (m *Monitor) replaceOrder(ctx context.Context, order *models.OpenOrder, orderType string, price float64) error {
	account, err := m.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("reading account: %w", err)
	}
	tradeValue := math.Abs(price * float64(order.Qty) * contractMultiplier)
	if !HasSufficientEquity(tradeValue, account.BuyingPower, account.Equity, m.sizing.MaxTradeEquityPct) {
		return fmt.Errorf("%w: trade value %.2f, buying power %.2f, equity %.2f",
			ErrInsufficientCapital, tradeValue, account.BuyingPower, account.Equity)
	}

	if err := m.cancelAndConfirm(ctx, order.ID); err != nil {
		return err
	}

	req := broker.MultiLegOrderRequest{
		Type:          orderType,
		Qty:           order.Qty,
		ClientOrderID: resubmitTag(order.ID),
		Legs:          make([]broker.MultiLegLeg, 0, len(order.Legs)),
	}
	if orderType == "limit" {
		req.LimitPrice = price
	}
	for _, leg := range order.Legs {
		req.Legs = append(req.Legs, broker.MultiLegLeg{
			Symbol:         leg.Symbol,
			Side:           leg.Side,
			RatioQty:       leg.RatioQty,
			PositionIntent: leg.PositionIntent,
		})
	}

	replacement, err := m.broker.SubmitMultiLegOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("resubmitting: %w", err)
	}
	m.logger.Printf("order %s replaced by %s (%s)", order.ID, replacement.ID, orderType)
	return nil
}

// cancelAndConfirm issues the cancel and polls for a terminal status. When
// the attempts run out, cancellation is assumed to have succeeded; blocking
// forever on an unconfirmed cancel is worse than the rare double-submission
// it risks.
func (m *Monitor) cancelAndConfirm(ctx context.Context, orderID string) error {
	if err := m.broker.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("canceling: %w", err)
	}

	for attempt := 1; attempt <= m.cfg.CancelConfirmAttempts; attempt++ {
		order, err := m.broker.GetOrder(ctx, orderID)
		if err != nil {
			m.logger.Printf("order %s: status poll %d failed: %v", orderID, attempt, err)
		} else if isCanceled(order.Status) {
			return nil
		}
		if attempt < m.cfg.CancelConfirmAttempts {
			if err := m.sleep(ctx, pollInterval); err != nil {
				return err
			}
		}
	}
	m.logger.Printf("order %s: cancel unconfirmed after %d polls, assuming success", orderID, m.cfg.CancelConfirmAttempts)
	return nil
}

func isCanceled(status string) bool {
	switch strings.ToLower(status) {
	case "canceled", "cancelled", "rejected":
		return true
	}
	return false
}

// HasSufficientEquity reports whether a trade value fits within buying power
// and the per-trade equity cap.
func HasSufficientEquity(tradeValue, buyingPower, equity, maxTradeEquityPct float64) bool {
	return tradeValue <= buyingPower && tradeValue <= maxTradeEquityPct*equity
}

// resubmitTag builds an idempotent client order id for a replacement order.
func resubmitTag(originalID string) string {
	short := uuid.NewString()[:8]
	if len(originalID) > 8 {
		originalID = originalID[:8]
	}
	return fmt.Sprintf("resub-%s-%s", originalID, short)
}
