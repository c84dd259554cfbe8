package monitor

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/pbaumgartner/ivcrush/internal/broker"
	"github.com/pbaumgartner/ivcrush/internal/config"
	"github.com/pbaumgartner/ivcrush/internal/models"
)

// fakeBroker records lifecycle calls.
type fakeBroker struct {
	openOrders []models.OpenOrder
	account    broker.Account
	quotes     map[string]broker.Quote

	canceledIDs  []string
	statusByID   map[string]string
	statusPolls  int
	submitted    []broker.MultiLegOrderRequest
	submitErr    error
	cancelErr    error
	getOrderErr  error
}

var _ broker.Broker = (*fakeBroker)(nil)

func (f *fakeBroker) GetAccount(ctx context.Context) (*broker.Account, error) {
	acct := f.account
	return &acct, nil
}

func (f *fakeBroker) GetMarketClock(ctx context.Context) (*broker.MarketClock, error) {
	return &broker.MarketClock{IsOpen: true}, nil
}

func (f *fakeBroker) IsMarketOpen(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeBroker) GetLatestQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	return &broker.Quote{}, nil
}

func (f *fakeBroker) GetLatestTrade(ctx context.Context, symbol string) (*broker.Trade, error) {
	return &broker.Trade{}, nil
}

func (f *fakeBroker) GetDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]models.HistoricalBar, error) {
	return nil, nil
}

func (f *fakeBroker) GetOptionChain(ctx context.Context, underlying string, gte, lte time.Time, typ models.OptionType) (models.OptionChain, error) {
	return nil, nil
}

func (f *fakeBroker) GetOptionQuote(ctx context.Context, optionSymbol string) (*broker.Quote, error) {
	q, ok := f.quotes[optionSymbol]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &q, nil
}

func (f *fakeBroker) GetOptionDayTradeCount(ctx context.Context, optionSymbol string) (int, error) {
	return 0, nil
}

func (f *fakeBroker) GetOpenOrders(ctx context.Context) ([]models.OpenOrder, error) {
	return f.openOrders, nil
}

func (f *fakeBroker) GetOrder(ctx context.Context, orderID string) (*models.OpenOrder, error) {
	f.statusPolls++
	if f.getOrderErr != nil {
		return nil, f.getOrderErr
	}
	status := f.statusByID[orderID]
	if status == "" {
		status = "canceled"
	}
	return &models.OpenOrder{ID: orderID, Status: status}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceledIDs = append(f.canceledIDs, orderID)
	return nil
}

func (f *fakeBroker) SubmitMultiLegOrder(ctx context.Context, req broker.MultiLegOrderRequest) (*models.OpenOrder, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return &models.OpenOrder{ID: "replacement"}, nil
}

var testNow = time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		RepriceWindowMin:      10,
		ForceWindowMin:        13,
		DriftThreshold:        0.0005,
		ExitDiscount:          0.03,
		CancelConfirmAttempts: 10,
		EntryMarketPolicy:     config.EntryMarketNoop,
	}
}

func testSizing() config.SizingConfig {
	return config.SizingConfig{MaxTradeEquityPct: 0.08}
}

// spreadOrder builds a two-leg calendar order. entry buys the far leg, exit
// sells it.
func spreadOrder(id string, tradeType models.TradeType, ageMinutes float64, limit float64) models.OpenOrder {
	farSide, nearSide := models.SideBuy, models.SideSell
	if tradeType == models.TradeTypeExit {
		farSide, nearSide = models.SideSell, models.SideBuy
	}
	return models.OpenOrder{
		ID:          id,
		OrderClass:  "mleg",
		Type:        "limit",
		Status:      "new",
		SubmittedAt: testNow.Add(-time.Duration(ageMinutes * float64(time.Minute))),
		LimitPrice:  limit,
		Qty:         2,
		Legs: []models.OrderLeg{
			{Symbol: "ACME260925C00100000", Side: farSide, RatioQty: 1},
			{Symbol: "ACME260828C00100000", Side: nearSide, RatioQty: 1},
		},
	}
}

func newTestMonitor(f *fakeBroker) *Monitor {
	m := New(f, testMonitorConfig(), testSizing(), log.New(io.Discard, "", 0))
	m.WithClock(func() time.Time { return testNow })
	m.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return m
}

func richAccount() broker.Account {
	return broker.Account{BuyingPower: 100_000, Equity: 100_000, Cash: 100_000}
}

func TestClassifyAction(t *testing.T) {
	cfg := testMonitorConfig()
	tests := []struct {
		minutes   float64
		tradeType models.TradeType
		want      Action
	}{
		{0, models.TradeTypeEntry, ActionRepriceIfDrifted},
		{9.9, models.TradeTypeExit, ActionRepriceIfDrifted},
		{10, models.TradeTypeEntry, ActionCancel},
		{12.9, models.TradeTypeExit, ActionRepriceAggressive},
		{13, models.TradeTypeExit, ActionConvertToMarket},
		{13, models.TradeTypeEntry, ActionNone},
		{120, models.TradeTypeEntry, ActionNone},
	}
	for _, tt := range tests {
		if got := ClassifyAction(tt.minutes, tt.tradeType, cfg); got != tt.want {
			t.Errorf("ClassifyAction(%.1f, %s) = %d, want %d", tt.minutes, tt.tradeType, got, tt.want)
		}
	}
}

func TestStaleEntryCanceledNotResubmitted(t *testing.T) {
	// Scenario: entry order submitted 11 minutes ago sits in the force window.
	f := &fakeBroker{
		openOrders: []models.OpenOrder{spreadOrder("entry-1", models.TradeTypeEntry, 11, 1.20)},
		account:    richAccount(),
	}

	if err := newTestMonitor(f).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.canceledIDs) != 1 || f.canceledIDs[0] != "entry-1" {
		t.Fatalf("canceled = %v, want [entry-1]", f.canceledIDs)
	}
	if len(f.submitted) != 0 {
		t.Errorf("stale entries must not be resubmitted, got %d submissions", len(f.submitted))
	}
}

func TestStaleExitConvertedToMarket(t *testing.T) {
	// Scenario: exit order submitted 14 minutes ago converts to market with
	// identical legs and quantities.
	order := spreadOrder("exit-1", models.TradeTypeExit, 14, 1.20)
	f := &fakeBroker{
		openOrders: []models.OpenOrder{order},
		account:    richAccount(),
		quotes: map[string]broker.Quote{
			"ACME260925C00100000": {Bid: 2.90, Ask: 3.10},
			"ACME260828C00100000": {Bid: 1.70, Ask: 1.90},
		},
	}

	if err := newTestMonitor(f).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.canceledIDs) != 1 {
		t.Fatalf("expected one cancel, got %v", f.canceledIDs)
	}
	if len(f.submitted) != 1 {
		t.Fatalf("expected one resubmission, got %d", len(f.submitted))
	}

	req := f.submitted[0]
	if req.Type != "market" {
		t.Errorf("type = %s, want market", req.Type)
	}
	if req.Qty != order.Qty {
		t.Errorf("qty = %d, want %d", req.Qty, order.Qty)
	}
	if len(req.Legs) != len(order.Legs) {
		t.Fatalf("legs = %d, want %d", len(req.Legs), len(order.Legs))
	}
	for i, leg := range req.Legs {
		if leg.Symbol != order.Legs[i].Symbol || leg.Side != order.Legs[i].Side || leg.RatioQty != order.Legs[i].RatioQty {
			t.Errorf("leg %d mutated across resubmission: %+v vs %+v", i, leg, order.Legs[i])
		}
	}
}

func TestRepriceOnDrift(t *testing.T) {
	// Fresh exit order: fair value (3.00 - 1.80 = 1.20... quotes below give
	// fair 1.20 vs limit 1.00, drift 20%) well past the threshold.
	f := &fakeBroker{
		openOrders: []models.OpenOrder{spreadOrder("exit-2", models.TradeTypeExit, 5, 1.00)},
		account:    richAccount(),
		quotes: map[string]broker.Quote{
			"ACME260925C00100000": {Bid: 2.90, Ask: 3.10},
			"ACME260828C00100000": {Bid: 1.70, Ask: 1.90},
		},
	}

	if err := newTestMonitor(f).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.submitted) != 1 {
		t.Fatalf("expected a re-priced resubmission, got %d", len(f.submitted))
	}
	req := f.submitted[0]
	if req.Type != "limit" {
		t.Errorf("type = %s, want limit", req.Type)
	}
	// Far mid 3.00 minus near mid 1.80.
	if req.LimitPrice != 1.20 {
		t.Errorf("limit = %.2f, want 1.20", req.LimitPrice)
	}
}

func TestNoRepriceWithinDriftThreshold(t *testing.T) {
	f := &fakeBroker{
		openOrders: []models.OpenOrder{spreadOrder("exit-3", models.TradeTypeExit, 5, 1.20)},
		account:    richAccount(),
		quotes: map[string]broker.Quote{
			"ACME260925C00100000": {Bid: 2.90, Ask: 3.10},
			"ACME260828C00100000": {Bid: 1.70, Ask: 1.90},
		},
	}

	if err := newTestMonitor(f).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.canceledIDs) != 0 || len(f.submitted) != 0 {
		t.Errorf("order at fair value must be left alone (canceled %v, submitted %d)",
			f.canceledIDs, len(f.submitted))
	}
}

func TestForceWindowExitRepricesBelowFair(t *testing.T) {
	f := &fakeBroker{
		openOrders: []models.OpenOrder{spreadOrder("exit-4", models.TradeTypeExit, 11, 1.20)},
		account:    richAccount(),
		quotes: map[string]broker.Quote{
			"ACME260925C00100000": {Bid: 2.90, Ask: 3.10},
			"ACME260828C00100000": {Bid: 1.70, Ask: 1.90},
		},
	}

	if err := newTestMonitor(f).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.submitted) != 1 {
		t.Fatalf("expected one resubmission, got %d", len(f.submitted))
	}
	// Fair 1.20 discounted 3% and rounded to the cent.
	if got := f.submitted[0].LimitPrice; got != 1.16 {
		t.Errorf("aggressive limit = %.2f, want 1.16", got)
	}
}

func TestEntryPastMarketWindowNoopByDefault(t *testing.T) {
	f := &fakeBroker{
		openOrders: []models.OpenOrder{spreadOrder("entry-2", models.TradeTypeEntry, 20, 1.20)},
		account:    richAccount(),
	}

	if err := newTestMonitor(f).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.canceledIDs) != 0 || len(f.submitted) != 0 {
		t.Error("default policy must leave stale entries untouched")
	}
}

func TestEntryPastMarketWindowCancelPolicy(t *testing.T) {
	f := &fakeBroker{
		openOrders: []models.OpenOrder{spreadOrder("entry-3", models.TradeTypeEntry, 20, 1.20)},
		account:    richAccount(),
	}
	cfg := testMonitorConfig()
	cfg.EntryMarketPolicy = config.EntryMarketCancel

	m := New(f, cfg, testSizing(), log.New(io.Discard, "", 0))
	m.WithClock(func() time.Time { return testNow })
	m.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.canceledIDs) != 1 {
		t.Errorf("cancel policy must cancel stale entries, got %v", f.canceledIDs)
	}
	if len(f.submitted) != 0 {
		t.Error("cancel policy must not resubmit")
	}
}

func TestEquityGuardAbortsResubmission(t *testing.T) {
	f := &fakeBroker{
		openOrders: []models.OpenOrder{spreadOrder("exit-5", models.TradeTypeExit, 14, 1.20)},
		// 1.20 * 2 * 100 = 240 trade value; 8% of 2000 equity = 160.
		account: broker.Account{BuyingPower: 100_000, Equity: 2_000},
		quotes: map[string]broker.Quote{
			"ACME260925C00100000": {Bid: 2.90, Ask: 3.10},
			"ACME260828C00100000": {Bid: 1.70, Ask: 1.90},
		},
	}

	if err := newTestMonitor(f).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.canceledIDs) != 0 {
		t.Error("guard failure must abort before the cancel goes out")
	}
	if len(f.submitted) != 0 {
		t.Error("guard failure must block resubmission")
	}
}

func TestCancelConfirmPollsUntilTerminal(t *testing.T) {
	f := &fakeBroker{
		statusByID: map[string]string{"o1": "pending_cancel"},
	}
	m := newTestMonitor(f)

	// Flip to canceled after the third poll.
	polls := 0
	m.WithSleep(func(ctx context.Context, d time.Duration) error {
		polls++
		if polls == 2 {
			f.statusByID["o1"] = "canceled"
		}
		return nil
	})

	if err := m.cancelAndConfirm(context.Background(), "o1"); err != nil {
		t.Fatal(err)
	}
	if f.statusPolls != 3 {
		t.Errorf("status polls = %d, want 3", f.statusPolls)
	}
}

func TestCancelConfirmAssumesSuccessAfterExhaustedPolls(t *testing.T) {
	f := &fakeBroker{
		statusByID: map[string]string{"o1": "pending_cancel"},
	}
	m := newTestMonitor(f)

	if err := m.cancelAndConfirm(context.Background(), "o1"); err != nil {
		t.Fatal(err)
	}
	if f.statusPolls != 10 {
		t.Errorf("status polls = %d, want all 10 attempts", f.statusPolls)
	}
}

func TestHasSufficientEquity(t *testing.T) {
	tests := []struct {
		value, bp, equity float64
		want              bool
	}{
		{100, 200, 10_000, true},
		{300, 200, 10_000, false}, // exceeds buying power
		{100, 200, 1_000, false},  // exceeds 8% of equity
		{80, 80, 1_000, true},     // exactly at both bounds
	}
	for _, tt := range tests {
		if got := HasSufficientEquity(tt.value, tt.bp, tt.equity, 0.08); got != tt.want {
			t.Errorf("HasSufficientEquity(%.0f, %.0f, %.0f) = %v, want %v",
				tt.value, tt.bp, tt.equity, got, tt.want)
		}
	}
}

func TestNonSpreadOrdersIgnored(t *testing.T) {
	f := &fakeBroker{
		openOrders: []models.OpenOrder{
			{ID: "single", OrderClass: "simple", Legs: nil, SubmittedAt: testNow.Add(-20 * time.Minute)},
		},
		account: richAccount(),
	}
	if err := newTestMonitor(f).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.canceledIDs) != 0 || len(f.submitted) != 0 {
		t.Error("non-mleg orders must be ignored")
	}
}
