// Package broker provides the brokerage gateway for the calendar-spread bot.
// It implements the Alpaca trading and market-data REST APIs: quotes, trades,
// historical bars, option chain snapshots, account data, and order CRUD.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pbaumgartner/ivcrush/internal/models"
)

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// IsRateLimited reports whether err is an HTTP 429 from the venue.
func IsRateLimited(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusTooManyRequests
}

// AlpacaAPI is a thin typed client over the Alpaca trading and data REST APIs.
type AlpacaAPI struct {
	client      *http.Client
	apiKey      string
	apiSecret   string
	tradingURL  string
	dataURL     string
	retryPolicy RetryPolicy
	limiter     *rate.Limiter
}

// Option customizes an AlpacaAPI client.
type Option func(*AlpacaAPI)

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func WithHTTPClient(c *http.Client) Option {
	return func(a *AlpacaAPI) {
		if c != nil {
			a.client = c
		}
	}
}

// WithBaseURLs overrides the trading and data endpoints (tests, proxies).
func WithBaseURLs(tradingURL, dataURL string) Option {
	return func(a *AlpacaAPI) {
		if tradingURL != "" {
			a.tradingURL = strings.TrimRight(tradingURL, "/")
		}
		if dataURL != "" {
			a.dataURL = strings.TrimRight(dataURL, "/")
		}
	}
}

// WithRetryPolicy overrides the 429 retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(a *AlpacaAPI) { a.retryPolicy = p }
}

// WithRateLimit sets the client-side request rate.
func WithRateLimit(requestsPerSec float64) Option {
	return func(a *AlpacaAPI) {
		if requestsPerSec > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(requestsPerSec), int(requestsPerSec)+1)
		}
	}
}

// NewAlpacaAPI creates a client. paper selects the paper-trading endpoint.
func NewAlpacaAPI(apiKey, apiSecret string, paper bool, opts ...Option) *AlpacaAPI {
	tradingURL := "https://api.alpaca.markets"
	if paper {
		tradingURL = "https://paper-api.alpaca.markets"
	}

	a := &AlpacaAPI{
		client:      &http.Client{Timeout: 30 * time.Second},
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		tradingURL:  tradingURL,
		dataURL:     "https://data.alpaca.markets",
		retryPolicy: DefaultRetryPolicy,
		limiter:     rate.NewLimiter(rate.Limit(3), 4),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ============ API Response Structures ============

// Account holds the account figures the bot reads. Alpaca serializes the
// numeric fields as strings.
type Account struct {
	BuyingPower float64
	Equity      float64
	Cash        float64
}

type accountResponse struct {
	BuyingPower string `json:"buying_power"`
	Equity      string `json:"equity"`
	Cash        string `json:"cash"`
}

// Quote is a top-of-book quote for a stock or option contract.
type Quote struct {
	Bid     float64 `json:"bp"`
	Ask     float64 `json:"ap"`
	BidSize int     `json:"bs"`
	AskSize int     `json:"as"`
}

// Trade is a last-trade record.
type Trade struct {
	Price float64 `json:"p"`
}

// MarketClock is the venue clock response.
type MarketClock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type stockQuoteResponse struct {
	Quote Quote `json:"quote"`
}

type stockTradeResponse struct {
	Trade Trade `json:"trade"`
}

type barJSON struct {
	Timestamp  time.Time `json:"t"`
	Open       float64   `json:"o"`
	High       float64   `json:"h"`
	Low        float64   `json:"l"`
	Close      float64   `json:"c"`
	Volume     int64     `json:"v"`
	TradeCount int64     `json:"n"`
}

type stockBarsResponse struct {
	Bars          []barJSON `json:"bars"`
	NextPageToken *string   `json:"next_page_token"`
}

type optionBarsResponse struct {
	Bars map[string][]barJSON `json:"bars"`
}

type optionSnapshotJSON struct {
	LatestQuote *Quote `json:"latestQuote"`
	Greeks      *struct {
		Delta float64 `json:"delta"`
		Gamma float64 `json:"gamma"`
		Theta float64 `json:"theta"`
		Vega  float64 `json:"vega"`
	} `json:"greeks"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
}

type optionSnapshotsResponse struct {
	Snapshots     map[string]optionSnapshotJSON `json:"snapshots"`
	NextPageToken *string                       `json:"next_page_token"`
}

type optionQuotesResponse struct {
	Quotes map[string]Quote `json:"quotes"`
}

// orderJSON covers the order fields the bot consumes. Quantities and prices
// come back as strings.
type orderJSON struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	OrderClass  string     `json:"order_class"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Qty         string     `json:"qty"`
	LimitPrice  string     `json:"limit_price"`
	Legs        []struct {
		Symbol         string `json:"symbol"`
		Side           string `json:"side"`
		RatioQty       string `json:"ratio_qty"`
		PositionIntent string `json:"position_intent"`
	} `json:"legs"`
}

func (o *orderJSON) toModel() (*models.OpenOrder, error) {
	order := &models.OpenOrder{
		ID:          o.ID,
		Symbol:      o.Symbol,
		OrderClass:  o.OrderClass,
		Type:        o.Type,
		Status:      o.Status,
		SubmittedAt: o.SubmittedAt,
	}
	var err error
	if o.Qty != "" {
		order.Qty, err = strconv.Atoi(o.Qty)
		if err != nil {
			return nil, fmt.Errorf("order %s: invalid qty %q: %w", o.ID, o.Qty, err)
		}
	}
	if o.LimitPrice != "" {
		order.LimitPrice, err = strconv.ParseFloat(o.LimitPrice, 64)
		if err != nil {
			return nil, fmt.Errorf("order %s: invalid limit_price %q: %w", o.ID, o.LimitPrice, err)
		}
	}
	for _, leg := range o.Legs {
		ratio := 1
		if leg.RatioQty != "" {
			ratio, err = strconv.Atoi(leg.RatioQty)
			if err != nil {
				return nil, fmt.Errorf("order %s: invalid ratio_qty %q: %w", o.ID, leg.RatioQty, err)
			}
		}
		order.Legs = append(order.Legs, models.OrderLeg{
			Symbol:         leg.Symbol,
			Side:           models.OrderSide(leg.Side),
			RatioQty:       ratio,
			PositionIntent: leg.PositionIntent,
		})
	}
	return order, nil
}

// MultiLegLeg is one leg of a multi-leg order request.
type MultiLegLeg struct {
	Symbol         string
	Side           models.OrderSide
	RatioQty       int
	PositionIntent string
}

// MultiLegOrderRequest is the order payload for calendar spreads. Parent Qty
// is the minimum across leg quantities under the 1:1 ratio assumption.
type MultiLegOrderRequest struct {
	Type          string // "limit" | "market"
	Qty           int
	LimitPrice    float64 // ignored for market orders
	ClientOrderID string
	Legs          []MultiLegLeg
}

// ============ API Methods ============

// GetAccount retrieves buying power, equity, and cash.
func (a *AlpacaAPI) GetAccount(ctx context.Context) (*Account, error) {
	var resp accountResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, a.tradingURL+"/v2/account", nil, &resp); err != nil {
		return nil, err
	}

	acct := &Account{}
	for _, f := range []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"buying_power", resp.BuyingPower, &acct.BuyingPower},
		{"equity", resp.Equity, &acct.Equity},
		{"cash", resp.Cash, &acct.Cash},
	} {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return nil, fmt.Errorf("account: invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return acct, nil
}

// GetMarketClock retrieves the current market clock.
func (a *AlpacaAPI) GetMarketClock(ctx context.Context) (*MarketClock, error) {
	var clock MarketClock
	if err := a.makeRequestCtx(ctx, http.MethodGet, a.tradingURL+"/v2/clock", nil, &clock); err != nil {
		return nil, err
	}
	return &clock, nil
}

// IsMarketOpen reports whether the venue is currently open for trading.
func (a *AlpacaAPI) IsMarketOpen(ctx context.Context) (bool, error) {
	clock, err := a.GetMarketClock(ctx)
	if err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}

// GetLatestQuote retrieves the latest top-of-book quote for a stock symbol.
func (a *AlpacaAPI) GetLatestQuote(ctx context.Context, symbol string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/quotes/latest", a.dataURL, url.PathEscape(symbol))
	var resp stockQuoteResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Quote, nil
}

// GetLatestTrade retrieves the latest trade for a stock symbol.
func (a *AlpacaAPI) GetLatestTrade(ctx context.Context, symbol string) (*Trade, error) {
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/trades/latest", a.dataURL, url.PathEscape(symbol))
	var resp stockTradeResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Trade, nil
}

// GetDailyBars retrieves daily bars for [start, end], sorted ascending.
func (a *AlpacaAPI) GetDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]models.HistoricalBar, error) {
	params := url.Values{}
	params.Set("timeframe", "1Day")
	params.Set("start", start.Format("2006-01-02"))
	params.Set("end", end.Format("2006-01-02"))
	params.Set("limit", "1000")
	params.Set("adjustment", "split")
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", a.dataURL, url.PathEscape(symbol), params.Encode())

	var resp stockBarsResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching daily bars for %s: %w", symbol, err)
	}

	bars := make([]models.HistoricalBar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		bars = append(bars, models.HistoricalBar{
			Date:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	models.SortBarsAscending(bars)
	return bars, nil
}

// GetOptionChain retrieves option snapshots for an expiration window and
// option type, keyed by contract symbol. Contracts with unparsable symbols
// are skipped; they are not fatal to the batch.
func (a *AlpacaAPI) GetOptionChain(ctx context.Context, underlying string, gte, lte time.Time, typ models.OptionType) (models.OptionChain, error) {
	params := url.Values{}
	params.Set("expiration_date_gte", gte.Format("2006-01-02"))
	params.Set("expiration_date_lte", lte.Format("2006-01-02"))
	params.Set("type", string(typ))
	params.Set("limit", "1000")
	endpoint := fmt.Sprintf("%s/v1beta1/options/snapshots/%s?%s",
		a.dataURL, url.PathEscape(underlying), params.Encode())

	var resp optionSnapshotsResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching option chain for %s: %w", underlying, err)
	}

	chain := make(models.OptionChain, len(resp.Snapshots))
	for symbol, snap := range resp.Snapshots {
		contract := models.OptionContract{
			Symbol:     symbol,
			ImpliedVol: snap.ImpliedVolatility,
		}
		if snap.LatestQuote != nil {
			contract.Bid = snap.LatestQuote.Bid
			contract.Ask = snap.LatestQuote.Ask
			contract.BidSize = snap.LatestQuote.BidSize
			contract.AskSize = snap.LatestQuote.AskSize
		}
		if snap.Greeks != nil {
			contract.Delta = snap.Greeks.Delta
			contract.Gamma = snap.Greeks.Gamma
			contract.Theta = snap.Greeks.Theta
			contract.Vega = snap.Greeks.Vega
		}
		if err := contract.Normalize(); err != nil {
			log.Printf("Skipping contract with invalid symbol %q: %v", symbol, err)
			continue
		}
		chain[symbol] = contract
	}
	return chain, nil
}

// GetOptionQuote retrieves the latest quote for one option contract.
func (a *AlpacaAPI) GetOptionQuote(ctx context.Context, optionSymbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("symbols", optionSymbol)
	endpoint := a.dataURL + "/v1beta1/options/quotes/latest?" + params.Encode()

	var resp optionQuotesResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	quote, ok := resp.Quotes[optionSymbol]
	if !ok {
		return nil, fmt.Errorf("no quote found for option: %s", optionSymbol)
	}
	return &quote, nil
}

// GetOptionDayTradeCount returns the trade count from the contract's most
// recent daily bar, or 0 when the contract has not traded.
func (a *AlpacaAPI) GetOptionDayTradeCount(ctx context.Context, optionSymbol string) (int, error) {
	params := url.Values{}
	params.Set("symbols", optionSymbol)
	params.Set("timeframe", "1Day")
	params.Set("limit", "1")
	params.Set("sort", "desc")
	endpoint := a.dataURL + "/v1beta1/options/bars?" + params.Encode()

	var resp optionBarsResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return 0, err
	}
	bars := resp.Bars[optionSymbol]
	if len(bars) == 0 {
		return 0, nil
	}
	return int(bars[0].TradeCount), nil
}

// GetOpenOrders retrieves all open orders. Order state is read fresh every
// call; it is never cached.
func (a *AlpacaAPI) GetOpenOrders(ctx context.Context) ([]models.OpenOrder, error) {
	params := url.Values{}
	params.Set("status", "open")
	params.Set("limit", "500")
	params.Set("nested", "true")
	endpoint := a.tradingURL + "/v2/orders?" + params.Encode()

	var raw []orderJSON
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}

	orders := make([]models.OpenOrder, 0, len(raw))
	for i := range raw {
		order, err := raw[i].toModel()
		if err != nil {
			log.Printf("Skipping malformed order: %v", err)
			continue
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// GetOrder retrieves a single order by ID.
func (a *AlpacaAPI) GetOrder(ctx context.Context, orderID string) (*models.OpenOrder, error) {
	endpoint := fmt.Sprintf("%s/v2/orders/%s", a.tradingURL, url.PathEscape(orderID))
	var raw orderJSON
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}
	return raw.toModel()
}

// CancelOrder requests cancellation of an order. Multi-leg orders cannot be
// modified in place; the venue requires full cancel-and-resubmit.
func (a *AlpacaAPI) CancelOrder(ctx context.Context, orderID string) error {
	endpoint := fmt.Sprintf("%s/v2/orders/%s", a.tradingURL, url.PathEscape(orderID))
	return a.makeRequestCtx(ctx, http.MethodDelete, endpoint, nil, nil)
}

// SubmitMultiLegOrder places a multi-leg order.
func (a *AlpacaAPI) SubmitMultiLegOrder(ctx context.Context, req MultiLegOrderRequest) (*models.OpenOrder, error) {
	if len(req.Legs) < 2 {
		return nil, fmt.Errorf("multi-leg order requires at least 2 legs, got %d", len(req.Legs))
	}
	if req.Qty <= 0 {
		return nil, fmt.Errorf("invalid order quantity: %d (must be > 0)", req.Qty)
	}
	if req.Type == "limit" && req.LimitPrice <= 0 {
		return nil, fmt.Errorf("invalid limit price: %.4f (must be > 0)", req.LimitPrice)
	}

	type legPayload struct {
		Symbol         string `json:"symbol"`
		Side           string `json:"side"`
		RatioQty       string `json:"ratio_qty"`
		PositionIntent string `json:"position_intent,omitempty"`
	}
	payload := struct {
		OrderClass    string       `json:"order_class"`
		Type          string       `json:"type"`
		TimeInForce   string       `json:"time_in_force"`
		Qty           string       `json:"qty"`
		LimitPrice    string       `json:"limit_price,omitempty"`
		ClientOrderID string       `json:"client_order_id,omitempty"`
		Legs          []legPayload `json:"legs"`
	}{
		OrderClass:    "mleg",
		Type:          req.Type,
		TimeInForce:   "day",
		Qty:           strconv.Itoa(req.Qty),
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == "limit" {
		payload.LimitPrice = strconv.FormatFloat(req.LimitPrice, 'f', 2, 64)
	}
	for _, leg := range req.Legs {
		payload.Legs = append(payload.Legs, legPayload{
			Symbol:         leg.Symbol,
			Side:           string(leg.Side),
			RatioQty:       strconv.Itoa(leg.RatioQty),
			PositionIntent: leg.PositionIntent,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling order payload: %w", err)
	}

	var raw orderJSON
	if err := a.makeRequestCtx(ctx, http.MethodPost, a.tradingURL+"/v2/orders", body, &raw); err != nil {
		return nil, err
	}
	return raw.toModel()
}

// makeRequestCtx performs one HTTP request with rate limiting and bounded
// retry on 429 responses.
func (a *AlpacaAPI) makeRequestCtx(ctx context.Context, method, endpoint string, body []byte, response interface{}) error {
	backoff := a.retryPolicy.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= a.retryPolicy.MaxRetries; attempt++ {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		err := a.doRequest(ctx, method, endpoint, body, response)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRateLimited(err) || attempt == a.retryPolicy.MaxRetries {
			return err
		}

		log.Printf("Rate limited on %s %s, retrying in %v (attempt %d/%d)",
			method, endpoint, backoff, attempt+1, a.retryPolicy.MaxRetries)
		if err := a.retryPolicy.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = a.retryPolicy.nextBackoff(backoff)
	}

	return lastErr
}

func (a *AlpacaAPI) doRequest(ctx context.Context, method, endpoint string, body []byte, response interface{}) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	req.Header.Add("APCA-API-KEY-ID", a.apiKey)
	req.Header.Add("APCA-API-SECRET-KEY", a.apiSecret)
	req.Header.Add("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if readErr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, endpoint, string(respBody), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(respBody))}
	}

	if response == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
