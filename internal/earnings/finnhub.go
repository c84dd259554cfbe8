// Package earnings fetches historical earnings events from Finnhub.
package earnings

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pbaumgartner/ivcrush/internal/models"
)

const defaultEndpoint = "https://finnhub.io/api/v1"

// Client is a thin Finnhub REST client for the earnings calendar.
type Client struct {
	http   *resty.Client
	token  string
	logger *log.Logger
}

// NewClient creates a Finnhub client. endpoint falls back to the public API
// when empty.
func NewClient(endpoint, token string, logger *log.Logger) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[EARNINGS] ", log.LstdFlags)
	}

	httpClient := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Client{
		http:   httpClient,
		token:  token,
		logger: logger,
	}
}

// finnhubEarning mirrors one element of the /stock/earnings response. Finnhub
// serializes missing EPS figures as null, which decodes to zero; zero-valued
// entries are kept because downstream consumers only read the date.
type finnhubEarning struct {
	Period   string  `json:"period"`
	Actual   float64 `json:"actual"`
	Estimate float64 `json:"estimate"`
}

// HistoricalEarnings returns past earnings events for a ticker, most recent
// first. Records with unparsable period dates are dropped.
func (c *Client) HistoricalEarnings(ctx context.Context, symbol string) ([]models.EarningsRecord, error) {
	var raw []finnhubEarning
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"token":  c.token,
		}).
		SetResult(&raw).
		Get("/stock/earnings")
	if err != nil {
		return nil, fmt.Errorf("fetching earnings for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching earnings for %s: status %d: %s",
			symbol, resp.StatusCode(), resp.String())
	}

	records := make([]models.EarningsRecord, 0, len(raw))
	for _, e := range raw {
		date, err := time.Parse("2006-01-02", e.Period)
		if err != nil {
			c.logger.Printf("Skipping earnings record for %s with bad period %q", symbol, e.Period)
			continue
		}
		records = append(records, models.EarningsRecord{
			Date:        date,
			ActualEPS:   e.Actual,
			EstimateEPS: e.Estimate,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Date.After(records[j].Date)
	})
	return records, nil
}

// NextEarningsDate returns the earliest earnings date on or after today.
// It reports false when every record is in the past.
func NextEarningsDate(records []models.EarningsRecord, today time.Time) (time.Time, bool) {
	ty, tm, td := today.Date()
	cutoff := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)

	var next time.Time
	found := false
	for _, r := range records {
		if r.Date.Before(cutoff) {
			continue
		}
		if !found || r.Date.Before(next) {
			next = r.Date
			found = true
		}
	}
	return next, found
}
