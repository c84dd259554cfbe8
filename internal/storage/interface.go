// Package storage persists scan decisions and the earnings dates that gate
// them, keyed by (scan date, ticker).
package storage

import (
	"time"

	"github.com/pbaumgartner/ivcrush/internal/models"
)

// DateKey formats a scan date the way storage keys it.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ScanStats summarizes one scan date's decisions.
type ScanStats struct {
	ScanDate           string  `json:"scan_date"`
	Approved           int     `json:"approved"`
	Rejected           int     `json:"rejected"`
	TotalAllocationPct float64 `json:"total_allocation_pct"`
}

// Interface defines the persistence operations the bot needs.
type Interface interface {
	// SaveDecision records the gatekeeper verdict for one ticker on one
	// scan date, overwriting any previous verdict for that pair.
	SaveDecision(scanDate string, decision models.TradeDecision) error

	// GetDecision returns the decision for (scanDate, ticker), or
	// ErrDecisionNotFound.
	GetDecision(scanDate, ticker string) (models.TradeDecision, error)

	// DecisionsByDate returns all decisions for a scan date sorted by
	// ticker. An unknown date yields an empty slice, not an error.
	DecisionsByDate(scanDate string) ([]models.TradeDecision, error)

	// ScanDates returns every scan date with at least one decision, sorted
	// ascending.
	ScanDates() ([]string, error)

	// SaveEarningsDate records the earnings date that gated a ticker's scan.
	SaveEarningsDate(scanDate, ticker string, earningsDate time.Time) error

	// GetEarningsDate returns the recorded earnings date for
	// (scanDate, ticker), or ErrEarningsDateNotFound.
	GetEarningsDate(scanDate, ticker string) (time.Time, error)

	// StatsForDate aggregates a scan date's decisions.
	StatsForDate(scanDate string) (ScanStats, error)
}
