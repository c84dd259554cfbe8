package storage

import "errors"

// Sentinel errors for storage lookups.
var (
	// ErrDecisionNotFound indicates no decision exists for the scan date and
	// ticker.
	ErrDecisionNotFound = errors.New("decision not found")
	// ErrEarningsDateNotFound indicates no earnings date was recorded for
	// the scan date and ticker.
	ErrEarningsDateNotFound = errors.New("earnings date not found")
)
