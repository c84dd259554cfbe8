// Package models provides the typed market entities shared across the bot:
// option contracts, historical bars, earnings records, trade decisions, and
// open multi-leg orders.
package models

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// StrikeTolerance is the tolerance used for strike price comparisons.
// Strike matching never requires exact float equality.
const StrikeTolerance = 0.01

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypeCall represents a call option contract.
	OptionTypeCall OptionType = "call"
	// OptionTypePut represents a put option contract.
	OptionTypePut OptionType = "put"
)

// OptionContract is a single option contract with quote and greeks data.
// Strike, expiration, and type are parsed from the OCC symbol when the data
// source does not supply them directly.
type OptionContract struct {
	Symbol     string     `json:"symbol"`
	Underlying string     `json:"underlying"`
	Expiration time.Time  `json:"expiration"`
	Type       OptionType `json:"type"`
	Strike     float64    `json:"strike"`
	Bid        float64    `json:"bid"`
	Ask        float64    `json:"ask"`
	BidSize    int        `json:"bid_size"`
	AskSize    int        `json:"ask_size"`
	ImpliedVol float64    `json:"implied_vol"`
	Delta      float64    `json:"delta"`
	Theta      float64    `json:"theta"`
	Gamma      float64    `json:"gamma"`
	Vega       float64    `json:"vega"`
}

// Mid returns the bid/ask midpoint.
func (o *OptionContract) Mid() float64 {
	return (o.Bid + o.Ask) / 2
}

// HasQuote reports whether the contract carries a usable two-sided quote.
func (o *OptionContract) HasQuote() bool {
	return o.Bid > 0 && o.Ask > 0
}

// Normalize fills Strike/Expiration/Type from the OCC symbol when missing and
// validates the contract invariants (strike > 0, valid expiration, known type).
func (o *OptionContract) Normalize() error {
	if o.Strike <= 0 || o.Expiration.IsZero() || (o.Type != OptionTypeCall && o.Type != OptionTypePut) {
		underlying, exp, typ, strike, err := ParseOptionSymbol(o.Symbol)
		if err != nil {
			return err
		}
		if o.Underlying == "" {
			o.Underlying = underlying
		}
		if o.Expiration.IsZero() {
			o.Expiration = exp
		}
		if o.Type != OptionTypeCall && o.Type != OptionTypePut {
			o.Type = typ
		}
		if o.Strike <= 0 {
			o.Strike = strike
		}
	}
	if o.Strike <= 0 {
		return fmt.Errorf("option %s: strike must be > 0, got %.4f", o.Symbol, o.Strike)
	}
	if o.Expiration.IsZero() {
		return fmt.Errorf("option %s: missing expiration", o.Symbol)
	}
	if o.Type != OptionTypeCall && o.Type != OptionTypePut {
		return fmt.Errorf("option %s: unknown option type %q", o.Symbol, o.Type)
	}
	return nil
}

// OptionChain maps contract symbol to contract for one underlying, fetched
// for an expiration window and option type. May be empty.
type OptionChain map[string]OptionContract

// SortedSymbols returns the chain's symbols in sorted order so iteration is
// deterministic wherever first-match semantics apply.
func (c OptionChain) SortedSymbols() []string {
	symbols := make([]string, 0, len(c))
	for sym := range c {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// Strikes returns the distinct strikes present in the chain, sorted ascending.
func (c OptionChain) Strikes() []float64 {
	seen := make(map[float64]bool, len(c))
	strikes := make([]float64, 0, len(c))
	for _, contract := range c {
		if !seen[contract.Strike] {
			seen[contract.Strike] = true
			strikes = append(strikes, contract.Strike)
		}
	}
	sort.Float64s(strikes)
	return strikes
}

// ParseOptionSymbol parses an OCC/OSI option symbol into its components.
// Format: UNDERLYING + YYMMDD + C|P + 8-digit strike*1000,
// e.g. "AAPL240621C00190000" -> AAPL, 2024-06-21, call, 190.00.
func ParseOptionSymbol(symbol string) (underlying string, expiration time.Time, typ OptionType, strike float64, err error) {
	// Minimum: 1-char underlying + 6-digit date + type char + 8-digit strike.
	if len(symbol) < 16 {
		err = fmt.Errorf("option symbol too short: %q", symbol)
		return
	}

	strikeStart := len(symbol) - 8
	if !allDigits(symbol[strikeStart:]) {
		err = fmt.Errorf("option symbol %q: strike suffix is not 8 digits", symbol)
		return
	}

	typeChar := symbol[strikeStart-1]
	switch typeChar {
	case 'C', 'c':
		typ = OptionTypeCall
	case 'P', 'p':
		typ = OptionTypePut
	default:
		err = fmt.Errorf("option symbol %q: expected C or P before strike, got %q", symbol, typeChar)
		return
	}

	dateStart := strikeStart - 7
	if dateStart < 1 || !allDigits(symbol[dateStart:dateStart+6]) {
		err = fmt.Errorf("option symbol %q: missing YYMMDD expiration", symbol)
		return
	}

	expiration, err = time.Parse("060102", symbol[dateStart:dateStart+6])
	if err != nil {
		err = fmt.Errorf("option symbol %q: invalid expiration: %w", symbol, err)
		return
	}

	strikeInt, parseErr := strconv.ParseInt(symbol[strikeStart:], 10, 64)
	if parseErr != nil {
		err = fmt.Errorf("option symbol %q: invalid strike: %w", symbol, parseErr)
		return
	}
	strike = float64(strikeInt) / 1000.0
	if strike <= 0 {
		err = fmt.Errorf("option symbol %q: strike must be > 0", symbol)
		return
	}

	underlying = symbol[:dateStart]
	return
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
