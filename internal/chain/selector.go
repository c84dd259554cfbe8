// Package chain selects calendar-spread legs from option chains: the
// earnings-week short expiration, the 30/60-day long expiration, and the
// common strike nearest the underlying price.
package chain

import (
	"math"
	"sort"
	"time"

	"github.com/pbaumgartner/ivcrush/internal/models"
)

// ParseExpirations parses YYYY-MM-DD expiration strings, silently dropping
// unparsable entries, and returns the dates sorted ascending.
func ParseExpirations(raw []string) []time.Time {
	exps := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			continue
		}
		exps = append(exps, d)
	}
	sort.Slice(exps, func(i, j int) bool { return exps[i].Before(exps[j]) })
	return exps
}

// ShortLegExpiration returns the earliest expiration strictly after today.
// ok is false when no expiration qualifies.
func ShortLegExpiration(exps []time.Time, today time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, exp := range exps {
		if !exp.After(today) {
			continue
		}
		if !found || exp.Before(best) {
			best = exp
			found = true
		}
	}
	return best, found
}

// LongLegExpiration returns the expiration strictly after shortExp closest to
// today+targetDays. Ties resolve to the earlier date so repeated scans pick
// the same contract.
func LongLegExpiration(exps []time.Time, today, shortExp time.Time, targetDays int) (time.Time, bool) {
	target := today.AddDate(0, 0, targetDays)

	var best time.Time
	bestDiff := math.MaxFloat64
	found := false
	for _, exp := range exps {
		if !exp.After(shortExp) {
			continue
		}
		diff := math.Abs(exp.Sub(target).Hours())
		switch {
		case !found, diff < bestDiff:
			best = exp
			bestDiff = diff
			found = true
		case diff == bestDiff && exp.Before(best):
			best = exp
		}
	}
	return best, found
}

// BestCommonStrike returns the strike present in both chains nearest to
// price. Ties resolve to the lower strike. When the intersection is empty it
// returns -1, unless unionFallback is set, in which case it retries over the
// union of both strike sets.
func BestCommonStrike(a, b models.OptionChain, price float64, unionFallback bool) float64 {
	bStrikes := b.Strikes()
	common := make([]float64, 0, len(bStrikes))
	for _, sa := range a.Strikes() {
		for _, sb := range bStrikes {
			if math.Abs(sa-sb) < models.StrikeTolerance {
				common = append(common, sa)
				break
			}
		}
	}

	if len(common) == 0 {
		if !unionFallback {
			return -1
		}
		common = append(a.Strikes(), bStrikes...)
	}
	return nearestStrike(common, price)
}

// nearestStrike picks the strike closest to price; ties go to the lower
// strike. Returns -1 for an empty set.
func nearestStrike(strikes []float64, price float64) float64 {
	if len(strikes) == 0 {
		return -1
	}
	best := strikes[0]
	bestDiff := math.Abs(strikes[0] - price)
	for _, s := range strikes[1:] {
		diff := math.Abs(s - price)
		if diff < bestDiff || (diff == bestDiff && s < best) {
			best = s
			bestDiff = diff
		}
	}
	return best
}

// OptionForStrike returns the first contract in the chain whose strike is
// within tolerance of strike, iterating symbols in sorted order.
func OptionForStrike(c models.OptionChain, strike float64) (models.OptionContract, bool) {
	for _, sym := range c.SortedSymbols() {
		contract := c[sym]
		if math.Abs(contract.Strike-strike) < models.StrikeTolerance {
			return contract, true
		}
	}
	return models.OptionContract{}, false
}
