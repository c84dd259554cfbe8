package gatekeeper

import (
	"github.com/pbaumgartner/ivcrush/internal/config"
	"github.com/pbaumgartner/ivcrush/internal/models"
)

// PositionSize returns the percentage of equity to allocate: the base size
// plus a bonus tranche per optional filter. A partial score (1 of 2) earns
// half a tranche.
func PositionSize(cfg config.SizingConfig, crushScore, stabilityScore int) float64 {
	bonus := cfg.BonusPct * float64(crushScore+stabilityScore) / 2
	return cfg.BasePct + bonus
}

// ScaleToDailyCap rescales approved position sizes in place so the batch
// total never exceeds maxDailyAllocPct. Each approved size keeps its share
// of the total; rejected decisions are untouched. This is the only
// cross-ticker coupling in the pipeline.
func ScaleToDailyCap(decisions []models.TradeDecision, maxDailyAllocPct float64) {
	var total float64
	for i := range decisions {
		if decisions[i].Approved {
			total += decisions[i].PositionSizePct
		}
	}
	if total <= maxDailyAllocPct || total == 0 {
		return
	}

	factor := maxDailyAllocPct / total
	for i := range decisions {
		if decisions[i].Approved {
			decisions[i].PositionSizePct *= factor
		}
	}
}
