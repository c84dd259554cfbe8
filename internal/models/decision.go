package models

import "time"

// FilterResult is the immutable outcome of a single gatekeeper filter
// invocation. Score applies only to the optional scoring filters:
// 0 = no bonus, 1 = partial, 2 = full.
type FilterResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Score  int    `json:"score,omitempty"`
}

// TradeDecision is the per-ticker verdict produced by the gatekeeper
// pipeline for one scan. PositionSizePct is the only field mutated after
// construction: the coordinator rescales approved sizes once the whole
// batch has been evaluated.
type TradeDecision struct {
	ID              string          `json:"id"`
	Ticker          string          `json:"ticker"`
	Approved        bool            `json:"approved"`
	Reason          string          `json:"reason"`
	PositionSizePct float64         `json:"position_size_pct"`
	FilterResults   map[string]bool `json:"filter_results"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
}

// RecordFilter stores a filter outcome on the decision.
func (d *TradeDecision) RecordFilter(r FilterResult) {
	if d.FilterResults == nil {
		d.FilterResults = make(map[string]bool)
	}
	d.FilterResults[r.Name] = r.Passed
}
