package models

import (
	"fmt"
	"time"
)

// OrderSide is a leg's direction.
type OrderSide string

const (
	// SideBuy buys the leg.
	SideBuy OrderSide = "buy"
	// SideSell sells the leg.
	SideSell OrderSide = "sell"
)

// TradeType classifies a multi-leg order as opening or closing a spread.
type TradeType string

const (
	// TradeTypeEntry opens a calendar spread (far leg bought).
	TradeTypeEntry TradeType = "entry"
	// TradeTypeExit closes a calendar spread (far leg sold).
	TradeTypeExit TradeType = "exit"
)

// OrderLeg is one leg of a multi-leg order.
type OrderLeg struct {
	Symbol         string    `json:"symbol"`
	Side           OrderSide `json:"side"`
	RatioQty       int       `json:"ratio_qty"`
	PositionIntent string    `json:"position_intent,omitempty"`
}

// OpenOrder is an in-flight order read fresh from the venue on every
// monitoring pass. Order state is financial state; it is never cached.
type OpenOrder struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	OrderClass  string     `json:"order_class"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	LimitPrice  float64    `json:"limit_price"`
	Qty         int        `json:"qty"`
	Legs        []OrderLeg `json:"legs"`
}

// FarLeg returns the leg with the latest expiration. Calendar spreads hold
// exactly two legs on the same strike with different expirations.
func (o *OpenOrder) FarLeg() (*OrderLeg, error) {
	if len(o.Legs) < 2 {
		return nil, fmt.Errorf("order %s: expected multi-leg order, got %d leg(s)", o.ID, len(o.Legs))
	}

	var far *OrderLeg
	var farExp time.Time
	for i := range o.Legs {
		_, exp, _, _, err := ParseOptionSymbol(o.Legs[i].Symbol)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", o.ID, err)
		}
		if far == nil || exp.After(farExp) {
			far = &o.Legs[i]
			farExp = exp
		}
	}
	return far, nil
}

// NearLeg returns the leg with the earliest expiration.
func (o *OpenOrder) NearLeg() (*OrderLeg, error) {
	if len(o.Legs) < 2 {
		return nil, fmt.Errorf("order %s: expected multi-leg order, got %d leg(s)", o.ID, len(o.Legs))
	}

	var near *OrderLeg
	var nearExp time.Time
	for i := range o.Legs {
		_, exp, _, _, err := ParseOptionSymbol(o.Legs[i].Symbol)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", o.ID, err)
		}
		if near == nil || exp.Before(nearExp) {
			near = &o.Legs[i]
			nearExp = exp
		}
	}
	return near, nil
}

// ClassifyTradeType tags the order entry or exit: the later-expiring leg is
// the "far" leg, and buying it opens a calendar spread while selling it
// closes one.
func (o *OpenOrder) ClassifyTradeType() (TradeType, error) {
	far, err := o.FarLeg()
	if err != nil {
		return "", err
	}
	switch far.Side {
	case SideBuy:
		return TradeTypeEntry, nil
	case SideSell:
		return TradeTypeExit, nil
	default:
		return "", fmt.Errorf("order %s: unknown side %q on far leg", o.ID, far.Side)
	}
}
