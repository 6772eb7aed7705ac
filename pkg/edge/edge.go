// Package edge compares a model probability with a binary market's quote.
package edge

import (
	"github.com/shopspring/decimal"
)

// Fixed policy thresholds, in percentage points.
const (
	OpportunityThresholdPct  = 5.0
	LowLiquidityThresholdPct = 5.0
)

var (
	hundred              = decimal.NewFromInt(100)
	opportunityThreshold = decimal.NewFromFloat(OpportunityThresholdPct)
	liquidityThreshold   = decimal.NewFromFloat(LowLiquidityThresholdPct)
)

// Metric is the derived edge signal for one market.
type Metric struct {
	ModelProb      decimal.Decimal `json:"model_prob"`
	MarketYesPrice decimal.Decimal `json:"market_yes_price"` // best ask
	EdgePct        decimal.Decimal `json:"edge_pct"`
	SpreadPct      decimal.Decimal `json:"spread_pct"`

	// Priced is false when the market has no ask; edge is then not meaningful
	// and GoodOpportunity stays false.
	Priced          bool `json:"priced"`
	GoodOpportunity bool `json:"good_opportunity"`
	LowLiquidity    bool `json:"low_liquidity"`
}

// Evaluate computes edge = (prob - ask) * 100 and spread = (ask - bid) / ask * 100.
// Spread is 0 when ask is 0.
func Evaluate(prob, bid, ask float64) *Metric {
	p := decimal.NewFromFloat(prob)
	b := decimal.NewFromFloat(bid)
	a := decimal.NewFromFloat(ask)

	m := &Metric{
		ModelProb:      p,
		MarketYesPrice: a,
		EdgePct:        p.Sub(a).Mul(hundred),
		SpreadPct:      decimal.Zero,
		Priced:         a.IsPositive(),
	}

	if m.Priced {
		m.SpreadPct = a.Sub(b).Div(a).Mul(hundred)
		m.GoodOpportunity = m.EdgePct.GreaterThan(opportunityThreshold)
	}
	m.LowLiquidity = m.SpreadPct.GreaterThan(liquidityThreshold)

	return m
}

// EdgeFloat returns the edge in percentage points as a float.
func (m *Metric) EdgeFloat() float64 {
	f, _ := m.EdgePct.Float64()
	return f
}

// SpreadFloat returns the spread percentage as a float.
func (m *Metric) SpreadFloat() float64 {
	f, _ := m.SpreadPct.Float64()
	return f
}
